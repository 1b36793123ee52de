package audit

import "strings"

// Redacted replaces sensitive values in log-stream output. The durable
// store keeps the original detail; only the operational log stream is
// masked, so log aggregators never see secrets while compliance retains
// the full record.
const Redacted = "[REDACTED]"

// sensitiveKeys are substrings that mark a field as sensitive,
// case-insensitive.
var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"api key",
	"api_key",
	"apikey",
	"authorization",
	"credit card",
	"credit_card",
	"ssn",
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Mask returns a deep copy of details with sensitive fields replaced by
// the redaction marker. Nested maps and slices are checked recursively.
func Mask(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Mask(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = maskValue(item)
		}
		return out
	default:
		return v
	}
}
