package access

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nidohq/nido/audit"
	"github.com/nidohq/nido/store"
)

// BillingSettingsPath is where denied page navigations are redirected,
// with query parameters naming the required tier.
const BillingSettingsPath = "/settings/billing"

// OrgFunc resolves the organization for an incoming request. The caller
// provides this so gating is not coupled to any specific authentication
// scheme.
type OrgFunc func(r *http.Request) *store.Organization

// IPFunc extracts the client IP used for audit attribution. Deployments
// behind a proxy pass the same extractor their other middleware uses so
// denial entries name the client, not the proxy.
type IPFunc func(r *http.Request) string

// Gate enforces plan-level feature access on HTTP routes.
type Gate struct {
	getOrg   OrgFunc
	clientIP IPFunc
	audit    *audit.Logger
	now      func() time.Time
}

// NewGate creates a Gate. The audit logger may be nil. A nil clientIP
// falls back to the connection's remote host.
func NewGate(getOrg OrgFunc, clientIP IPFunc, auditLog *audit.Logger) *Gate {
	if clientIP == nil {
		clientIP = remoteHost
	}
	return &Gate{getOrg: getOrg, clientIP: clientIP, audit: auditLog, now: time.Now}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Require returns middleware that rejects requests from organizations
// whose plan does not unlock the feature. Page navigations are redirected
// to billing settings with an upgrade hint; API calls get a structured
// 403. Requests without a resolvable organization are rejected outright.
func (g *Gate) Require(feature Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org := g.getOrg(r)
			if org == nil {
				writeDenied(w, feature, "")
				return
			}
			if IsAllowed(org, feature, g.now()) {
				next.ServeHTTP(w, r)
				return
			}

			required := RequiredPlan(feature)
			if g.audit != nil {
				g.audit.AccessDenied(r.Context(), audit.Actor{IP: g.clientIP(r)}, org.ID.String(),
					"plan "+string(org.Plan)+" does not include "+string(feature))
			}

			if isPageNavigation(r) {
				q := url.Values{}
				q.Set("required_plan", string(required))
				q.Set("feature", string(feature))
				http.Redirect(w, r, BillingSettingsPath+"?"+q.Encode(), http.StatusSeeOther)
				return
			}
			writeDenied(w, feature, required)
		})
	}
}

// isPageNavigation distinguishes browser page loads from API calls:
// GETs that prefer an HTML response.
func isPageNavigation(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeDenied(w http.ResponseWriter, feature Feature, required store.Plan) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":         "current plan does not include this feature",
		"feature":       string(feature),
		"required_plan": string(required),
	})
}
