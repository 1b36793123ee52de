package billing

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing input, rejected before
// any external call is made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a violated precondition, e.g. checkout attempted
// on an already subscribed organization or a no-op plan change.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func conflictf(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ProcessorError carries a payment processor failure through to the
// caller with the processor's own message and HTTP status, because
// billing errors are frequently actionable by the end user.
type ProcessorError struct {
	Code       string
	StatusCode int
	Message    string
}

func (e *ProcessorError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment processor: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("payment processor: %s", e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// AsProcessorError returns the ProcessorError in err's chain, if any.
func AsProcessorError(err error) (*ProcessorError, bool) {
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
