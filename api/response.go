package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nidohq/nido/billing"
	"github.com/nidohq/nido/store"
)

// envelope is a standard JSON response wrapper.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}

// WriteBillingError maps the billing error taxonomy onto HTTP. Processor
// errors keep their upstream status, code and message: expired cards and
// the like are actionable by the end user, not generic 500s.
func WriteBillingError(w http.ResponseWriter, err error) {
	if pe, ok := billing.AsProcessorError(err); ok {
		status := pe.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(envelope{Error: pe.Message, Code: pe.Code})
		return
	}
	switch {
	case billing.IsValidation(err):
		WriteError(w, http.StatusBadRequest, err.Error())
	case billing.IsConflict(err):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not found")
	default:
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
