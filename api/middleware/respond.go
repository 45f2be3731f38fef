package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/plm/crossbridge/apperr"
)

// WriteJSON marshals v and writes it with the given status, an inline
// JSON-response idiom rather than pulling in a response framework.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteError maps any error to the structured envelope and HTTP status
// from apperr. No error is ever allowed to propagate out of a handler
// unmapped.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	msg := err.Error()
	if ae, ok := err.(*apperr.Error); ok {
		msg = ae.Message
	}

	WriteJSON(w, status, errorEnvelope{Error: msg, Code: string(kind), Message: msg})
}
