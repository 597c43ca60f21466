package stacapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// APIError is the JSON error payload returned by every endpoint.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", e.Title, e.Detail)
	}
	return e.Title
}

func errBadRequest(detail string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Title: "invalid request", Detail: detail}
}

func errNotFound(detail string) *APIError {
	return &APIError{Status: http.StatusNotFound, Title: "not found", Detail: detail}
}

// writeError renders an APIError (or wraps any other error as a 500).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*APIError)
	if !ok {
		h.log.Error("request failed", zap.Error(err))
		apiErr = &APIError{Status: http.StatusInternalServerError, Title: "internal error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

// writeJSON renders a 200 response body.
func (h *Handler) writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", zap.Error(err))
	}
}
