package explorerclient

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBaseURL is returned when a base URL option is invalid.
	ErrInvalidBaseURL = errors.New("explorerclient: invalid base URL")
	// ErrNilHTTPClient indicates a nil HTTP client was provided.
	ErrNilHTTPClient = errors.New("explorerclient: http client cannot be nil")
)

// APIError represents an explorer error payload or HTTP failure.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Raw    []byte `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Title == "" && e.Detail == "" {
		return fmt.Sprintf("explorerclient: api error status=%d", e.Status)
	}
	if e.Title != "" && e.Detail != "" {
		return fmt.Sprintf("explorerclient: %s (%s)", e.Title, e.Detail)
	}
	if e.Title != "" {
		return fmt.Sprintf("explorerclient: %s", e.Title)
	}
	return fmt.Sprintf("explorerclient: %s", e.Detail)
}

// Temporary reports whether the error may be retried.
func (e *APIError) Temporary() bool {
	if e == nil {
		return false
	}
	return e.Status >= 500 && e.Status < 600
}
