// Package provider holds what the streaming-provider adapters share: the
// error taxonomy callers classify with errors.Is, and a JSON-over-HTTP client
// that retries transient failures.
//
// Retry semantics follow the ingest adapters: network errors, 5xx and 429
// are retried with exponential backoff; every other 4xx is permanent. Each
// attempt is bounded by the http.Client timeout (10s by default) and the
// whole call by the caller's context.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable marks transient failures: network errors, timeouts,
	// 5xx and 429 responses. Safe to retry.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRejected marks permanent 4xx failures for this call.
	ErrRejected = errors.New("provider rejected request")

	// ErrMalformed is returned for payloads that cannot be decoded.
	ErrMalformed = errors.New("malformed provider payload")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Provider   string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Provider, e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// Unwrap classifies the response into the taxonomy.
func (e *StatusError) Unwrap() error {
	if e.Transient() {
		return ErrUnavailable
	}
	return ErrRejected
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Observer receives one notification per logical provider call.
type Observer interface {
	ObserveProviderCall(provider, operation string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveProviderCall(string, string, error) {}
