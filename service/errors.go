package service

import (
	"errors"
	"fmt"

	"stream-orchestrator/pkg/provider"
	"stream-orchestrator/repository"
)

// ErrNonRetryable marks queue work that must be acknowledged even though it
// failed, such as a malformed webhook.
var ErrNonRetryable = errors.New("non-retryable error")

var (
	ErrNotFound            = errors.New("not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected request")
)

// providerError classifies an adapter error into the service taxonomy.
// Malformed responses count as transient: a retry may well succeed.
func providerError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, provider.ErrRejected) {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrProviderRejected, err))
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrProviderUnavailable, err))
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrNotFound, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
