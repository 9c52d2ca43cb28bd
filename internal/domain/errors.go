package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a malformed query or unsupported content.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound signals a missing or invisible resource.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized signals a missing or unknown API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEmbeddingBackend signals an embedding provider failure (timeout, quota, bad response).
	ErrEmbeddingBackend = errors.New("embedding backend error")
	// ErrIndexBackend signals a vector index I/O failure.
	ErrIndexBackend = errors.New("index backend error")
	// ErrSearchUnavailable is returned to callers once backend retries are exhausted.
	ErrSearchUnavailable = errors.New("search unavailable")

	// ErrQuarantined marks an image excluded from automatic reconciliation.
	ErrQuarantined = errors.New("quarantined")
	// ErrQueued marks a change deferred because the image is already being reconciled.
	ErrQueued = errors.New("queued behind in-flight reconciliation")

	// ErrDimensionMismatch signals an embedding whose size differs from the declared model dimension.
	// This is a configuration error and is never retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrModelMismatch signals a backend answering with a different model than declared.
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrNormalizationConflict signals an attempt to change the recorded normalization
	// policy of an existing model version.
	ErrNormalizationConflict = errors.New("normalization policy conflict")
)

// QuarantineError records an image that failed reconciliation permanently.
type QuarantineError struct {
	ImageID  string
	Attempts int
	Cause    error
}

func (e *QuarantineError) Error() string {
	return fmt.Sprintf("image %s quarantined after %d attempts: %v", e.ImageID, e.Attempts, e.Cause)
}

// Unwrap exposes both the quarantine sentinel and the last failure.
func (e *QuarantineError) Unwrap() []error { return []error{ErrQuarantined, e.Cause} }

// IsRetryable reports whether err is a transient backend failure worth another attempt.
// Caller cancellation is never retryable; an expired deadline is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrModelMismatch) ||
		errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNormalizationConflict) {
		return false
	}
	return errors.Is(err, ErrEmbeddingBackend) ||
		errors.Is(err, ErrIndexBackend) ||
		errors.Is(err, context.DeadlineExceeded)
}
