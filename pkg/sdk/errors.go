package imgdex

import "github.com/kailas-cloud/imgdex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput      = domain.ErrInvalidInput
	ErrNotFound          = domain.ErrNotFound
	ErrSearchUnavailable = domain.ErrSearchUnavailable
	ErrQuarantined       = domain.ErrQuarantined
	ErrQueued            = domain.ErrQueued
	ErrEmbeddingBackend  = domain.ErrEmbeddingBackend
	ErrIndexBackend      = domain.ErrIndexBackend
	ErrDimensionMismatch = domain.ErrDimensionMismatch
)
