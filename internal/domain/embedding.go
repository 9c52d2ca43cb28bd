package domain

import (
	"context"
)

// ModelInfo identifies the embedding model that produced a vector.
type ModelInfo struct {
	Version    string
	Dimensions int
	// Normalized is true when the backend already returns unit-length vectors.
	Normalized bool
}

// TextEmbedder vectorizes free text.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) (EmbeddingResult, error)
}

// ImageEmbedder vectorizes raw image bytes.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) (EmbeddingResult, error)
}

// Embedder is the shared text and image vectorization contract between layers.
type Embedder interface {
	TextEmbedder
	ImageEmbedder
	Model() ModelInfo
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	ModelVersion string
	TotalTokens  int
}
