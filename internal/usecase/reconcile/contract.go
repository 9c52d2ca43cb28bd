package reconcile

import (
	"context"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
)

// Index is the write side of the vector index.
type Index interface {
	Insert(ctx context.Context, e index.Entry) error
	Delete(ctx context.Context, imageID, modelVersion string) error
	Versions(ctx context.Context, imageID string) ([]string, error)
}

// Embedder vectorizes corpus images.
type Embedder interface {
	EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error)
	Model() domain.ModelInfo
}

// Corpus reads the authoritative image records and bytes.
type Corpus interface {
	Record(ctx context.Context, imageID string) (image.Record, error)
	Bytes(ctx context.Context, imageID string) ([]byte, error)
}

// Feed delivers corpus change notifications.
type Feed interface {
	// Next returns the next batch, waiting up to the feed's block interval.
	Next(ctx context.Context) (image.Batch, error)
	// Commit records that every change up to cursor was handled.
	Commit(ctx context.Context, cursor string) error
}
