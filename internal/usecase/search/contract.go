package search

import (
	"context"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/analytics"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
)

// Embedder resolves TEXT and IMAGE queries to vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) (domain.EmbeddingResult, error)
	EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error)
	Model() domain.ModelInfo
}

// Index is the read side of the vector index.
type Index interface {
	Query(ctx context.Context, q index.Query) (index.Result, error)
	QueryTags(ctx context.Context, q index.TagQuery) (index.Result, error)
	Lookup(ctx context.Context, imageID, modelVersion string) (index.Entry, error)
}

// CorpusReader confirms reference image visibility.
type CorpusReader interface {
	Record(ctx context.Context, imageID string) (image.Record, error)
}

// EventEmitter receives one analytics event per search. Must not block.
type EventEmitter interface {
	Emit(ev analytics.Event)
}
