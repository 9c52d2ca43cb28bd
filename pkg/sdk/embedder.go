package imgdex

import "context"

// Embedder maps text and images into one shared vector space.
// Both methods must return vectors of the dimension declared with WithModel.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}
