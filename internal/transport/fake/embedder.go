// Package fake provides a deterministic offline embedder for local runs and tests.
//
// Text is embedded as a hashed bag of lowercase words. Images are embedded from a
// hash of their bytes, so the same image always maps to the same vector.
package fake

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Embedder is a deterministic domain.Embedder that needs no network.
type Embedder struct {
	info domain.ModelInfo
}

// NewEmbedder creates a fake embedder producing vectors of the given model shape.
func NewEmbedder(info domain.ModelInfo) *Embedder {
	if info.Dimensions <= 0 {
		info.Dimensions = domain.DefaultDimensions
	}
	if info.Version == "" {
		info.Version = "fake-" + domain.DefaultModelVersion
	}
	return &Embedder{info: info}
}

// Model implements domain.Embedder.
func (e *Embedder) Model() domain.ModelInfo { return e.info }

// EmbedText implements domain.TextEmbedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	vec := make([]float32, e.info.Dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := xxhash.Sum64String(w)
		idx := int(h % uint64(len(vec)))
		if h&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return e.result(vec, len(words)), nil
}

// EmbedImage implements domain.ImageEmbedder.
func (e *Embedder) EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	vec := make([]float32, e.info.Dimensions)
	seed := xxhash.Sum64(image)
	var buf [8]byte
	for i := range vec {
		binary.LittleEndian.PutUint64(buf[:], seed+uint64(i))
		h := xxhash.Sum64(buf[:])
		vec[i] = float32(int64(h>>11)-(1<<52)) / float32(1<<52)
	}
	return e.result(vec, 0), nil
}

func (e *Embedder) result(vec []float32, tokens int) domain.EmbeddingResult {
	if e.info.Normalized {
		normalizeInPlace(vec)
	}
	return domain.EmbeddingResult{Embedding: vec, ModelVersion: e.info.Version, TotalTokens: tokens}
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
