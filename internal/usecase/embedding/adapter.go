package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/imagebuf"
)

// MaxTextLength bounds free-text input in runes.
const MaxTextLength = 4096

// DefaultTimeout bounds a single backend call when the caller sets none.
const DefaultTimeout = 10 * time.Second

// Adapter is the Embedding Adapter: it validates input, bounds each backend call with a
// deadline and guarantees every returned vector matches the declared model.
type Adapter struct {
	inner   domain.Embedder
	info    domain.ModelInfo
	timeout time.Duration
}

// NewAdapter wraps a backend embedder. The declared model is taken from inner.Model().
func NewAdapter(inner domain.Embedder, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{inner: inner, info: inner.Model(), timeout: timeout}
}

// Model implements domain.Embedder.
func (a *Adapter) Model() domain.ModelInfo { return a.info }

// HealthCheck forwards to the inner embedder when it supports health checks.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if hc, ok := a.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// EmbedText implements domain.TextEmbedder.
func (a *Adapter) EmbedText(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: text is empty", domain.ErrInvalidInput)
	}
	if len([]rune(text)) > MaxTextLength {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: text exceeds %d characters", domain.ErrInvalidInput, MaxTextLength)
	}
	return a.call(ctx, "text", func(ctx context.Context) (domain.EmbeddingResult, error) {
		return a.inner.EmbedText(ctx, text)
	})
}

// EmbedImage implements domain.ImageEmbedder.
func (a *Adapter) EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error) {
	if _, err := imagebuf.Validate(image); err != nil {
		return domain.EmbeddingResult{}, err
	}
	return a.call(ctx, "image", func(ctx context.Context) (domain.EmbeddingResult, error) {
		return a.inner.EmbedImage(ctx, image)
	})
}

func (a *Adapter) call(
	ctx context.Context, kind string,
	fn func(context.Context) (domain.EmbeddingResult, error),
) (domain.EmbeddingResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := fn(callCtx)
	if err != nil {
		return domain.EmbeddingResult{}, a.classify(ctx, kind, err)
	}
	if err := a.check(res); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed %s: %w", kind, err)
	}
	if res.ModelVersion == "" {
		res.ModelVersion = a.info.Version
	}
	return res, nil
}

// classify maps backend failures onto the domain taxonomy. A cancelled caller context
// passes through untouched so it is never retried.
func (a *Adapter) classify(ctx context.Context, kind string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmbeddingBackend),
		errors.Is(err, domain.ErrDimensionMismatch),
		errors.Is(err, domain.ErrModelMismatch):
		return fmt.Errorf("embed %s: %w", kind, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("embed %s: %w: %w", kind, domain.ErrEmbeddingBackend, err)
	default:
		return fmt.Errorf("embed %s: %w: %v", kind, domain.ErrEmbeddingBackend, err)
	}
}

func (a *Adapter) check(res domain.EmbeddingResult) error {
	if len(res.Embedding) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrEmbeddingBackend)
	}
	if a.info.Dimensions > 0 && len(res.Embedding) != a.info.Dimensions {
		return fmt.Errorf("%w: got %d, model %s declares %d",
			domain.ErrDimensionMismatch, len(res.Embedding), a.info.Version, a.info.Dimensions)
	}
	if res.ModelVersion != "" && res.ModelVersion != a.info.Version {
		return fmt.Errorf("%w: got %s, expected %s", domain.ErrModelMismatch, res.ModelVersion, a.info.Version)
	}
	for _, v := range res.Embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector contains non-finite values", domain.ErrEmbeddingBackend)
		}
	}
	return nil
}
