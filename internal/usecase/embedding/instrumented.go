package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/metrics"
)

// InstrumentedEmbedder wraps Embedder with logging and error metrics.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder with observability.
func NewInstrumentedEmbedder(inner domain.Embedder, provider string, logger *zap.Logger) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		logger:   logger,
	}
}

// Model implements domain.Embedder.
func (p *InstrumentedEmbedder) Model() domain.ModelInfo { return p.inner.Model() }

// EmbedText delegates to the inner embedder and logs the outcome.
func (p *InstrumentedEmbedder) EmbedText(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return p.observe("text", func() (domain.EmbeddingResult, error) {
		return p.inner.EmbedText(ctx, text)
	})
}

// EmbedImage delegates to the inner embedder and logs the outcome.
func (p *InstrumentedEmbedder) EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error) {
	return p.observe("image", func() (domain.EmbeddingResult, error) {
		return p.inner.EmbedImage(ctx, image)
	})
}

// HealthCheck forwards to the inner embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (p *InstrumentedEmbedder) observe(
	kind string, fn func() (domain.EmbeddingResult, error),
) (domain.EmbeddingResult, error) {
	model := p.inner.Model().Version
	start := time.Now()

	result, err := fn()

	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.logger.Debug("Embedding request cancelled",
				zap.String("provider", p.provider),
				zap.String("kind", kind),
			)
			return domain.EmbeddingResult{}, err
		}
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, model, errorType(err)).Inc()
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", model),
			zap.String("kind", kind),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", model),
		zap.String("kind", kind),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)
	return result, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "backend"
	}
}
