package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

type mockEmbedder struct {
	info       domain.ModelInfo
	result     domain.EmbeddingResult
	err        error
	textCalls  int
	imageCalls int
	healthErr  error
	// block makes calls wait for ctx expiry
	block bool
}

func (m *mockEmbedder) Model() domain.ModelInfo { return m.info }

func (m *mockEmbedder) EmbedText(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	m.textCalls++
	return m.respond(ctx)
}

func (m *mockEmbedder) EmbedImage(ctx context.Context, _ []byte) (domain.EmbeddingResult, error) {
	m.imageCalls++
	return m.respond(ctx)
}

func (m *mockEmbedder) HealthCheck(_ context.Context) error { return m.healthErr }

func (m *mockEmbedder) respond(ctx context.Context) (domain.EmbeddingResult, error) {
	if m.block {
		<-ctx.Done()
		return domain.EmbeddingResult{}, ctx.Err()
	}
	return m.result, m.err
}

func TestInstrumentedEmbedder_Success(t *testing.T) {
	inner := &mockEmbedder{
		info:   domain.ModelInfo{Version: "v1", Dimensions: 3},
		result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}, TotalTokens: 7},
	}
	p := NewInstrumentedEmbedder(inner, "test", zap.NewNop())

	result, err := p.EmbedText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(result.Embedding))
	}
	if result.TotalTokens != 7 {
		t.Errorf("expected 7 total tokens, got %d", result.TotalTokens)
	}
	if p.Model().Version != "v1" {
		t.Errorf("Model() should pass through, got %+v", p.Model())
	}
}

func TestInstrumentedEmbedder_Image(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	p := NewInstrumentedEmbedder(inner, "test", zap.NewNop())

	if _, err := p.EmbedImage(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.imageCalls != 1 || inner.textCalls != 0 {
		t.Errorf("expected one image call, got image=%d text=%d", inner.imageCalls, inner.textCalls)
	}
}

func TestInstrumentedEmbedder_ErrorKeepsSentinel(t *testing.T) {
	inner := &mockEmbedder{err: fmt.Errorf("quota: %w", domain.ErrEmbeddingBackend)}
	p := NewInstrumentedEmbedder(inner, "test-err", zap.NewNop())

	_, err := p.EmbedText(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingBackend) {
		t.Fatalf("expected ErrEmbeddingBackend, got %v", err)
	}
}

func TestInstrumentedEmbedder_CancelledPassesThrough(t *testing.T) {
	inner := &mockEmbedder{err: context.Canceled}
	p := NewInstrumentedEmbedder(inner, "test", zap.NewNop())

	_, err := p.EmbedText(context.Background(), "hello")
	if err != context.Canceled {
		t.Fatalf("expected bare context.Canceled, got %v", err)
	}
}

func TestInstrumentedEmbedder_HealthCheck(t *testing.T) {
	inner := &mockEmbedder{healthErr: errors.New("down")}
	p := NewInstrumentedEmbedder(inner, "test", zap.NewNop())

	if err := p.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health error to propagate")
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidInput), "invalid_input"},
		{context.DeadlineExceeded, "timeout"},
		{domain.ErrEmbeddingBackend, "backend"},
	}
	for _, tt := range tests {
		if got := errorType(tt.err); got != tt.want {
			t.Errorf("errorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
