package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// openaiEmbeddingResponse mirrors the OpenAI-compatible API embedding response.
type openaiEmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingItem `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newServer(t *testing.T, model string, vec []float32, inspect func(embeddingRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(req)
		}

		resp := openaiEmbeddingResponse{Object: "list", Model: model}
		resp.Data = append(resp.Data, embeddingItem{Object: "embedding", Embedding: vec})
		resp.Usage.PromptTokens = 10
		resp.Usage.TotalTokens = 10

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestEmbedder(url string) *Embedder {
	return NewEmbedder(&Config{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "clip-test",
		Version:    "clip-test@1",
		Dimensions: 4,
		Provider:   "test",
		Logger:     zap.NewNop(),
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEmbedder_EmbedText(t *testing.T) {
	expectedVec := []float32{0.1, 0.2, 0.3, 0.4}
	server := newServer(t, "clip-test", expectedVec, func(req embeddingRequest) {
		if len(req.Input) != 1 || req.Input[0] != "red bicycle" {
			t.Errorf("unexpected input: %v", req.Input)
		}
		if req.Model != "clip-test" {
			t.Errorf("unexpected model: %s", req.Model)
		}
	})
	defer server.Close()

	result, err := newTestEmbedder(server.URL).EmbedText(context.Background(), "red bicycle")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if len(result.Embedding) != len(expectedVec) {
		t.Fatalf("expected %d dimensions, got %d", len(expectedVec), len(result.Embedding))
	}
	for i, v := range result.Embedding {
		if v != expectedVec[i] {
			t.Errorf("vec[%d] = %f, expected %f", i, v, expectedVec[i])
		}
	}
	if result.ModelVersion != "clip-test@1" {
		t.Errorf("ModelVersion = %q, expected clip-test@1", result.ModelVersion)
	}
	if result.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, expected 10", result.TotalTokens)
	}
}

func TestEmbedder_EmbedImageSendsDataURI(t *testing.T) {
	server := newServer(t, "clip-test", []float32{1, 0, 0, 0}, func(req embeddingRequest) {
		if len(req.Input) != 1 || !strings.HasPrefix(req.Input[0], "data:image/png;base64,") {
			t.Errorf("expected png data URI, got %.40q", req.Input)
		}
	})
	defer server.Close()

	result, err := newTestEmbedder(server.URL).EmbedImage(context.Background(), pngBytes(t))
	if err != nil {
		t.Fatalf("EmbedImage failed: %v", err)
	}
	if len(result.Embedding) != 4 {
		t.Errorf("embedding length = %d, expected 4", len(result.Embedding))
	}
}

func TestEmbedder_ForeignModelIsReported(t *testing.T) {
	server := newServer(t, "some-other-model", []float32{1, 0, 0, 0}, nil)
	defer server.Close()

	result, err := newTestEmbedder(server.URL).EmbedText(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ModelVersion != "some-other-model" {
		t.Errorf("ModelVersion = %q, expected backend model", result.ModelVersion)
	}
}

func TestEmbedder_Model(t *testing.T) {
	emb := NewEmbedder(&Config{Model: "clip", Dimensions: 512, Normalized: true})
	info := emb.Model()
	if info.Version != "clip" || info.Dimensions != 512 || !info.Normalized {
		t.Errorf("unexpected model info: %+v", info)
	}
}

func TestEmbedder_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openaiEmbeddingResponse{Object: "list", Model: "clip-test"})
	}))
	defer server.Close()

	_, err := newTestEmbedder(server.URL).EmbedText(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingBackend) {
		t.Fatalf("expected ErrEmbeddingBackend, got %v", err)
	}
}

func TestEmbedder_APIErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrEmbeddingBackend},
		{"server error", http.StatusBadGateway, domain.ErrEmbeddingBackend},
		{"rejected payload", http.StatusBadRequest, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "nope", "type": "error"},
				})
			}))
			defer server.Close()

			_, err := newTestEmbedder(server.URL).EmbedText(context.Background(), "x")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEmbedder_NebiusDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"model is loading"}`))
	}))
	defer server.Close()

	_, err := newTestEmbedder(server.URL).EmbedText(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingBackend) {
		t.Fatalf("expected ErrEmbeddingBackend, got %v", err)
	}
	if !strings.Contains(err.Error(), "model is loading") {
		t.Errorf("expected detail in error, got %v", err)
	}
}

func TestEmbedder_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestEmbedder(server.URL).EmbedText(ctx, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
