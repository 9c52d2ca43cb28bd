package search

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/analytics"
	domimage "github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
	"github.com/kailas-cloud/imgdex/internal/repository/memindex"
	"github.com/kailas-cloud/imgdex/internal/retry"
)

const testVersion = "clip@1"

// --- Mocks ---

type mockEmbedder struct {
	vec        []float32
	err        error
	textCalls  int
	imageCalls int
	// onCall runs inside every embed call, before the result is returned.
	onCall func()
}

func (m *mockEmbedder) EmbedText(ctx context.Context, _ string) (domain.EmbeddingResult, error) {
	m.textCalls++
	return m.result(ctx)
}

func (m *mockEmbedder) EmbedImage(ctx context.Context, _ []byte) (domain.EmbeddingResult, error) {
	m.imageCalls++
	return m.result(ctx)
}

func (m *mockEmbedder) result(ctx context.Context) (domain.EmbeddingResult, error) {
	if m.onCall != nil {
		m.onCall()
	}
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec, ModelVersion: testVersion}, nil
}

func (m *mockEmbedder) Model() domain.ModelInfo {
	return domain.ModelInfo{Version: testVersion, Dimensions: len(m.vec)}
}

// scriptedIndex answers Query from a function and records every k it was asked for.
type scriptedIndex struct {
	query     func(q index.Query) (index.Result, error)
	queryTags func(q index.TagQuery) (index.Result, error)
	lookup    func(id, version string) (index.Entry, error)
	ks        []int
	lookups   int
}

func (s *scriptedIndex) Query(_ context.Context, q index.Query) (index.Result, error) {
	s.ks = append(s.ks, q.K)
	return s.query(q)
}

func (s *scriptedIndex) QueryTags(_ context.Context, q index.TagQuery) (index.Result, error) {
	return s.queryTags(q)
}

func (s *scriptedIndex) Lookup(_ context.Context, id, version string) (index.Entry, error) {
	s.lookups++
	return s.lookup(id, version)
}

type mockCorpus struct {
	records map[string]domimage.Record
}

func (m *mockCorpus) Record(_ context.Context, id string) (domimage.Record, error) {
	r, ok := m.records[id]
	if !ok {
		return domimage.Record{}, domain.ErrNotFound
	}
	return r, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recordingEmitter) Emit(ev analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// --- Helpers ---

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3}
}

func newService(emb Embedder, idx Index, corpus CorpusReader, cfg Config) (*Service, *recordingEmitter) {
	events := &recordingEmitter{}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry()
	}
	return New(emb, idx, corpus, events, cfg, zap.NewNop()), events
}

func seed(t *testing.T, idx *memindex.Index, version, id, team string, tags []string, vec ...float32) {
	t.Helper()
	e, err := index.NewEntry(id, team, tags, version, vec, false)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if err := idx.Insert(context.Background(), e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func requireOneEvent(t *testing.T, events *recordingEmitter) analytics.Event {
	t.Helper()
	if len(events.events) != 1 {
		t.Fatalf("expected exactly one analytics event, got %d", len(events.events))
	}
	return events.events[0]
}
