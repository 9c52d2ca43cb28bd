package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
	"github.com/kailas-cloud/imgdex/internal/repository/memindex"
	"github.com/kailas-cloud/imgdex/internal/retry"
)

const currentVersion = "clip@2"

// --- Mocks ---

type mockEmbedder struct {
	vec []float32
	// errs are returned by successive calls; nil entries and an exhausted list succeed.
	errs   []error
	calls  int
	onCall func()
}

func (m *mockEmbedder) EmbedImage(_ context.Context, _ []byte) (domain.EmbeddingResult, error) {
	m.calls++
	if m.onCall != nil {
		m.onCall()
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return domain.EmbeddingResult{}, err
		}
	}
	return domain.EmbeddingResult{Embedding: m.vec, ModelVersion: currentVersion}, nil
}

func (m *mockEmbedder) Model() domain.ModelInfo {
	return domain.ModelInfo{Version: currentVersion, Dimensions: len(m.vec)}
}

type mockCorpus struct {
	mu      sync.Mutex
	records map[string]image.Record
	bytes   map[string][]byte
}

func newCorpus() *mockCorpus {
	return &mockCorpus{records: map[string]image.Record{}, bytes: map[string][]byte{}}
}

func (m *mockCorpus) put(id, team string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = image.Record{ID: id, TeamID: team, Tags: tags}
	m.bytes[id] = []byte("raw-" + id)
}

func (m *mockCorpus) Record(_ context.Context, id string) (image.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return image.Record{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *mockCorpus) Bytes(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bytes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

// recordingIndex wraps memindex and logs write operations in order.
type recordingIndex struct {
	*memindex.Index
	ops []string
}

func (r *recordingIndex) Insert(ctx context.Context, e index.Entry) error {
	r.ops = append(r.ops, "insert "+e.ModelVersion)
	return r.Index.Insert(ctx, e)
}

func (r *recordingIndex) Delete(ctx context.Context, id, version string) error {
	r.ops = append(r.ops, "delete "+version)
	return r.Index.Delete(ctx, id, version)
}

type mockFeed struct {
	batches   []image.Batch
	committed []string
	// onDrained runs when every batch was served.
	onDrained func()
}

func (m *mockFeed) Next(ctx context.Context) (image.Batch, error) {
	if len(m.batches) == 0 {
		if m.onDrained != nil {
			m.onDrained()
		}
		return image.Batch{}, ctx.Err()
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func (m *mockFeed) Commit(_ context.Context, cursor string) error {
	m.committed = append(m.committed, cursor)
	return nil
}

// --- Helpers ---

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(t *testing.T, idx Index, emb Embedder, corpus Corpus, feed Feed, cfg Config) (*Tracker, *clock) {
	t.Helper()
	if cfg.Backoff == (retry.Policy{}) {
		cfg.Backoff = retry.Policy{Base: time.Second, Max: 10 * time.Second}
	}
	tr := New(idx, emb, corpus, feed, cfg, zap.NewNop())
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr.now = c.now
	return tr, c
}

func seedEntry(t *testing.T, idx *memindex.Index, id, team, version string) {
	t.Helper()
	e, err := index.NewEntry(id, team, nil, version, []float32{1, 0}, false)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if err := idx.Insert(context.Background(), e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}
