package changefeed

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	xreadFn func(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]db.StreamEntry, error)
	values  map[string][]byte
	getErr  error
	reads   []string
}

func (m *mockStore) XRead(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]db.StreamEntry, error) {
	m.reads = append(m.reads, lastID)
	if m.xreadFn != nil {
		return m.xreadFn(ctx, stream, lastID, count, block)
	}
	return nil, nil
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	m.values[key] = value
	return nil
}

func newTestFeed(t *testing.T, ms *mockStore) *Feed {
	t.Helper()
	if ms.values == nil {
		ms.values = map[string][]byte{}
	}
	f, err := New(ms, Config{Stream: "corpus"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func entry(id, imageID, kind string) db.StreamEntry {
	return db.StreamEntry{ID: id, Fields: map[string]string{FieldImageID: imageID, FieldKind: kind}}
}
