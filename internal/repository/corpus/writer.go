package corpus

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/imgdex/internal/domain/image"
)

// writeStore is the consumer interface for corpus writes.
type writeStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, keys ...string) error
}

// Writer stores records in the layout Repo reads. Used when imgdex owns the corpus.
type Writer struct {
	store writeStore
}

// NewWriter creates a corpus writer.
func NewWriter(s writeStore) *Writer {
	return &Writer{store: s}
}

// Put stores the record and its bytes. The payload is written first so a
// reader never sees a record without bytes.
func (w *Writer) Put(ctx context.Context, rec image.Record, data []byte) error {
	if err := w.store.Set(ctx, BytesKey(rec.ID), data); err != nil {
		return fmt.Errorf("set %s: %w", BytesKey(rec.ID), err)
	}
	// HSet не удаляет старые поля, поэтому сначала чистим запись
	if err := w.store.Del(ctx, RecordKey(rec.ID)); err != nil {
		return fmt.Errorf("del %s: %w", RecordKey(rec.ID), err)
	}
	if err := w.store.HSet(ctx, RecordKey(rec.ID), Fields(rec)); err != nil {
		return fmt.Errorf("hset %s: %w", RecordKey(rec.ID), err)
	}
	return nil
}

// Remove deletes the record and its bytes. Missing keys are not an error.
func (w *Writer) Remove(ctx context.Context, imageID string) error {
	if err := w.store.Del(ctx, RecordKey(imageID), BytesKey(imageID)); err != nil {
		return fmt.Errorf("del image %s: %w", imageID, err)
	}
	return nil
}
