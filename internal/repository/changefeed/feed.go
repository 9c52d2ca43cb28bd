// Package changefeed reads corpus change notifications from a Redis stream.
//
// Producers append entries with fields image_id and kind. The position of the last
// handled entry is persisted at imgdex:feed_cursor:<stream> so a restart replays
// only what was not committed.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
)

// Entry fields.
const (
	FieldImageID = "image_id"
	FieldKind    = "kind"
)

// Defaults applied by New.
const (
	DefaultBatch = 100
	DefaultBlock = 2 * time.Second
	startCursor  = "0-0"
)

// store is the consumer interface for the feed (ISP).
type store interface {
	XRead(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]db.StreamEntry, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Config tunes the feed reader.
type Config struct {
	Stream string
	Batch  int64
	Block  time.Duration
}

// Feed implements reconcile.Feed over XREAD.
type Feed struct {
	store  store
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	lastID string
}

// New creates a Feed.
func New(s store, cfg Config, logger *zap.Logger) (*Feed, error) {
	if !db.IsValidIdentifier(cfg.Stream) {
		return nil, fmt.Errorf("%w: invalid stream name %q", domain.ErrInvalidInput, cfg.Stream)
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{store: s, cfg: cfg, logger: logger}, nil
}

// Next returns the changes after the last read entry, blocking up to Config.Block.
// Malformed entries are skipped but still advance the batch cursor.
func (f *Feed) Next(ctx context.Context) (image.Batch, error) {
	from, err := f.position(ctx)
	if err != nil {
		return image.Batch{}, err
	}

	entries, err := f.store.XRead(ctx, f.StreamKey(), from, f.cfg.Batch, f.cfg.Block)
	if err != nil {
		return image.Batch{}, fmt.Errorf("xread %s: %w", f.cfg.Stream, err)
	}
	if len(entries) == 0 {
		return image.Batch{}, nil
	}

	batch := image.Batch{Changes: make([]image.Change, 0, len(entries))}
	for _, e := range entries {
		ch := image.Change{
			ImageID: e.Fields[FieldImageID],
			Kind:    image.ChangeKind(e.Fields[FieldKind]),
			Cursor:  e.ID,
		}
		if image.ValidateID(ch.ImageID) != nil || !ch.Kind.IsValid() {
			f.logger.Warn("Malformed feed entry skipped",
				zap.String("entry_id", e.ID),
				zap.String("image_id", ch.ImageID),
				zap.String("kind", string(ch.Kind)),
			)
			continue
		}
		batch.Changes = append(batch.Changes, ch)
	}
	batch.Cursor = entries[len(entries)-1].ID

	f.mu.Lock()
	f.lastID = batch.Cursor
	f.mu.Unlock()
	return batch, nil
}

// Commit persists cursor as the replay position.
func (f *Feed) Commit(ctx context.Context, cursor string) error {
	if cursor == "" {
		return nil
	}
	if err := f.store.Set(ctx, f.CursorKey(), []byte(cursor)); err != nil {
		return fmt.Errorf("commit cursor %s: %w", cursor, err)
	}
	return nil
}

// StreamKey is the Redis stream read by the feed.
func (f *Feed) StreamKey() string { return domain.KeyPrefix + "changes:" + f.cfg.Stream }

// CursorKey stores the committed position.
func (f *Feed) CursorKey() string { return domain.KeyPrefix + "feed_cursor:" + f.cfg.Stream }

// position returns the read position, loading the committed cursor on first use.
func (f *Feed) position(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return f.lastID, nil
	}

	raw, err := f.store.Get(ctx, f.CursorKey())
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		f.lastID = startCursor
	case err != nil:
		return "", fmt.Errorf("load cursor: %w", err)
	default:
		f.lastID = string(raw)
	}
	f.loaded = true
	f.logger.Info("Change feed positioned", zap.String("stream", f.cfg.Stream), zap.String("cursor", f.lastID))
	return f.lastID, nil
}
