// Package reconcile keeps the vector index consistent with the image corpus.
//
// Every change is applied as an idempotent upsert or delete, so replaying the feed is
// safe. A new model generation is inserted before older ones are retired. Failed
// images go to an in-memory retry queue with backoff and are quarantined after
// MaxAttempts, or at once when the failure is permanent (corrupt bytes, bad config).
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
	"github.com/kailas-cloud/imgdex/internal/metrics"
	"github.com/kailas-cloud/imgdex/internal/retry"
)

// Defaults applied by New.
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = time.Minute
	DefaultIdleWait    = time.Second
)

// Config tunes the tracker.
type Config struct {
	MaxAttempts int
	Backoff     retry.Policy
	// RatePerSec limits embedding calls; zero means unlimited.
	RatePerSec float64
	Burst      int
	// IdleWait is the pause after a failed feed read.
	IdleWait time.Duration
}

// Quarantine describes an image excluded from automatic retries.
type Quarantine struct {
	ImageID  string
	TeamID   string
	Attempts int
	Cause    string
	At       time.Time
}

type pending struct {
	change   image.Change
	teamID   string
	attempts int
	due      time.Time
	// requeued is set when a change arrived while the image was in flight.
	requeued bool
}

// Tracker is the Consistency Tracker.
type Tracker struct {
	idx     Index
	embed   Embedder
	corpus  Corpus
	feed    Feed
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	// mu guards queue bookkeeping only and is never held across backend calls.
	mu          sync.Mutex
	queue       map[string]*pending
	inflight    map[string]bool
	quarantined map[string]Quarantine
}

// New creates a tracker. feed may be nil when only Apply and Retrigger are used.
func New(idx Index, embed Embedder, corpus Corpus, feed Feed, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = DefaultBackoffBase
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = DefaultBackoffMax
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = DefaultIdleWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(cfg.Burst, 1))
	}

	return &Tracker{
		idx:         idx,
		embed:       embed,
		corpus:      corpus,
		feed:        feed,
		cfg:         cfg,
		limiter:     limiter,
		logger:      logger,
		now:         time.Now,
		queue:       map[string]*pending{},
		inflight:    map[string]bool{},
		quarantined: map[string]Quarantine{},
	}
}

// Run consumes the change feed and the retry queue until ctx is cancelled.
// The feed cursor is committed after each fully handled batch.
func (t *Tracker) Run(ctx context.Context) error {
	if t.feed == nil {
		return errors.New("reconcile: no change feed configured")
	}
	t.logger.Info("Reconciler started",
		zap.Int("max_attempts", t.cfg.MaxAttempts),
		zap.Float64("rate_per_sec", t.cfg.RatePerSec),
	)

	for ctx.Err() == nil {
		batch, err := t.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			t.logger.Warn("Change feed read failed", zap.Error(err))
			t.sleep(ctx, t.cfg.IdleWait)
			continue
		}

		for _, ch := range batch.Changes {
			_ = t.Apply(ctx, ch)
		}
		if ctx.Err() != nil {
			break // batch will be replayed
		}
		if batch.Cursor != "" {
			if err := t.feed.Commit(ctx, batch.Cursor); err != nil {
				t.logger.Warn("Change feed commit failed", zap.String("cursor", batch.Cursor), zap.Error(err))
			}
		}

		t.RetryDue(ctx)
	}

	t.logger.Info("Reconciler stopped", zap.Int("pending", t.Pending()))
	return nil
}

// Apply processes one change now. Failures are queued or quarantined before returning.
func (t *Tracker) Apply(ctx context.Context, ch image.Change) error {
	if err := image.ValidateID(ch.ImageID); err != nil || !ch.Kind.IsValid() {
		metrics.ReconcileTotal.WithLabelValues(string(ch.Kind), "skipped").Inc()
		t.logger.Warn("Malformed change skipped",
			zap.String("image_id", ch.ImageID),
			zap.String("kind", string(ch.Kind)),
		)
		return fmt.Errorf("%w: malformed change for %q", domain.ErrInvalidInput, ch.ImageID)
	}

	err := t.apply(ctx, ch)
	if errors.Is(err, domain.ErrQueued) {
		return nil
	}
	return err
}

// apply is Apply that reports a change deferred behind an in-flight one as ErrQueued.
func (t *Tracker) apply(ctx context.Context, ch image.Change) error {
	if !t.claim(ch) {
		metrics.ReconcileTotal.WithLabelValues(string(ch.Kind), "requeued").Inc()
		return fmt.Errorf("image %s: %w", ch.ImageID, domain.ErrQueued)
	}
	defer t.release(ch.ImageID)

	teamID, err := t.process(ctx, ch)
	return t.settle(ctx, ch, teamID, err)
}

// RetryDue re-applies every queued change whose backoff has elapsed and returns how
// many were attempted.
func (t *Tracker) RetryDue(ctx context.Context) int {
	now := t.now()

	t.mu.Lock()
	var due []image.Change
	for id, p := range t.queue {
		if !p.due.After(now) && !t.inflight[id] {
			due = append(due, p.change)
		}
	}
	t.mu.Unlock()

	slices.SortFunc(due, func(a, b image.Change) int { return strings.Compare(a.ImageID, b.ImageID) })

	n := 0
	for _, ch := range due {
		if ctx.Err() != nil {
			break
		}
		_ = t.Apply(ctx, ch)
		n++
	}
	return n
}

// Retrigger clears the quarantine of an image visible to teamID and reconciles it now.
// If the image is already in flight the change is queued and ErrQueued is returned.
func (t *Tracker) Retrigger(ctx context.Context, imageID, teamID string) error {
	rec, err := t.corpus.Record(ctx, imageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
		}
		return fmt.Errorf("read record: %w", err)
	}
	if !rec.VisibleTo(teamID) {
		return fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
	}

	t.mu.Lock()
	delete(t.quarantined, imageID)
	delete(t.queue, imageID)
	t.updateGauges()
	t.mu.Unlock()

	t.logger.Info("Reconciliation re-triggered", zap.String("image_id", imageID), zap.String("team_id", teamID))
	return t.apply(ctx, image.Change{ImageID: imageID, Kind: image.Updated})
}

// Quarantined lists the quarantined images of a team ordered by image ID.
func (t *Tracker) Quarantined(teamID string) []Quarantine {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Quarantine, 0)
	for _, q := range t.quarantined {
		if q.TeamID == teamID {
			out = append(out, q)
		}
	}
	slices.SortFunc(out, func(a, b Quarantine) int { return strings.Compare(a.ImageID, b.ImageID) })
	return out
}

// Backfill re-embeds every image lacking an entry for the current model version and
// returns how many were applied. Failures land in the retry queue like any other change.
func (t *Tracker) Backfill(ctx context.Context, imageIDs []string) (int, error) {
	current := t.embed.Model().Version
	n := 0
	for _, id := range imageIDs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		versions, err := t.idx.Versions(ctx, id)
		if err != nil {
			return n, fmt.Errorf("versions of %s: %w", id, err)
		}
		if slices.Contains(versions, current) {
			continue
		}
		_ = t.Apply(ctx, image.Change{ImageID: id, Kind: image.Updated})
		n++
	}
	t.logger.Info("Backfill finished",
		zap.String("model_version", current),
		zap.Int("scanned", len(imageIDs)),
		zap.Int("applied", n),
	)
	return n, nil
}

// Pending returns the retry queue length.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Tracker) process(ctx context.Context, ch image.Change) (string, error) {
	switch ch.Kind {
	case image.Deleted:
		return "", t.retire(ctx, ch.ImageID, "")
	case image.TeamChanged:
		// The old team must lose access before the image is indexed for the new one.
		if err := t.retire(ctx, ch.ImageID, ""); err != nil {
			return "", err
		}
		return t.upsert(ctx, ch.ImageID)
	default:
		return t.upsert(ctx, ch.ImageID)
	}
}

// upsert embeds the current image and inserts it under the current model version,
// then retires entries of other versions.
func (t *Tracker) upsert(ctx context.Context, imageID string) (string, error) {
	rec, err := t.corpus.Record(ctx, imageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// удалено из корпуса раньше, чем пришло уведомление
			return "", t.retire(ctx, imageID, "")
		}
		return "", fmt.Errorf("read record: %w", err)
	}

	raw, err := t.corpus.Bytes(ctx, imageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return rec.TeamID, fmt.Errorf("%w: image %s has no bytes", domain.ErrInvalidInput, imageID)
		}
		return rec.TeamID, fmt.Errorf("read bytes: %w", err)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rec.TeamID, ctxErr
			}
			return rec.TeamID, fmt.Errorf("rate limit: %w", err)
		}
	}

	res, err := t.embed.EmbedImage(ctx, raw)
	if err != nil {
		return rec.TeamID, fmt.Errorf("embed image: %w", err)
	}

	info := t.embed.Model()
	version := res.ModelVersion
	if version == "" {
		version = info.Version
	}
	entry, err := index.NewEntry(rec.ID, rec.TeamID, rec.Tags, version, res.Embedding, info.Normalized)
	if err != nil {
		return rec.TeamID, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := t.idx.Insert(ctx, entry); err != nil {
		return rec.TeamID, fmt.Errorf("insert: %w", err)
	}
	return rec.TeamID, t.retire(ctx, imageID, version)
}

// retire deletes every entry of the image except the keep version.
func (t *Tracker) retire(ctx context.Context, imageID, keep string) error {
	versions, err := t.idx.Versions(ctx, imageID)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	if current := t.embed.Model().Version; keep == "" && !slices.Contains(versions, current) {
		versions = append(versions, current)
	}
	for _, v := range versions {
		if v == keep {
			continue
		}
		if err := t.idx.Delete(ctx, imageID, v); err != nil {
			return fmt.Errorf("delete %s: %w", v, err)
		}
	}
	return nil
}

// settle records the outcome of one attempt in the queue and quarantine maps.
func (t *Tracker) settle(ctx context.Context, ch image.Change, teamID string, err error) error {
	kind := string(ch.Kind)
	if err == nil {
		t.mu.Lock()
		if p, ok := t.queue[ch.ImageID]; ok && p.requeued {
			p.requeued, p.attempts = false, 0
		} else {
			delete(t.queue, ch.ImageID)
		}
		delete(t.quarantined, ch.ImageID)
		t.updateGauges()
		t.mu.Unlock()
		metrics.ReconcileTotal.WithLabelValues(kind, "ok").Inc()
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// shutdown: leave the queue as is, the feed is replayed on restart
		return err
	}

	t.mu.Lock()
	attempts := 1
	if p, ok := t.queue[ch.ImageID]; ok {
		if p.requeued {
			// a newer change supersedes this attempt
			p.requeued = false
			t.mu.Unlock()
			metrics.ReconcileTotal.WithLabelValues(kind, "retry").Inc()
			return err
		}
		attempts = p.attempts + 1
		if teamID == "" {
			teamID = p.teamID
		}
	}

	if permanent(err) || attempts >= t.cfg.MaxAttempts {
		delete(t.queue, ch.ImageID)
		t.quarantined[ch.ImageID] = Quarantine{
			ImageID:  ch.ImageID,
			TeamID:   teamID,
			Attempts: attempts,
			Cause:    err.Error(),
			At:       t.now().UTC(),
		}
		t.updateGauges()
		t.mu.Unlock()

		qerr := &domain.QuarantineError{ImageID: ch.ImageID, Attempts: attempts, Cause: err}
		metrics.ReconcileTotal.WithLabelValues(kind, "quarantined").Inc()
		t.logger.Warn("Image quarantined",
			zap.String("image_id", ch.ImageID),
			zap.String("team_id", teamID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return qerr
	}

	t.queue[ch.ImageID] = &pending{
		change:   ch,
		teamID:   teamID,
		attempts: attempts,
		due:      t.now().Add(t.cfg.Backoff.Delay(attempts + 1)),
	}
	t.updateGauges()
	t.mu.Unlock()

	metrics.ReconcileTotal.WithLabelValues(kind, "retry").Inc()
	t.logger.Info("Reconciliation failed, will retry",
		zap.String("image_id", ch.ImageID),
		zap.Int("attempt", attempts),
		zap.Error(err),
	)
	return err
}

// claim marks the image in flight. If another worker holds it, the change is queued
// to run right after instead.
func (t *Tracker) claim(ch image.Change) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inflight[ch.ImageID] {
		t.inflight[ch.ImageID] = true
		// this attempt reads the current corpus state and covers any requeued change
		if p, ok := t.queue[ch.ImageID]; ok {
			p.requeued = false
		}
		return true
	}
	if p, ok := t.queue[ch.ImageID]; ok {
		p.change, p.due, p.requeued = ch, t.now(), true
	} else {
		t.queue[ch.ImageID] = &pending{change: ch, due: t.now(), requeued: true}
	}
	t.updateGauges()
	return false
}

func (t *Tracker) release(imageID string) {
	t.mu.Lock()
	delete(t.inflight, imageID)
	t.mu.Unlock()
}

// updateGauges must be called with mu held.
func (t *Tracker) updateGauges() {
	metrics.ReconcileQueueDepth.Set(float64(len(t.queue)))
	metrics.ReconcileQuarantined.Set(float64(len(t.quarantined)))
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// permanent reports failures that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrDimensionMismatch) ||
		errors.Is(err, domain.ErrModelMismatch) ||
		errors.Is(err, domain.ErrNormalizationConflict)
}
