// Package corpus reads the image corpus owned by the upstream service.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
)

// Hash fields of an image record.
const (
	fieldTeamID    = "team_id"
	fieldTags      = "tags"
	fieldCreatedAt = "created_at"
)

// store is the consumer interface for corpus records (ISP).
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// BytesSource fetches raw image bytes from external storage.
type BytesSource interface {
	Bytes(ctx context.Context, imageID string) ([]byte, error)
}

// Repo reads image records from hashes at imgdex:image:<id>. Bytes come from
// imgdex:image_bytes:<id> unless an external BytesSource is set.
type Repo struct {
	store store
	bytes BytesSource
}

// New creates a corpus repository. bytes may be nil.
func New(s store, bytes BytesSource) *Repo {
	return &Repo{store: s, bytes: bytes}
}

// Record returns the corpus record of an image.
func (r *Repo) Record(ctx context.Context, imageID string) (image.Record, error) {
	key := RecordKey(imageID)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return image.Record{}, fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
		}
		return image.Record{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return image.Record{}, fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
	}
	return parseRecord(imageID, fields)
}

// Bytes returns the raw image payload.
func (r *Repo) Bytes(ctx context.Context, imageID string) ([]byte, error) {
	if r.bytes != nil {
		return r.bytes.Bytes(ctx, imageID)
	}
	key := BytesKey(imageID)
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("image bytes %s: %w", imageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return raw, nil
}

// IDs lists every image in the corpus, sorted.
func (r *Repo) IDs(ctx context.Context) ([]string, error) {
	prefix := RecordKey("")
	keys, err := r.store.Scan(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id := strings.TrimPrefix(k, prefix); id != "" && id != k {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// RecordKey is the hash key of an image record.
func RecordKey(imageID string) string { return domain.KeyPrefix + "image:" + imageID }

// BytesKey is the string key of an image payload.
func BytesKey(imageID string) string { return domain.KeyPrefix + "image_bytes:" + imageID }

// Fields renders a record as hash fields. The upstream writer uses the same layout.
func Fields(rec image.Record) map[string]string {
	m := map[string]string{
		fieldTeamID: rec.TeamID,
		fieldTags:   strings.Join(rec.Tags, image.TagSeparator),
	}
	if !rec.CreatedAt.IsZero() {
		m[fieldCreatedAt] = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

func parseRecord(imageID string, fields map[string]string) (image.Record, error) {
	var tags []string
	for t := range strings.SplitSeq(fields[fieldTags], image.TagSeparator) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	var created time.Time
	if v := fields[fieldCreatedAt]; v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return image.Record{}, fmt.Errorf("%w: image %s: bad created_at %q", domain.ErrInvalidInput, imageID, v)
		}
		created = parsed
	}

	rec, err := image.New(imageID, fields[fieldTeamID], tags, created)
	if err != nil {
		return image.Record{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return rec, nil
}
