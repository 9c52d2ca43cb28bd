// Package vectorindex implements the Vector Index on Redis FT.SEARCH.
//
// Each model version gets its own HNSW index over hashes under
// imgdex:vec:<version>:<image_id>. The normalization policy of a version is
// recorded once with SET NX and never rewritten. A per-image hash
// imgdex:versions:<image_id> tracks which versions hold a live entry.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
	"github.com/kailas-cloud/imgdex/internal/domain/search/filter"
	"github.com/kailas-cloud/imgdex/internal/metrics"
)

const (
	fieldImageID      = "image_id"
	fieldTeamID       = "team_id"
	fieldTags         = "tags"
	fieldModelVersion = "model_version"
	fieldProcessedAt  = "processed_at"
	fieldVector       = "vector"

	tagSeparator = image.TagSeparator
	backendLabel = "redis"

	// DefaultListLimit caps a tag listing when the caller sets no limit.
	DefaultListLimit = 1000
)

var returnFields = []string{fieldImageID, fieldTeamID, fieldTags, fieldModelVersion}

var _ index.Index = (*Repo)(nil)

// store is the consumer interface for the vector index (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Del(ctx context.Context, keys ...string) error
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
}

// Vector index algorithms.
const (
	AlgorithmHNSW = "hnsw"
	// AlgorithmFlat is an exact brute-force scan, fine for small corpora.
	AlgorithmFlat = "flat"
)

// Config holds vector index build parameters. HNSW settings are ignored for FLAT.
type Config struct {
	Algorithm          string
	HNSWM              int
	HNSWEFConstruction int
}

// Repo implements index.Index.
type Repo struct {
	store  store
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	policies map[string]index.Policy // versions whose policy and FT index are confirmed
}

// New creates a Redis-backed vector index.
func New(s store, cfg Config, logger *zap.Logger) *Repo {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmHNSW
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = 16
	}
	if cfg.HNSWEFConstruction <= 0 {
		cfg.HNSWEFConstruction = 200
	}
	return &Repo{store: s, cfg: cfg, logger: logger, policies: map[string]index.Policy{}}
}

// Insert implements index.Index.
func (r *Repo) Insert(ctx context.Context, e index.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !db.IsValidIdentifier(e.ModelVersion) {
		return fmt.Errorf("%w: model version %q is not a valid index identifier", domain.ErrInvalidInput, e.ModelVersion)
	}

	start := time.Now()
	policy := index.Policy{Dimensions: len(e.Vector), Normalize: !e.Normalized}
	if err := r.ensure(ctx, e.ModelVersion, policy); err != nil {
		r.observe("insert", start, err)
		return err
	}

	vec := e.Vector
	if policy.Normalize {
		vec = domain.Normalize(vec)
	}
	processed := e.ProcessedAt
	if processed.IsZero() {
		processed = time.Now().UTC()
	}
	ts := strconv.FormatInt(processed.UnixMilli(), 10)

	fields := map[string]string{
		fieldImageID:      e.ImageID,
		fieldTeamID:       e.TeamID,
		fieldTags:         strings.Join(e.Tags, tagSeparator),
		fieldModelVersion: e.ModelVersion,
		fieldProcessedAt:  ts,
		fieldVector:       string(db.EncodeVector(vec)),
	}
	if err := r.store.HSet(ctx, entryKey(e.ModelVersion, e.ImageID), fields); err != nil {
		err = backendErr(ctx, "hset entry", err)
		r.observe("insert", start, err)
		return err
	}
	// Registry is written after the entry so Versions never names a missing entry
	// for longer than a failed Delete.
	if err := r.store.HSet(ctx, versionsKey(e.ImageID), map[string]string{e.ModelVersion: ts}); err != nil {
		err = backendErr(ctx, "hset versions", err)
		r.observe("insert", start, err)
		return err
	}
	r.observe("insert", start, nil)
	return nil
}

// Delete implements index.Index. Deleting a missing entry is a no-op.
func (r *Repo) Delete(ctx context.Context, imageID, modelVersion string) error {
	start := time.Now()
	if err := r.store.Del(ctx, entryKey(modelVersion, imageID)); err != nil {
		err = backendErr(ctx, "del entry", err)
		r.observe("delete", start, err)
		return err
	}
	if err := r.store.HDel(ctx, versionsKey(imageID), modelVersion); err != nil {
		err = backendErr(ctx, "hdel versions", err)
		r.observe("delete", start, err)
		return err
	}
	r.observe("delete", start, nil)
	return nil
}

// Query implements index.Index. Each requested version is searched with the hard
// team filter and the tag pre-filter; results are merged by score.
func (r *Repo) Query(ctx context.Context, q index.Query) (index.Result, error) {
	if q.TeamID == "" {
		return index.Result{}, fmt.Errorf("%w: team scope is required", domain.ErrInvalidInput)
	}
	if q.K <= 0 || len(q.Vector) == 0 || len(q.ModelVersions) == 0 {
		return index.Result{}, fmt.Errorf("%w: k, vector and model versions are required", domain.ErrInvalidInput)
	}
	expr, err := filter.Scoped(q.TeamID, q.Tags, q.ExcludeIDs)
	if err != nil {
		return index.Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	start := time.Now()
	var merged []index.Candidate
	exhausted := true

	for _, version := range q.ModelVersions {
		policy, ok, err := r.policy(ctx, version)
		if err != nil {
			r.observe("query", start, err)
			return index.Result{}, err
		}
		if !ok || policy.Dimensions != len(q.Vector) {
			continue
		}
		vec := q.Vector
		if policy.Normalize {
			vec = domain.Normalize(vec)
		}

		res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
			IndexName:    indexName(version),
			VectorField:  fieldVector,
			Filters:      expr,
			Vector:       vec,
			K:            q.K,
			ReturnFields: returnFields,
		})
		if err != nil {
			if errors.Is(err, db.ErrIndexNotFound) {
				continue
			}
			err = backendErr(ctx, "knn "+version, err)
			r.observe("query", start, err)
			return index.Result{}, err
		}
		if len(res.Entries) >= q.K {
			exhausted = false
		}
		for _, entry := range res.Entries {
			merged = append(merged, toCandidate(entry, version))
		}
	}

	slices.SortFunc(merged, compareCandidates)
	if len(merged) > q.K {
		merged = merged[:q.K]
		exhausted = false
	}
	r.observe("query", start, nil)
	return index.Result{Candidates: merged, Exhausted: exhausted, Total: -1}, nil
}

// QueryTags implements index.Index via a filter-only FT.SEARCH sorted by image ID.
func (r *Repo) QueryTags(ctx context.Context, q index.TagQuery) (index.Result, error) {
	if q.TeamID == "" {
		return index.Result{}, fmt.Errorf("%w: team scope is required", domain.ErrInvalidInput)
	}
	expr, err := filter.Scoped(q.TeamID, q.Tags, nil)
	if err != nil {
		return index.Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	start := time.Now()
	res, err := r.store.SearchList(ctx, &db.ListQuery{
		IndexName:    indexName(q.ModelVersion),
		Filters:      expr,
		SortBy:       fieldImageID,
		Limit:        limit,
		ReturnFields: returnFields,
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			r.observe("query_tags", start, nil)
			return index.Result{Exhausted: true}, nil
		}
		err = backendErr(ctx, "list "+q.ModelVersion, err)
		r.observe("query_tags", start, err)
		return index.Result{}, err
	}

	out := make([]index.Candidate, 0, len(res.Entries))
	for _, entry := range res.Entries {
		c := toCandidate(entry, q.ModelVersion)
		c.Score = 1
		out = append(out, c)
	}
	r.observe("query_tags", start, nil)
	return index.Result{Candidates: out, Exhausted: len(out) >= res.Total, Total: res.Total}, nil
}

// Lookup implements index.Index.
func (r *Repo) Lookup(ctx context.Context, imageID, modelVersion string) (index.Entry, error) {
	fields, err := r.store.HGetAll(ctx, entryKey(modelVersion, imageID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return index.Entry{}, fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
		}
		return index.Entry{}, backendErr(ctx, "hgetall entry", err)
	}
	if len(fields) == 0 {
		return index.Entry{}, fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
	}

	vec, err := db.DecodeVector([]byte(fields[fieldVector]))
	if err != nil {
		return index.Entry{}, fmt.Errorf("%w: image %s: %v", domain.ErrIndexBackend, imageID, err)
	}
	policy, _, err := r.policy(ctx, modelVersion)
	if err != nil {
		return index.Entry{}, err
	}

	e := index.Entry{
		ImageID:      imageID,
		TeamID:       fields[fieldTeamID],
		Tags:         splitTags(fields[fieldTags]),
		ModelVersion: modelVersion,
		Vector:       vec,
		Normalized:   !policy.Normalize,
	}
	if ms, err := strconv.ParseInt(fields[fieldProcessedAt], 10, 64); err == nil {
		e.ProcessedAt = time.UnixMilli(ms).UTC()
	}
	return e, nil
}

// Versions implements index.Index.
func (r *Repo) Versions(ctx context.Context, imageID string) ([]string, error) {
	fields, err := r.store.HGetAll(ctx, versionsKey(imageID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, backendErr(ctx, "hgetall versions", err)
	}
	out := make([]string, 0, len(fields))
	for v := range fields {
		out = append(out, v)
	}
	slices.Sort(out)
	return out, nil
}

// ensure records the policy of a version (first writer wins) and creates its FT index.
func (r *Repo) ensure(ctx context.Context, version string, policy index.Policy) error {
	r.mu.Lock()
	known, ok := r.policies[version]
	r.mu.Unlock()
	if ok {
		return comparePolicy(version, known, policy)
	}

	stored, err := r.store.SetNX(ctx, policyKey(version), []byte(policy.String()))
	if err != nil {
		return backendErr(ctx, "setnx policy", err)
	}
	if !stored {
		recorded, ok, err := r.loadPolicy(ctx, version)
		if err != nil {
			return err
		}
		if ok {
			if err := comparePolicy(version, recorded, policy); err != nil {
				return err
			}
		}
	}

	exists, err := r.store.IndexExists(ctx, indexName(version))
	if err != nil {
		return backendErr(ctx, "index exists", err)
	}
	if !exists {
		def, err := r.definition(version, policy.Dimensions)
		if err != nil {
			return err
		}
		if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
			return backendErr(ctx, "create index", err)
		}
		r.logger.Info("Vector index created",
			zap.String("model_version", version),
			zap.Int("dimensions", policy.Dimensions),
			zap.Bool("normalize", policy.Normalize),
		)
	}

	r.mu.Lock()
	r.policies[version] = policy
	r.mu.Unlock()
	return nil
}

// policy returns the recorded policy of a version; ok is false when nothing was ever inserted.
func (r *Repo) policy(ctx context.Context, version string) (index.Policy, bool, error) {
	r.mu.Lock()
	p, ok := r.policies[version]
	r.mu.Unlock()
	if ok {
		return p, true, nil
	}
	return r.loadPolicy(ctx, version)
}

func (r *Repo) loadPolicy(ctx context.Context, version string) (index.Policy, bool, error) {
	raw, err := r.store.Get(ctx, policyKey(version))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return index.Policy{}, false, nil
		}
		return index.Policy{}, false, backendErr(ctx, "get policy", err)
	}
	p, err := parsePolicy(string(raw))
	if err != nil {
		return index.Policy{}, false, fmt.Errorf("%w: version %s: %v", domain.ErrIndexBackend, version, err)
	}
	return p, true, nil
}

func (r *Repo) definition(version string, dims int) (*db.IndexDefinition, error) {
	b := db.NewIndex(indexName(version)).
		Prefix(entryPrefix(version)).
		SortableTag(fieldImageID).
		Tag(fieldTeamID).
		TagWithOpts(fieldTags, tagSeparator, true).
		Tag(fieldModelVersion).
		Numeric(fieldProcessedAt)
	switch r.cfg.Algorithm {
	case AlgorithmFlat:
		b = b.VectorFlat(fieldVector, dims, db.DistanceCosine, 0)
	case AlgorithmHNSW:
		b = b.VectorHNSW(fieldVector, dims, db.DistanceCosine, r.cfg.HNSWM, r.cfg.HNSWEFConstruction)
	default:
		return nil, fmt.Errorf("%w: unknown vector algorithm %q", domain.ErrInvalidInput, r.cfg.Algorithm)
	}
	def, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: index definition: %v", domain.ErrInvalidInput, err)
	}
	return def, nil
}

func (r *Repo) observe(op string, start time.Time, err error) {
	metrics.IndexOpDuration.WithLabelValues(backendLabel, op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.IndexErrorsTotal.WithLabelValues(backendLabel, op).Inc()
	}
}

func comparePolicy(version string, recorded, want index.Policy) error {
	if recorded.Dimensions != want.Dimensions {
		return fmt.Errorf("%w: version %s stores %d dims, got %d",
			domain.ErrDimensionMismatch, version, recorded.Dimensions, want.Dimensions)
	}
	if recorded.Normalize != want.Normalize {
		return fmt.Errorf("%w: version %s recorded %s", domain.ErrNormalizationConflict, version, recorded)
	}
	return nil
}

func parsePolicy(s string) (index.Policy, error) {
	var p index.Policy
	if _, err := fmt.Sscanf(s, "dims=%d;normalize=%t", &p.Dimensions, &p.Normalize); err != nil {
		return index.Policy{}, fmt.Errorf("parse policy %q: %w", s, err)
	}
	return p, nil
}

// backendErr keeps caller cancellation and deadlines visible and tags the rest as index failures.
func backendErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrIndexBackend, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrIndexBackend, err)
}

func toCandidate(e db.SearchEntry, version string) index.Candidate {
	id := e.Fields[fieldImageID]
	if id == "" {
		id = strings.TrimPrefix(e.Key, entryPrefix(version))
	}
	mv := e.Fields[fieldModelVersion]
	if mv == "" {
		mv = version
	}
	return index.Candidate{
		ImageID:      id,
		TeamID:       e.Fields[fieldTeamID],
		Tags:         splitTags(e.Fields[fieldTags]),
		ModelVersion: mv,
		Score:        e.Score,
	}
}

func compareCandidates(a, b index.Candidate) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	return strings.Compare(a.ImageID, b.ImageID)
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, tagSeparator)
}

func entryPrefix(version string) string { return domain.KeyPrefix + "vec:" + version + ":" }

func entryKey(version, imageID string) string { return entryPrefix(version) + imageID }

func indexName(version string) string { return domain.KeyPrefix + "idx:" + version }

func versionsKey(imageID string) string { return domain.KeyPrefix + "versions:" + imageID }

func policyKey(version string) string { return domain.KeyPrefix + "policy:" + version }
