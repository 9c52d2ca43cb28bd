package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/analytics"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
	"github.com/kailas-cloud/imgdex/internal/domain/search/mode"
	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
	"github.com/kailas-cloud/imgdex/internal/imagebuf"
	"github.com/kailas-cloud/imgdex/internal/metrics"
	"github.com/kailas-cloud/imgdex/internal/retry"
	"github.com/kailas-cloud/imgdex/internal/usecase/ranking"
)

// Defaults applied by New.
const (
	DefaultMaxRequery   = 3
	DefaultMaxK         = 1000
	DefaultIndexTimeout = 5 * time.Second
)

// state is the request state machine position, reported in logs.
type state string

const (
	stateResolving   state = "resolving_vector"
	stateQuerying    state = "querying_index"
	stateFiltering   state = "filtering"
	stateFetchDeeper state = "fetch_deeper"
)

// Config tunes the orchestrator.
type Config struct {
	OversampleFactor int
	// MaxRequery bounds fetch-deeper re-queries after the first index query.
	MaxRequery int
	MaxK       int
	// ReadVersions are the model versions queried, in preference order.
	// The embedder's own version is always included first.
	ReadVersions []string
	Retry        retry.Policy
	IndexTimeout time.Duration
}

// Service is the Search Orchestrator.
type Service struct {
	embed    Embedder
	idx      Index
	corpus   CorpusReader
	events   EventEmitter
	cfg      Config
	versions []string
	logger   *zap.Logger
}

// New creates the orchestrator. corpus may be nil, in which case the stored
// entry's team is the only visibility check for SIMILAR_TO_ID.
func New(
	embed Embedder, idx Index, corpus CorpusReader, events EventEmitter,
	cfg Config, logger *zap.Logger,
) *Service {
	if cfg.OversampleFactor <= 0 {
		cfg.OversampleFactor = domain.DefaultOversampleFactor
	}
	if cfg.MaxRequery < 0 {
		cfg.MaxRequery = 0
	} else if cfg.MaxRequery == 0 {
		cfg.MaxRequery = DefaultMaxRequery
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = DefaultMaxK
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = DefaultIndexTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	versions := []string{embed.Model().Version}
	for _, v := range cfg.ReadVersions {
		if v != "" && !slices.Contains(versions, v) {
			versions = append(versions, v)
		}
	}

	return &Service{
		embed:    embed,
		idx:      idx,
		corpus:   corpus,
		events:   events,
		cfg:      cfg,
		versions: versions,
		logger:   logger,
	}
}

// Search resolves q to a ranked page. Exactly one analytics event is emitted per call,
// and any decoded image buffer is released on every exit path.
func (s *Service) Search(ctx context.Context, q *query.Query) (result.Page, error) {
	start := time.Now()
	run := &request{q: q, state: stateResolving}
	defer func() { run.buf.Release() }()

	page, err := s.run(ctx, run)
	if err != nil {
		err = s.boundary(err)
		page = result.Page{}
	}
	s.finish(run, start, page, err)
	return page, err
}

// request carries per-call state; nothing is shared between calls.
type request struct {
	q     *query.Query
	state state
	buf   *imagebuf.Buffer
}

func (r *request) enter(st state) { r.state = st }

func (s *Service) run(ctx context.Context, r *request) (result.Page, error) {
	q := r.q
	r.enter(stateResolving)

	if q.Mode() == mode.TagOnly {
		r.enter(stateQuerying)
		return s.searchTags(ctx, q)
	}

	vec, exclude, err := s.resolve(ctx, r)
	if err != nil {
		return result.Page{}, err
	}
	return s.searchVector(ctx, r, vec, exclude)
}

// resolve turns the query payload into a vector. SIMILAR_TO_ID also returns the
// reference id to keep out of its own results.
func (s *Service) resolve(ctx context.Context, r *request) ([]float32, []string, error) {
	q := r.q
	switch q.Mode() {
	case mode.Text:
		res, err := s.embedWithRetry(ctx, func(ctx context.Context) (domain.EmbeddingResult, error) {
			return s.embed.EmbedText(ctx, q.Text())
		})
		if err != nil {
			return nil, nil, fmt.Errorf("embed text: %w", err)
		}
		return res.Embedding, nil, nil

	case mode.Image:
		buf, err := imagebuf.Decode(q.Image())
		if err != nil {
			return nil, nil, err
		}
		r.buf = buf
		res, err := s.embedWithRetry(ctx, func(ctx context.Context) (domain.EmbeddingResult, error) {
			return s.embed.EmbedImage(ctx, buf.Bytes())
		})
		if err != nil {
			return nil, nil, fmt.Errorf("embed image: %w", err)
		}
		return res.Embedding, nil, nil

	case mode.SimilarToID:
		vec, err := s.referenceVector(ctx, q.ReferenceID(), q.TeamID())
		if err != nil {
			return nil, nil, err
		}
		return vec, []string{q.ReferenceID()}, nil
	}
	return nil, nil, fmt.Errorf("%w: unsupported search mode %q", domain.ErrInvalidInput, q.Mode())
}

// referenceVector confirms the reference image is visible to teamID and returns its
// stored vector from the first read version holding one.
func (s *Service) referenceVector(ctx context.Context, imageID, teamID string) ([]float32, error) {
	notVisible := fmt.Errorf("reference image %s: %w", imageID, domain.ErrNotFound)

	if s.corpus != nil {
		rec, err := s.corpus.Record(ctx, imageID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, notVisible
			}
			return nil, fmt.Errorf("reference record: %w", err)
		}
		if !rec.VisibleTo(teamID) {
			return nil, notVisible
		}
	}

	for _, v := range s.versions {
		var entry index.Entry
		err := s.indexWithRetry(ctx, func(ctx context.Context) error {
			var err error
			entry, err = s.idx.Lookup(ctx, imageID, v)
			return err
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup reference: %w", err)
		}
		if entry.TeamID != teamID {
			return nil, notVisible
		}
		return entry.Vector, nil
	}
	return nil, notVisible
}

// searchVector runs the bounded fetch-deeper loop: k grows until enough candidates
// survive filtering, the index is drained, or the re-query budget is spent.
func (s *Service) searchVector(
	ctx context.Context, r *request, vec []float32, exclude []string,
) (result.Page, error) {
	q := r.q
	need := q.Offset() + q.PageSize() + 1
	k := min(need*s.cfg.OversampleFactor, s.cfg.MaxK)

	var (
		survivors []index.Candidate
		exhausted bool
	)
	for attempt := 0; ; attempt++ {
		if attempt == 0 {
			r.enter(stateQuerying)
		} else {
			r.enter(stateFetchDeeper)
			metrics.SearchFetchDeeperTotal.WithLabelValues(string(q.Mode())).Inc()
		}

		var res index.Result
		err := s.indexWithRetry(ctx, func(ctx context.Context) error {
			var err error
			res, err = s.idx.Query(ctx, index.Query{
				Vector:        vec,
				K:             k,
				TeamID:        q.TeamID(),
				Tags:          q.Tags(),
				ExcludeIDs:    exclude,
				ModelVersions: s.versions,
			})
			return err
		})
		if err != nil {
			return result.Page{}, fmt.Errorf("query index: %w", err)
		}

		r.enter(stateFiltering)
		survivors = ranking.Filter(res.Candidates, q.MinScore(), q.Tags())
		exhausted = res.Exhausted

		if len(survivors) >= need || exhausted || attempt >= s.cfg.MaxRequery || k >= s.cfg.MaxK {
			break
		}
		k = min(k*2, s.cfg.MaxK)
	}

	return ranking.Paginate(survivors, q.Page(), q.PageSize(), exhausted), nil
}

// searchTags serves TAG_ONLY without touching the embedder.
func (s *Service) searchTags(ctx context.Context, q *query.Query) (result.Page, error) {
	end := q.Offset() + q.PageSize()

	var res index.Result
	err := s.indexWithRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.idx.QueryTags(ctx, index.TagQuery{
			TeamID:       q.TeamID(),
			Tags:         q.Tags(),
			ModelVersion: s.versions[0],
			Limit:        end + 1,
		})
		return err
	})
	if err != nil {
		return result.Page{}, fmt.Errorf("query tags: %w", err)
	}

	page := ranking.Rank(res.Candidates, ranking.Params{
		MinScore:  q.MinScore(),
		Tags:      q.Tags(),
		Page:      q.Page(),
		PageSize:  q.PageSize(),
		Exhausted: true,
	})
	if res.Total >= 0 {
		page.TotalEstimate = res.Total
		page.HasNext = res.Total > end
	}
	return page, nil
}

func (s *Service) embedWithRetry(
	ctx context.Context, fn func(context.Context) (domain.EmbeddingResult, error),
) (domain.EmbeddingResult, error) {
	var res domain.EmbeddingResult
	_, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx)
		return err
	}, s.onRetry("embedding"))
	return res, err
}

func (s *Service) indexWithRetry(ctx context.Context, fn func(context.Context) error) error {
	_, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.IndexTimeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", domain.ErrIndexBackend, err)
		}
		return err
	}, s.onRetry("index"))
	return err
}

func (s *Service) onRetry(backend string) func(int, error) {
	return func(attempt int, err error) {
		metrics.SearchRetriesTotal.WithLabelValues(backend).Inc()
		s.logger.Debug("Retrying backend call",
			zap.String("backend", backend),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// boundary converts internal failures into the error taxonomy callers see.
func (s *Service) boundary(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound):
		return err
	case domain.IsRetryable(err):
		return fmt.Errorf("%w: %w", domain.ErrSearchUnavailable, err)
	}
	return err
}

func (s *Service) finish(r *request, start time.Time, page result.Page, err error) {
	q := r.q
	elapsed := time.Since(start)
	outcome := analytics.OutcomeDone
	if err != nil {
		outcome = analytics.OutcomeFailed
	}

	metrics.SearchDuration.WithLabelValues(string(q.Mode()), string(outcome)).Observe(elapsed.Seconds())

	if err != nil {
		fields := []zap.Field{
			zap.String("mode", string(q.Mode())),
			zap.String("team_id", q.TeamID()),
			zap.String("state", string(r.state)),
			zap.Error(err),
		}
		switch ErrorClass(err) {
		case "internal":
			s.logger.Error("Search failed", fields...)
		case "invalid_input", "not_found", "canceled":
			s.logger.Debug("Search rejected", fields...)
		default:
			s.logger.Warn("Search failed", fields...)
		}
	}

	if s.events == nil {
		return
	}
	ev := analytics.Event{
		Mode:        q.Mode(),
		TeamID:      q.TeamID(),
		LatencyMS:   elapsed.Milliseconds(),
		ResultCount: page.Len(),
		Outcome:     outcome,
	}
	if err != nil {
		ev.ErrorClass = ErrorClass(err)
	}
	s.events.Emit(ev)
}

// ErrorClass names the boundary error category of err.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSearchUnavailable):
		return "search_unavailable"
	}
	return "internal"
}
