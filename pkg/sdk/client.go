package imgdex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	dbRedis "github.com/kailas-cloud/imgdex/internal/db/redis"
	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
	"github.com/kailas-cloud/imgdex/internal/repository/corpus"
	"github.com/kailas-cloud/imgdex/internal/repository/memindex"
	"github.com/kailas-cloud/imgdex/internal/repository/vectorindex"
	fakeEmb "github.com/kailas-cloud/imgdex/internal/transport/fake"
	openaiEmb "github.com/kailas-cloud/imgdex/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/imgdex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	reconcileuc "github.com/kailas-cloud/imgdex/internal/usecase/reconcile"
	searchuc "github.com/kailas-cloud/imgdex/internal/usecase/search"
)

const defaultReadinessTimeout = 10 * time.Second

// Внутренние интерфейсы для подмены в тестах.
type searchUseCase interface {
	Search(ctx context.Context, q *query.Query) (result.Page, error)
}

type reconcileUseCase interface {
	Apply(ctx context.Context, ch image.Change) error
	RetryDue(ctx context.Context) int
	Pending() int
	Retrigger(ctx context.Context, imageID, teamID string) error
	Quarantined(teamID string) []reconcileuc.Quarantine
}

type corpusUseCase interface {
	Record(ctx context.Context, imageID string) (image.Record, error)
	Bytes(ctx context.Context, imageID string) ([]byte, error)
	Put(ctx context.Context, rec image.Record, data []byte) error
	Remove(ctx context.Context, imageID string) error
}

// Client is the imgdex SDK entry point.
type Client struct {
	store     *dbRedis.Store
	corpus    corpusUseCase
	searchSvc searchUseCase
	tracker   reconcileUseCase
	healthSvc healthUseCase
	limits    query.Limits
	obs       *observer
	now       func() time.Time
}

// New creates an imgdex Client. With WithRedis the provided context is used
// for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		modelVersion: domain.DefaultModelVersion,
		dimensions:   domain.DefaultDimensions,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	var store *dbRedis.Store
	if len(cfg.addrs) > 0 {
		store, err = dbRedis.NewStore(dbRedis.Config{Addrs: cfg.addrs, Password: cfg.password})
		if err != nil {
			return nil, fmt.Errorf("imgdex: create redis store: %w", err)
		}
		if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("imgdex: database not ready: %w", err)
		}
	}

	return wireClient(store, cfg, obs), nil
}

func wireClient(store *dbRedis.Store, cfg *clientConfig, obs *observer) *Client {
	logger := zap.NewNop()
	embedder := embeddinguc.NewAdapter(buildEmbedder(cfg, logger), cfg.embedTimeout)

	var (
		readIdx   searchuc.Index
		writeIdx  reconcileuc.Index
		corpusSvc corpusUseCase
		pinger    healthuc.StorePinger
	)
	if store != nil {
		idx := vectorindex.New(store, vectorindex.Config{
			HNSWM:              cfg.hnswM,
			HNSWEFConstruction: cfg.hnswEFConstruct,
			Algorithm:          algorithm(cfg.flatIndex),
		}, logger)
		readIdx, writeIdx = idx, idx
		corpusSvc = &redisCorpus{Repo: corpus.New(store, nil), Writer: corpus.NewWriter(store)}
		pinger = store
	} else {
		idx := memindex.New()
		readIdx, writeIdx = idx, idx
		corpusSvc = newMemCorpus()
	}

	limits := query.Limits{DefaultPageSize: cfg.defaultPageSize, MaxPageSize: cfg.maxPageSize}
	searchSvc := searchuc.New(embedder, readIdx, corpusSvc, nil, searchuc.Config{
		OversampleFactor: cfg.oversampleFactor,
	}, logger)
	tracker := reconcileuc.New(writeIdx, embedder, corpusSvc, nil, reconcileuc.Config{}, logger)

	return &Client{
		store:     store,
		corpus:    corpusSvc,
		searchSvc: searchSvc,
		tracker:   tracker,
		healthSvc: healthuc.New(pinger, embedder),
		limits:    limits,
		obs:       obs,
		now:       time.Now,
	}
}

func buildEmbedder(cfg *clientConfig, logger *zap.Logger) domain.Embedder {
	info := domain.ModelInfo{Version: cfg.modelVersion, Dimensions: cfg.dimensions}
	switch {
	case cfg.embedder != nil:
		return &embedderAdapter{inner: cfg.embedder, info: info}
	case cfg.openai != nil:
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.openai.apiKey,
			BaseURL:    cfg.openai.baseURL,
			Model:      cfg.openai.model,
			Version:    cfg.modelVersion,
			Dimensions: cfg.dimensions,
			Provider:   "openai",
			Logger:     logger,
		})
	case cfg.fake:
		info.Normalized = true
		return fakeEmb.NewEmbedder(info)
	default:
		return &noopEmbedder{info: info}
	}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity. Always succeeds in memory mode.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if c.store == nil {
		return nil
	}
	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Search returns the search service scoped to a team.
func (c *Client) Search(teamID string) *SearchService {
	return &SearchService{
		teamID: teamID,
		svc:    c.searchSvc,
		limits: c.limits,
		obs:    c.obs,
	}
}

// redisCorpus joins the corpus reader and writer over one store.
type redisCorpus struct {
	*corpus.Repo
	*corpus.Writer
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
	info  domain.ModelInfo
}

func (a *embedderAdapter) Model() domain.ModelInfo { return a.info }

func (a *embedderAdapter) EmbedText(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	vec, err := a.inner.EmbedText(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	return domain.EmbeddingResult{Embedding: vec, ModelVersion: a.info.Version}, nil
}

func (a *embedderAdapter) EmbedImage(ctx context.Context, data []byte) (domain.EmbeddingResult, error) {
	vec, err := a.inner.EmbedImage(ctx, data)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed image: %w", err)
	}
	return domain.EmbeddingResult{Embedding: vec, ModelVersion: a.info.Version}, nil
}

var errNoEmbedder = errors.New("imgdex: embedder not configured (use WithEmbedder, WithOpenAI or WithFakeEmbedder)")

// noopEmbedder fails every call. Tag-only search still works without an embedder.
type noopEmbedder struct {
	info domain.ModelInfo
}

func (n *noopEmbedder) Model() domain.ModelInfo { return n.info }

func (n *noopEmbedder) EmbedText(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errNoEmbedder)
}

func (n *noopEmbedder) EmbedImage(context.Context, []byte) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errNoEmbedder)
}

func algorithm(flat bool) string {
	if flat {
		return vectorindex.AlgorithmFlat
	}
	return vectorindex.AlgorithmHNSW
}
