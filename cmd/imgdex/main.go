package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/imgdex/internal/analytics"
	"github.com/kailas-cloud/imgdex/internal/config"
	dbRedis "github.com/kailas-cloud/imgdex/internal/db/redis"
	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	logpkg "github.com/kailas-cloud/imgdex/internal/logger"
	"github.com/kailas-cloud/imgdex/internal/metrics"
	"github.com/kailas-cloud/imgdex/internal/repository/changefeed"
	"github.com/kailas-cloud/imgdex/internal/repository/corpus"
	"github.com/kailas-cloud/imgdex/internal/repository/embcache"
	"github.com/kailas-cloud/imgdex/internal/repository/vectorindex"
	"github.com/kailas-cloud/imgdex/internal/retry"
	chiTransport "github.com/kailas-cloud/imgdex/internal/transport/chi"
	fakeEmb "github.com/kailas-cloud/imgdex/internal/transport/fake"
	openaiEmb "github.com/kailas-cloud/imgdex/internal/transport/openai"
	s3Transport "github.com/kailas-cloud/imgdex/internal/transport/s3"
	embeddinguc "github.com/kailas-cloud/imgdex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	reconcileuc "github.com/kailas-cloud/imgdex/internal/usecase/reconcile"
	searchuc "github.com/kailas-cloud/imgdex/internal/usecase/search"
	"github.com/kailas-cloud/imgdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting imgdex API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("reconcile", cfg.Reconcile.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()
	metrics.RegisterReconcileMetrics()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database", zap.Strings("db_addrs", cfg.Database.Addrs))

	embedder := buildEmbedder(cfg.Embedding, store, logger)
	model := embedder.Model()
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model_version", model.Version),
		zap.Int("dimensions", model.Dimensions),
	)

	// Index, corpus and change feed
	idx := vectorindex.New(store, vectorindex.Config{
		HNSWM:              cfg.Index.HNSWM,
		HNSWEFConstruction: cfg.Index.HNSWEFConstruct,
		Algorithm:          cfg.Index.Algorithm,
	}, logger)
	repo := corpus.New(store, buildBytesSource(cfg.Corpus, logger))

	var tracker *reconcileuc.Tracker
	if cfg.Reconcile.Enabled {
		feed, err := changefeed.New(store, changefeed.Config{
			Stream: cfg.Reconcile.Stream,
			Batch:  int64(cfg.Reconcile.Batch),
			Block:  time.Duration(cfg.Reconcile.BlockMS) * time.Millisecond,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create change feed", zap.Error(err))
		}
		tracker = reconcileuc.New(idx, embedder, repo, feed, reconcileuc.Config{
			MaxAttempts: cfg.Reconcile.MaxAttempts,
			Backoff: retry.Policy{
				Base: time.Duration(cfg.Reconcile.BackoffBaseMS) * time.Millisecond,
				Max:  time.Duration(cfg.Reconcile.BackoffMaxMS) * time.Millisecond,
			},
			RatePerSec: cfg.Reconcile.RatePerSec,
			Burst:      cfg.Reconcile.Burst,
			IdleWait:   time.Duration(cfg.Reconcile.TickMS) * time.Millisecond,
		}, logger)
	}

	// Analytics: log sink always, stream sink when configured
	sinks := []analytics.Sink{analytics.NewLogSink(logger)}
	if cfg.Analytics.Stream != "" {
		sinks = append(sinks, analytics.NewStreamSink(store, domain.KeyPrefix+"events:"+cfg.Analytics.Stream, cfg.Analytics.StreamMaxLen))
	}
	emitter := analytics.NewEmitter(cfg.Analytics.Buffer, logger, sinks...)

	searchSvc := searchuc.New(embedder, idx, repo, emitter, searchuc.Config{
		OversampleFactor: cfg.Index.OversampleFactor,
		MaxRequery:       cfg.Index.MaxRequery,
		MaxK:             cfg.Index.MaxK,
		ReadVersions:     cfg.Index.ReadVersions,
		Retry: retry.Policy{
			MaxAttempts: cfg.Embedding.MaxAttempts,
			Base:        time.Duration(cfg.Embedding.BackoffBaseMS) * time.Millisecond,
			Max:         time.Duration(cfg.Embedding.BackoffMaxMS) * time.Millisecond,
		},
		IndexTimeout: time.Duration(cfg.Index.TimeoutMS) * time.Millisecond,
	}, logger)

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder))

	// Pass nil interfaces (not typed nil pointers!) for disabled parts.

	var reconcileSvc chiTransport.ReconcileService
	if tracker != nil {
		reconcileSvc = tracker
	}

	server := chiTransport.NewServer(searchSvc, reconcileSvc, healthSvc, query.Limits{
		DefaultPageSize: cfg.Index.DefaultPageSize,
		MaxPageSize:     cfg.Index.MaxPageSize,
		MaxOffset:       cfg.Index.MaxOffset,
	}, logger)

	keys := make(map[string]string, len(cfg.Auth.Keys))
	for _, k := range cfg.Auth.Keys {
		keys[k.Key] = k.TeamID
	}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.TeamAuthMiddleware(keys))
	r.Use(metrics.Middleware())
	server.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Emitter outlives the HTTP server so the last search events are flushed
	emitCtx, stopEmitter := context.WithCancel(context.Background())
	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		_ = emitter.Run(emitCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if tracker != nil {
		g.Go(func() error { return tracker.Run(gctx) })
	}
	if tracker != nil && cfg.Reconcile.BackfillOnStart {
		g.Go(func() error {
			ids, err := repo.IDs(gctx)
			if err != nil {
				// не фатально: изменения из фида всё равно дойдут
				logger.Error("Backfill listing failed", zap.Error(err))
				return nil
			}
			if _, err := tracker.Backfill(gctx, ids); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Backfill failed", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	stopEmitter()
	<-emitDone

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildEmbedder assembles the decorator chain: Provider -> Cached -> Instrumented.
// The returned Adapter validates results and bounds every call.
func buildEmbedder(cfg config.EmbeddingConfig, store *dbRedis.Store, logger *zap.Logger) *embeddinguc.Adapter {
	var base domain.Embedder
	switch cfg.Provider {
	case "fake":
		base = fakeEmb.NewEmbedder(domain.ModelInfo{
			Version:    cfg.ModelVersion,
			Dimensions: cfg.Dimensions,
			Normalized: true,
		})
	default:
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Version:        cfg.ModelVersion,
			Dimensions:     cfg.Dimensions,
			Normalized:     cfg.Normalized,
			SendDimensions: cfg.SendDimensions,
			Provider:       cfg.Provider,
			Logger:         logger,
		})
	}

	embedder := base
	if cfg.Cache && store != nil {
		embedder = embcache.New(base, store, time.Duration(cfg.CacheTTLSec)*time.Second, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider, logger)

	return embeddinguc.NewAdapter(embedder, time.Duration(cfg.TimeoutMS)*time.Millisecond)
}

// buildBytesSource returns the external image store, or nil to read bytes from the database.
func buildBytesSource(cfg config.CorpusConfig, logger *zap.Logger) corpus.BytesSource {
	if cfg.BytesSource != "s3" {
		return nil
	}
	client := s3Transport.NewClient(s3Transport.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Prefix:          cfg.S3.Prefix,
		PathStyle:       cfg.S3.PathStyle,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	logger.Info("Image bytes served from S3", zap.String("bucket", cfg.S3.Bucket), zap.String("prefix", cfg.S3.Prefix))
	return s3Transport.NewReader(client, cfg.S3.Bucket, cfg.S3.Prefix)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Логгер запроса, обогащается командой в auth middleware
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
