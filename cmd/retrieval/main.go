package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/config"
	"github.com/cartfox/retrieval/internal/index"
	logpkg "github.com/cartfox/retrieval/internal/logger"
	"github.com/cartfox/retrieval/internal/metrics"
	openaiProvider "github.com/cartfox/retrieval/internal/provider/openai"
	"github.com/cartfox/retrieval/internal/repository/postgres"
	chiTransport "github.com/cartfox/retrieval/internal/transport/chi"
	embeddinguc "github.com/cartfox/retrieval/internal/usecase/embedding"
	expansionuc "github.com/cartfox/retrieval/internal/usecase/expansion"
	hydrateuc "github.com/cartfox/retrieval/internal/usecase/hydrate"
	inferuc "github.com/cartfox/retrieval/internal/usecase/infer"
	rerankuc "github.com/cartfox/retrieval/internal/usecase/rerank"
	retrievaluc "github.com/cartfox/retrieval/internal/usecase/retrieval"
	searchuc "github.com/cartfox/retrieval/internal/usecase/search"
	"github.com/cartfox/retrieval/internal/version"
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

	logger.Info("Starting retrieval API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	// System of record
	store, err := postgres.NewStore(postgres.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.Register()

	// AI provider and memoizing embedder
	provider := openaiProvider.New(&openaiProvider.Config{
		APIKey:          cfg.AI.APIKey,
		BaseURL:         cfg.AI.BaseURL,
		EmbeddingModel:  cfg.AI.EmbeddingModel,
		CompletionModel: cfg.AI.CompletionModel,
		Dimensions:      cfg.AI.Dimensions,
		TimeoutSec:      cfg.AI.TimeoutSec,
		Logger:          logger,
	})
	embedder := embeddinguc.New(provider,
		cfg.Retrieval.EmbeddingCacheSize, cfg.Retrieval.EmbeddingTTL(), logger)

	// Tenant lite index over the system of record
	idx := index.NewStore(store, index.Options{
		TTL:     cfg.Retrieval.IndexTTL(),
		Retries: cfg.Retrieval.LoadRetries,
		Backoff: cfg.Retrieval.LoadBackoff(),
	}, logger)

	// Retrieval pipeline
	engine := searchuc.NewEngine(idx, embedder, searchuc.Options{
		Fanout:    cfg.Retrieval.SearchFanout,
		FuseLimit: cfg.Retrieval.FuseLimit,
		RRFK:      cfg.Retrieval.RRFK,
	}, logger)
	hydrator := hydrateuc.New(store, logger)
	expander := expansionuc.New(provider, cfg.Retrieval.ExpansionTTL(), logger).
		WithCompletion(cfg.AI.Temperature, cfg.AI.MaxTokens)
	reranker := rerankuc.New(provider, rerankuc.Thresholds{
		Variance: cfg.Retrieval.VarianceThreshold,
		Ratio:    cfg.Retrieval.RatioThreshold,
	}, logger)
	inferencer := inferuc.New()
	limiter := retrievaluc.NewLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst)

	coordinator := retrievaluc.NewCoordinator(
		limiter, idx, engine, hydrator, expander, reranker, inferencer,
		retrievaluc.Options{
			ResultTTL:   cfg.Retrieval.ResultTTL(),
			ResultLimit: cfg.Retrieval.ResultLimit,
		}, logger)

	// Background sweeps keep the TTL caches from holding expired entries
	// between requests.
	janitorCtx, stopJanitors := context.WithCancel(ctx)
	defer stopJanitors()
	go coordinator.RunJanitor(janitorCtx, time.Minute)
	go expander.RunJanitor(janitorCtx, time.Minute)

	server := chiTransport.NewServer(coordinator, store, map[string]chiTransport.HealthChecker{
		"database": store,
		"ai":       provider,
	})

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
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

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
