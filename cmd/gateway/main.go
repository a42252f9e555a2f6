package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/cmd/gateway/internal/handlers"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/cmd/gateway/internal/middleware"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/citations"
	cfg "github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/config"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/health"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ingest"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/jobs"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ratecontrol"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/schedules"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlperf"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

func main() {
	// scores are written as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, err := cfg.Load(cfg.Path())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	conf.Tracing.ServiceName = strings.Replace(conf.Tracing.ServiceName, "orchestrator", "gateway", 1)
	if err := tracing.Initialize(conf.Tracing, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}

	// Initialize database
	store, err := db.NewClient(&conf.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	// Redis backs rate limiting, idempotency and the competitor cache
	redisOpts, err := conf.Redis.Options()
	if err != nil {
		logger.Fatal("Failed to configure Redis", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup, limits fail open until it recovers", zap.Error(err))
	}
	rw := circuitbreaker.NewRedisWrapper(redisClient, logger)

	hm := health.NewManager(logger)
	_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(store.Wrapper(), logger))
	_ = hm.RegisterChecker(health.NewRedisHealthChecker(rw, logger))
	_ = hm.RegisterChecker(health.NewBreakerHealthChecker(circuitbreaker.GlobalMetricsCollector))

	// Services
	norm := urlnorm.New(conf.URLs)
	ingester := ingest.NewService(store, citations.NewExtractor(norm), logger)
	competitorSvc := competitors.NewService(store, competitors.NewCache(rw, conf.Competitors.CacheTTL, logger), norm, conf.Competitors, logger)

	// jobs are registered but never scheduled here; the cron endpoint runs them on demand
	runner := schedules.NewManager(nil, logger)
	if err := jobs.Register(runner, jobs.Build(jobs.Deps{
		Scores:      visibility.NewRunner(store, conf.Scoring, logger),
		Competitors: competitorSvc,
		URLs:        urlperf.NewRunner(store, norm, logger),
		Summary:     store,
		Logger:      logger,
	}, conf.Jobs)); err != nil {
		logger.Fatal("Failed to register jobs", zap.Error(err))
	}

	refreshLimiter := ratecontrol.NewKeyedLimiter(conf.RateLimit.RefreshPerSecond, conf.RateLimit.RefreshBurst)
	go sweepLimiter(ctx, refreshLimiter)

	// Create handlers
	ingestHandler := handlers.NewIngestHandler(ingester, logger)
	scoreHandler := handlers.NewScoreHandler(store, norm, logger)
	competitorHandler := handlers.NewCompetitorHandler(competitorSvc, refreshLimiter, logger)
	pageHandler := handlers.NewPageHandler(store, norm, logger)
	reportHandler := handlers.NewReportHandler(visibility.NewReports(store, logger), norm, logger)
	summaryHandler := handlers.NewSummaryHandler(store, logger)
	cronHandler := handlers.NewCronHandler(runner, logger)
	openapiHandler := handlers.NewOpenAPIHandler()

	// Create middlewares
	tracingMiddleware := middleware.NewTracingMiddleware(logger).Middleware
	rateLimiter := middleware.NewRateLimiter(
		ratecontrol.NewWindowLimiter(rw, "visibility:ratelimit", conf.RateLimit.RequestsPerWindow, conf.RateLimit.Window),
		logger,
	).Middleware
	idempotencyMiddleware := middleware.NewIdempotencyMiddleware(rw, conf.Idempotency.TTL, logger).Middleware
	validationMiddleware := middleware.NewValidationMiddleware(logger).Middleware
	cronAuth := middleware.NewCronAuth(conf.CronSecret, logger).Middleware

	api := func(h http.HandlerFunc) http.Handler {
		return tracingMiddleware(rateLimiter(validationMiddleware(h)))
	}

	// Setup HTTP mux
	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /openapi.json", openapiHandler.ServeSpec)

	mux.Handle("POST /api/ingest",
		tracingMiddleware(
			rateLimiter(
				idempotencyMiddleware(
					http.HandlerFunc(ingestHandler.Ingest),
				),
			),
		),
	)
	mux.Handle("GET /api/visibility-scores", api(scoreHandler.List))
	mux.Handle("GET /api/visibility-scores/overview", api(reportHandler.Overview))
	mux.Handle("GET /api/visibility-scores/{domain}", api(scoreHandler.Get))
	mux.Handle("GET /api/trends", api(reportHandler.Trends))
	mux.Handle("GET /api/competitors", api(competitorHandler.List))
	mux.Handle("GET /api/competitors/leaderboard", api(competitorHandler.Leaderboard))
	mux.Handle("GET /api/competitors/queries", api(competitorHandler.Queries))
	mux.Handle("POST /api/competitors/refresh", api(competitorHandler.Refresh))
	mux.Handle("GET /api/pages", api(pageHandler.List))
	mux.Handle("GET /api/pages/queries", api(pageHandler.Queries))
	mux.Handle("GET /api/summary", api(summaryHandler.Get))
	mux.Handle("POST /api/cron/visibility-score",
		tracingMiddleware(
			cronAuth(
				http.HandlerFunc(cronHandler.VisibilityScore),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(conf.HTTP.Port),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  conf.HTTP.ReadTimeout,
		WriteTimeout: 0, // cron-triggered runs can outlive any fixed write deadline
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Gateway starting", zap.Int("port", conf.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start gateway", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Gateway shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	logger.Info("Gateway stopped")
}

// sweepLimiter drops idle refresh buckets
func sweepLimiter(ctx context.Context, l *ratecontrol.KeyedLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// corsMiddleware adds CORS headers for dashboard clients
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, traceparent, tracestate, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
