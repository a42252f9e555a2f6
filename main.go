package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	cfg "github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/config"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/health"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/jobs"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/schedules"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlperf"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

// jobs run daily; two missed days mark them stale
const freshnessWindow = 50 * time.Hour

func main() {
	printConfig := flag.Bool("print-config", false, "Print the effective configuration without secrets and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot, err := cfg.Load(cfg.Path())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *printConfig {
		out, err := boot.YAML()
		if err != nil {
			log.Fatalf("Failed to render configuration: %v", err)
		}
		fmt.Print(string(out))
		return
	}
	logger, err := newLogger(boot.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	configMgr, err := cfg.NewManager(cfg.Path(), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	conf := configMgr.Current()
	logger.Info("Configuration loaded", zap.String("path", cfg.Path()), zap.String("environment", conf.Environment))

	if err := tracing.Initialize(conf.Tracing, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Health endpoints come up first so probes answer while the rest starts.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	healthServer := health.StartHealthServer(hm, conf.HTTP.HealthPort, logger)
	_ = hm.RegisterChecker(health.NewBreakerHealthChecker(circuitbreaker.GlobalMetricsCollector))

	store, err := db.NewClient(&conf.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database client", zap.Error(err))
	}
	defer store.Close()
	_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(store.Wrapper(), logger))

	var cache *competitors.Cache
	redisOpts, err := conf.Redis.Options()
	if err != nil {
		logger.Warn("Redis disabled, competitor lists are served from the store", zap.Error(err))
	} else {
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		rw := circuitbreaker.NewRedisWrapper(redisClient, logger)
		cache = competitors.NewCache(rw, conf.Competitors.CacheTTL, logger)
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(rw, logger))
	}

	norm := urlnorm.New(conf.URLs)
	scores := visibility.NewRunner(store, conf.Scoring, logger)
	scheduler := schedules.NewManager(&schedules.Config{MinIntervalMins: 15}, logger)
	jobList := jobs.Build(jobs.Deps{
		Scores:      scores,
		Competitors: competitors.NewService(store, cache, norm, conf.Competitors, logger),
		URLs:        urlperf.NewRunner(store, norm, logger),
		Summary:     store,
		Logger:      logger,
	}, conf.Jobs)
	if err := jobs.Register(scheduler, jobList); err != nil {
		logger.Fatal("Failed to register jobs", zap.Error(err))
	}
	for _, j := range jobList {
		name := j.Name
		_ = hm.RegisterChecker(health.NewJobFreshnessChecker(name, func() time.Time {
			return scheduler.LastSuccess(name)
		}, freshnessWindow))
	}

	// scoring parameters follow the config file without a restart
	configMgr.RegisterHandler(func(ev cfg.ChangeEvent) error {
		scores.SetParams(ev.Config.Scoring)
		logger.Info("Scoring parameters reloaded",
			zap.String("file", ev.File),
			zap.Float64("recency_half_life_days", ev.Config.Scoring.RecencyHalfLifeDays),
		)
		return nil
	})
	if err := configMgr.Start(ctx); err != nil {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	}

	if err := hm.Start(ctx); err != nil {
		logger.Warn("Background health checks not started", zap.Error(err))
	}
	scheduler.Start()

	metricsServer := &http.Server{
		Addr:              ":" + strconv.Itoa(conf.HTTP.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", conf.HTTP.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("Orchestrator started", zap.Int("jobs", len(jobList)))
	<-ctx.Done()
	logger.Info("Orchestrator shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	_ = configMgr.Stop()
	_ = hm.Stop()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", zap.Error(err))
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown failed", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	logger.Info("Orchestrator stopped")
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
