// Command tierstored runs the tiered storage gateway daemon: the HTTP API,
// the migration worker, the lifecycle optimizer, and the budget monitor in
// one process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tierstore/tierstore/internal/backend"
	minioadapter "github.com/tierstore/tierstore/internal/backend/minio"
	s3adapter "github.com/tierstore/tierstore/internal/backend/s3"
	"github.com/tierstore/tierstore/internal/budget"
	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/internal/circuit"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/gateway"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/internal/optimizer"
	"github.com/tierstore/tierstore/internal/policy"
	"github.com/tierstore/tierstore/internal/queue"
	"github.com/tierstore/tierstore/internal/server"
	"github.com/tierstore/tierstore/pkg/health"
	"github.com/tierstore/tierstore/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tierstored:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Global.LogLevel)
	slog.SetDefault(logger)
	logger.Info("tierstored starting",
		"http_port", cfg.Global.HTTPPort, "metrics_port", cfg.Global.MetricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catalog: Postgres behind a Redis read-through cache.
	db, err := catalog.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	gormStore := catalog.NewGormStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr(), err)
	}
	defer redisClient.Close()

	var store catalog.Store = catalog.NewCachedStore(gormStore, redisClient, 5*time.Minute, logger)

	// Backends.
	fast, err := minioadapter.New(ctx, types.TierFast, cfg.FastTier, cfg.Gateway.RequestTimeout, logger)
	if err != nil {
		return err
	}
	bulk, err := s3adapter.New(ctx, types.TierBulk, cfg.BulkTier, cfg.Gateway.RequestTimeout, logger)
	if err != nil {
		return err
	}
	breakerCfg := circuit.DefaultConfig()
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("backend circuit state change", "tier", name, "from", from, "to", to)
	}
	registry := backend.NewRegistry(
		backend.WithBreaker(fast, breakerCfg),
		backend.WithBreaker(bulk, breakerCfg),
	)

	// Core components.
	collector := metrics.NewCollector()
	engine := policy.NewEngine(cfg.Routing, cfg.Tiers.DefaultTier)
	gw := gateway.New(store, registry, engine, cfg.Tiers, cfg.Gateway, collector, logger)

	// Migration queue.
	queueConn, err := queue.Connect(cfg.Broker.URL(), logger)
	if err != nil {
		return err
	}
	defer queueConn.Close()
	worker := queue.NewWorker(queueConn, gormStore, gw, logger)

	opt := optimizer.New(store, gormStore, queueConn, gw, cfg.Tiers, cfg.Optimizer, collector, logger)
	monitor := budget.New(store, cfg.Tiers, cfg.Budget, redisClient, collector, logger)

	// Dependency health tracking.
	tracker := health.NewTracker(health.DefaultConfig())
	tracker.Register("postgres", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	tracker.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	tracker.Register("rabbitmq", func(ctx context.Context) error {
		return queueConn.Healthy()
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()

	// Background loops.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil {
			logger.Error("migration worker exited", "error", err)
			stop()
		}
	}()

	if cfg.Optimizer.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opt.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	// Metrics endpoint on its own port.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", collector.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := tracker.Report()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == health.StatusUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Global.MetricsPort),
		Handler: metricsMux,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
			stop()
		}
	}()

	// API server.
	api := server.New(gw, monitor, cfg.Global, logger)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Global.HTTPPort),
		Handler: api.Router(),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server exited", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("tierstored stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
