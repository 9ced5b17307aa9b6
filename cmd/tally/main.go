package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aevon-lab/tally/internal/core/cache"
	corecfg "github.com/aevon-lab/tally/internal/core/config"
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/aevon-lab/tally/internal/core/storage/memory"
	"github.com/aevon-lab/tally/internal/core/storage/postgres"
	"github.com/aevon-lab/tally/internal/docstore"
	"github.com/aevon-lab/tally/internal/executor"
	"github.com/aevon-lab/tally/internal/insights"
	"github.com/aevon-lab/tally/internal/metrics"
	"github.com/aevon-lab/tally/internal/migrations"
	"github.com/aevon-lab/tally/internal/server"
	"github.com/aevon-lab/tally/internal/warmup"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "tally.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration (.env is optional and never overrides the environment)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to read .env file", "error", err)
	}
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"backend", cfg.Backend.BaseURL,
		"rules", len(cfg.Rules.GetRules()),
		"database", cfg.Database.Enabled,
		"warmup", cfg.Warmup.Enabled,
	)

	// 2. Initialize query stats storage
	var (
		stats    storage.StatsStore
		dbHealth server.HealthChecker
		pruner   warmup.Pruner
	)
	if cfg.Database.Enabled {
		db, err := postgres.OpenDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		dbAdapter, err := postgres.Prepare(db)
		if err != nil {
			slog.Error("Failed to prepare database adapter", "error", err)
			os.Exit(1)
		}
		defer dbAdapter.Close()
		stats, dbHealth, pruner = dbAdapter, dbAdapter, dbAdapter
	} else {
		memStats, err := memory.NewStatsStore(memory.DefaultStatsCapacity)
		if err != nil {
			slog.Error("Failed to initialize in-memory stats store", "error", err)
			os.Exit(1)
		}
		stats = memStats
		slog.Info("Database disabled, keeping query stats in memory", "capacity", memory.DefaultStatsCapacity)
	}

	// 3. Initialize Metrics
	m := metrics.New(nil)

	// 4. Initialize Backend clients
	statsRecorder := executor.NewStoreRecorder(stats, !cfg.Database.RecordAll)
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := statsRecorder.Close(flushCtx); err != nil {
			slog.Warn("Failed to flush query stats", "error", err)
		}
	}()

	exec, err := executor.New(executor.Config{
		BaseURL:            cfg.Backend.BaseURL,
		APIKey:             cfg.Backend.APIKey,
		Timeout:            cfg.Backend.Timeout,
		SlowQueryThreshold: cfg.Backend.SlowQueryThreshold,
		BatchSize:          cfg.Backend.BatchSize,
		BatchDelay:         cfg.Backend.BatchDelay,
		MaxBatches:         cfg.Backend.MaxBatches,
		RateLimit:          cfg.Backend.RateLimit,
		RateBurst:          cfg.Backend.RateBurst,
		InsecureSkipVerify: cfg.Backend.InsecureSkipVerify,
	},
		executor.WithRecorder(m),
		executor.WithRecorder(statsRecorder),
	)
	if err != nil {
		slog.Error("Failed to initialize backend executor", "error", err)
		os.Exit(1)
	}

	docs, err := docstore.New(docstore.Config{
		BaseURL: cfg.Backend.EffectiveDocumentURL(),
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout,
	}, nil)
	if err != nil {
		slog.Error("Failed to initialize document store client", "error", err)
		os.Exit(1)
	}

	// 5. Initialize Insights (cached query API)
	resultCache := cache.New[any](cache.Options{
		TTL:        cfg.Cache.DefaultTTL,
		FailureTTL: cfg.Cache.FailureTTL,
	})
	insightsSvc := insights.NewService(exec, docs, resultCache, cfg.Rules, insights.Config{
		EventsCollection: cfg.Backend.EventsCollection,
		TeamsCollection:  cfg.Backend.TeamsCollection,
		PlayerTTL:        cfg.Cache.PlayerTTL,
		TeamTTL:          cfg.Cache.TeamTTL,
		CompanyTTL:       cfg.Cache.CompanyTTL,
		Classification:   cfg.ActionCategories(),
		PageSize:         cfg.Backend.BatchSize,
	}, insights.WithStatsStore(stats))
	m.ObserveCache(insightsSvc.CacheStats)

	// 6. Initialize Server
	opts := []server.Option{server.WithMiddleware(m.Middleware())}
	if dbHealth != nil {
		opts = append(opts, server.WithHealthCheck("database", dbHealth))
	}
	if cfg.Metrics.Prometheus {
		opts = append(opts, server.WithMetricsEndpoint(cfg.Metrics.PrometheusPath, m.Handler()))
	}
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode, opts...)
	srv.ShutdownTimeout = cfg.Server.ShutdownTimeout
	insightsSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Warmup.Enabled {
		warmer := warmup.NewScheduler(insightsSvc, warmup.Options{
			Interval:  cfg.Warmup.Interval,
			Teams:     cfg.Warmup.Teams,
			Window:    cfg.Warmup.Window,
			Sweeper:   insightsSvc,
			Pruner:    pruner,
			Retention: cfg.Database.Retention,
		})
		go func() {
			if err := warmer.Start(ctx); err != nil {
				slog.Error("Warmup scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Warmup scheduler disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
