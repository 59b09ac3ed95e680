package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/config"
	"github.com/warp/tuition-engine/fee"
	"github.com/warp/tuition-engine/lock"
	"github.com/warp/tuition-engine/logging"
	"github.com/warp/tuition-engine/metrics"
	"github.com/warp/tuition-engine/store/sqlite"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "feeengine",
	Short: "Tuition fee schedules, receipts and ledger postings",
	Long: `feeengine turns a subject's pricing into an installment schedule,
applies receipts to installments in order, and keeps a double-entry ledger
of fee dues and receipts.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite database path, \":memory:\" for in-memory (env DATABASE_PATH)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json or console (env LOG_FORMAT)")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address for the cross-process subject lock (env REDIS_ADDR)")
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the dependencies shared by subcommands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *sqlite.Store
	service  *fee.Service
	registry *prometheus.Registry
	redis    *redis.Client
}

// loadConfig reads the environment and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.Load()
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DatabasePath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.RedisAddr = v
	}
	return cfg
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", cfg.AppName), zap.String("env", cfg.Environment))

	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []fee.Option{
		fee.WithLogger(logger.Named("fee")),
		fee.WithBulkConcurrency(cfg.BulkRefreshConcurrency),
		fee.WithInstrumentation(metrics.New(a.registry, metrics.Config{
			ServiceName: cfg.AppName,
			Environment: cfg.Environment,
		})),
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		locker, err := lock.NewRedisLocker(a.redis, cfg.LockTTL, logger.Named("lock"))
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, fee.WithLocker(locker))
		logger.Info("using redis subject lock", zap.String("addr", cfg.RedisAddr))
	}

	a.service = fee.NewService(store, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}
