package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/storage/postgres"
	"github.com/xenking/pos-rewards/internal/storage/redislock"
)

func main() {
	var (
		databaseURL string
		redisURL    string
		cfg         membership.RefreshConfig
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL for the refresh lock (or REDIS_URL env); empty skips locking")
	flag.IntVar(&cfg.BatchSize, "batch-size", 200, "customers per page")
	flag.IntVar(&cfg.Workers, "workers", 4, "concurrent customer evaluations")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	report, err := run(ctx, databaseURL, redisURL, cfg)
	if err != nil {
		slog.Error("tier refresh failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("tier refresh completed",
		slog.Int("processed", report.Processed),
		slog.Int("updated", report.Updated),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("no_tier", report.NoTier),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	if len(report.Failed) > 0 {
		slog.Warn("customers not refreshed", slog.String("ids", strings.Join(report.Failed, ",")))
		os.Exit(3)
	}
}

func run(ctx context.Context, databaseURL, redisURL string, cfg membership.RefreshConfig) (*membership.RefreshReport, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	var locker membership.Locker
	if redisURL != "" {
		rdb, err := redislock.NewClient(ctx, redisURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		locker = redislock.New(rdb, "pos-rewards:")
	}

	customers := postgres.NewCustomerRepository(pool)
	refresher, err := membership.NewRefresher(
		customers,
		postgres.NewOrderRepository(pool),
		postgres.NewSettingsRepository(pool),
		locker,
		noop.NewMeterProvider().Meter("tier-refresh"),
		cfg,
	)
	if err != nil {
		return nil, err
	}

	// The refresher logs through zap; per-customer detail stays at warn.
	lg, err := zap.NewProduction()
	if err != nil {
		return nil, errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	return refresher.Run(zctx.Base(ctx, lg))
}
