package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-rewards/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		opts        options
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.workers, "workers", 8, "concurrent upserts")
	flag.UintVar(&opts.expected, "expected", 1_000_000, "expected number of coupon lines, sizes the duplicate filter")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate and report without writing")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: coupon-import [flags] coupons.jsonl.gz [more.jsonl.gz...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !opts.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, opts); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, files []string, opts options) error {
	var repo upserter = discardUpserter{}
	if !opts.dryRun {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		repo = postgres.NewCouponRepository(pool)
	}

	rep, err := importCoupons(ctx, files, repo, opts)
	if err != nil {
		return err
	}
	slog.Info("coupon import completed",
		slog.Int("lines", rep.lines),
		slog.Int("written", rep.written),
		slog.Int("invalid", rep.invalid),
		slog.Int("duplicates", rep.duplicates),
		slog.Bool("dry_run", opts.dryRun),
	)
	return nil
}
