package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/discount"
)

const (
	bloomFPR      = 0.001
	maxLineBytes  = 1 << 20
	progressEvery = 100_000
)

type options struct {
	workers  int
	expected uint
	dryRun   bool
}

type upserter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

type discardUpserter struct{}

func (discardUpserter) Upsert(context.Context, *coupon.Coupon) error { return nil }

type report struct {
	lines      int
	written    int
	invalid    int
	duplicates int
}

// couponLine is one JSON Lines record.
type couponLine struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	Description       string           `json:"description"`
	Status            string           `json:"status"`
	Type              string           `json:"type"`
	Value             decimal.Decimal  `json:"value"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount"`
	ScopeMode         string           `json:"scope_mode"`
	Bogo              *struct {
		BuyItemID          string           `json:"buy_item_id"`
		GetItemID          string           `json:"get_item_id"`
		GetDiscountPercent *decimal.Decimal `json:"get_discount_percent"`
	} `json:"bogo"`
	CategoryID     string           `json:"category_id"`
	ItemID         string           `json:"item_id"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount"`
	ValidFrom      *time.Time       `json:"valid_from"`
	ValidUntil     *time.Time       `json:"valid_until"`
	UsageLimit     *int             `json:"usage_limit"`
	PerUserLimit   *int             `json:"per_user_limit"`
	FirstTimeOnly  bool             `json:"first_time_only"`
}

func (l *couponLine) coupon() *coupon.Coupon {
	c := &coupon.Coupon{
		ID:          l.ID,
		Code:        coupon.NormalizeCode(l.Code),
		Description: l.Description,
		Status:      coupon.Status(l.Status),
		Rule: discount.Rule{
			Type:              discount.Type(l.Type),
			Value:             l.Value,
			MaxDiscountAmount: l.MaxDiscountAmount,
			ScopeMode:         discount.ScopeMode(l.ScopeMode),
			CategoryID:        l.CategoryID,
			ItemID:            l.ItemID,
		},
		MinOrderAmount: l.MinOrderAmount,
		ValidFrom:      l.ValidFrom,
		ValidUntil:     l.ValidUntil,
		UsageLimit:     l.UsageLimit,
		PerUserLimit:   l.PerUserLimit,
		FirstTimeOnly:  l.FirstTimeOnly,
	}
	if c.Status == "" {
		c.Status = coupon.StatusActive
	}
	if l.Bogo != nil {
		c.Bogo = &discount.BogoConfig{
			BuyItemID:          l.Bogo.BuyItemID,
			GetItemID:          l.Bogo.GetItemID,
			GetDiscountPercent: l.Bogo.GetDiscountPercent,
		}
	}
	return c
}

// importCoupons makes two passes over files. The first screens codes
// through a bloom filter and keeps only codes the filter has already seen
// as possible duplicates. The second validates every record and tracks
// exact codes for those candidates only, so the first definition of a code
// wins. Valid records are upserted by a bounded worker pool.
func importCoupons(ctx context.Context, files []string, repo upserter, opts options) (*report, error) {
	if opts.workers <= 0 {
		opts.workers = 1
	}
	if opts.expected == 0 {
		opts.expected = 1
	}

	slog.Info("pass 1: screening codes", slog.Int("files", len(files)))
	candidates, err := screenDuplicates(ctx, files, opts.expected)
	if err != nil {
		return nil, errors.Wrap(err, "screen duplicates")
	}
	slog.Info("pass 1 complete", slog.Int("possible_duplicates", len(candidates)))

	rep := &report{}
	var written atomic.Int64
	seen := make(map[string]struct{}, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)

	slog.Info("pass 2: importing", slog.Int("workers", opts.workers))
	err = scanLines(gctx, files, func(file string, n int, raw []byte) error {
		rep.lines++
		if rep.lines%progressEvery == 0 {
			slog.Info("pass 2 progress", slog.Int("lines", rep.lines), slog.Int64("written", written.Load()))
		}

		var line couponLine
		if err := json.Unmarshal(raw, &line); err != nil {
			rep.invalid++
			slog.Warn("skip malformed line", slog.String("file", file), slog.Int("line", n), slog.String("error", err.Error()))
			return nil
		}
		c := line.coupon()
		if problems := coupon.ValidateDefinition(c); len(problems) > 0 {
			rep.invalid++
			slog.Warn("skip invalid coupon",
				slog.String("file", file), slog.Int("line", n),
				slog.String("code", c.Code), slog.String("problems", strings.Join(problems, "; ")))
			return nil
		}
		if _, maybe := candidates[c.Code]; maybe {
			if _, dup := seen[c.Code]; dup {
				rep.duplicates++
				slog.Warn("skip duplicate code", slog.String("file", file), slog.Int("line", n), slog.String("code", c.Code))
				return nil
			}
			seen[c.Code] = struct{}{}
		}

		g.Go(func() error {
			if err := repo.Upsert(gctx, c); err != nil {
				return errors.Wrapf(err, "upsert %s (%s:%d)", c.Code, file, n)
			}
			written.Add(1)
			return nil
		})
		return nil
	})
	if werr := g.Wait(); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, errors.Wrap(err, "import")
	}

	rep.written = int(written.Load())
	return rep, nil
}

// screenDuplicates returns every code the bloom filter reported as already
// added. False positives only cost exact tracking in pass two.
func screenDuplicates(ctx context.Context, files []string, expected uint) (map[string]struct{}, error) {
	filter := bloom.NewWithEstimates(expected, bloomFPR)
	candidates := make(map[string]struct{})

	err := scanLines(ctx, files, func(_ string, _ int, raw []byte) error {
		var head struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(raw, &head) != nil {
			return nil
		}
		code := coupon.NormalizeCode(head.Code)
		if code == "" {
			return nil
		}
		if filter.TestOrAddString(code) {
			candidates[code] = struct{}{}
		}
		return nil
	})
	return candidates, err
}

// scanLines streams each gzip file line by line, skipping blank lines.
func scanLines(ctx context.Context, files []string, fn func(file string, n int, raw []byte) error) error {
	for _, path := range files {
		if err := scanFile(ctx, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func scanFile(ctx context.Context, path string, fn func(file string, n int, raw []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		if err := fn(path, n, raw); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
