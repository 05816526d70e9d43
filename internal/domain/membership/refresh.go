package membership

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-rewards/internal/domain/customer"
)

var (
	// ErrRefreshInProgress is returned when another refresh holds the job lock.
	ErrRefreshInProgress = errors.New("membership refresh already running")
	// ErrLocked is returned by a Locker when the lock is held elsewhere.
	ErrLocked = errors.New("lock held")
)

const lockKey = "membership:refresh"

// SpendReader returns a customer's lifetime paid spend.
type SpendReader interface {
	PaidSpend(ctx context.Context, customerID string) (decimal.Decimal, error)
}

// TableSource provides the current tier configuration.
type TableSource interface {
	MembershipTable(ctx context.Context) (Table, error)
}

// Locker coordinates refresh runs across processes. TryLock returns ErrLocked
// when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// lockGrace is how long the refresh lock outlasts the run timeout.
const lockGrace = time.Minute

// RefreshConfig bounds a refresh run. A zero Timeout means ten minutes and
// LockTTL is raised to at least Timeout plus a minute.
type RefreshConfig struct {
	BatchSize int
	Workers   int
	Timeout   time.Duration
	LockTTL   time.Duration
}

func (c *RefreshConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	// The lock must outlive the run it guards.
	if c.LockTTL < c.Timeout+lockGrace {
		c.LockTTL = c.Timeout + lockGrace
	}
}

// RefreshReport summarises one refresh run.
type RefreshReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Updated    int
	Unchanged  int
	NoTier     int
	// Failed lists customers whose spend read or tier write failed.
	Failed []string
}

// Refresher re-evaluates every customer's tier from their paid spend. Only
// one run is active per Refresher, and per Locker when one is configured.
type Refresher struct {
	customers customer.Repository
	spend     SpendReader
	tables    TableSource
	locker    Locker
	cfg       RefreshConfig
	now       func() time.Time

	customersCounter metric.Int64Counter
	runs             metric.Int64Counter

	mu sync.Mutex
}

// NewRefresher creates a Refresher. locker may be nil for single-process
// deployments.
func NewRefresher(
	customers customer.Repository,
	spend SpendReader,
	tables TableSource,
	locker Locker,
	meter metric.Meter,
	cfg RefreshConfig,
) (*Refresher, error) {
	cfg.setDefaults()

	customersCounter, err := meter.Int64Counter("membership.refresh.customers",
		metric.WithDescription("Customers evaluated by the tier refresh, by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create customers counter")
	}
	runs, err := meter.Int64Counter("membership.refresh.runs",
		metric.WithDescription("Tier refresh runs, by result"))
	if err != nil {
		return nil, errors.Wrap(err, "create runs counter")
	}

	return &Refresher{
		customers:        customers,
		spend:            spend,
		tables:           tables,
		locker:           locker,
		cfg:              cfg,
		now:              time.Now,
		customersCounter: customersCounter,
		runs:             runs,
	}, nil
}

type outcomeKind string

const (
	outcomeUpdated   outcomeKind = "updated"
	outcomeUnchanged outcomeKind = "unchanged"
	outcomeNoTier    outcomeKind = "no_tier"
	outcomeFailed    outcomeKind = "failed"
)

type outcome struct {
	kind outcomeKind
	tier string
	err  error
}

// Run performs a full refresh. Per-customer failures do not stop the run and
// are reported in RefreshReport.Failed; the returned error is reserved for
// failures that prevent the run from continuing.
func (r *Refresher) Run(ctx context.Context) (*RefreshReport, error) {
	if !r.mu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	lg := zctx.From(ctx)

	if r.locker != nil {
		unlock, err := r.locker.TryLock(ctx, lockKey, r.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, ErrLocked) {
				return nil, ErrRefreshInProgress
			}
			return nil, errors.Wrap(err, "acquire refresh lock")
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				lg.Warn("Release refresh lock", zap.Error(err))
			}
		}()
	}

	report, err := r.run(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return report, err
}

func (r *Refresher) run(ctx context.Context) (*RefreshReport, error) {
	lg := zctx.From(ctx)
	report := &RefreshReport{StartedAt: r.now()}

	table, err := r.tables.MembershipTable(ctx)
	if err != nil {
		return report, errors.Wrap(err, "load membership table")
	}
	lg.Info("Membership refresh started", zap.Stringer("tiers", table))

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, "refresh interrupted")
		}

		batch, err := r.customers.ListAfter(ctx, after, r.cfg.BatchSize)
		if err != nil {
			return report, errors.Wrapf(err, "list customers after %q", after)
		}
		if len(batch) == 0 {
			break
		}

		r.processBatch(ctx, table, batch, report)
		after = batch[len(batch)-1].ID

		if len(batch) < r.cfg.BatchSize {
			break
		}
	}

	report.FinishedAt = r.now()
	lg.Info("Membership refresh finished",
		zap.Int("processed", report.Processed),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("no_tier", report.NoTier),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (r *Refresher) processBatch(ctx context.Context, table Table, batch []customer.Customer, report *RefreshReport) {
	outcomes := make([]outcome, len(batch))

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i := range batch {
		g.Go(func() error {
			outcomes[i] = r.refreshOne(ctx, table, &batch[i])
			return nil
		})
	}
	_ = g.Wait()

	lg := zctx.From(ctx)
	for i, o := range outcomes {
		report.Processed++
		switch o.kind {
		case outcomeUpdated:
			report.Updated++
			lg.Debug("Membership tier updated",
				zap.String("customer_id", batch[i].ID),
				zap.String("from", batch[i].MembershipTier),
				zap.String("to", o.tier),
			)
		case outcomeUnchanged:
			report.Unchanged++
		case outcomeNoTier:
			report.NoTier++
		case outcomeFailed:
			report.Failed = append(report.Failed, batch[i].ID)
			lg.Warn("Membership refresh failed for customer",
				zap.String("customer_id", batch[i].ID),
				zap.Error(o.err),
			)
		}
		r.customersCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(o.kind))))
	}
}

// refreshOne is the per-customer unit of work. A customer below every
// threshold keeps their stored tier.
func (r *Refresher) refreshOne(ctx context.Context, table Table, c *customer.Customer) outcome {
	spend, err := r.spend.PaidSpend(ctx, c.ID)
	if err != nil {
		return outcome{kind: outcomeFailed, err: errors.Wrap(err, "read paid spend")}
	}

	tier, ok := table.Resolve(spend)
	if !ok {
		return outcome{kind: outcomeNoTier}
	}
	if strings.EqualFold(tier.Name, c.MembershipTier) {
		return outcome{kind: outcomeUnchanged, tier: tier.Name}
	}

	if err := r.customers.SetMembershipTier(ctx, c.ID, tier.Name); err != nil {
		return outcome{kind: outcomeFailed, err: errors.Wrap(err, "set membership tier")}
	}
	return outcome{kind: outcomeUpdated, tier: tier.Name}
}
