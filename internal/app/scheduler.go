package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xenking/pos-rewards/internal/domain/membership"
)

// scheduleTierRefresh runs r on the cron schedule until the returned stop
// function is called. Stop waits for an in-flight run to finish.
func scheduleTierRefresh(ctx context.Context, r *membership.Refresher, schedule string) (stop func(), err error) {
	lg := zctx.From(ctx).Named("tier-refresh")
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		report, err := r.Run(zctx.Base(ctx, lg))
		switch {
		case errors.Is(err, membership.ErrRefreshInProgress):
			lg.Info("Skipped scheduled refresh, another run is active")
		case err != nil:
			lg.Error("Scheduled refresh failed", zap.Error(err))
		default:
			lg.Info("Scheduled refresh done",
				zap.Int("updated", report.Updated),
				zap.Int("failed", len(report.Failed)),
			)
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "schedule %q", schedule)
	}
	c.Start()
	lg.Info("Tier refresh scheduled", zap.String("schedule", schedule))
	return func() { <-c.Stop().Done() }, nil
}
