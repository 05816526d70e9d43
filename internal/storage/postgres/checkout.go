package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/pricing"
)

const (
	captureOrderSQL = `UPDATE orders SET
			final_amount = $2,
			discount_amount = $3,
			coupon_code = NULLIF($4, ''),
			membership_tier = NULLIF($5, ''),
			points_redeemed = $6,
			payment_status = 'paid'
		WHERE id = $1 AND payment_status = 'pending'`

	redeemCouponSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND status = 'active'
			AND (usage_limit IS NULL OR usage_count < usage_limit)`

	redeemCouponForCustomerSQL = `UPDATE coupons SET
			usage_count = usage_count + 1,
			user_usage_count = jsonb_set(user_usage_count, ARRAY[$2::text],
				to_jsonb(COALESCE((user_usage_count ->> $2::text)::int, 0) + 1))
		WHERE id = $1 AND status = 'active'
			AND (usage_limit IS NULL OR usage_count < usage_limit)
			AND (per_user_limit IS NULL OR COALESCE((user_usage_count ->> $2::text)::int, 0) < per_user_limit)`

	settleCustomerSQL = `UPDATE customers SET
			loyalty_points = loyalty_points - $2 + $3,
			order_count = order_count + 1
		WHERE id = $1 AND loyalty_points >= $2`
)

var _ pricing.CheckoutStore = (*CheckoutRepository)(nil)

// CheckoutRepository persists checkout captures in a single transaction.
type CheckoutRepository struct {
	pool *pgxpool.Pool
}

// NewCheckoutRepository returns a CheckoutRepository that uses the given pool.
func NewCheckoutRepository(pool *pgxpool.Pool) *CheckoutRepository {
	return &CheckoutRepository{pool: pool}
}

// Capture writes the breakdown onto the order and marks it paid, records the
// coupon redemption and settles the customer's points and order count. Usage limits and the points balance
// are re-checked under the row locks taken by the updates.
func (r *CheckoutRepository) Capture(ctx context.Context, c pricing.Capture) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		b := c.Breakdown
		tag, err := tx.Exec(ctx, captureOrderSQL,
			c.OrderID, b.FinalAmount, b.TotalDiscount, b.AppliedCoupon, b.AppliedMembership, b.PointsRedeemed,
		)
		if err != nil {
			return fmt.Errorf("capturing order %q: %w", c.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			return pricing.ErrOrderSettled
		}

		if c.CouponID != "" {
			if c.CustomerID != "" {
				tag, err = tx.Exec(ctx, redeemCouponForCustomerSQL, c.CouponID, c.CustomerID)
			} else {
				tag, err = tx.Exec(ctx, redeemCouponSQL, c.CouponID)
			}
			if err != nil {
				return fmt.Errorf("redeeming coupon %q: %w", c.CouponID, err)
			}
			if tag.RowsAffected() == 0 {
				return coupon.ErrUsageLimitReached
			}
		}

		if c.CustomerID != "" {
			tag, err = tx.Exec(ctx, settleCustomerSQL, c.CustomerID, b.PointsRedeemed, c.PointsEarned)
			if err != nil {
				return fmt.Errorf("settling points for customer %q: %w", c.CustomerID, err)
			}
			if tag.RowsAffected() == 0 {
				return loyalty.ErrInsufficientPoints
			}
		}
		return nil
	})
}
