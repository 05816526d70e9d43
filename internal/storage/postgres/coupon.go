package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, status, discount_type, discount_value,
		max_discount_amount, scope_mode, bogo_config, category_id, item_id,
		min_order_amount, valid_from, valid_until, usage_limit, usage_count,
		per_user_limit, user_usage_count, first_time_only`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	listActiveCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE status = 'active' ORDER BY code`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (UPPER(code)) DO UPDATE SET
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			scope_mode = EXCLUDED.scope_mode,
			bogo_config = EXCLUDED.bogo_config,
			category_id = EXCLUDED.category_id,
			item_id = EXCLUDED.item_id,
			min_order_amount = EXCLUDED.min_order_amount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			usage_limit = EXCLUDED.usage_limit,
			per_user_limit = EXCLUDED.per_user_limit,
			first_time_only = EXCLUDED.first_time_only`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive), whatever its
// status. Returns coupon.ErrNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// ListActive returns every coupon with active status.
func (r *CouponRepository) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing active coupons: %w", err)
	}
	return coupons, nil
}

// Upsert inserts a coupon or updates the definition of the coupon with the
// same code. Usage counters of an existing coupon are preserved.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	return upsertCoupon(ctx, r.pool, c)
}

func upsertCoupon(ctx context.Context, q execer, c *coupon.Coupon) error {
	bogo, err := encodeBogo(c.Bogo)
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	usage := c.UserUsageCount
	if usage == nil {
		usage = map[string]int{}
	}
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("marshaling usage counts: %w", err)
	}

	_, err = q.Exec(ctx, upsertCouponSQL,
		c.ID, coupon.NormalizeCode(c.Code), c.Description, string(c.Status),
		string(c.Type), c.Value, c.MaxDiscountAmount, scopeModeOrDefault(c.ScopeMode), bogo,
		c.CategoryID, c.ItemID, c.MinOrderAmount, c.ValidFrom, c.ValidUntil,
		int32Ptr(c.UsageLimit), int32(c.UsageCount), int32Ptr(c.PerUserLimit), usageJSON, c.FirstTimeOnly,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		status       string
		rc           ruleColumns
		minOrder     *decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
		usageLimit   *int32
		usageCount   int32
		perUserLimit *int32
		userUsage    []byte
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &status, &rc.discountType, &rc.value,
		&rc.maxDiscount, &rc.scopeMode, &rc.bogo, &rc.categoryID, &rc.itemID,
		&minOrder, &validFrom, &validUntil, &usageLimit, &usageCount,
		&perUserLimit, &userUsage, &c.FirstTimeOnly,
	)
	if err != nil {
		return c, err
	}

	c.Rule, err = rc.rule()
	if err != nil {
		return c, fmt.Errorf("coupon %q: %w", c.Code, err)
	}
	c.Status = coupon.Status(status)
	c.MinOrderAmount = minOrder
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	c.UsageLimit = intPtr(usageLimit)
	c.UsageCount = int(usageCount)
	c.PerUserLimit = intPtr(perUserLimit)
	if len(userUsage) > 0 {
		if err := json.Unmarshal(userUsage, &c.UserUsageCount); err != nil {
			return c, fmt.Errorf("coupon %q: unmarshaling usage counts: %w", c.Code, err)
		}
	}
	return c, nil
}
