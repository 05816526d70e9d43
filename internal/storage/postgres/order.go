package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, customer_id, items, total_amount, final_amount, discount_amount,
		coupon_code, membership_tier, points_redeemed, payment_status
		FROM orders WHERE id = $1`

	paidSpendSQL = `SELECT COALESCE(SUM(final_amount), 0) FROM orders
		WHERE customer_id = $1 AND payment_status = 'paid'`

	createOrderSQL = `INSERT INTO orders (id, customer_id, items, total_amount, final_amount, payment_status)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get returns the order with id or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// PaidSpend sums final amounts of the customer's paid orders.
func (r *OrderRepository) PaidSpend(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var spend decimal.Decimal
	if err := r.pool.QueryRow(ctx, paidSpendSQL, customerID).Scan(&spend); err != nil {
		return decimal.Zero, fmt.Errorf("paid spend for customer %q: %w", customerID, err)
	}
	return spend, nil
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column. Existing orders are left untouched.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	status := o.PaymentStatus
	if status == "" {
		status = order.PaymentPending
	}
	final := o.FinalAmount
	if final.IsZero() {
		final = order.Subtotal(o)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, itemsJSON, o.TotalAmount, final, string(status),
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o          order.Order
		customerID *string
		items      []byte
		couponCode *string
		tier       *string
		status     string
	)
	err := row.Scan(
		&o.ID, &customerID, &items, &o.TotalAmount, &o.FinalAmount, &o.DiscountAmount,
		&couponCode, &tier, &o.PointsRedeemed, &status,
	)
	if err != nil {
		return o, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return o, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
		}
	}
	o.CustomerID = derefString(customerID)
	o.CouponCode = derefString(couponCode)
	o.MembershipTier = derefString(tier)
	o.PaymentStatus = order.PaymentStatus(status)
	return o, nil
}
