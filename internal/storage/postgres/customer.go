package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-rewards/internal/domain/customer"
)

const (
	customerColumns = `id, name, membership_tier, order_count, loyalty_points`

	getCustomerSQL = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	listCustomersAfterSQL = `SELECT ` + customerColumns + `
		FROM customers WHERE id > $1 ORDER BY id LIMIT $2`

	// The tier is only written when it changes, so retries are no-ops.
	setMembershipTierSQL = `UPDATE customers SET membership_tier = $2
		WHERE id = $1 AND membership_tier IS DISTINCT FROM $2`

	upsertCustomerSQL = `INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			membership_tier = EXCLUDED.membership_tier,
			order_count = EXCLUDED.order_count,
			loyalty_points = EXCLUDED.loyalty_points`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// Get returns the customer with id or customer.ErrNotFound.
func (r *CustomerRepository) Get(ctx context.Context, id string) (*customer.Customer, error) {
	rows, err := r.pool.Query(ctx, getCustomerSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &c, nil
}

// ListAfter pages through customers in id order.
func (r *CustomerRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]customer.Customer, error) {
	rows, err := r.pool.Query(ctx, listCustomersAfterSQL, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing customers after %q: %w", afterID, err)
	}
	customers, err := pgx.CollectRows(rows, scanCustomer)
	if err != nil {
		return nil, fmt.Errorf("listing customers after %q: %w", afterID, err)
	}
	return customers, nil
}

// SetMembershipTier stores tier for the customer.
func (r *CustomerRepository) SetMembershipTier(ctx context.Context, id, tier string) error {
	if _, err := r.pool.Exec(ctx, setMembershipTierSQL, id, tier); err != nil {
		return fmt.Errorf("setting tier for customer %q: %w", id, err)
	}
	return nil
}

// Upsert inserts or replaces a customer.
func (r *CustomerRepository) Upsert(ctx context.Context, c *customer.Customer) error {
	_, err := r.pool.Exec(ctx, upsertCustomerSQL,
		c.ID, c.Name, c.MembershipTier, int32(c.OrderCount), c.LoyaltyPoints,
	)
	if err != nil {
		return fmt.Errorf("upserting customer %q: %w", c.ID, err)
	}
	return nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var (
		c          customer.Customer
		tier       *string
		orderCount int32
	)
	err := row.Scan(&c.ID, &c.Name, &tier, &orderCount, &c.LoyaltyPoints)
	c.MembershipTier = derefString(tier)
	c.OrderCount = int(orderCount)
	return c, err
}
