package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/discount"
	"github.com/xenking/pos-rewards/internal/domain/order"
)

// Status is the administrative state of a coupon.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

var (
	// ErrNotFound is returned when no coupon matches a code.
	ErrNotFound = errors.New("coupon not found")

	// Eligibility failures, carried in Eligibility.Err.
	ErrMissingInput      = errors.New("coupon or order missing")
	ErrCouponInactive    = errors.New("coupon inactive")
	ErrCouponExpired     = errors.New("coupon expired")
	ErrCouponNotStarted  = errors.New("coupon outside validity window")
	ErrMinOrderNotMet    = errors.New("minimum order amount not met")
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	ErrUserLimitReached  = errors.New("per-customer usage limit reached")
	ErrFirstOrderOnly    = errors.New("coupon valid for first order only")
)

// Coupon is a redeemable discount code.
type Coupon struct {
	ID          string
	Code        string
	Description string
	Status      Status
	discount.Rule

	MinOrderAmount *decimal.Decimal
	ValidFrom      *time.Time
	ValidUntil     *time.Time

	UsageLimit     *int
	UsageCount     int
	PerUserLimit   *int
	UserUsageCount map[string]int
	FirstTimeOnly  bool
}

// NormalizeCode canonicalises a code for case-insensitive comparison.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Discount computes the rupee discount c grants on o. It does not check
// eligibility and does not touch usage counters.
func Discount(o *order.Order, c *Coupon) decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	return discount.Calculate(o, &c.Rule)
}

// Repository provides read access to coupon definitions.
type Repository interface {
	// FindByCode looks a coupon up case-insensitively. Returns ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	ListActive(ctx context.Context) ([]Coupon, error)
}
