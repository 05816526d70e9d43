package coupon

import (
	"fmt"
	"time"

	"github.com/xenking/pos-rewards/internal/domain/customer"
	"github.com/xenking/pos-rewards/internal/domain/discount"
	"github.com/xenking/pos-rewards/internal/domain/order"
)

// Eligibility is the outcome of checking a coupon against an order. Reason is
// user-facing; Err is the matching sentinel for programmatic checks.
type Eligibility struct {
	Valid  bool
	Reason string
	Err    error
}

func ineligible(err error, reason string) Eligibility {
	return Eligibility{Reason: reason, Err: err}
}

// CheckEligibility decides whether c applies to o for the optional customer
// at the given instant. Checks run in a fixed order and the first failure is
// reported, so an expired coupon reports expiry before anything else.
func CheckEligibility(c *Coupon, o *order.Order, cust *customer.Customer, now time.Time) Eligibility {
	if c == nil || o == nil {
		return ineligible(ErrMissingInput, "Coupon or order not found")
	}
	if c.Status != StatusActive {
		return ineligible(ErrCouponInactive, "This coupon is not active")
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ineligible(ErrCouponExpired, "This coupon has expired")
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ineligible(ErrCouponNotStarted, "This coupon is not valid at this time")
	}

	if c.MinOrderAmount != nil && order.Subtotal(o).LessThan(*c.MinOrderAmount) {
		return ineligible(ErrMinOrderNotMet,
			fmt.Sprintf("Minimum order amount of ₹%s required", c.MinOrderAmount.StringFixed(2)))
	}

	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ineligible(ErrUsageLimitReached, "This coupon has reached its usage limit")
	}
	if cust != nil && c.PerUserLimit != nil && c.UserUsageCount[cust.ID] >= *c.PerUserLimit {
		return ineligible(ErrUserLimitReached, "You have already used this coupon the maximum number of times")
	}
	if c.FirstTimeOnly && cust != nil && cust.OrderCount > 0 {
		return ineligible(ErrFirstOrderOnly, "This coupon is only valid on your first order")
	}

	return Eligibility{Valid: true}
}

// ValidateDefinition reports problems with an administrator-entered coupon.
// An empty result means the coupon can be saved.
func ValidateDefinition(c *Coupon) []string {
	var problems []string
	if NormalizeCode(c.Code) == "" {
		problems = append(problems, "Coupon code is required")
	}
	if c.Status != StatusActive && c.Status != StatusInactive {
		problems = append(problems, fmt.Sprintf("Unknown status %q", c.Status))
	}
	problems = append(problems, discount.Validate(&c.Rule)...)
	if c.MinOrderAmount != nil && c.MinOrderAmount.IsNegative() {
		problems = append(problems, "Minimum order amount cannot be negative")
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		problems = append(problems, "Valid until must not be before valid from")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		problems = append(problems, "Usage limit cannot be negative")
	}
	if c.PerUserLimit != nil && *c.PerUserLimit < 0 {
		problems = append(problems, "Per-user limit cannot be negative")
	}
	return problems
}
