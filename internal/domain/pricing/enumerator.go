package pricing

import (
	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/order"
)

// Options are the discount sources available to an order.
type Options struct {
	Order *order.Order
	// Coupons must already be eligible for Order.
	Coupons    []*coupon.Coupon
	Membership membership.Resolution
	Points     int64
}

// Enumerator builds the candidate breakdowns SelectBest compares.
type Enumerator interface {
	Enumerate(c Composer, opts Options) []Breakdown
}

var (
	_ Enumerator = StandardEnumerator{}
	_ Enumerator = ExhaustiveEnumerator{}
)

// StandardEnumerator yields the no-discount baseline, then for each coupon:
// the coupon alone, with membership and with points. Coupon, membership and
// points are never combined in one candidate.
type StandardEnumerator struct{}

func (StandardEnumerator) Enumerate(c Composer, opts Options) []Breakdown {
	out := []Breakdown{c.Compose(ComposeInput{Order: opts.Order})}
	for _, cp := range opts.Coupons {
		out = append(out, c.Compose(ComposeInput{Order: opts.Order, Coupon: cp}))
		if opts.Membership.Valid {
			out = append(out, c.Compose(ComposeInput{Order: opts.Order, Coupon: cp, Membership: &opts.Membership}))
		}
		if opts.Points > 0 {
			out = append(out, c.Compose(ComposeInput{Order: opts.Order, Coupon: cp, Points: opts.Points}))
		}
	}
	return out
}

// ExhaustiveEnumerator extends StandardEnumerator with membership-only,
// points-only and membership+points candidates, and every coupon with both
// membership and points.
type ExhaustiveEnumerator struct{}

func (ExhaustiveEnumerator) Enumerate(c Composer, opts Options) []Breakdown {
	out := StandardEnumerator{}.Enumerate(c, opts)

	var m *membership.Resolution
	if opts.Membership.Valid {
		m = &opts.Membership
		out = append(out, c.Compose(ComposeInput{Order: opts.Order, Membership: m}))
	}
	if opts.Points > 0 {
		out = append(out, c.Compose(ComposeInput{Order: opts.Order, Points: opts.Points}))
	}
	if m != nil && opts.Points > 0 {
		out = append(out, c.Compose(ComposeInput{Order: opts.Order, Membership: m, Points: opts.Points}))
		for _, cp := range opts.Coupons {
			out = append(out, c.Compose(ComposeInput{Order: opts.Order, Coupon: cp, Membership: m, Points: opts.Points}))
		}
	}
	return out
}
