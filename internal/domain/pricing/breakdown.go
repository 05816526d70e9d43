// Package pricing composes coupon, membership and loyalty discounts into a
// single breakdown and picks the best breakdown for an order.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/order"
)

// Breakdown decomposes an order price into its discount sources.
//
// TotalDiscount never exceeds Subtotal and FinalAmount is never negative.
type Breakdown struct {
	Subtotal           decimal.Decimal
	CouponDiscount     decimal.Decimal
	MembershipDiscount decimal.Decimal
	PointsDiscount     decimal.Decimal
	TotalDiscount      decimal.Decimal
	FinalAmount        decimal.Decimal

	AppliedCoupon     string
	AppliedMembership string
	PointsRedeemed    int64
}

// ComposeInput selects the discount sources to combine. Nil sources and
// zero points are skipped.
type ComposeInput struct {
	Order      *order.Order
	Coupon     *coupon.Coupon
	Membership *membership.Resolution
	Points     int64
}

// Composer combines discount sources at fixed loyalty rates.
type Composer struct {
	points    loyalty.Converter
	capPoints bool
}

// NewComposer returns a Composer valuing points with s.
func NewComposer(s loyalty.Settings) Composer {
	return Composer{points: loyalty.NewConverter(s)}
}

// CapPoints returns a Composer that redeems only the points whose value still
// fits under the subtotal after the coupon and membership discounts.
// PointsRedeemed then reports the points actually consumed.
func (c Composer) CapPoints() Composer {
	c.capPoints = true
	return c
}

// Compose uses the default loyalty rates.
func Compose(in ComposeInput) Breakdown {
	return NewComposer(loyalty.DefaultSettings()).Compose(in)
}

// Compose applies the coupon first and the membership percentage to the
// post-coupon amount, then points, and caps the sum at the subtotal.
func (c Composer) Compose(in ComposeInput) Breakdown {
	subtotal := order.Subtotal(in.Order)
	b := Breakdown{
		Subtotal:           subtotal,
		CouponDiscount:     decimal.Zero,
		MembershipDiscount: decimal.Zero,
		PointsDiscount:     decimal.Zero,
	}

	if in.Coupon != nil {
		b.CouponDiscount = coupon.Discount(in.Order, in.Coupon)
		b.AppliedCoupon = in.Coupon.Code
	}

	if m := in.Membership; m != nil && m.Valid {
		remaining := subtotal.Sub(b.CouponDiscount)
		if remaining.IsPositive() {
			b.MembershipDiscount = remaining.Mul(m.DiscountPercent).Div(decimal.NewFromInt(100)).Round(2)
		}
		b.AppliedMembership = m.Tier
	}

	points := in.Points
	if c.capPoints {
		points = c.points.MaxRedeemable(points, subtotal.Sub(b.CouponDiscount).Sub(b.MembershipDiscount))
	}
	if points > 0 {
		b.PointsDiscount = c.points.Value(points)
		b.PointsRedeemed = points
	}

	sum := b.CouponDiscount.Add(b.MembershipDiscount).Add(b.PointsDiscount)
	b.TotalDiscount = decimal.Max(decimal.Min(sum, subtotal), decimal.Zero)
	b.FinalAmount = decimal.Max(subtotal.Sub(b.TotalDiscount), decimal.Zero)
	return b
}

// SelectBest returns the candidate with the strictly greatest total
// discount. Ties keep the earliest candidate; no candidates yields nil.
func SelectBest(candidates []Breakdown) *Breakdown {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.TotalDiscount.GreaterThan(best.TotalDiscount) {
			best = cand
		}
	}
	return &best
}
