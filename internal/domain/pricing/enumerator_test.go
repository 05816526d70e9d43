package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/membership"
)

type shape struct {
	coupon     string
	membership bool
	points     bool
}

func shapes(bs []Breakdown) []shape {
	out := make([]shape, len(bs))
	for i, b := range bs {
		out[i] = shape{coupon: b.AppliedCoupon, membership: b.AppliedMembership != "", points: b.PointsRedeemed > 0}
	}
	return out
}

func TestStandardEnumerator(t *testing.T) {
	opts := Options{
		Order:      totalOrder("1000"),
		Coupons:    []*coupon.Coupon{flatCoupon("A", "50"), flatCoupon("B", "70")},
		Membership: *gold(),
		Points:     200,
	}
	got := StandardEnumerator{}.Enumerate(NewComposer(loyalty.DefaultSettings()), opts)

	assert.Equal(t, []shape{
		{},
		{coupon: "A"},
		{coupon: "A", membership: true},
		{coupon: "A", points: true},
		{coupon: "B"},
		{coupon: "B", membership: true},
		{coupon: "B", points: true},
	}, shapes(got))
}

func TestStandardEnumerator_NoMembershipNoPoints(t *testing.T) {
	opts := Options{
		Order:   totalOrder("1000"),
		Coupons: []*coupon.Coupon{flatCoupon("A", "50")},
	}
	got := StandardEnumerator{}.Enumerate(NewComposer(loyalty.DefaultSettings()), opts)
	assert.Equal(t, []shape{{}, {coupon: "A"}}, shapes(got))
}

func TestStandardEnumerator_MembershipWithoutCouponNotOffered(t *testing.T) {
	opts := Options{Order: totalOrder("1000"), Membership: *gold(), Points: 500}
	best := SelectBest(StandardEnumerator{}.Enumerate(NewComposer(loyalty.DefaultSettings()), opts))

	require.NotNil(t, best)
	assert.True(t, best.TotalDiscount.IsZero())
}

func TestExhaustiveEnumerator(t *testing.T) {
	opts := Options{
		Order:      totalOrder("1000"),
		Coupons:    []*coupon.Coupon{flatCoupon("A", "100")},
		Membership: *gold(),
		Points:     200,
	}
	c := NewComposer(loyalty.DefaultSettings())
	got := ExhaustiveEnumerator{}.Enumerate(c, opts)

	assert.Equal(t, []shape{
		{},
		{coupon: "A"},
		{coupon: "A", membership: true},
		{coupon: "A", points: true},
		{membership: true},
		{points: true},
		{membership: true, points: true},
		{coupon: "A", membership: true, points: true},
	}, shapes(got))

	best := SelectBest(got)
	require.NotNil(t, best)
	// 100 coupon + 90 membership on 900 + 20 points.
	assertDecimal(t, "210", best.TotalDiscount, "total")

	standard := SelectBest(StandardEnumerator{}.Enumerate(c, opts))
	assert.True(t, standard.TotalDiscount.LessThan(best.TotalDiscount))
}

func TestExhaustiveEnumerator_NoExtrasWithoutSources(t *testing.T) {
	opts := Options{Order: totalOrder("1000"), Membership: membership.Resolution{}}
	got := ExhaustiveEnumerator{}.Enumerate(NewComposer(loyalty.DefaultSettings()), opts)
	assert.Equal(t, []shape{{}}, shapes(got))
}
