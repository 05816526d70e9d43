package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/customer"
	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/order"
)

var (
	// ErrCustomerRequired is returned when points are redeemed without a customer.
	ErrCustomerRequired = errors.New("customer required to redeem points")
	// ErrOrderSettled is returned when checking out an order that is no longer pending.
	ErrOrderSettled = errors.New("order already settled")
	// ErrEmptyOrder is returned for orders with neither items nor a total.
	ErrEmptyOrder = errors.New("order has no items")
)

// IneligibleCouponError is returned by Checkout when the requested coupon
// cannot be applied.
type IneligibleCouponError struct {
	Code   string
	Reason string
	Err    error
}

func (e *IneligibleCouponError) Error() string {
	return fmt.Sprintf("coupon %s: %s", e.Code, e.Reason)
}

func (e *IneligibleCouponError) Unwrap() error { return e.Err }

// SettingsStore reads and writes operator settings. Missing settings fall
// back to defaults.
type SettingsStore interface {
	MembershipTable(ctx context.Context) (membership.Table, error)
	SaveMembershipTable(ctx context.Context, t membership.Table) error
	Loyalty(ctx context.Context) (loyalty.Settings, error)
}

// Capture is the breakdown persisted onto an order at checkout.
type Capture struct {
	OrderID    string
	CustomerID string
	CouponID   string
	Breakdown  Breakdown
	// PointsEarned accrues to the customer on the final amount.
	PointsEarned int64
}

// CheckoutStore persists a capture atomically: order fields, coupon usage
// and points deduction succeed or fail together.
type CheckoutStore interface {
	Capture(ctx context.Context, c Capture) error
}

// Quote is a priced order. CouponReason explains why a requested coupon was
// left out of the breakdown.
type Quote struct {
	Breakdown    Breakdown
	CouponReason string
}

// PreviewRequest prices an order with an explicit coupon choice.
type PreviewRequest struct {
	Order      *order.Order
	CouponCode string
	CustomerID string
	Points     int64
}

// BestRequest asks for the most favourable breakdown over active coupons.
type BestRequest struct {
	Order      *order.Order
	CustomerID string
	Points     int64
}

// CheckoutRequest captures a breakdown onto a stored order.
type CheckoutRequest struct {
	OrderID    string
	CouponCode string
	Points     int64
}

// MembershipStatus is a customer's loyalty standing.
type MembershipStatus struct {
	CustomerID    string
	Membership    membership.Resolution
	QualifiedTier string
	PaidSpend     decimal.Decimal
	LoyaltyPoints int64
	PointsValue   decimal.Decimal
}

// Service prices orders against stored coupons, customers and settings.
type Service struct {
	orders     order.Repository
	coupons    coupon.Repository
	customers  customer.Repository
	settings   SettingsStore
	checkout   CheckoutStore
	enumerator Enumerator
	now        func() time.Time
}

// NewService creates a pricing Service. A nil enumerator selects
// StandardEnumerator.
func NewService(
	orders order.Repository,
	coupons coupon.Repository,
	customers customer.Repository,
	settings SettingsStore,
	checkout CheckoutStore,
	enumerator Enumerator,
) *Service {
	if enumerator == nil {
		enumerator = StandardEnumerator{}
	}
	return &Service{
		orders:     orders,
		coupons:    coupons,
		customers:  customers,
		settings:   settings,
		checkout:   checkout,
		enumerator: enumerator,
		now:        time.Now,
	}
}

// pricingContext is everything loaded once per request.
type pricingContext struct {
	customer   *customer.Customer
	membership membership.Resolution
	loyalty    loyalty.Settings
}

func (s *Service) load(ctx context.Context, customerID string, points int64) (*pricingContext, error) {
	pc := &pricingContext{}

	ls, err := s.settings.Loyalty(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load loyalty settings")
	}
	pc.loyalty = ls

	if customerID != "" {
		cust, err := s.customers.Get(ctx, customerID)
		if err != nil {
			return nil, errors.Wrap(err, "get customer")
		}
		pc.customer = cust

		table, err := s.settings.MembershipTable(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "load membership table")
		}
		pc.membership = table.DiscountFor(cust.MembershipTier)
	}

	if points != 0 {
		if pc.customer == nil {
			return nil, ErrCustomerRequired
		}
		if err := loyalty.NewConverter(ls).CheckRedemption(points, pc.customer.LoyaltyPoints); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func validateOrder(o *order.Order) error {
	if o == nil || (len(o.Items) == 0 && o.TotalAmount.IsZero()) {
		return ErrEmptyOrder
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 || item.Price.IsNegative() {
			return &InvalidItemError{ItemID: item.ID}
		}
	}
	return nil
}

// InvalidItemError indicates a line with a non-positive quantity or a
// negative price.
type InvalidItemError struct {
	ItemID string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid quantity or price for item %s", e.ItemID)
}

// resolveCoupon looks up code and checks it against o. A coupon that is
// unknown or ineligible is reported through the Eligibility only.
func (s *Service) resolveCoupon(ctx context.Context, code string, o *order.Order, cust *customer.Customer) (*coupon.Coupon, coupon.Eligibility, error) {
	c, err := s.coupons.FindByCode(ctx, coupon.NormalizeCode(code))
	if errors.Is(err, coupon.ErrNotFound) {
		return nil, coupon.Eligibility{Reason: "Invalid coupon code", Err: coupon.ErrNotFound}, nil
	}
	if err != nil {
		return nil, coupon.Eligibility{}, errors.Wrap(err, "find coupon")
	}
	return c, coupon.CheckEligibility(c, o, cust, s.now()), nil
}

// Preview prices req.Order with the requested coupon, the customer's
// membership and the requested points.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*Quote, error) {
	if err := validateOrder(req.Order); err != nil {
		return nil, err
	}
	pc, err := s.load(ctx, req.CustomerID, req.Points)
	if err != nil {
		return nil, err
	}

	q := &Quote{}
	in := ComposeInput{Order: req.Order, Membership: &pc.membership, Points: req.Points}
	if req.CouponCode != "" {
		c, elig, err := s.resolveCoupon(ctx, req.CouponCode, req.Order, pc.customer)
		if err != nil {
			return nil, err
		}
		if elig.Valid {
			in.Coupon = c
		} else {
			q.CouponReason = elig.Reason
		}
	}

	q.Breakdown = NewComposer(pc.loyalty).CapPoints().Compose(in)
	annotate(ctx, &q.Breakdown)
	return q, nil
}

// Best evaluates every eligible active coupon and returns the breakdown with
// the largest total discount.
func (s *Service) Best(ctx context.Context, req BestRequest) (*Breakdown, error) {
	if err := validateOrder(req.Order); err != nil {
		return nil, err
	}
	pc, err := s.load(ctx, req.CustomerID, req.Points)
	if err != nil {
		return nil, err
	}

	active, err := s.coupons.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	now := s.now()
	eligible := make([]*coupon.Coupon, 0, len(active))
	for i := range active {
		if coupon.CheckEligibility(&active[i], req.Order, pc.customer, now).Valid {
			eligible = append(eligible, &active[i])
		}
	}

	candidates := s.enumerator.Enumerate(NewComposer(pc.loyalty).CapPoints(), Options{
		Order:      req.Order,
		Coupons:    eligible,
		Membership: pc.membership,
		Points:     req.Points,
	})
	zctx.From(ctx).Debug("Evaluated discount candidates",
		zap.Int("coupons", len(eligible)),
		zap.Int("candidates", len(candidates)),
	)
	best := SelectBest(candidates)
	annotate(ctx, best)
	return best, nil
}

// Checkout recomputes the breakdown for a stored order and captures it.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Breakdown, error) {
	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.PaymentStatus != order.PaymentPending {
		return nil, ErrOrderSettled
	}
	if err := validateOrder(o); err != nil {
		return nil, err
	}
	pc, err := s.load(ctx, o.CustomerID, req.Points)
	if err != nil {
		return nil, err
	}

	in := ComposeInput{Order: o, Membership: &pc.membership, Points: req.Points}
	capture := Capture{OrderID: o.ID, CustomerID: o.CustomerID}
	if req.CouponCode != "" {
		c, elig, err := s.resolveCoupon(ctx, req.CouponCode, o, pc.customer)
		if err != nil {
			return nil, err
		}
		if !elig.Valid {
			return nil, &IneligibleCouponError{Code: coupon.NormalizeCode(req.CouponCode), Reason: elig.Reason, Err: elig.Err}
		}
		in.Coupon = c
		capture.CouponID = c.ID
	}

	capture.Breakdown = NewComposer(pc.loyalty).CapPoints().Compose(in)
	if pc.customer != nil {
		capture.PointsEarned = loyalty.NewConverter(pc.loyalty).Earned(capture.Breakdown.FinalAmount)
	}
	annotate(ctx, &capture.Breakdown)
	if err := s.checkout.Capture(ctx, capture); err != nil {
		return nil, errors.Wrap(err, "capture checkout")
	}

	zctx.From(ctx).Info("Order checked out",
		zap.String("order_id", o.ID),
		zap.String("coupon", capture.Breakdown.AppliedCoupon),
		zap.String("membership", capture.Breakdown.AppliedMembership),
		zap.Int64("points", capture.Breakdown.PointsRedeemed),
		zap.Int64("points_earned", capture.PointsEarned),
		zap.Stringer("total_discount", capture.Breakdown.TotalDiscount),
	)
	return &capture.Breakdown, nil
}

// annotate records the chosen breakdown on the request span.
func annotate(ctx context.Context, b *Breakdown) {
	if b == nil {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("pricing.applied_coupon", b.AppliedCoupon),
		attribute.String("pricing.applied_membership", b.AppliedMembership),
		attribute.Int64("pricing.points_redeemed", b.PointsRedeemed),
		attribute.String("pricing.total_discount", b.TotalDiscount.StringFixed(2)),
	)
}

// Membership reports the customer's stored tier, the tier their paid spend
// qualifies for and their points balance.
func (s *Service) Membership(ctx context.Context, customerID string) (*MembershipStatus, error) {
	cust, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "get customer")
	}
	table, err := s.settings.MembershipTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load membership table")
	}
	ls, err := s.settings.Loyalty(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load loyalty settings")
	}
	spend, err := s.orders.PaidSpend(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "paid spend")
	}

	status := &MembershipStatus{
		CustomerID:    cust.ID,
		Membership:    table.DiscountFor(cust.MembershipTier),
		PaidSpend:     spend,
		LoyaltyPoints: cust.LoyaltyPoints,
		PointsValue:   loyalty.NewConverter(ls).Value(cust.LoyaltyPoints),
	}
	if tier, ok := table.Resolve(spend); ok {
		status.QualifiedTier = tier.Name
	}
	return status, nil
}

// MembershipTable returns the current tier configuration.
func (s *Service) MembershipTable(ctx context.Context) (membership.Table, error) {
	return s.settings.MembershipTable(ctx)
}

// SaveMembershipTable replaces the tier configuration used by checkout and
// the tier refresh.
func (s *Service) SaveMembershipTable(ctx context.Context, tiers []membership.Tier) (membership.Table, error) {
	table, err := membership.NewTable(tiers)
	if err != nil {
		return membership.Table{}, &InvalidTableError{Err: err}
	}
	if err := s.settings.SaveMembershipTable(ctx, table); err != nil {
		return membership.Table{}, errors.Wrap(err, "save membership table")
	}
	zctx.From(ctx).Info("Membership tiers updated", zap.Stringer("tiers", table))
	return table, nil
}

// InvalidTableError wraps a rejected tier configuration.
type InvalidTableError struct {
	Err error
}

func (e *InvalidTableError) Error() string { return e.Err.Error() }

func (e *InvalidTableError) Unwrap() error { return e.Err }
