package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order represents a restaurant order together with the discount captured at
// checkout.
type Order struct {
	ID          string
	CustomerID  string
	Items       []Item
	TotalAmount decimal.Decimal

	// Fields below are captured from the chosen breakdown at checkout.
	FinalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	CouponCode     string
	MembershipTier string
	PointsRedeemed int64
	PaymentStatus  PaymentStatus
}

// Item represents a single menu line on an order.
type Item struct {
	ID         string          `json:"id"`
	CategoryID string          `json:"category_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

// LineTotal returns price * quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Subtotal resolves the pre-discount amount of an order. Itemized orders are
// summed line by line; orders without items fall back to the stored total.
func Subtotal(o *Order) decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	if len(o.Items) == 0 {
		return o.TotalAmount
	}
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// FindItem returns the first line with the given menu item id.
func (o *Order) FindItem(id string) (Item, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// Repository defines persistence operations for orders.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	// PaidSpend returns the sum of final amounts over the customer's paid orders.
	PaidSpend(ctx context.Context, customerID string) (decimal.Decimal, error)
}
