// Package discount implements the coupon and offer discount strategies.
//
// Every strategy is a pure function of an order and a rule and never returns
// more than the amount it applies to.
package discount

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/order"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage takes a percentage off the order subtotal.
	TypePercentage Type = "percentage"
	// TypeFlat takes a fixed rupee amount off the order subtotal.
	TypeFlat Type = "flat"
	// TypeBogo discounts a "get" item for every paired "buy" item.
	TypeBogo Type = "bogo"
	// TypeCategory applies to lines of a single menu category.
	TypeCategory Type = "category"
	// TypeItem applies to lines of a single menu item.
	TypeItem Type = "item"
)

// Valid reports whether t is a known strategy.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFlat, TypeBogo, TypeCategory, TypeItem:
		return true
	}
	return false
}

// ScopeMode selects how a category or item rule applies its value.
type ScopeMode string

const (
	ScopePercentage ScopeMode = "percentage"
	ScopeFlat       ScopeMode = "flat"
)

// BogoConfig pairs the item that must be bought with the item that is
// discounted.
type BogoConfig struct {
	BuyItemID string
	GetItemID string
	// GetDiscountPercent defaults to 100 (get item free) when nil.
	GetDiscountPercent *decimal.Decimal
}

// Rule describes how a coupon or offer reduces an order.
type Rule struct {
	Type              Type
	Value             decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	ScopeMode         ScopeMode
	Bogo              *BogoConfig
	CategoryID        string
	ItemID            string
}

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Calculate returns the rupee discount the rule grants on the order. The
// result is never negative and never exceeds the order subtotal. Unknown rule
// types and nil inputs yield zero.
func Calculate(o *order.Order, rule *Rule) decimal.Decimal {
	if o == nil || rule == nil {
		return zero
	}
	subtotal := order.Subtotal(o)

	var amount decimal.Decimal
	switch rule.Type {
	case TypePercentage:
		amount = applyPercentage(subtotal, rule.Value, rule.MaxDiscountAmount)
	case TypeFlat:
		amount = rule.Value
	case TypeBogo:
		amount = applyBogo(o, rule.Bogo)
	case TypeCategory:
		amount = applyScoped(rule, scopedSubtotal(o, func(it order.Item) bool {
			return it.CategoryID == rule.CategoryID
		}))
	case TypeItem:
		amount = applyScoped(rule, scopedSubtotal(o, func(it order.Item) bool {
			return it.ID == rule.ItemID
		}))
	default:
		return zero
	}

	return clamp(amount, subtotal).Round(2)
}

func applyPercentage(base, percent decimal.Decimal, maxDiscount *decimal.Decimal) decimal.Decimal {
	amount := base.Mul(percent).Div(hundred)
	if maxDiscount != nil && amount.GreaterThan(*maxDiscount) {
		amount = *maxDiscount
	}
	return amount
}

func applyBogo(o *order.Order, cfg *BogoConfig) decimal.Decimal {
	if cfg == nil {
		return zero
	}
	buy, ok := o.FindItem(cfg.BuyItemID)
	if !ok {
		return zero
	}
	get, ok := o.FindItem(cfg.GetItemID)
	if !ok {
		return zero
	}

	percent := hundred
	if cfg.GetDiscountPercent != nil {
		percent = *cfg.GetDiscountPercent
	}

	freeQty := decimal.NewFromInt(int64(min(buy.Quantity, get.Quantity)))
	perUnit := get.Price.Mul(percent).Div(hundred)
	return freeQty.Mul(perUnit)
}

// applyScoped applies a category or item rule to its scoped subtotal and
// clamps the result to that subtotal.
func applyScoped(rule *Rule, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	if rule.ScopeMode == ScopeFlat {
		amount = rule.Value
	} else {
		amount = applyPercentage(base, rule.Value, rule.MaxDiscountAmount)
	}
	return clamp(amount, base)
}

// scopedSubtotal sums price * quantity over lines accepted by match.
func scopedSubtotal(o *order.Order, match func(order.Item) bool) decimal.Decimal {
	sum := zero
	for _, item := range o.Items {
		if match(item) {
			sum = sum.Add(item.LineTotal())
		}
	}
	return sum
}

// clamp bounds v to [0, ceiling].
func clamp(v, ceiling decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return zero
	}
	return decimal.Min(v, decimal.Max(ceiling, zero))
}

// Validate reports problems with an administrator-entered rule.
func Validate(r *Rule) []string {
	var problems []string
	if !r.Type.Valid() {
		problems = append(problems, fmt.Sprintf("Unknown discount type %q", r.Type))
		return problems
	}

	if r.Type != TypeBogo && !r.Value.IsPositive() {
		problems = append(problems, "Discount value must be greater than zero")
	}
	percentLike := r.Type == TypePercentage ||
		((r.Type == TypeCategory || r.Type == TypeItem) && r.ScopeMode != ScopeFlat)
	if percentLike && r.Value.GreaterThan(hundred) {
		problems = append(problems, "Percentage discount cannot exceed 100")
	}
	if r.MaxDiscountAmount != nil && r.MaxDiscountAmount.IsNegative() {
		problems = append(problems, "Maximum discount cannot be negative")
	}

	switch r.Type {
	case TypeBogo:
		if r.Bogo == nil || r.Bogo.BuyItemID == "" || r.Bogo.GetItemID == "" {
			problems = append(problems, "Buy and get items are required for BOGO")
		} else if p := r.Bogo.GetDiscountPercent; p != nil && (!p.IsPositive() || p.GreaterThan(hundred)) {
			problems = append(problems, "BOGO discount percent must be between 0 and 100")
		}
	case TypeCategory:
		if r.CategoryID == "" {
			problems = append(problems, "Category is required for category discounts")
		}
	case TypeItem:
		if r.ItemID == "" {
			problems = append(problems, "Menu item is required for item discounts")
		}
	}
	return problems
}
