// Package offer models code-less storefront promotions and detects
// schedule and scope collisions between them.
package offer

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/discount"
)

// Status is the administrative state of an offer.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Offer is an automatically applied promotion. Its offer type is Rule.Type.
type Offer struct {
	ID     string
	Name   string
	Status Status
	discount.Rule

	MinOrderAmount *decimal.Decimal
	ValidFrom      *time.Time
	ValidUntil     *time.Time
}

// Repository provides read access to offers.
type Repository interface {
	ListActive(ctx context.Context) ([]Offer, error)
}

// Conflict lists the existing offers a candidate collides with.
type Conflict struct {
	HasOverlap        bool
	ConflictingOffers []Offer
}

var (
	openStart = time.Time{}
	openEnd   = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

func (o *Offer) window() (start, end time.Time) {
	start, end = openStart, openEnd
	if o.ValidFrom != nil {
		start = *o.ValidFrom
	}
	if o.ValidUntil != nil {
		end = *o.ValidUntil
	}
	return start, end
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// datesOverlap reports whether the candidate starts or ends inside the
// existing window, or fully contains it. Bounds are inclusive.
func datesOverlap(candidate, existing *Offer) bool {
	cs, ce := candidate.window()
	es, ee := existing.window()
	return within(cs, es, ee) ||
		within(ce, es, ee) ||
		(!cs.After(es) && !ce.Before(ee))
}

// sameScope reports whether two offers target the same category or the same
// menu item. Every other pairing of types never conflicts.
func sameScope(a, b *Offer) bool {
	switch {
	case a.Type == discount.TypeCategory && b.Type == discount.TypeCategory:
		return a.CategoryID == b.CategoryID
	case a.Type == discount.TypeItem && b.Type == discount.TypeItem:
		return a.ItemID == b.ItemID
	}
	return false
}

// DetectConflicts compares candidate with the existing offers, skipping the
// candidate itself and inactive offers.
func DetectConflicts(candidate *Offer, existing []Offer) Conflict {
	var res Conflict
	if candidate == nil {
		return res
	}
	for i := range existing {
		other := &existing[i]
		if other.Status != StatusActive {
			continue
		}
		if candidate.ID != "" && other.ID == candidate.ID {
			continue
		}
		if !datesOverlap(candidate, other) || !sameScope(candidate, other) {
			continue
		}
		res.ConflictingOffers = append(res.ConflictingOffers, *other)
	}
	res.HasOverlap = len(res.ConflictingOffers) > 0
	return res
}

// ValidateDefinition reports problems with an administrator-entered offer.
func ValidateDefinition(o *Offer) []string {
	var problems []string
	if strings.TrimSpace(o.Name) == "" {
		problems = append(problems, "Offer name is required")
	}
	problems = append(problems, discount.Validate(&o.Rule)...)
	if o.MinOrderAmount != nil && o.MinOrderAmount.IsNegative() {
		problems = append(problems, "Minimum order amount cannot be negative")
	}
	if o.ValidFrom != nil && o.ValidUntil != nil && o.ValidUntil.Before(*o.ValidFrom) {
		problems = append(problems, "Valid until must not be before valid from")
	}
	return problems
}
