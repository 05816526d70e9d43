// Package membership resolves loyalty tiers from lifetime spend and maps
// tiers to their checkout discount.
//
// A single Table drives both the checkout discount lookup and the batch tier
// refresh, so editing tier percentages takes effect everywhere at once.
package membership

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Tier is one loyalty level.
type Tier struct {
	Name      string          `json:"name"`
	Threshold decimal.Decimal `json:"threshold"`
	Discount  decimal.Decimal `json:"discount"`
}

// Table is the ordered tier configuration, ascending by threshold.
type Table struct {
	tiers []Tier
}

var hundred = decimal.NewFromInt(100)

// DefaultTable returns the stock silver/gold/platinum configuration.
func DefaultTable() Table {
	return Table{tiers: []Tier{
		{Name: "silver", Threshold: decimal.NewFromInt(5000), Discount: decimal.NewFromInt(5)},
		{Name: "gold", Threshold: decimal.NewFromInt(20000), Discount: decimal.NewFromInt(10)},
		{Name: "platinum", Threshold: decimal.NewFromInt(50000), Discount: decimal.NewFromInt(15)},
	}}
}

// NewTable validates tiers and returns them as a Table sorted by threshold.
func NewTable(tiers []Tier) (Table, error) {
	seen := make(map[string]struct{}, len(tiers))
	sorted := make([]Tier, 0, len(tiers))
	for i, t := range tiers {
		t.Name = strings.TrimSpace(t.Name)
		key := strings.ToLower(t.Name)
		switch {
		case key == "":
			return Table{}, errors.Errorf("tier %d: name is required", i)
		case t.Threshold.IsNegative():
			return Table{}, errors.Errorf("tier %q: threshold must not be negative", t.Name)
		case t.Discount.IsNegative() || t.Discount.GreaterThan(hundred):
			return Table{}, errors.Errorf("tier %q: discount must be between 0 and 100", t.Name)
		}
		if _, dup := seen[key]; dup {
			return Table{}, errors.Errorf("tier %q: duplicate name", t.Name)
		}
		seen[key] = struct{}{}
		sorted = append(sorted, t)
	}

	slices.SortStableFunc(sorted, func(a, b Tier) int {
		return a.Threshold.Cmp(b.Threshold)
	})
	return Table{tiers: sorted}, nil
}

// ParseTable decodes the JSON settings blob.
func ParseTable(data []byte) (Table, error) {
	var tiers []Tier
	if err := json.Unmarshal(data, &tiers); err != nil {
		return Table{}, errors.Wrap(err, "decode membership tiers")
	}
	return NewTable(tiers)
}

// MarshalJSON encodes the table as an ordered tier list.
func (t Table) MarshalJSON() ([]byte, error) {
	if t.tiers == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.tiers)
}

// Tiers returns a copy of the tiers in ascending threshold order.
func (t Table) Tiers() []Tier {
	return slices.Clone(t.tiers)
}

// Resolve returns the highest tier whose threshold spend meets or exceeds.
func (t Table) Resolve(spend decimal.Decimal) (Tier, bool) {
	for i := len(t.tiers) - 1; i >= 0; i-- {
		if spend.GreaterThanOrEqual(t.tiers[i].Threshold) {
			return t.tiers[i], true
		}
	}
	return Tier{}, false
}

// Lookup finds a tier by name, case-insensitively.
func (t Table) Lookup(name string) (Tier, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Tier{}, false
	}
	for _, tier := range t.tiers {
		if strings.ToLower(tier.Name) == key {
			return tier, true
		}
	}
	return Tier{}, false
}

// Resolution is the checkout discount a membership tier grants.
type Resolution struct {
	Valid           bool
	DiscountPercent decimal.Decimal
	Tier            string
}

// DiscountFor maps a customer's stored tier name to its discount. Unknown or
// empty tiers resolve to an invalid, zero-percent Resolution.
func (t Table) DiscountFor(tierName string) Resolution {
	tier, ok := t.Lookup(tierName)
	if !ok {
		return Resolution{DiscountPercent: decimal.Zero}
	}
	return Resolution{Valid: true, DiscountPercent: tier.Discount, Tier: tier.Name}
}

func (t Table) String() string {
	parts := make([]string, len(t.tiers))
	for i, tier := range t.tiers {
		parts[i] = fmt.Sprintf("%s(%s%%@%s)", tier.Name, tier.Discount, tier.Threshold)
	}
	return strings.Join(parts, " ")
}
