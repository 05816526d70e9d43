package membership

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestTable_Resolve(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		spend  string
		want   string
		wantOK bool
	}{
		{spend: "0"},
		{spend: "4999.99"},
		{spend: "5000", want: "silver", wantOK: true},
		{spend: "19999", want: "silver", wantOK: true},
		{spend: "25000", want: "gold", wantOK: true},
		{spend: "50000", want: "platinum", wantOK: true},
		{spend: "1000000", want: "platinum", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.spend, func(t *testing.T) {
			tier, ok := table.Resolve(d(tt.spend))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, tier.Name)
		})
	}
}

func TestTable_DiscountFor(t *testing.T) {
	table := DefaultTable()

	gold := table.DiscountFor("Gold")
	assert.True(t, gold.Valid)
	assert.Equal(t, "gold", gold.Tier)
	assert.True(t, d("10").Equal(gold.DiscountPercent))

	for _, name := range []string{"", "bronze", "  "} {
		res := table.DiscountFor(name)
		assert.False(t, res.Valid, name)
		assert.True(t, res.DiscountPercent.IsZero(), name)
		assert.Empty(t, res.Tier, name)
	}
}

func TestTable_DiscountFollowsEditedTable(t *testing.T) {
	table, err := NewTable([]Tier{
		{Name: "gold", Threshold: d("20000"), Discount: d("12.5")},
	})
	require.NoError(t, err)

	res := table.DiscountFor("gold")
	assert.True(t, d("12.5").Equal(res.DiscountPercent))
}

func TestNewTable(t *testing.T) {
	t.Run("sorts ascending", func(t *testing.T) {
		table, err := NewTable([]Tier{
			{Name: "platinum", Threshold: d("50000"), Discount: d("15")},
			{Name: "silver", Threshold: d("5000"), Discount: d("5")},
			{Name: "gold", Threshold: d("20000"), Discount: d("10")},
		})
		require.NoError(t, err)

		tiers := table.Tiers()
		require.Len(t, tiers, 3)
		assert.Equal(t, "silver", tiers[0].Name)
		assert.Equal(t, "gold", tiers[1].Name)
		assert.Equal(t, "platinum", tiers[2].Name)
	})

	errCases := []struct {
		name  string
		tiers []Tier
		msg   string
	}{
		{
			name:  "duplicate name case-insensitive",
			tiers: []Tier{{Name: "Gold", Threshold: d("1")}, {Name: "gold", Threshold: d("2")}},
			msg:   "duplicate name",
		},
		{
			name:  "empty name",
			tiers: []Tier{{Name: " ", Threshold: d("1")}},
			msg:   "name is required",
		},
		{
			name:  "negative threshold",
			tiers: []Tier{{Name: "x", Threshold: d("-1")}},
			msg:   "threshold must not be negative",
		},
		{
			name:  "discount above 100",
			tiers: []Tier{{Name: "x", Threshold: d("1"), Discount: d("101")}},
			msg:   "discount must be between 0 and 100",
		},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.tiers)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseTable_RoundTrip(t *testing.T) {
	data, err := json.Marshal(DefaultTable())
	require.NoError(t, err)

	table, err := ParseTable(data)
	require.NoError(t, err)
	want := DefaultTable().Tiers()
	got := table.Tiers()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.True(t, want[i].Threshold.Equal(got[i].Threshold))
		assert.True(t, want[i].Discount.Equal(got[i].Discount))
	}

	_, err = ParseTable([]byte(`{"name":"gold"}`))
	require.Error(t, err)
}

func TestTable_EmptyMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(Table{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}
