package loyalty

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestConverter_Value(t *testing.T) {
	c := NewConverter(DefaultSettings())

	assert.True(t, d("15").Equal(c.Value(150)))
	assert.True(t, c.Value(0).IsZero())
	assert.True(t, c.Value(-10).IsZero())
}

func TestConverter_PointsFor(t *testing.T) {
	c := NewConverter(DefaultSettings())

	assert.Equal(t, int64(150), c.PointsFor(d("15")))
	assert.Equal(t, int64(152), c.PointsFor(d("15.29")))
	assert.Equal(t, int64(0), c.PointsFor(d("-1")))

	free := NewConverter(Settings{PointsValue: decimal.Zero})
	assert.Equal(t, int64(0), free.PointsFor(d("100")))
}

func TestConverter_Earned(t *testing.T) {
	c := NewConverter(DefaultSettings())

	assert.Equal(t, int64(99), c.Earned(d("999.99")))
	assert.Equal(t, int64(0), c.Earned(decimal.Zero))
}

func TestConverter_CheckRedemption(t *testing.T) {
	c := NewConverter(DefaultSettings())

	tests := []struct {
		name      string
		requested int64
		balance   int64
		wantErr   error
	}{
		{name: "nothing requested", requested: 0, balance: 0},
		{name: "exact minimum", requested: 100, balance: 100},
		{name: "negative", requested: -5, balance: 100, wantErr: ErrNegativePoints},
		{name: "below minimum", requested: 50, balance: 500, wantErr: ErrBelowMinimum},
		{name: "over balance", requested: 300, balance: 200, wantErr: ErrInsufficientPoints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CheckRedemption(tt.requested, tt.balance)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	var insufficient *InsufficientPointsError
	require.True(t, errors.As(c.CheckRedemption(300, 200), &insufficient))
	assert.Equal(t, int64(200), insufficient.Balance)
}

func TestConverter_MaxRedeemable(t *testing.T) {
	c := NewConverter(DefaultSettings())

	assert.Equal(t, int64(500), c.MaxRedeemable(500, d("1000")))
	assert.Equal(t, int64(100), c.MaxRedeemable(500, d("10")))
	assert.Equal(t, int64(0), c.MaxRedeemable(0, d("10")))
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(`{"points_value":"0.25"}`))
	require.NoError(t, err)
	assert.True(t, d("0.25").Equal(s.PointsValue))
	assert.True(t, d("0.1").Equal(s.PointsPerRupee))
	assert.Equal(t, int64(100), s.MinRedeemablePoints)

	s, err = ParseSettings([]byte(`{"points_per_rupee":0.5,"min_redeemable_points":20}`))
	require.NoError(t, err)
	assert.True(t, d("0.5").Equal(s.PointsPerRupee))
	assert.Equal(t, int64(20), s.MinRedeemablePoints)

	_, err = ParseSettings([]byte(`{"points_value":"-1"}`))
	require.Error(t, err)

	_, err = ParseSettings([]byte(`[`))
	require.Error(t, err)
}
