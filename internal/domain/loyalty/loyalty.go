// Package loyalty converts between loyalty points and rupee value.
package loyalty

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNegativePoints     = errors.New("points must not be negative")
	ErrBelowMinimum       = errors.New("below minimum redeemable points")
	ErrInsufficientPoints = errors.New("insufficient points balance")
)

// Settings are the operator-configurable loyalty rates.
type Settings struct {
	// PointsPerRupee is the accrual rate on paid orders.
	PointsPerRupee decimal.Decimal `json:"points_per_rupee"`
	// PointsValue is the rupee value of a single point.
	PointsValue         decimal.Decimal `json:"points_value"`
	MinRedeemablePoints int64           `json:"min_redeemable_points"`
}

// DefaultSettings returns the stock rates.
func DefaultSettings() Settings {
	return Settings{
		PointsPerRupee:      decimal.RequireFromString("0.1"),
		PointsValue:         decimal.RequireFromString("0.1"),
		MinRedeemablePoints: 100,
	}
}

// ParseSettings decodes the settings blob. Fields absent from data keep
// their defaults.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrap(err, "decode loyalty settings")
	}
	if s.PointsValue.IsNegative() || s.PointsPerRupee.IsNegative() || s.MinRedeemablePoints < 0 {
		return Settings{}, errors.New("loyalty rates must not be negative")
	}
	return s, nil
}

// InsufficientPointsError reports a redemption larger than the balance.
type InsufficientPointsError struct {
	Requested int64
	Balance   int64
}

func (e *InsufficientPointsError) Error() string {
	return errors.Wrapf(ErrInsufficientPoints, "requested %d, balance %d", e.Requested, e.Balance).Error()
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// Converter applies Settings to point and rupee amounts.
type Converter struct {
	settings Settings
}

// NewConverter returns a Converter for s.
func NewConverter(s Settings) Converter {
	return Converter{settings: s}
}

// Settings returns the rates the converter applies.
func (c Converter) Settings() Settings { return c.settings }

// Value is the rupee value of points, rounded to paise.
func (c Converter) Value(points int64) decimal.Decimal {
	if points <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(points).Mul(c.settings.PointsValue).Round(2)
}

// PointsFor returns how many whole points are worth at most amount.
func (c Converter) PointsFor(amount decimal.Decimal) int64 {
	if !amount.IsPositive() || !c.settings.PointsValue.IsPositive() {
		return 0
	}
	return amount.Div(c.settings.PointsValue).Floor().IntPart()
}

// Earned returns the points accrued for a paid amount.
func (c Converter) Earned(amount decimal.Decimal) int64 {
	if !amount.IsPositive() {
		return 0
	}
	return amount.Mul(c.settings.PointsPerRupee).Floor().IntPart()
}

// CheckRedemption validates a redemption request against a balance. Zero
// requested points is always allowed.
func (c Converter) CheckRedemption(requested, balance int64) error {
	switch {
	case requested < 0:
		return ErrNegativePoints
	case requested == 0:
		return nil
	case requested < c.settings.MinRedeemablePoints:
		return errors.Wrapf(ErrBelowMinimum, "minimum is %d points", c.settings.MinRedeemablePoints)
	case requested > balance:
		return &InsufficientPointsError{Requested: requested, Balance: balance}
	}
	return nil
}

// MaxRedeemable caps a redemption so its value never exceeds amount.
func (c Converter) MaxRedeemable(balance int64, amount decimal.Decimal) int64 {
	if balance <= 0 {
		return 0
	}
	return min(balance, c.PointsFor(amount))
}
