package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/discount"
)

// bogoConfig is the JSONB shape of discount.BogoConfig.
type bogoConfig struct {
	BuyItemID          string           `json:"buy_item_id"`
	GetItemID          string           `json:"get_item_id"`
	GetDiscountPercent *decimal.Decimal `json:"get_discount_percent,omitempty"`
}

func encodeBogo(cfg *discount.BogoConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	data, err := json.Marshal(bogoConfig{
		BuyItemID:          cfg.BuyItemID,
		GetItemID:          cfg.GetItemID,
		GetDiscountPercent: cfg.GetDiscountPercent,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling bogo config: %w", err)
	}
	return data, nil
}

func decodeBogo(data []byte) (*discount.BogoConfig, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var cfg bogoConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling bogo config: %w", err)
	}
	return &discount.BogoConfig{
		BuyItemID:          cfg.BuyItemID,
		GetItemID:          cfg.GetItemID,
		GetDiscountPercent: cfg.GetDiscountPercent,
	}, nil
}

// ruleColumns holds the scan targets shared by coupons and offers.
type ruleColumns struct {
	discountType string
	value        decimal.Decimal
	maxDiscount  *decimal.Decimal
	scopeMode    string
	bogo         []byte
	categoryID   string
	itemID       string
}

func (c *ruleColumns) rule() (discount.Rule, error) {
	bogo, err := decodeBogo(c.bogo)
	if err != nil {
		return discount.Rule{}, err
	}
	return discount.Rule{
		Type:              discount.Type(c.discountType),
		Value:             c.value,
		MaxDiscountAmount: c.maxDiscount,
		ScopeMode:         discount.ScopeMode(c.scopeMode),
		Bogo:              bogo,
		CategoryID:        c.categoryID,
		ItemID:            c.itemID,
	}, nil
}

func scopeModeOrDefault(m discount.ScopeMode) string {
	if m == "" {
		return string(discount.ScopePercentage)
	}
	return string(m)
}
