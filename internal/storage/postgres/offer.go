package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/offer"
)

const (
	offerColumns = `id, name, status, offer_type, discount_value, max_discount_amount,
		scope_mode, bogo_config, category_id, item_id, min_order_amount, valid_from, valid_until`

	listActiveOffersSQL = `SELECT ` + offerColumns + `
		FROM offers WHERE status = 'active' ORDER BY id`

	upsertOfferSQL = `INSERT INTO offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			offer_type = EXCLUDED.offer_type,
			discount_value = EXCLUDED.discount_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			scope_mode = EXCLUDED.scope_mode,
			bogo_config = EXCLUDED.bogo_config,
			category_id = EXCLUDED.category_id,
			item_id = EXCLUDED.item_id,
			min_order_amount = EXCLUDED.min_order_amount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

// ListActive returns every offer with active status.
func (r *OfferRepository) ListActive(ctx context.Context) ([]offer.Offer, error) {
	rows, err := r.pool.Query(ctx, listActiveOffersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active offers: %w", err)
	}
	offers, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, fmt.Errorf("listing active offers: %w", err)
	}
	return offers, nil
}

// Upsert inserts or replaces an offer by id.
func (r *OfferRepository) Upsert(ctx context.Context, o *offer.Offer) error {
	bogo, err := encodeBogo(o.Bogo)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, upsertOfferSQL,
		o.ID, o.Name, string(o.Status), string(o.Type), o.Value, o.MaxDiscountAmount,
		scopeModeOrDefault(o.ScopeMode), bogo, o.CategoryID, o.ItemID, o.MinOrderAmount,
		o.ValidFrom, o.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("upserting offer %q: %w", o.ID, err)
	}
	return nil
}

func scanOffer(row pgx.CollectableRow) (offer.Offer, error) {
	var (
		o          offer.Offer
		status     string
		rc         ruleColumns
		minOrder   *decimal.Decimal
		validFrom  *time.Time
		validUntil *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Name, &status, &rc.discountType, &rc.value, &rc.maxDiscount,
		&rc.scopeMode, &rc.bogo, &rc.categoryID, &rc.itemID, &minOrder, &validFrom, &validUntil,
	)
	if err != nil {
		return o, err
	}
	o.Rule, err = rc.rule()
	if err != nil {
		return o, fmt.Errorf("offer %q: %w", o.ID, err)
	}
	o.Status = offer.Status(status)
	o.MinOrderAmount = minOrder
	o.ValidFrom = validFrom
	o.ValidUntil = validUntil
	return o, nil
}
