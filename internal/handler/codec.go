package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/discount"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/offer"
	"github.com/xenking/pos-rewards/internal/domain/order"
	"github.com/xenking/pos-rewards/internal/domain/pricing"
)

const maxBodyBytes = 1 << 20

// decodeBody decodes a JSON object from the request, dispatching each field
// to fn.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		return &BadRequestError{Err: err}
	}
	return nil
}

// BadRequestError marks a malformed request body.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string { return "invalid request body: " + e.Err.Error() }

func (e *BadRequestError) Unwrap() error { return e.Err }

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", d.Next())
	}
}

func decodeOptDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeOptTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeItem(d *jx.Decoder) (order.Item, error) {
	var item order.Item
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			item.ID, err = d.Str()
		case "category_id":
			item.CategoryID, err = d.Str()
		case "price":
			item.Price, err = decodeDecimal(d)
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "item %s", key)
	})
	return item, err
}

// orderFields decodes the order-shaped part of a pricing request.
func orderFields(o *order.Order, d *jx.Decoder, key string) (bool, error) {
	var err error
	switch key {
	case "items":
		err = d.Arr(func(d *jx.Decoder) error {
			item, err := decodeItem(d)
			if err != nil {
				return err
			}
			o.Items = append(o.Items, item)
			return nil
		})
	case "total_amount":
		o.TotalAmount, err = decodeDecimal(d)
	default:
		return false, nil
	}
	return true, err
}

func decodeTiers(d *jx.Decoder) ([]membership.Tier, error) {
	var tiers []membership.Tier
	err := d.Arr(func(d *jx.Decoder) error {
		var t membership.Tier
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "name":
				t.Name, err = d.Str()
			case "threshold":
				t.Threshold, err = decodeDecimal(d)
			case "discount":
				t.Discount, err = decodeDecimal(d)
			default:
				err = d.Skip()
			}
			return errors.Wrapf(err, "tier %s", key)
		}); err != nil {
			return err
		}
		tiers = append(tiers, t)
		return nil
	})
	return tiers, err
}

func decodeBogo(d *jx.Decoder) (*discount.BogoConfig, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	cfg := &discount.BogoConfig{}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "buy_item_id":
			cfg.BuyItemID, err = d.Str()
		case "get_item_id":
			cfg.GetItemID, err = d.Str()
		case "get_discount_percent":
			cfg.GetDiscountPercent, err = decodeOptDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return cfg, err
}

func decodeOfferField(o *offer.Offer, d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "id":
		o.ID, err = d.Str()
	case "name":
		o.Name, err = d.Str()
	case "status":
		var s string
		s, err = d.Str()
		o.Status = offer.Status(s)
	case "type":
		var s string
		s, err = d.Str()
		o.Type = discount.Type(s)
	case "value":
		o.Value, err = decodeDecimal(d)
	case "max_discount_amount":
		o.MaxDiscountAmount, err = decodeOptDecimal(d)
	case "scope_mode":
		var s string
		s, err = d.Str()
		o.ScopeMode = discount.ScopeMode(s)
	case "bogo":
		o.Bogo, err = decodeBogo(d)
	case "category_id":
		o.CategoryID, err = d.Str()
	case "item_id":
		o.ItemID, err = d.Str()
	case "min_order_amount":
		o.MinOrderAmount, err = decodeOptDecimal(d)
	case "valid_from":
		o.ValidFrom, err = decodeOptTime(d)
	case "valid_until":
		o.ValidUntil, err = decodeOptTime(d)
	default:
		err = d.Skip()
	}
	return errors.Wrapf(err, "offer %s", key)
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func number(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

func optTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeBreakdownFields(e *jx.Encoder, b *pricing.Breakdown) {
	e.Field("subtotal", func(e *jx.Encoder) { money(e, b.Subtotal) })
	e.Field("coupon_discount", func(e *jx.Encoder) { money(e, b.CouponDiscount) })
	e.Field("membership_discount", func(e *jx.Encoder) { money(e, b.MembershipDiscount) })
	e.Field("points_discount", func(e *jx.Encoder) { money(e, b.PointsDiscount) })
	e.Field("total_discount", func(e *jx.Encoder) { money(e, b.TotalDiscount) })
	e.Field("final_amount", func(e *jx.Encoder) { money(e, b.FinalAmount) })
	e.Field("applied_coupon", func(e *jx.Encoder) { e.Str(b.AppliedCoupon) })
	e.Field("applied_membership", func(e *jx.Encoder) { e.Str(b.AppliedMembership) })
	e.Field("points_redeemed", func(e *jx.Encoder) { e.Int64(b.PointsRedeemed) })
}

func encodeTiers(e *jx.Encoder, t membership.Table) {
	e.Arr(func(e *jx.Encoder) {
		for _, tier := range t.Tiers() {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(tier.Name) })
				e.Field("threshold", func(e *jx.Encoder) { number(e, tier.Threshold) })
				e.Field("discount", func(e *jx.Encoder) { number(e, tier.Discount) })
			})
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
