// Package handler exposes the pricing, offer and membership operations over
// HTTP with JSON bodies.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-rewards/internal/domain/auth"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/offer"
	"github.com/xenking/pos-rewards/internal/domain/order"
	"github.com/xenking/pos-rewards/internal/domain/pricing"
)

// Pricer is the pricing surface served by Handler.
type Pricer interface {
	Preview(ctx context.Context, req pricing.PreviewRequest) (*pricing.Quote, error)
	Best(ctx context.Context, req pricing.BestRequest) (*pricing.Breakdown, error)
	Checkout(ctx context.Context, req pricing.CheckoutRequest) (*pricing.Breakdown, error)
	Membership(ctx context.Context, customerID string) (*pricing.MembershipStatus, error)
	MembershipTable(ctx context.Context) (membership.Table, error)
	SaveMembershipTable(ctx context.Context, tiers []membership.Tier) (membership.Table, error)
}

var _ Pricer = (*pricing.Service)(nil)

// TierRefresher runs the membership tier refresh.
type TierRefresher interface {
	Run(ctx context.Context) (*membership.RefreshReport, error)
}

var _ TierRefresher = (*membership.Refresher)(nil)

// Handler serves the /api routes.
type Handler struct {
	pricer    Pricer
	offers    offer.Repository
	refresher TierRefresher
	authn     *Authenticator
}

func NewHandler(pricer Pricer, offers offer.Repository, refresher TierRefresher, authn *Authenticator) *Handler {
	return &Handler{
		pricer:    pricer,
		offers:    offers,
		refresher: refresher,
		authn:     authn,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/pricing/preview", h.preview)
	mux.HandleFunc("POST /api/pricing/best", h.best)
	mux.HandleFunc("POST /api/orders/{id}/checkout", h.checkout)
	mux.HandleFunc("POST /api/offers/validate", h.validateOffer)
	mux.HandleFunc("GET /api/customers/{id}/membership", h.membership)
	mux.HandleFunc("GET /api/settings/membership-tiers", h.tiers)
	mux.Handle("PUT /api/settings/membership-tiers",
		h.authn.Require(auth.ScopeManageTiers)(http.HandlerFunc(h.saveTiers)))
	mux.Handle("POST /api/admin/membership/refresh",
		h.authn.Require(auth.ScopeRefreshTiers)(http.HandlerFunc(h.refresh)))
}

type pricingRequest struct {
	order      order.Order
	couponCode string
	customerID string
	points     int64
}

func decodePricingRequest(w http.ResponseWriter, r *http.Request) (*pricingRequest, error) {
	req := &pricingRequest{}
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if ok, err := orderFields(&req.order, d, key); ok {
			return err
		}
		var err error
		switch key {
		case "coupon_code":
			req.couponCode, err = d.Str()
		case "customer_id":
			req.customerID, err = d.Str()
		case "points":
			req.points, err = d.Int64()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return nil, err
	}
	req.order.CustomerID = req.customerID
	return req, nil
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	req, err := decodePricingRequest(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.pricer.Preview(r.Context(), pricing.PreviewRequest{
		Order:      &req.order,
		CouponCode: req.couponCode,
		CustomerID: req.customerID,
		Points:     req.points,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			encodeBreakdownFields(e, &q.Breakdown)
			if q.CouponReason != "" {
				e.Field("coupon_reason", func(e *jx.Encoder) { e.Str(q.CouponReason) })
			}
		})
	})
}

func (h *Handler) best(w http.ResponseWriter, r *http.Request) {
	req, err := decodePricingRequest(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.pricer.Best(r.Context(), pricing.BestRequest{
		Order:      &req.order,
		CustomerID: req.customerID,
		Points:     req.points,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) { encodeBreakdownFields(e, b) })
	})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	req := pricing.CheckoutRequest{OrderID: r.PathValue("id")}
	if r.ContentLength != 0 {
		err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "coupon_code":
				req.CouponCode, err = d.Str()
			case "points":
				req.Points, err = d.Int64()
			default:
				err = d.Skip()
			}
			return errors.Wrap(err, key)
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}

	b, err := h.pricer.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Str(req.OrderID) })
			encodeBreakdownFields(e, b)
		})
	})
}

func (h *Handler) validateOffer(w http.ResponseWriter, r *http.Request) {
	candidate := offer.Offer{Status: offer.StatusActive}
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		return decodeOfferField(&candidate, d, key)
	}); err != nil {
		h.fail(w, r, err)
		return
	}

	problems := offer.ValidateDefinition(&candidate)
	existing, err := h.offers.ListActive(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list active offers"))
		return
	}
	conflict := offer.DetectConflicts(&candidate, existing)

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("valid", func(e *jx.Encoder) { e.Bool(len(problems) == 0) })
			e.Field("problems", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, p := range problems {
						e.Str(p)
					}
				})
			})
			e.Field("has_overlap", func(e *jx.Encoder) { e.Bool(conflict.HasOverlap) })
			e.Field("conflicting_offers", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range conflict.ConflictingOffers {
						o := &conflict.ConflictingOffers[i]
						e.Obj(func(e *jx.Encoder) {
							e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
							e.Field("name", func(e *jx.Encoder) { e.Str(o.Name) })
							e.Field("type", func(e *jx.Encoder) { e.Str(string(o.Type)) })
							e.Field("valid_from", func(e *jx.Encoder) { optTime(e, o.ValidFrom) })
							e.Field("valid_until", func(e *jx.Encoder) { optTime(e, o.ValidUntil) })
						})
					}
				})
			})
		})
	})
}

func (h *Handler) membership(w http.ResponseWriter, r *http.Request) {
	s, err := h.pricer.Membership(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("customer_id", func(e *jx.Encoder) { e.Str(s.CustomerID) })
			e.Field("valid", func(e *jx.Encoder) { e.Bool(s.Membership.Valid) })
			e.Field("tier", func(e *jx.Encoder) { e.Str(s.Membership.Tier) })
			e.Field("discount_percent", func(e *jx.Encoder) { number(e, s.Membership.DiscountPercent) })
			e.Field("qualified_tier", func(e *jx.Encoder) { e.Str(s.QualifiedTier) })
			e.Field("paid_spend", func(e *jx.Encoder) { money(e, s.PaidSpend) })
			e.Field("loyalty_points", func(e *jx.Encoder) { e.Int64(s.LoyaltyPoints) })
			e.Field("points_value", func(e *jx.Encoder) { money(e, s.PointsValue) })
		})
	})
}

func (h *Handler) tiers(w http.ResponseWriter, r *http.Request) {
	t, err := h.pricer.MembershipTable(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTiers(e, t) })
}

func (h *Handler) saveTiers(w http.ResponseWriter, r *http.Request) {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	tiers, err := decodeTiers(d)
	if err != nil {
		h.fail(w, r, &BadRequestError{Err: err})
		return
	}
	t, err := h.pricer.SaveMembershipTable(r.Context(), tiers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTiers(e, t) })
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.refresher.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("processed", func(e *jx.Encoder) { e.Int(report.Processed) })
			e.Field("updated", func(e *jx.Encoder) { e.Int(report.Updated) })
			e.Field("unchanged", func(e *jx.Encoder) { e.Int(report.Unchanged) })
			e.Field("no_tier", func(e *jx.Encoder) { e.Int(report.NoTier) })
			e.Field("failed", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, id := range report.Failed {
						e.Str(id)
					}
				})
			})
			e.Field("started_at", func(e *jx.Encoder) { optTime(e, &report.StartedAt) })
			e.Field("finished_at", func(e *jx.Encoder) { optTime(e, &report.FinishedAt) })
		})
	})
}
