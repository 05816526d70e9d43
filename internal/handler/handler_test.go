package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-rewards/internal/domain/auth"
	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/customer"
	"github.com/xenking/pos-rewards/internal/domain/discount"
	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/offer"
	"github.com/xenking/pos-rewards/internal/domain/order"
	"github.com/xenking/pos-rewards/internal/domain/pricing"
)

// --- Mock implementations ---

type mockPricer struct {
	preview   func(pricing.PreviewRequest) (*pricing.Quote, error)
	best      func(pricing.BestRequest) (*pricing.Breakdown, error)
	checkout  func(pricing.CheckoutRequest) (*pricing.Breakdown, error)
	status    func(string) (*pricing.MembershipStatus, error)
	table     membership.Table
	saveTiers func([]membership.Tier) (membership.Table, error)
}

func (m *mockPricer) Preview(_ context.Context, req pricing.PreviewRequest) (*pricing.Quote, error) {
	return m.preview(req)
}

func (m *mockPricer) Best(_ context.Context, req pricing.BestRequest) (*pricing.Breakdown, error) {
	return m.best(req)
}

func (m *mockPricer) Checkout(_ context.Context, req pricing.CheckoutRequest) (*pricing.Breakdown, error) {
	return m.checkout(req)
}

func (m *mockPricer) Membership(_ context.Context, id string) (*pricing.MembershipStatus, error) {
	return m.status(id)
}

func (m *mockPricer) MembershipTable(context.Context) (membership.Table, error) {
	return m.table, nil
}

func (m *mockPricer) SaveMembershipTable(_ context.Context, tiers []membership.Tier) (membership.Table, error) {
	return m.saveTiers(tiers)
}

type mockOffers struct {
	offers []offer.Offer
	err    error
}

func (m mockOffers) ListActive(context.Context) ([]offer.Offer, error) {
	return m.offers, m.err
}

type mockRefresher struct {
	report *membership.RefreshReport
	err    error
	calls  int
}

func (m *mockRefresher) Run(context.Context) (*membership.RefreshReport, error) {
	m.calls++
	return m.report, m.err
}

type mockKeys map[string]*auth.APIKeyInfo

func (m mockKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// --- Helpers ---

var pepper = []byte("test-pepper")

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newKeys() mockKeys {
	keys := mockKeys{}
	for raw, scopes := range map[string][]string{
		"admin-key":   {auth.ScopeManageTiers, auth.ScopeRefreshTiers},
		"cashier-key": nil,
	} {
		hash := auth.HashKeyHex(pepper, raw)
		keys[hash] = &auth.APIKeyInfo{ID: raw, KeyHash: hash, Name: raw, Scopes: scopes}
	}
	return keys
}

type fixture struct {
	pricer    *mockPricer
	offers    *mockOffers
	refresher *mockRefresher
	mux       *http.ServeMux
}

func newFixture() *fixture {
	f := &fixture{
		pricer:    &mockPricer{table: membership.DefaultTable()},
		offers:    &mockOffers{},
		refresher: &mockRefresher{},
		mux:       http.NewServeMux(),
	}
	NewHandler(f.pricer, f.offers, f.refresher, NewAuthenticator(newKeys(), pepper)).Register(f.mux)
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func sampleBreakdown() *pricing.Breakdown {
	return &pricing.Breakdown{
		Subtotal:           d("1000"),
		CouponDiscount:     d("100"),
		MembershipDiscount: d("90"),
		PointsDiscount:     d("10"),
		TotalDiscount:      d("200"),
		FinalAmount:        d("800"),
		AppliedCoupon:      "SAVE10",
		AppliedMembership:  "gold",
		PointsRedeemed:     100,
	}
}

const sampleBreakdownJSON = `"subtotal":1000.00,"coupon_discount":100.00,"membership_discount":90.00,
	"points_discount":10.00,"total_discount":200.00,"final_amount":800.00,
	"applied_coupon":"SAVE10","applied_membership":"gold","points_redeemed":100`

// --- Tests ---

func TestPreview(t *testing.T) {
	f := newFixture()
	var got pricing.PreviewRequest
	f.pricer.preview = func(req pricing.PreviewRequest) (*pricing.Quote, error) {
		got = req
		return &pricing.Quote{Breakdown: *sampleBreakdown(), CouponReason: "Coupon has expired"}, nil
	}

	w := f.do(http.MethodPost, "/api/pricing/preview", `{
		"items": [{"id":"burger","category_id":"mains","price":"250.50","quantity":2}],
		"total_amount": 501,
		"coupon_code": "save10",
		"customer_id": "c1",
		"points": 100,
		"ignored": {"nested": true}
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{`+sampleBreakdownJSON+`,"coupon_reason":"Coupon has expired"}`, w.Body.String())

	require.Len(t, got.Order.Items, 1)
	assert.Equal(t, "burger", got.Order.Items[0].ID)
	assert.True(t, d("250.50").Equal(got.Order.Items[0].Price))
	assert.Equal(t, 2, got.Order.Items[0].Quantity)
	assert.True(t, d("501").Equal(got.Order.TotalAmount))
	assert.Equal(t, "c1", got.Order.CustomerID)
	assert.Equal(t, "save10", got.CouponCode)
	assert.Equal(t, int64(100), got.Points)
}

func TestPreview_MalformedBody(t *testing.T) {
	f := newFixture()
	for _, body := range []string{`{"items":`, `[]`, `{"points":"many"}`, `{"items":[{"price":"abc"}]}`} {
		w := f.do(http.MethodPost, "/api/pricing/preview", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestBest(t *testing.T) {
	f := newFixture()
	f.pricer.best = func(req pricing.BestRequest) (*pricing.Breakdown, error) {
		assert.Equal(t, "c9", req.CustomerID)
		return sampleBreakdown(), nil
	}

	w := f.do(http.MethodPost, "/api/pricing/best", `{"total_amount":1000,"customer_id":"c9"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{`+sampleBreakdownJSON+`}`, w.Body.String())
}

func TestCheckout(t *testing.T) {
	f := newFixture()
	f.pricer.checkout = func(req pricing.CheckoutRequest) (*pricing.Breakdown, error) {
		assert.Equal(t, "o-1", req.OrderID)
		assert.Equal(t, "SAVE10", req.CouponCode)
		assert.Equal(t, int64(100), req.Points)
		return sampleBreakdown(), nil
	}

	w := f.do(http.MethodPost, "/api/orders/o-1/checkout", `{"coupon_code":"SAVE10","points":100}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"order_id":"o-1",`+sampleBreakdownJSON+`}`, w.Body.String())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"order missing", errors.Wrap(order.ErrNotFound, "get order"), http.StatusNotFound, "order not found"},
		{"customer missing", errors.Wrap(customer.ErrNotFound, "get customer"), http.StatusNotFound, "customer not found"},
		{"settled", pricing.ErrOrderSettled, http.StatusConflict, "order already settled"},
		{"empty order", pricing.ErrEmptyOrder, http.StatusBadRequest, "order has no items"},
		{"invalid item", &pricing.InvalidItemError{ItemID: "x"}, http.StatusBadRequest, "invalid quantity or price for item x"},
		{"customer required", pricing.ErrCustomerRequired, http.StatusBadRequest, "customer required to redeem points"},
		{
			"ineligible coupon",
			&pricing.IneligibleCouponError{Code: "OLD", Reason: "Coupon has expired", Err: coupon.ErrCouponExpired},
			http.StatusUnprocessableEntity, "coupon OLD: Coupon has expired",
		},
		{
			"insufficient points",
			&loyalty.InsufficientPointsError{Requested: 500, Balance: 10},
			http.StatusUnprocessableEntity, "",
		},
		{
			"usage limit hit at capture",
			errors.Wrap(errors.Wrap(coupon.ErrUsageLimitReached, "capture checkout"), "checkout"),
			http.StatusConflict, "coupon usage limit reached",
		},
		{
			"per-customer limit hit at capture",
			errors.Wrap(coupon.ErrUserLimitReached, "capture checkout"),
			http.StatusConflict, "per-customer usage limit reached",
		},
		{"storage failure", errors.New("pool closed"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.pricer.checkout = func(pricing.CheckoutRequest) (*pricing.Breakdown, error) {
				return nil, tt.err
			}
			w := f.do(http.MethodPost, "/api/orders/o-1/checkout", "")
			assert.Equal(t, tt.status, w.Code)
			if tt.msg != "" {
				assert.Contains(t, w.Body.String(), tt.msg)
			}
		})
	}
}

func TestValidateOffer(t *testing.T) {
	june := func(day int) *time.Time {
		v := time.Date(2025, 6, day, 0, 0, 0, 0, time.UTC)
		return &v
	}
	f := newFixture()
	f.offers.offers = []offer.Offer{
		{
			ID: "o1", Name: "Dessert week", Status: offer.StatusActive,
			Rule:      discount.Rule{Type: discount.TypeCategory, Value: d("10"), CategoryID: "desserts"},
			ValidFrom: june(1), ValidUntil: june(7),
		},
		{
			ID: "o2", Name: "Drinks", Status: offer.StatusActive,
			Rule: discount.Rule{Type: discount.TypeCategory, Value: d("5"), CategoryID: "drinks"},
		},
	}

	t.Run("conflict", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/offers/validate", `{
			"name": "Sweet weekend",
			"type": "category",
			"value": 15,
			"category_id": "desserts",
			"valid_from": "2025-06-05T00:00:00Z",
			"valid_until": "2025-06-10T00:00:00Z"
		}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{
			"valid": true,
			"problems": [],
			"has_overlap": true,
			"conflicting_offers": [{
				"id": "o1", "name": "Dessert week", "type": "category",
				"valid_from": "2025-06-01T00:00:00Z", "valid_until": "2025-06-07T00:00:00Z"
			}]
		}`, w.Body.String())
	})

	t.Run("problems", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/offers/validate", `{"type":"percentage","value":150}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"valid":false`)
		assert.Contains(t, w.Body.String(), "Offer name is required")
		assert.Contains(t, w.Body.String(), "Percentage discount cannot exceed 100")
		assert.Contains(t, w.Body.String(), `"has_overlap":false`)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newFixture()
		f.offers.err = errors.New("timeout")
		w := f.do(http.MethodPost, "/api/offers/validate", `{"name":"x","type":"flat","value":10}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestMembership(t *testing.T) {
	f := newFixture()
	f.pricer.status = func(id string) (*pricing.MembershipStatus, error) {
		return &pricing.MembershipStatus{
			CustomerID:    id,
			Membership:    membership.Resolution{Valid: true, DiscountPercent: d("10"), Tier: "gold"},
			QualifiedTier: "platinum",
			PaidSpend:     d("51000"),
			LoyaltyPoints: 1200,
			PointsValue:   d("120"),
		}, nil
	}

	w := f.do(http.MethodGet, "/api/customers/c1/membership", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"customer_id": "c1", "valid": true, "tier": "gold", "discount_percent": 10,
		"qualified_tier": "platinum", "paid_spend": 51000.00,
		"loyalty_points": 1200, "points_value": 120.00
	}`, w.Body.String())
}

func TestMembershipTiers(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/api/settings/membership-tiers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"name":"silver","threshold":5000,"discount":5},
		{"name":"gold","threshold":20000,"discount":10},
		{"name":"platinum","threshold":50000,"discount":15}
	]`, w.Body.String())

	body := `[{"name":"gold","threshold":"20000","discount":12.5}]`

	t.Run("requires key", func(t *testing.T) {
		w := f.do(http.MethodPut, "/api/settings/membership-tiers", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		w = f.do(http.MethodPut, "/api/settings/membership-tiers", body, HeaderAPIKey, "wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("requires scope", func(t *testing.T) {
		w := f.do(http.MethodPut, "/api/settings/membership-tiers", body, HeaderAPIKey, "cashier-key")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("saves", func(t *testing.T) {
		f.pricer.saveTiers = func(tiers []membership.Tier) (membership.Table, error) {
			require.Len(t, tiers, 1)
			assert.True(t, d("12.5").Equal(tiers[0].Discount))
			return membership.NewTable(tiers)
		}
		w := f.do(http.MethodPut, "/api/settings/membership-tiers", body, HeaderAPIKey, "admin-key")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `[{"name":"gold","threshold":20000,"discount":12.5}]`, w.Body.String())
	})

	t.Run("rejects invalid table", func(t *testing.T) {
		f.pricer.saveTiers = func(tiers []membership.Tier) (membership.Table, error) {
			_, err := membership.NewTable(tiers)
			return membership.Table{}, &pricing.InvalidTableError{Err: err}
		}
		w := f.do(http.MethodPut, "/api/settings/membership-tiers",
			`[{"name":"gold","threshold":1},{"name":"GOLD","threshold":2}]`, HeaderAPIKey, "admin-key")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "duplicate name")
	})
}

func TestRefresh(t *testing.T) {
	f := newFixture()
	start := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	f.refresher.report = &membership.RefreshReport{
		StartedAt: start, FinishedAt: start.Add(time.Minute),
		Processed: 10, Updated: 3, Unchanged: 5, NoTier: 1, Failed: []string{"c7"},
	}

	w := f.do(http.MethodPost, "/api/admin/membership/refresh", "", HeaderAPIKey, "cashier-key")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, f.refresher.calls)

	w = f.do(http.MethodPost, "/api/admin/membership/refresh", "", HeaderAPIKey, "admin-key")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"processed": 10, "updated": 3, "unchanged": 5, "no_tier": 1, "failed": ["c7"],
		"started_at": "2025-06-01T03:00:00Z", "finished_at": "2025-06-01T03:01:00Z"
	}`, w.Body.String())

	f.refresher.err = membership.ErrRefreshInProgress
	w = f.do(http.MethodPost, "/api/admin/membership/refresh", "", HeaderAPIKey, "admin-key")
	assert.Equal(t, http.StatusConflict, w.Code)
}
