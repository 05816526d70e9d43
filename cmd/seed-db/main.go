package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-rewards/internal/domain/auth"
	"github.com/xenking/pos-rewards/internal/domain/coupon"
	"github.com/xenking/pos-rewards/internal/domain/customer"
	"github.com/xenking/pos-rewards/internal/domain/discount"
	"github.com/xenking/pos-rewards/internal/domain/loyalty"
	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/offer"
	"github.com/xenking/pos-rewards/internal/domain/order"
	"github.com/xenking/pos-rewards/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	steps := []struct {
		name string
		fn   func(context.Context, *pgxpool.Pool) error
	}{
		{"settings", seedSettings},
		{"customers", seedCustomers},
		{"orders", seedOrders},
		{"coupons", seedCoupons},
		{"offers", seedOffers},
	}
	for _, s := range steps {
		if err := s.fn(ctx, pool); err != nil {
			return errors.Wrapf(err, "seed %s", s.name)
		}
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func intPtr(v int) *int { return &v }

func seedSettings(ctx context.Context, pool *pgxpool.Pool) error {
	repo := postgres.NewSettingsRepository(pool)
	if err := repo.SaveMembershipTable(ctx, membership.DefaultTable()); err != nil {
		return errors.Wrap(err, "membership tiers")
	}
	if err := repo.SaveLoyalty(ctx, loyalty.DefaultSettings()); err != nil {
		return errors.Wrap(err, "loyalty")
	}
	slog.Info("stored default settings", slog.String("tiers", membership.DefaultTable().String()))
	return nil
}

var customers = []customer.Customer{
	{ID: "cust-new", Name: "Asha Rao"},
	{ID: "cust-silver", Name: "Vikram Nair", MembershipTier: "silver", OrderCount: 14, LoyaltyPoints: 650},
	{ID: "cust-gold", Name: "Meera Iyer", MembershipTier: "gold", OrderCount: 41, LoyaltyPoints: 2400},
	{ID: "cust-lapsed", Name: "Karan Shah", MembershipTier: "platinum", OrderCount: 3, LoyaltyPoints: 90},
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool) error {
	repo := postgres.NewCustomerRepository(pool)
	for i := range customers {
		if err := repo.Upsert(ctx, &customers[i]); err != nil {
			return err
		}
		slog.Info("upserted customer", slog.String("id", customers[i].ID), slog.String("tier", customers[i].MembershipTier))
	}
	return nil
}

func seedOrders(ctx context.Context, pool *pgxpool.Pool) error {
	repo := postgres.NewOrderRepository(pool)

	// Paid history that the tier refresh turns into silver and gold.
	paid := map[string][]string{
		"cust-silver": {"2400", "1800", "1250.50"},
		"cust-gold":   {"9000", "7600", "4100", "2250"},
	}
	for custID, amounts := range paid {
		for i, amount := range amounts {
			o := &order.Order{
				ID:            fmt.Sprintf("hist-%s-%d", custID, i+1),
				CustomerID:    custID,
				TotalAmount:   dec(amount),
				PaymentStatus: order.PaymentPaid,
			}
			if err := repo.Create(ctx, o); err != nil {
				return err
			}
		}
	}

	pending := &order.Order{
		ID:         "order-demo",
		CustomerID: "cust-gold",
		Items: []order.Item{
			{ID: "paneer-tikka", CategoryID: "starters", Price: dec("320"), Quantity: 1},
			{ID: "butter-naan", CategoryID: "breads", Price: dec("60"), Quantity: 4},
			{ID: "gulab-jamun", CategoryID: "desserts", Price: dec("140"), Quantity: 2},
			{ID: "masala-chai", CategoryID: "drinks", Price: dec("80"), Quantity: 2},
		},
		PaymentStatus: order.PaymentPending,
	}
	pending.TotalAmount = order.Subtotal(pending)
	if err := repo.Create(ctx, pending); err != nil {
		return err
	}
	slog.Info("created orders", slog.String("pending", pending.ID), slog.String("total", pending.TotalAmount.String()))
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	repo := postgres.NewCouponRepository(pool)
	until := time.Now().AddDate(0, 3, 0).UTC()

	coupons := []coupon.Coupon{
		{
			Code: "WELCOME100", Description: "Rs 100 off your first order",
			Status: coupon.StatusActive, Rule: discount.Rule{Type: discount.TypeFlat, Value: dec("100")},
			MinOrderAmount: decPtr("500"), FirstTimeOnly: true, PerUserLimit: intPtr(1),
		},
		{
			Code: "FEAST15", Description: "15% off orders above Rs 1000, up to Rs 300",
			Status: coupon.StatusActive,
			Rule: discount.Rule{
				Type: discount.TypePercentage, Value: dec("15"), MaxDiscountAmount: decPtr("300"),
			},
			MinOrderAmount: decPtr("1000"), ValidUntil: &until, UsageLimit: intPtr(500), PerUserLimit: intPtr(3),
		},
		{
			Code: "CHAIBOGO", Description: "Buy a masala chai, get one free",
			Status: coupon.StatusActive,
			Rule: discount.Rule{
				Type: discount.TypeBogo,
				Bogo: &discount.BogoConfig{BuyItemID: "masala-chai", GetItemID: "masala-chai"},
			},
		},
		{
			Code: "SWEET20", Description: "20% off desserts",
			Status: coupon.StatusActive,
			Rule: discount.Rule{
				Type: discount.TypeCategory, Value: dec("20"), CategoryID: "desserts", ScopeMode: discount.ScopePercentage,
			},
		},
	}

	for i := range coupons {
		c := &coupons[i]
		if problems := coupon.ValidateDefinition(c); len(problems) > 0 {
			return errors.Errorf("coupon %s: %v", c.Code, problems)
		}
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}
	return nil
}

func seedOffers(ctx context.Context, pool *pgxpool.Pool) error {
	repo := postgres.NewOfferRepository(pool)
	start := time.Now().UTC().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, 14)

	offers := []offer.Offer{
		{
			ID: "offer-breads", Name: "Bread basket fortnight", Status: offer.StatusActive,
			Rule:      discount.Rule{Type: discount.TypeCategory, Value: dec("10"), CategoryID: "breads"},
			ValidFrom: &start, ValidUntil: &end,
		},
		{
			ID: "offer-tikka", Name: "Tikka Tuesday", Status: offer.StatusActive,
			Rule: discount.Rule{
				Type: discount.TypeItem, Value: dec("50"), ItemID: "paneer-tikka", ScopeMode: discount.ScopeFlat,
			},
		},
	}

	for i := range offers {
		o := &offers[i]
		if problems := offer.ValidateDefinition(o); len(problems) > 0 {
			return errors.Errorf("offer %s: %v", o.ID, problems)
		}
		if err := repo.Upsert(ctx, o); err != nil {
			return errors.Wrapf(err, "upsert offer %s", o.ID)
		}
		slog.Info("upserted offer", slog.String("id", o.ID), slog.String("name", o.Name))
	}
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	info := &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKeyHex([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeManageTiers, auth.ScopeRefreshTiers},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}
