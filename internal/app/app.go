package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-rewards/internal/domain/membership"
	"github.com/xenking/pos-rewards/internal/domain/pricing"
	"github.com/xenking/pos-rewards/internal/handler"
	"github.com/xenking/pos-rewards/internal/storage/postgres"
	"github.com/xenking/pos-rewards/internal/storage/redislock"
	"github.com/xenking/pos-rewards/pkg/health"
	"github.com/xenking/pos-rewards/pkg/httpmiddleware"
)

const serviceName = "pos-rewards"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Check{
		Name:    "postgres",
		Kind:    health.Readiness,
		Timeout: 5 * time.Second,
		Func:    health.PingCheck("postgres", pool),
	})
	healthSvc.Add(health.Check{
		Name: "goroutines",
		Kind: health.Liveness,
		Func: health.GoroutineCountCheck(10000),
	})

	// Optional Redis lock so only one replica refreshes tiers at a time.
	var locker membership.Locker
	if cfg.RedisURL != "" {
		rdb, err := redislock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		locker = redislock.New(rdb, serviceName+":")
		healthSvc.Add(health.Check{
			Name:    "redis",
			Kind:    health.Readiness,
			Timeout: 2 * time.Second,
			Func:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	offerRepo := postgres.NewOfferRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)
	checkoutRepo := postgres.NewCheckoutRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	var enumerator pricing.Enumerator = pricing.StandardEnumerator{}
	if cfg.Pricing.Exhaustive {
		enumerator = pricing.ExhaustiveEnumerator{}
	}
	pricingSvc := pricing.NewService(orderRepo, couponRepo, customerRepo, settingsRepo, checkoutRepo, enumerator)

	refresher, err := membership.NewRefresher(customerRepo, orderRepo, settingsRepo, locker,
		m.MeterProvider().Meter(serviceName),
		membership.RefreshConfig{
			BatchSize: cfg.TierRefresh.BatchSize,
			Workers:   cfg.TierRefresh.Workers,
			Timeout:   cfg.TierRefresh.Timeout,
			LockTTL:   cfg.TierRefresh.LockTTL,
		},
	)
	if err != nil {
		return errors.Wrap(err, "create tier refresher")
	}
	if cfg.TierRefresh.Schedule != "" {
		stop, err := scheduleTierRefresh(ctx, refresher, cfg.TierRefresh.Schedule)
		if err != nil {
			return err
		}
		defer stop()
	}

	// HTTP handlers.
	authn := handler.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(pricingSvc, offerRepo, refresher, authn)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	limiter := httpmiddleware.NewLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	go limiter.RunSweeper(ctx)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Covers a synchronous tier refresh triggered over HTTP.
		WriteTimeout:   cfg.TierRefresh.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.HeaderAPIKey, httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(limiter, nil),
			httpmiddleware.Instrument(serviceName, m),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
