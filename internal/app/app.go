package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))

	healthSvc := health.New()

	b, err := openBackend(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer b.close(context.Background(), lg)

	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h, err := newHandler(ctx, cfg, b, healthSvc, m)
	if err != nil {
		healthSvc.Stop()
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}

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

// newHandler builds the domain services over b and returns the API and
// health endpoints behind the middleware chain.
func newHandler(ctx context.Context, cfg *Config, b *backend, hs *health.Health, tel httpmiddleware.Telemetry) (http.Handler, error) {
	ledger, err := coupon.NewLedger(b.coupons,
		coupon.WithMeterProvider(tel.MeterProvider()),
		coupon.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create coupon ledger")
	}
	fee, err := cfg.shippingFee()
	if err != nil {
		return nil, err
	}
	orders, err := order.NewManager(b.products, b.orders,
		order.WithPromotions(ledger),
		order.WithPublisher(b.publisher),
		order.WithShippingFee(fee),
		order.WithTokenBytes(cfg.Orders.AccessTokenBytes),
		order.WithMeterProvider(tel.MeterProvider()),
		order.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order manager")
	}

	api := handler.New(orders, ledger).Routes()

	// Mux: health endpoints + API routes on one server.
	routeFinder := httpmiddleware.MakeRouteFinder(api)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", hs.LiveEndpoint)
	mux.HandleFunc("/readyz", hs.ReadyEndpoint)
	mux.Handle("/api/", api)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   isProbe,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("storefront-api", routeFinder, tel),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	), nil
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}
