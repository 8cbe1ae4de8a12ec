package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gustavoferreira/dropmart-backend/api/routes"
	"github.com/gustavoferreira/dropmart-backend/internal/cart"
	checkoutsvc "github.com/gustavoferreira/dropmart-backend/internal/checkout"
	"github.com/gustavoferreira/dropmart-backend/internal/dispatch"
	"github.com/gustavoferreira/dropmart-backend/internal/identity"
	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	"github.com/gustavoferreira/dropmart-backend/internal/pricing"
	product "github.com/gustavoferreira/dropmart-backend/internal/products"
	mpwebhook "github.com/gustavoferreira/dropmart-backend/internal/webhooks/mercadopago"
	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/gustavoferreira/dropmart-backend/pkg/db"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/mercadopago"
	"github.com/gustavoferreira/dropmart-backend/pkg/migrate"
	"github.com/gustavoferreira/dropmart-backend/pkg/pubsub"
	"github.com/gustavoferreira/dropmart-backend/pkg/redis"
	"github.com/gustavoferreira/dropmart-backend/pkg/supplierhttp"
)

const webhookEventTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	mpClient, err := mercadopago.NewClient(ctx, cfg.MercadoPago, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap mercado pago client", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	ordersRepo := orders.NewRepository(conn)
	identityRepo := identity.NewRepository(conn)
	cartRepo := cart.NewRepository(conn)
	productRepo := product.NewRepository(conn)

	identityService, err := identity.NewService(identityRepo, cfg.JWT, cfg.Password)
	if err != nil {
		logg.Error(ctx, "failed to create identity service", err)
		os.Exit(1)
	}

	productService, err := product.NewService(productRepo)
	if err != nil {
		logg.Error(ctx, "failed to create product service", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(cartRepo, productRepo)
	if err != nil {
		logg.Error(ctx, "failed to create cart service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(ordersRepo, dbClient, orders.NewStockRestorer())
	if err != nil {
		logg.Error(ctx, "failed to create order service", err)
		os.Exit(1)
	}

	policy, err := pricing.NewPolicy(cfg.Margin)
	if err != nil {
		logg.Error(ctx, "failed to build pricing policy", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Tx:         dbClient,
		Conn:       conn,
		OrdersRepo: ordersRepo,
		CartRepo:   cartRepo,
		Products:   productRepo,
		Identity:   identityService,
		Users:      identityRepo,
		Policy:     policy,
		Payments:   mpClient,
		Checkout:   cfg.Checkout,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	notifier, cleanup, err := buildNotifier(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to build supplier notifier", err)
		os.Exit(1)
	}
	defer cleanup()

	dispatchService, err := dispatch.NewService(dispatch.ServiceParams{
		OrdersRepo: ordersRepo,
		Suppliers:  dispatch.NewSupplierRepository(conn),
		Notifier:   notifier,
		Dispatch:   cfg.Dispatch,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create dispatch service", err)
		os.Exit(1)
	}

	webhookService, err := mpwebhook.NewService(mpwebhook.ServiceParams{
		OrdersRepo: ordersRepo,
		Tx:         dbClient,
		Payments:   mpClient,
		Dispatch:   dispatchService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := mpwebhook.NewIdempotencyGuard(redisClient, webhookEventTTL, "mercadopago")
	if err != nil {
		logg.Error(ctx, "failed to create webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	startCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(startCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			Payments:     mpClient,
			Identity:     identityService,
			Products:     productService,
			Cart:         cartService,
			Checkout:     checkoutService,
			Orders:       ordersService,
			Webhooks:     webhookService,
			WebhookGuard: webhookGuard,
		}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(startCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildNotifier picks the supplier transport. HTTP posts straight to supplier
// endpoints; pubsub hands the notification to the supplier dispatch topic.
func buildNotifier(ctx context.Context, cfg *config.Config, logg *logger.Logger) (dispatch.Notifier, func(), error) {
	if cfg.Dispatch.Transport == "pubsub" {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		notifier, err := dispatch.NewPubSubNotifier(psClient.SupplierPublisher(), cfg.Dispatch.NotifyTimeout)
		if err != nil {
			_ = psClient.Close()
			return nil, nil, err
		}
		return notifier, func() { _ = psClient.Close() }, nil
	}

	httpClient := supplierhttp.NewClient(supplierhttp.WithTimeout(cfg.Dispatch.NotifyTimeout))
	notifier, err := dispatch.NewHTTPNotifier(httpClient)
	if err != nil {
		return nil, nil, err
	}
	return notifier, func() {}, nil
}
