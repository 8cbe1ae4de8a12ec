package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gustavoferreira/dropmart-backend/api/controllers"
	webhookcontrollers "github.com/gustavoferreira/dropmart-backend/api/controllers/webhooks"
	"github.com/gustavoferreira/dropmart-backend/api/middleware"
	"github.com/gustavoferreira/dropmart-backend/internal/cart"
	checkoutsvc "github.com/gustavoferreira/dropmart-backend/internal/checkout"
	"github.com/gustavoferreira/dropmart-backend/internal/identity"
	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	product "github.com/gustavoferreira/dropmart-backend/internal/products"
	mpwebhook "github.com/gustavoferreira/dropmart-backend/internal/webhooks/mercadopago"
	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/redis"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type paymentClient interface {
	SigningSecret() string
}

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           pinger
	Redis        *redis.Client
	Payments     paymentClient
	Identity     identity.Service
	Products     product.Service
	Cart         cart.Service
	Checkout     checkoutsvc.Service
	Orders       orders.Service
	Webhooks     *mpwebhook.Service
	WebhookGuard *mpwebhook.IdempotencyGuard
}

// NewRouter assembles the storefront API.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// A typed nil *redis.Client must stay nil inside the middleware
	// interfaces, otherwise the disabled-store checks never fire.
	var idemStore redis.IdempotencyStore
	var limiter middleware.FixedWindowLimiter
	var counters middleware.RateLimiterStore
	var cache pinger
	if d.Redis != nil {
		idemStore = d.Redis
		limiter = d.Redis
		counters = d.Redis
		cache = d.Redis
	}

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(d.DB, cache, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPagoWebhook(d.Webhooks, d.Payments, d.WebhookGuard, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, counters, logg)).
			Post("/login", controllers.Login(d.Identity, logg))
		r.With(
			middleware.AuthRateLimit(registerPolicy, counters, logg),
			middleware.Idempotency(idemStore, logg),
		).Post("/register", controllers.Register(d.Identity, logg))
	})

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", controllers.ListProducts(d.Products, logg))
		r.Get("/{productID}", controllers.GetProduct(d.Products, logg))
	})

	// Checkout takes anonymous guests, so auth is optional here. Status is
	// public for the post-redirect poll.
	r.With(
		middleware.OptionalAuth(cfg.JWT, logg),
		middleware.CheckoutRateLimit(limiter, cfg.Checkout.RatePerMinute, logg),
		middleware.Idempotency(idemStore, logg),
	).Post("/api/v1/checkout", controllers.Checkout(d.Checkout, logg))
	r.Get("/api/v1/checkout/status/{orderID}", controllers.CheckoutStatus(d.Orders, logg))

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.Idempotency(idemStore, logg),
		)

		r.Route("/api/v1/cart", func(r chi.Router) {
			r.Get("/", controllers.GetCart(d.Cart, logg))
			r.Post("/items", controllers.AddCartItem(d.Cart, logg))
			r.Delete("/items/{productID}", controllers.RemoveCartItem(d.Cart, logg))
		})

		r.Route("/api/v1/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(d.Orders, logg))
			r.Get("/{orderID}", controllers.GetOrder(d.Orders, logg))
			r.Post("/{orderID}/cancel", controllers.CancelOrder(d.Orders, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAccountKind(enums.AccountKindAdmin, logg))
				r.Post("/{orderID}/ship", controllers.ShipOrder(d.Orders, logg))
				r.Post("/{orderID}/deliver", controllers.DeliverOrder(d.Orders, logg))
			})
		})
	})

	return r
}
