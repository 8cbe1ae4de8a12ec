package checkout

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/internal/cart"
	"github.com/gustavoferreira/dropmart-backend/internal/identity"
	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	"github.com/gustavoferreira/dropmart-backend/internal/pricing"
	product "github.com/gustavoferreira/dropmart-backend/internal/products"
	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/mercadopago"
	"github.com/gustavoferreira/dropmart-backend/pkg/types"
	"github.com/rs/zerolog"
)

type txAdapter struct {
	db *gorm.DB
}

func (t txAdapter) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.Transaction(func(tx *gorm.DB) error { return fn(tx) })
}

type stubPreferences struct {
	err   error
	calls int
}

func (s *stubPreferences) CreatePreference(ctx context.Context, input mercadopago.PreferenceInput) (*mercadopago.Preference, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &mercadopago.Preference{ID: "pref-" + input.OrderID, InitPoint: "https://mp.example/init/" + input.OrderID}, nil
}

type checkoutHarness struct {
	db       *gorm.DB
	svc      Service
	prefs    *stubPreferences
	identity identity.Service
	cartRepo *cart.Repository
	orders   orders.Repository
}

func setupCheckoutDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT,
  account_kind TEXT NOT NULL DEFAULT 'credentialed',
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  price NUMERIC NOT NULL DEFAULT 0,
  cost NUMERIC NOT NULL DEFAULT 0,
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  supplier_id TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS carts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (cart_id, product_id)
);`,
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  total NUMERIC NOT NULL DEFAULT 0,
  total_cost NUMERIC NOT NULL DEFAULT 0,
  net_profit NUMERIC NOT NULL DEFAULT 0,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_email TEXT NOT NULL DEFAULT '',
  address TEXT,
  preference_id TEXT,
  payment_url TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  unit_price NUMERIC NOT NULL DEFAULT 0,
  unit_cost NUMERIC NOT NULL DEFAULT 0,
  supplier_id TEXT NOT NULL,
  supplier_notified INTEGER NOT NULL DEFAULT 0,
  supplier_notified_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS order_logs (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  event TEXT NOT NULL,
  detail TEXT,
  created_at DATETIME
);`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

func newHarness(t *testing.T) *checkoutHarness {
	t.Helper()
	return newHarnessWithLedger(t, nil)
}

func newHarnessWithLedger(t *testing.T, ledger stockLedger) *checkoutHarness {
	t.Helper()

	db := setupCheckoutDB(t)
	prefs := &stubPreferences{}

	policy, err := pricing.NewPolicy(config.MarginConfig{
		Minimum: "0.40", RelaxedMinimum: "0.10", FeeRate: "0.05",
	})
	require.NoError(t, err)

	idSvc, err := identity.NewService(identity.NewRepository(db), config.JWTConfig{
		Secret: "checkout-test", Issuer: "dropmart-test", ExpirationMinutes: 60,
	}, config.PasswordConfig{})
	require.NoError(t, err)

	ordersRepo := orders.NewRepository(db)
	cartRepo := cart.NewRepository(db)

	svc, err := NewService(ServiceParams{
		Tx:         txAdapter{db: db},
		Conn:       db,
		OrdersRepo: ordersRepo,
		CartRepo:   cartRepo,
		Products:   product.NewRepository(db),
		Identity:   idSvc,
		Users:      identity.NewRepository(db),
		Policy:     policy,
		Ledger:     ledger,
		Payments:   prefs,
		Checkout:   config.CheckoutConfig{PriceEpsilon: "0.05", ProviderTries: 1},
		Logger:     logger.New(logger.Options{ServiceName: "checkout-test", Level: zerolog.Disabled, Output: io.Discard}),
	})
	require.NoError(t, err)

	return &checkoutHarness{db: db, svc: svc, prefs: prefs, identity: idSvc, cartRepo: cartRepo, orders: ordersRepo}
}

func (h *checkoutHarness) seedProduct(t *testing.T, title, price, cost string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := h.db.Exec(
		`INSERT INTO products (id, title, price, cost, stock, supplier_id) VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, price, cost, stock, uuid.New(),
	).Error
	require.NoError(t, err)
	return id
}

func (h *checkoutHarness) seedUser(t *testing.T, name, email string) uuid.UUID {
	t.Helper()
	resp, err := h.identity.Register(context.Background(), identity.RegisterRequest{
		Name: name, Email: email, Password: "correct-horse",
	})
	require.NoError(t, err)
	return resp.User.ID
}

func (h *checkoutHarness) fillCart(t *testing.T, userID uuid.UUID, items map[uuid.UUID]int) {
	t.Helper()
	ctx := context.Background()
	record, err := h.cartRepo.EnsureForUser(ctx, userID)
	require.NoError(t, err)
	for productID, qty := range items {
		require.NoError(t, h.cartRepo.UpsertItem(ctx, record.ID, productID, qty))
	}
}

func (h *checkoutHarness) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var stock int
	require.NoError(t, h.db.Raw(`SELECT stock FROM products WHERE id = ?`, id).Scan(&stock).Error)
	return stock
}

func testAddress() types.Address {
	return types.Address{Line1: "Rua A 10", City: "Recife", State: "PE", PostalCode: "50000-000", Country: "BR"}
}

func TestExecuteFromCart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 5)
	hat := h.seedProduct(t, "Hat", "24.90", "9.00", 3)
	userID := h.seedUser(t, "Ana", "ana@example.com")
	h.fillCart(t, userID, map[uuid.UUID]int{mug: 2, hat: 1})

	result, err := h.svc.Execute(ctx, Input{UserID: userID, Address: testAddress()})
	require.NoError(t, err)

	// 2 * 15.90 + 24.90
	assert.Equal(t, "56.7", result.Total.String())
	assert.Equal(t, enums.OrderStatusPending, result.Status)
	assert.Contains(t, result.PaymentURL, result.OrderID.String())

	order, err := h.orders.FindByID(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	require.NotNil(t, order.PreferenceID)
	require.Len(t, order.LineItems, 2)
	for _, line := range order.LineItems {
		assert.False(t, line.SupplierNotified)
		assert.False(t, line.UnitCost.IsZero())
	}

	// Stock decremented, cart cleared.
	assert.Equal(t, 3, h.stockOf(t, mug))
	assert.Equal(t, 2, h.stockOf(t, hat))
	view, err := h.cartRepo.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestExecuteDirectBuySkipsCart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 5)
	userID := h.seedUser(t, "Ana", "ana@example.com")

	// Duplicate lines consolidate into a single demand.
	result, err := h.svc.Execute(ctx, Input{
		UserID:  userID,
		Address: testAddress(),
		Items: []ItemInput{
			{ProductID: mug, Quantity: 1},
			{ProductID: mug, Quantity: 2},
		},
	})
	require.NoError(t, err)

	order, err := h.orders.FindByID(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, order.LineItems, 1)
	assert.Equal(t, 3, order.LineItems[0].Quantity)
	assert.Equal(t, 2, h.stockOf(t, mug))
}

func TestExecuteEmptyCart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	userID := h.seedUser(t, "Ana", "ana@example.com")

	_, err := h.svc.Execute(context.Background(), Input{UserID: userID, Address: testAddress()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeEmptyCart, pkgerrors.As(err).Code())
}

func TestExecuteMarginGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// (10 - 8 - 0.50) / 10 = 15% margin, below the 40% minimum.
	thin := h.seedProduct(t, "Thin", "10.00", "8.00", 5)
	userID := h.seedUser(t, "Ana", "ana@example.com")

	_, err := h.svc.Execute(ctx, Input{
		UserID:  userID,
		Address: testAddress(),
		Items:   []ItemInput{{ProductID: thin, Quantity: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeMarginTooLow, pkgerrors.As(err).Code())

	// Nothing persisted, stock untouched.
	assert.Equal(t, 5, h.stockOf(t, thin))
	var count int64
	require.NoError(t, h.db.Table("orders").Count(&count).Error)
	assert.Zero(t, count)
}

func TestExecutePriceTamper(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 5)
	userID := h.seedUser(t, "Ana", "ana@example.com")

	stale := decimal.RequireFromString("12.00")
	_, err := h.svc.Execute(ctx, Input{
		UserID:         userID,
		Address:        testAddress(),
		Items:          []ItemInput{{ProductID: mug, Quantity: 1}},
		DisplayedTotal: &stale,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodePriceChanged, pkgerrors.As(err).Code())
	assert.Equal(t, 5, h.stockOf(t, mug))

	// Within the epsilon the displayed total is accepted.
	near := decimal.RequireFromString("15.88")
	_, err = h.svc.Execute(ctx, Input{
		UserID:         userID,
		Address:        testAddress(),
		Items:          []ItemInput{{ProductID: mug, Quantity: 1}},
		DisplayedTotal: &near,
	})
	require.NoError(t, err)
}

func TestExecuteInsufficientStock(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 2)
	userID := h.seedUser(t, "Ana", "ana@example.com")

	_, err := h.svc.Execute(ctx, Input{
		UserID:  userID,
		Address: testAddress(),
		Items:   []ItemInput{{ProductID: mug, Quantity: 3}},
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.As(err).Code())
	assert.Equal(t, 2, h.stockOf(t, mug))
}

func TestExecuteProviderFailureCompensates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.prefs.err = errors.New("gateway timeout")

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 5)
	userID := h.seedUser(t, "Ana", "ana@example.com")
	h.fillCart(t, userID, map[uuid.UUID]int{mug: 2})

	_, err := h.svc.Execute(ctx, Input{UserID: userID, Address: testAddress()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	// Stock restored, order marked failed_checkout.
	assert.Equal(t, 5, h.stockOf(t, mug))
	var status string
	require.NoError(t, h.db.Raw(`SELECT status FROM orders LIMIT 1`).Scan(&status).Error)
	assert.Equal(t, enums.OrderStatusFailedCheckout.String(), status)

	var logCount int64
	require.NoError(t, h.db.Table("order_logs").Where("event = ?", EventCheckoutFailed).Count(&logCount).Error)
	assert.Equal(t, int64(1), logCount)
}

func TestExecuteGuestCheckout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 5)

	result, err := h.svc.Execute(ctx, Input{
		Guest:   &GuestInfo{Name: "Bruno", Email: "bruno@example.com"},
		Address: testAddress(),
		Items:   []ItemInput{{ProductID: mug, Quantity: 1}},
	})
	require.NoError(t, err)

	order, err := h.orders.FindByID(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "bruno@example.com", order.CustomerEmail)

	var kind string
	require.NoError(t, h.db.Raw(`SELECT account_kind FROM users WHERE email = ?`, "bruno@example.com").Scan(&kind).Error)
	assert.Equal(t, enums.AccountKindGuest.String(), kind)
}

func TestExecuteGuestEmailCollision(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 5)
	h.seedUser(t, "Ana", "ana@example.com")

	_, err := h.svc.Execute(ctx, Input{
		Guest:   &GuestInfo{Name: "Impostor", Email: "ana@example.com"},
		Address: testAddress(),
		Items:   []ItemInput{{ProductID: mug, Quantity: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeAccountConflict, pkgerrors.As(err).Code())
	assert.Equal(t, 5, h.stockOf(t, mug))
}

func TestExecuteRequiresIdentity(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.svc.Execute(context.Background(), Input{Address: testAddress()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
}

// repricingLedger rewrites a product's price while its row lock is being
// taken, standing in for a catalog update racing the checkout.
type repricingLedger struct {
	ledgerEngine
	product uuid.UUID
	price   string
	locks   int
}

func (l *repricingLedger) Lock(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	l.locks++
	if l.price != "" {
		if err := tx.Exec(`UPDATE products SET price = ? WHERE id = ?`, l.price, l.product).Error; err != nil {
			return err
		}
	}
	return l.ledgerEngine.Lock(ctx, tx, ids)
}

func TestExecuteReadsPricesUnderRowLock(t *testing.T) {
	t.Parallel()

	ledger := &repricingLedger{}
	h := newHarnessWithLedger(t, ledger)
	ctx := context.Background()

	mug := h.seedProduct(t, "Mug", "15.90", "6.00", 5)
	userID := h.seedUser(t, "Ana", "ana@example.com")
	h.fillCart(t, userID, map[uuid.UUID]int{mug: 1})

	ledger.product = mug
	ledger.price = "18.50"

	result, err := h.svc.Execute(ctx, Input{UserID: userID, Address: testAddress()})
	require.NoError(t, err)
	require.Equal(t, 1, ledger.locks)

	// The snapshot and total come from the post-lock price, never the
	// value read before the lock was held.
	assert.Equal(t, "18.5", result.Total.String())
	order, err := h.orders.FindByID(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, order.LineItems, 1)
	assert.Equal(t, "18.5", order.LineItems[0].UnitPrice.String())
}
