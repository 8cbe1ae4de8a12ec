package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/pagination"
	"github.com/gustavoferreira/dropmart-backend/pkg/types"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	for _, ddl := range []string{
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
		`CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  provider_payment_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  gross NUMERIC NOT NULL DEFAULT 0,
  fee NUMERIC NOT NULL DEFAULT 0,
  net NUMERIC NOT NULL DEFAULT 0,
  method TEXT,
  created_at DATETIME
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

func seedOrder(t *testing.T, db *gorm.DB, userID uuid.UUID, status enums.OrderStatus, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        userID,
		Status:        status,
		Total:         decimal.RequireFromString("31.80"),
		TotalCost:     decimal.RequireFromString("12.00"),
		NetProfit:     decimal.RequireFromString("18.21"),
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		Address:       types.Address{Line1: "Rua A 10", City: "Recife", State: "PE", PostalCode: "50000-000", Country: "BR"},
		CreatedAt:     createdAt,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func seedLineItem(t *testing.T, db *gorm.DB, orderID uuid.UUID, notified bool) *models.OrderLineItem {
	t.Helper()
	item := &models.OrderLineItem{
		ID:               uuid.New(),
		OrderID:          orderID,
		ProductID:        uuid.New(),
		Quantity:         1,
		Title:            "Mug",
		UnitPrice:        decimal.RequireFromString("15.90"),
		UnitCost:         decimal.RequireFromString("6.00"),
		SupplierID:       uuid.New(),
		SupplierNotified: notified,
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func TestTransitionGuardsOnCurrentStatus(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	order := seedOrder(t, db, uuid.New(), enums.OrderStatusPending, time.Now())

	changed, err := repo.Transition(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment}, enums.OrderStatusPaid)
	require.NoError(t, err)
	assert.True(t, changed)

	// Re-delivery: the guard no longer matches.
	changed, err = repo.Transition(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment}, enums.OrderStatusPaid)
	require.NoError(t, err)
	assert.False(t, changed)

	loaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, loaded.Status)
}

func TestCreatePaymentRecordToleratesDuplicates(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	order := seedOrder(t, db, uuid.New(), enums.OrderStatusPaid, time.Now())

	record := func() *models.PaymentRecord {
		return &models.PaymentRecord{
			ID:                uuid.New(),
			OrderID:           order.ID,
			ProviderPaymentID: "mp-777",
			Status:            enums.PaymentStatusApproved,
			Gross:             decimal.RequireFromString("31.80"),
			Fee:               decimal.RequireFromString("1.59"),
			Net:               decimal.RequireFromString("30.21"),
		}
	}

	inserted, err := repo.CreatePaymentRecord(ctx, record())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.CreatePaymentRecord(ctx, record())
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Table("payments").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUnnotifiedLineItemsAndMarking(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	order := seedOrder(t, db, uuid.New(), enums.OrderStatusPaid, time.Now())

	pending := seedLineItem(t, db, order.ID, false)
	seedLineItem(t, db, order.ID, true)

	items, err := repo.UnnotifiedLineItems(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, pending.ID, items[0].ID)

	require.NoError(t, repo.MarkLineItemsNotified(ctx, []uuid.UUID{pending.ID}, time.Now()))

	items, err = repo.UnnotifiedLineItems(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListByUserPaginates(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seedOrder(t, db, userID, enums.OrderStatusPending, base.Add(time.Duration(i)*time.Minute))
	}
	seedOrder(t, db, uuid.New(), enums.OrderStatusPending, base)

	first, next, err := repo.ListByUser(ctx, userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, next)

	rest, next, err := repo.ListByUser(ctx, userID, pagination.Params{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Empty(t, next)

	// Newest first, no leakage across users.
	assert.True(t, first[0].CreatedAt.After(first[1].CreatedAt))
	for _, row := range append(first, rest...) {
		assert.Equal(t, userID, row.UserID)
	}
}

func TestStaleOrderQueries(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Minute)

	expired := seedOrder(t, db, uuid.New(), enums.OrderStatusPending, old)
	seedOrder(t, db, uuid.New(), enums.OrderStatusPending, fresh)
	seedOrder(t, db, uuid.New(), enums.OrderStatusPaid, old)

	stale, err := repo.StaleOrders(ctx,
		[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment},
		time.Now().Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, expired.ID, stale[0].ID)

	stalled := seedOrder(t, db, uuid.New(), enums.OrderStatusPaid, old)
	seedLineItem(t, db, stalled.ID, false)
	notifiedOrder := seedOrder(t, db, uuid.New(), enums.OrderStatusPaid, old)
	seedLineItem(t, db, notifiedOrder.ID, true)

	ids, err := repo.PaidWithUnnotifiedItems(ctx, time.Now().Add(-15*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, stalled.ID, ids[0])
}
