package product

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/pagination"
)

func setupProductTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:products_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	products := `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  price NUMERIC NOT NULL DEFAULT 0,
  cost NUMERIC NOT NULL DEFAULT 0,
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  supplier_id TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(products).Error)
	return db
}

func seedCatalogProduct(t *testing.T, db *gorm.DB, title string, active bool, createdAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := db.Exec(
		`INSERT INTO products (id, title, price, cost, stock, supplier_id, active, created_at) VALUES (?, ?, 19.90, 8, 3, ?, ?, ?)`,
		id, title, uuid.New(), active, createdAt,
	).Error
	require.NoError(t, err)
	return id
}

func TestListActiveFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	db := setupProductTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	seedCatalogProduct(t, db, "Mug", true, base)
	seedCatalogProduct(t, db, "Hat", true, base.Add(time.Minute))
	newest := seedCatalogProduct(t, db, "Shirt", true, base.Add(2*time.Minute))
	seedCatalogProduct(t, db, "Hidden", false, base.Add(3*time.Minute))

	first, next, err := svc.List(ctx, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, next)
	assert.Equal(t, newest, first[0].ID)

	rest, next, err := svc.List(ctx, pagination.Params{Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Empty(t, next)
	assert.Equal(t, "Mug", rest[0].Title)
}

func TestGetHidesInactiveProducts(t *testing.T) {
	t.Parallel()

	db := setupProductTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)
	ctx := context.Background()

	active := seedCatalogProduct(t, db, "Mug", true, time.Now())
	hidden := seedCatalogProduct(t, db, "Hidden", false, time.Now())

	view, err := svc.Get(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, "Mug", view.Title)
	assert.True(t, view.InStock)

	_, err = svc.Get(ctx, hidden)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = svc.Get(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
