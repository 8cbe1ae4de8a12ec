package stock

import (
	"context"
	"sort"

	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Demand requests quantity units of a single product.
type Demand struct {
	ProductID uuid.UUID
	Quantity  int
}

// Shortfall names the product that blocked a reservation.
type Shortfall struct {
	ProductID uuid.UUID `json:"product_id"`
	Title     string    `json:"title,omitempty"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

type lockedRow struct {
	ID    uuid.UUID
	Title string
	Stock int
}

// Consolidate sums duplicate product ids, keeping first-appearance order.
func Consolidate(demands []Demand) []Demand {
	merged := make([]Demand, 0, len(demands))
	index := make(map[uuid.UUID]int, len(demands))
	for _, d := range demands {
		if at, ok := index[d.ProductID]; ok {
			merged[at].Quantity += d.Quantity
			continue
		}
		index[d.ProductID] = len(merged)
		merged = append(merged, d)
	}
	return merged
}

// Lock acquires the update locks on the referenced product rows without
// reading them, so that price and cost reads later in the same transaction
// cannot interleave with a concurrent catalog update. Ids are locked in
// sorted order, matching Reserve.
func Lock(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	query := tx.WithContext(ctx).
		Table("products").
		Where("id IN ?", sorted).
		Order("id")
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	var locked []uuid.UUID
	if err := query.Pluck("id", &locked).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock product rows")
	}
	return nil
}

// Reserve locks the referenced product rows inside the ambient transaction,
// verifies stock, and decrements. Fails on the first product that cannot
// cover its demand. Rows are locked in id order to keep concurrent
// reservations from deadlocking each other.
func Reserve(ctx context.Context, tx *gorm.DB, demands []Demand) error {
	demands = Consolidate(demands)
	if len(demands) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no stock demands supplied")
	}

	ids := make([]uuid.UUID, 0, len(demands))
	for _, d := range demands {
		if d.Quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "demand quantity must be at least 1").
				WithDetails(Shortfall{ProductID: d.ProductID, Requested: d.Quantity})
		}
		ids = append(ids, d.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	query := tx.WithContext(ctx).
		Table("products").
		Select("id", "title", "stock").
		Where("id IN ?", ids).
		Order("id")
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}

	var rows []lockedRow
	if err := query.Find(&rows).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock product rows")
	}

	byID := make(map[uuid.UUID]lockedRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	for _, d := range demands {
		row, ok := byID[d.ProductID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(Shortfall{ProductID: d.ProductID, Requested: d.Quantity})
		}
		if row.Stock < d.Quantity {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for "+row.Title).
				WithDetails(Shortfall{
					ProductID: d.ProductID,
					Title:     row.Title,
					Requested: d.Quantity,
					Available: row.Stock,
				})
		}
	}

	for _, d := range demands {
		res := tx.WithContext(ctx).
			Table("products").
			Where("id = ? AND stock >= ?", d.ProductID, d.Quantity).
			Update("stock", gorm.Expr("stock - ?", d.Quantity))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
		}
		if res.RowsAffected == 0 {
			row := byID[d.ProductID]
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for "+row.Title).
				WithDetails(Shortfall{
					ProductID: d.ProductID,
					Title:     row.Title,
					Requested: d.Quantity,
					Available: row.Stock,
				})
		}
	}

	return nil
}

// Restore credits the demands back. Safe to call from compensation paths
// where the original decrement is uncertain; over-crediting is preferred
// over under-selling, so no guard beyond skipping non-positive quantities.
// Works both inside and outside a transaction.
func Restore(ctx context.Context, db *gorm.DB, demands []Demand) error {
	for _, d := range Consolidate(demands) {
		if d.Quantity <= 0 {
			continue
		}
		res := db.WithContext(ctx).
			Table("products").
			Where("id = ?", d.ProductID).
			Update("stock", gorm.Expr("stock + ?", d.Quantity))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restore stock")
		}
	}
	return nil
}
