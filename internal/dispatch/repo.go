package dispatch

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
)

// SupplierRepository resolves the supplier rows behind line item snapshots.
type SupplierRepository struct {
	db *gorm.DB
}

func NewSupplierRepository(db *gorm.DB) *SupplierRepository {
	return &SupplierRepository{db: db}
}

func (r *SupplierRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Supplier, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]models.Supplier{}, nil
	}
	var rows []models.Supplier
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]models.Supplier, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
