package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the canonical catalog listing. Stock is mutated only inside
// row-locked transactions and never goes negative.
type Product struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title      string          `gorm:"column:title;not null"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Cost       decimal.Decimal `gorm:"column:cost;type:numeric(12,2);not null;default:0"`
	Stock      int             `gorm:"column:stock;not null;default:0;check:stock >= 0"`
	SupplierID uuid.UUID       `gorm:"column:supplier_id;type:uuid;not null"`
	Active     bool            `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
