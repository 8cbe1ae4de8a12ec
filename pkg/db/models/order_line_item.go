package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLineItem snapshots one purchased product. Title, prices, cost and
// supplier id are frozen at order time and survive later catalog edits.
// SupplierNotified tracks per-item dispatch acknowledgment.
type OrderLineItem struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID          uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Quantity           int             `gorm:"column:quantity;not null"`
	Title              string          `gorm:"column:title;not null"`
	UnitPrice          decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	UnitCost           decimal.Decimal `gorm:"column:unit_cost;type:numeric(12,2);not null"`
	SupplierID         uuid.UUID       `gorm:"column:supplier_id;type:uuid;not null"`
	SupplierNotified   bool            `gorm:"column:supplier_notified;not null;default:false"`
	SupplierNotifiedAt *time.Time      `gorm:"column:supplier_notified_at"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
