package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/types"
)

// Order is the authoritative record of a purchase. Total and NetProfit are
// fixed at creation from then-current product prices and never recomputed.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status        enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending';index"`
	Total         decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	TotalCost     decimal.Decimal   `gorm:"column:total_cost;type:numeric(12,2);not null"`
	NetProfit     decimal.Decimal   `gorm:"column:net_profit;type:numeric(12,2);not null"`
	CustomerName  string            `gorm:"column:customer_name;not null"`
	CustomerEmail string            `gorm:"column:customer_email;not null"`
	Address       types.Address     `gorm:"column:address;type:jsonb;serializer:json"`
	PreferenceID  *string           `gorm:"column:preference_id;index"`
	PaymentURL    *string           `gorm:"column:payment_url"`
	LineItems     []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
