package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
)

// PaymentRecord is the append-only accounting row for one real payment event.
// ProviderPaymentID is unique so duplicate webhook deliveries cannot insert a
// second row.
type PaymentRecord struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	ProviderPaymentID string              `gorm:"column:provider_payment_id;not null;uniqueIndex:idx_payments_provider_payment_id"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	Gross             decimal.Decimal     `gorm:"column:gross;type:numeric(12,2);not null"`
	Fee               decimal.Decimal     `gorm:"column:fee;type:numeric(12,2);not null;default:0"`
	Net               decimal.Decimal     `gorm:"column:net;type:numeric(12,2);not null"`
	Method            string              `gorm:"column:method"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// TableName maps the model onto the payments table.
func (PaymentRecord) TableName() string {
	return "payments"
}
