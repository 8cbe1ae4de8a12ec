package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/pagination"
)

// Repository is the persistence surface for orders, their line items, the
// payments ledger and the audit log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	SetPaymentPreference(ctx context.Context, orderID uuid.UUID, preferenceID, paymentURL string) error

	// Transition flips the status only when the current status is in from.
	// The returned bool reports whether a row actually changed, which is the
	// idempotency signal for duplicate deliveries.
	Transition(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error)

	AppendLog(ctx context.Context, orderID uuid.UUID, event string, detail map[string]any) error

	// CreatePaymentRecord inserts the accounting row; a duplicate provider
	// payment id is tolerated and reported as inserted=false.
	CreatePaymentRecord(ctx context.Context, record *models.PaymentRecord) (bool, error)

	UnnotifiedLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
	MarkLineItemsNotified(ctx context.Context, itemIDs []uuid.UUID, at time.Time) error

	// StaleOrders returns orders sitting in any of the given statuses since
	// before the cutoff, oldest first.
	StaleOrders(ctx context.Context, statuses []enums.OrderStatus, cutoff time.Time, limit int) ([]models.Order, error)

	// PaidWithUnnotifiedItems returns ids of paid orders older than the
	// cutoff that still have line items waiting on supplier acknowledgment.
	PaidWithUnnotifiedItems(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}
