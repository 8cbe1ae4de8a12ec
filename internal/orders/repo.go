package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/pkg/db"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}

	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

func (r *repository) SetPaymentPreference(ctx context.Context, orderID uuid.UUID, preferenceID, paymentURL string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"preference_id": preferenceID,
			"payment_url":   paymentURL,
		}).Error
}

func (r *repository) Transition(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) AppendLog(ctx context.Context, orderID uuid.UUID, event string, detail map[string]any) error {
	return r.db.WithContext(ctx).Create(&models.OrderLog{
		ID:      uuid.New(),
		OrderID: orderID,
		Event:   event,
		Detail:  detail,
	}).Error
}

func (r *repository) CreatePaymentRecord(ctx context.Context, record *models.PaymentRecord) (bool, error) {
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		if db.IsUniqueViolation(err, "provider_payment_id") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repository) UnnotifiedLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND supplier_notified = ?", orderID, false).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) MarkLineItemsNotified(ctx context.Context, itemIDs []uuid.UUID, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("id IN ?", itemIDs).
		Updates(map[string]any{
			"supplier_notified":    true,
			"supplier_notified_at": at,
		}).Error
}

func (r *repository) StaleOrders(ctx context.Context, statuses []enums.OrderStatus, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("status IN ? AND created_at < ?", statuses, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) PaidWithUnnotifiedItems(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Distinct().
		Joins("JOIN order_line_items ON order_line_items.order_id = orders.id").
		Where("orders.status = ?", enums.OrderStatusPaid).
		Where("order_line_items.supplier_notified = ?", false).
		Where("orders.created_at < ?", cutoff)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("orders.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
