package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/types"
)

// Summary is the list-view projection of an order.
type Summary struct {
	ID        uuid.UUID         `json:"id"`
	Status    enums.OrderStatus `json:"status"`
	Total     decimal.Decimal   `json:"total"`
	CreatedAt time.Time         `json:"created_at"`
}

// LineItemView exposes the immutable purchase snapshot.
type LineItemView struct {
	ProductID uuid.UUID       `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Detail is the single-order projection including line items.
type Detail struct {
	ID            uuid.UUID         `json:"id"`
	Status        enums.OrderStatus `json:"status"`
	Total         decimal.Decimal   `json:"total"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	Address       types.Address     `json:"address"`
	PaymentURL    *string           `json:"payment_url,omitempty"`
	Items         []LineItemView    `json:"items"`
	CreatedAt     time.Time         `json:"created_at"`
}

// StatusView answers the lightweight checkout status poll.
type StatusView struct {
	ID         uuid.UUID         `json:"id"`
	Status     enums.OrderStatus `json:"status"`
	PaymentURL *string           `json:"payment_url,omitempty"`
}

func summaryFromModel(order models.Order) Summary {
	return Summary{
		ID:        order.ID,
		Status:    order.Status,
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
	}
}

func detailFromModel(order *models.Order) *Detail {
	items := make([]LineItemView, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		items = append(items, LineItemView{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return &Detail{
		ID:            order.ID,
		Status:        order.Status,
		Total:         order.Total,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Address:       order.Address,
		PaymentURL:    order.PaymentURL,
		Items:         items,
		CreatedAt:     order.CreatedAt,
	}
}
