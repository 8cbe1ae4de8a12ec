package dispatch

import (
	"context"
	"encoding/json"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/supplierhttp"
	"github.com/gustavoferreira/dropmart-backend/pkg/types"
)

// Notification is the fulfillment request sent to one supplier for one order.
type Notification struct {
	OrderID      uuid.UUID          `json:"order_id"`
	SupplierID   uuid.UUID          `json:"supplier_id"`
	CustomerName string             `json:"customer_name"`
	Address      types.Address      `json:"address"`
	Items        []NotificationItem `json:"items"`
}

// NotificationItem carries the snapshot values, not live catalog rows.
type NotificationItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Title     string    `json:"title"`
	Quantity  int       `json:"quantity"`
}

// Notifier delivers a fulfillment request to a supplier over one transport.
type Notifier interface {
	Notify(ctx context.Context, supplier *models.Supplier, note Notification) error
}

// HTTPNotifier posts the notification to the supplier's configured endpoint.
type HTTPNotifier struct {
	client *supplierhttp.Client
}

func NewHTTPNotifier(client *supplierhttp.Client) (*HTTPNotifier, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "supplier http client required")
	}
	return &HTTPNotifier{client: client}, nil
}

func (n *HTTPNotifier) Notify(ctx context.Context, supplier *models.Supplier, note Notification) error {
	if supplier == nil || supplier.Endpoint == nil || *supplier.Endpoint == "" {
		return pkgerrors.New(pkgerrors.CodeSupplierNotify, "supplier has no notification endpoint")
	}
	return n.client.Notify(ctx, *supplier.Endpoint, note)
}

// PubSubNotifier publishes the notification on the supplier dispatch topic.
// Suppliers without an HTTP endpoint consume it from there.
type PubSubNotifier struct {
	publisher *gcppubsub.Publisher
	timeout   time.Duration
}

func NewPubSubNotifier(publisher *gcppubsub.Publisher, timeout time.Duration) (*PubSubNotifier, error) {
	if publisher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "supplier publisher required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PubSubNotifier{publisher: publisher, timeout: timeout}, nil
}

func (n *PubSubNotifier) Notify(ctx context.Context, supplier *models.Supplier, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode supplier notification")
	}

	publishCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	result := n.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"order_id":    note.OrderID.String(),
			"supplier_id": note.SupplierID.String(),
		},
	})
	if _, err := result.Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeSupplierNotify, err, "publish supplier notification")
	}
	return nil
}
