package mpwebhook

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	"github.com/gustavoferreira/dropmart-backend/internal/stock"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/mercadopago"
	"github.com/gustavoferreira/dropmart-backend/pkg/pagination"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubFetcher struct {
	pay   *mercadopago.Payment
	err   error
	calls int
}

func (s *stubFetcher) GetPayment(ctx context.Context, providerPaymentID string) (*mercadopago.Payment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.pay, nil
}

type stubDispatcher struct {
	calls []uuid.UUID
	err   error
}

func (s *stubDispatcher) DispatchOrder(ctx context.Context, orderID uuid.UUID) error {
	s.calls = append(s.calls, orderID)
	return s.err
}

type stubRestorer struct {
	restored [][]stock.Demand
}

func (s *stubRestorer) Restore(ctx context.Context, db *gorm.DB, demands []stock.Demand) error {
	s.restored = append(s.restored, demands)
	return nil
}

type stubOrdersRepo struct {
	order    *models.Order
	payments []*models.PaymentRecord
	logs     []string
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

func (s *stubOrdersRepo) Transition(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error) {
	if s.order == nil || s.order.ID != orderID {
		return false, nil
	}
	for _, candidate := range from {
		if s.order.Status == candidate {
			s.order.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *stubOrdersRepo) CreatePaymentRecord(ctx context.Context, record *models.PaymentRecord) (bool, error) {
	for _, existing := range s.payments {
		if existing.ProviderPaymentID == record.ProviderPaymentID {
			return false, nil
		}
	}
	s.payments = append(s.payments, record)
	return true, nil
}

func (s *stubOrdersRepo) AppendLog(ctx context.Context, orderID uuid.UUID, event string, detail map[string]any) error {
	s.logs = append(s.logs, event)
	return nil
}

func (s *stubOrdersRepo) Create(ctx context.Context, order *models.Order) error { panic("unused") }
func (s *stubOrdersRepo) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Order, string, error) {
	panic("unused")
}
func (s *stubOrdersRepo) SetPaymentPreference(ctx context.Context, orderID uuid.UUID, preferenceID, paymentURL string) error {
	panic("unused")
}
func (s *stubOrdersRepo) UnnotifiedLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	panic("unused")
}
func (s *stubOrdersRepo) MarkLineItemsNotified(ctx context.Context, itemIDs []uuid.UUID, at time.Time) error {
	panic("unused")
}
func (s *stubOrdersRepo) StaleOrders(ctx context.Context, statuses []enums.OrderStatus, cutoff time.Time, limit int) ([]models.Order, error) {
	panic("unused")
}
func (s *stubOrdersRepo) PaidWithUnnotifiedItems(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	panic("unused")
}

type fixture struct {
	svc      *Service
	repo     *stubOrdersRepo
	dispatch *stubDispatcher
	restorer *stubRestorer
	fetcher  *stubFetcher
	orderID  uuid.UUID
}

func newFixture(t *testing.T, status enums.OrderStatus, paymentStatus string) *fixture {
	t.Helper()

	orderID := uuid.New()
	repo := &stubOrdersRepo{
		order: &models.Order{
			ID:     orderID,
			Status: status,
			LineItems: []models.OrderLineItem{
				{ProductID: uuid.New(), Quantity: 2},
				{ProductID: uuid.New(), Quantity: 1},
			},
		},
	}
	fetcher := &stubFetcher{pay: &mercadopago.Payment{
		ID:                "mp-1001",
		Status:            paymentStatus,
		ExternalReference: orderID.String(),
		Amount:            decimal.RequireFromString("56.70"),
		Fee:               decimal.RequireFromString("2.83"),
		Net:               decimal.RequireFromString("53.87"),
		Method:            "pix",
	}}
	dispatch := &stubDispatcher{}
	restorer := &stubRestorer{}

	svc, err := NewService(ServiceParams{
		OrdersRepo: repo,
		Tx:         stubTxRunner{},
		Payments:   fetcher,
		Dispatch:   dispatch,
		Restorer:   restorer,
		Logger:     logger.New(logger.Options{ServiceName: "webhook-test", Level: zerolog.Disabled, Output: io.Discard}),
	})
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, dispatch: dispatch, restorer: restorer, fetcher: fetcher, orderID: orderID}
}

func paymentEvent(paymentID string) *Event {
	event := &Event{Type: "payment", Action: "payment.updated"}
	event.Data.ID = paymentID
	return event
}

func TestHandleEventApprovedMarksPaidAndDispatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusAwaitingPayment, "approved")
	require.NoError(t, f.svc.HandleEvent(context.Background(), paymentEvent("mp-1001")))

	assert.Equal(t, enums.OrderStatusPaid, f.repo.order.Status)
	require.Len(t, f.repo.payments, 1)
	assert.Equal(t, "mp-1001", f.repo.payments[0].ProviderPaymentID)
	assert.Equal(t, enums.PaymentStatusApproved, f.repo.payments[0].Status)
	assert.Contains(t, f.repo.logs, EventPaid)
	require.Len(t, f.dispatch.calls, 1)
	assert.Equal(t, f.orderID, f.dispatch.calls[0])
}

func TestHandleEventApprovedReplaySafe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusPending, "approved")
	ctx := context.Background()

	require.NoError(t, f.svc.HandleEvent(ctx, paymentEvent("mp-1001")))
	require.NoError(t, f.svc.HandleEvent(ctx, paymentEvent("mp-1001")))

	assert.Equal(t, enums.OrderStatusPaid, f.repo.order.Status)
	// Duplicate delivery keeps a single accounting row and a single paid log.
	assert.Len(t, f.repo.payments, 1)
	paidLogs := 0
	for _, entry := range f.repo.logs {
		if entry == EventPaid {
			paidLogs++
		}
	}
	assert.Equal(t, 1, paidLogs)
	// Re-dispatching is harmless; the bridge itself is idempotent.
	assert.Len(t, f.dispatch.calls, 2)
}

func TestHandleEventApprovedAfterCancelRecordsMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusCanceled, "approved")
	require.NoError(t, f.svc.HandleEvent(context.Background(), paymentEvent("mp-1001")))

	assert.Equal(t, enums.OrderStatusCanceled, f.repo.order.Status)
	assert.Contains(t, f.repo.logs, EventPaymentMismatch)
	assert.Len(t, f.repo.payments, 1)
	assert.Empty(t, f.dispatch.calls)
}

func TestHandleEventPendingMovesToAwaiting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusPending, "pending")
	ctx := context.Background()

	require.NoError(t, f.svc.HandleEvent(ctx, paymentEvent("mp-1001")))
	assert.Equal(t, enums.OrderStatusAwaitingPayment, f.repo.order.Status)
	assert.Contains(t, f.repo.logs, EventAwaitingPayment)

	// A paid order never regresses to awaiting_payment.
	f.repo.order.Status = enums.OrderStatusPaid
	require.NoError(t, f.svc.HandleEvent(ctx, paymentEvent("mp-1001")))
	assert.Equal(t, enums.OrderStatusPaid, f.repo.order.Status)
}

func TestHandleEventRejectedRestoresStockOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusAwaitingPayment, "rejected")
	ctx := context.Background()

	require.NoError(t, f.svc.HandleEvent(ctx, paymentEvent("mp-1001")))
	assert.Equal(t, enums.OrderStatusFailedCheckout, f.repo.order.Status)
	assert.Contains(t, f.repo.logs, EventPaymentRejected)
	require.Len(t, f.restorer.restored, 1)
	assert.Len(t, f.restorer.restored[0], 2)

	// Replay keeps the stock credit single-shot.
	require.NoError(t, f.svc.HandleEvent(ctx, paymentEvent("mp-1001")))
	assert.Len(t, f.restorer.restored, 1)
}

func TestHandleEventRefundRestoresStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusPaid, "refunded")
	require.NoError(t, f.svc.HandleEvent(context.Background(), paymentEvent("mp-1001")))

	assert.Equal(t, enums.OrderStatusRefunded, f.repo.order.Status)
	assert.Contains(t, f.repo.logs, EventRefunded)
	assert.Len(t, f.restorer.restored, 1)
}

func TestHandleEventRefundIgnoresShippedOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusShipped, "refunded")
	require.NoError(t, f.svc.HandleEvent(context.Background(), paymentEvent("mp-1001")))

	assert.Equal(t, enums.OrderStatusShipped, f.repo.order.Status)
	assert.Empty(t, f.restorer.restored)
}

func TestHandleEventIgnoresNonPaymentTypes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusPending, "approved")
	event := &Event{Type: "merchant_order"}
	event.Data.ID = "mo-1"

	require.NoError(t, f.svc.HandleEvent(context.Background(), event))
	assert.Zero(t, f.fetcher.calls)
	assert.Equal(t, enums.OrderStatusPending, f.repo.order.Status)
}

func TestHandleEventUnparseableReferenceIsLoggedAndDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, enums.OrderStatusPending, "approved")
	f.fetcher.pay.ExternalReference = "not-an-order"

	require.NoError(t, f.svc.HandleEvent(context.Background(), paymentEvent("mp-1001")))
	assert.Equal(t, enums.OrderStatusPending, f.repo.order.Status)
	assert.Empty(t, f.repo.payments)
}
