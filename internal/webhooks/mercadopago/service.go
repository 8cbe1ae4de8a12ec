package mpwebhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	"github.com/gustavoferreira/dropmart-backend/internal/stock"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/mercadopago"
)

// Audit log events written while reconciling provider notifications.
const (
	EventPaid            = "order.paid"
	EventAwaitingPayment = "order.awaiting_payment"
	EventPaymentRejected = "order.payment_rejected"
	EventRefunded        = "order.refunded"
	EventPaymentMismatch = "order.payment_mismatch"
)

// Event is the notification body Mercado Pago posts to the webhook endpoint.
// Only payment notifications carry anything actionable; the authoritative
// state is always re-fetched from the provider, never trusted from the body.
type Event struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentFetcher interface {
	GetPayment(ctx context.Context, providerPaymentID string) (*mercadopago.Payment, error)
}

type dispatcher interface {
	DispatchOrder(ctx context.Context, orderID uuid.UUID) error
}

type stockRestorer interface {
	Restore(ctx context.Context, db *gorm.DB, demands []stock.Demand) error
}

type restorerImpl struct{}

func (restorerImpl) Restore(ctx context.Context, db *gorm.DB, demands []stock.Demand) error {
	return stock.Restore(ctx, db, demands)
}

// ServiceParams bundles the reconciler dependencies.
type ServiceParams struct {
	OrdersRepo orders.Repository
	Tx         txRunner
	Payments   paymentFetcher
	Dispatch   dispatcher
	Restorer   stockRestorer
	Logger     *logger.Logger
}

// Service reconciles provider payment notifications into order state.
type Service struct {
	ordersRepo orders.Repository
	tx         txRunner
	payments   paymentFetcher
	dispatch   dispatcher
	restorer   stockRestorer
	logger     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment client required")
	}
	if params.Dispatch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dispatch bridge required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Restorer == nil {
		params.Restorer = restorerImpl{}
	}
	return &Service{
		ordersRepo: params.OrdersRepo,
		tx:         params.Tx,
		payments:   params.Payments,
		dispatch:   params.Dispatch,
		restorer:   params.Restorer,
		logger:     params.Logger,
	}, nil
}

// HandleEvent fetches the authoritative payment for a notification and applies
// the matching order transition. Every path is safe to replay.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil || event.Data.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if event.Type != "payment" {
		return nil
	}

	pay, err := s.payments.GetPayment(ctx, event.Data.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payment")
	}
	ctx = s.logger.WithPaymentID(ctx, pay.ID)

	orderID, err := uuid.Parse(pay.ExternalReference)
	if err != nil {
		s.logger.Warn(ctx, fmt.Sprintf("payment %s carries no usable order reference %q", pay.ID, pay.ExternalReference))
		return nil
	}
	ctx = s.logger.WithOrderID(ctx, orderID.String())

	switch enums.PaymentStatus(pay.Status) {
	case enums.PaymentStatusApproved:
		return s.applyApproved(ctx, orderID, pay)
	case enums.PaymentStatusPending, enums.PaymentStatusInProcess:
		return s.applyPending(ctx, orderID)
	case enums.PaymentStatusRejected, enums.PaymentStatusCancelled:
		return s.applyTerminalFailure(ctx, orderID, pay, enums.OrderStatusFailedCheckout, EventPaymentRejected)
	case enums.PaymentStatusRefunded, enums.PaymentStatusChargedBack:
		return s.applyRefund(ctx, orderID, pay)
	default:
		s.logger.Warn(ctx, fmt.Sprintf("ignoring payment %s with unknown status %q", pay.ID, pay.Status))
		return nil
	}
}

func (s *Service) applyApproved(ctx context.Context, orderID uuid.UUID, pay *mercadopago.Payment) error {
	var dispatchable bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)

		changed, err := repo.Transition(ctx, orderID,
			[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment},
			enums.OrderStatusPaid)
		if err != nil {
			return err
		}

		if !changed {
			order, err := repo.FindByID(ctx, orderID)
			if err != nil {
				return err
			}
			if !order.Status.PaidOrLater() {
				// Approved money against an order that left the happy path,
				// e.g. canceled before the payment landed. Needs a human.
				s.logger.Warn(ctx, fmt.Sprintf("approved payment for order in status %s", order.Status))
				if err := repo.AppendLog(ctx, orderID, EventPaymentMismatch, map[string]any{
					"provider_payment_id": pay.ID,
					"order_status":        order.Status,
				}); err != nil {
					return err
				}
				_, err = repo.CreatePaymentRecord(ctx, paymentRecord(orderID, pay))
				return err
			}
		}

		if _, err := repo.CreatePaymentRecord(ctx, paymentRecord(orderID, pay)); err != nil {
			return err
		}
		if changed {
			if err := repo.AppendLog(ctx, orderID, EventPaid, map[string]any{
				"provider_payment_id": pay.ID,
				"gross":               pay.Amount,
				"net":                 pay.Net,
				"method":              pay.Method,
			}); err != nil {
				return err
			}
		}

		dispatchable = true
		return nil
	})
	if err != nil {
		return err
	}

	// Supplier notification happens after commit. Failures are swallowed
	// here; the retry sweep picks up paid orders with unnotified items.
	if dispatchable {
		if err := s.dispatch.DispatchOrder(ctx, orderID); err != nil {
			s.logger.Error(ctx, "dispatch after payment approval", err)
		}
	}
	return nil
}

func (s *Service) applyPending(ctx context.Context, orderID uuid.UUID) error {
	changed, err := s.ordersRepo.Transition(ctx, orderID,
		[]enums.OrderStatus{enums.OrderStatusPending},
		enums.OrderStatusAwaitingPayment)
	if err != nil {
		return err
	}
	if changed {
		if err := s.ordersRepo.AppendLog(ctx, orderID, EventAwaitingPayment, nil); err != nil {
			s.logger.Error(ctx, "log awaiting payment", err)
		}
	}
	return nil
}

// applyTerminalFailure marks the order failed and releases the reserved
// stock. The status guard makes the stock credit run at most once even when
// the provider delivers the same terminal notification repeatedly.
func (s *Service) applyTerminalFailure(ctx context.Context, orderID uuid.UUID, pay *mercadopago.Payment, to enums.OrderStatus, event string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)

		changed, err := repo.Transition(ctx, orderID,
			[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment}, to)
		if err != nil {
			return err
		}
		if _, err := repo.CreatePaymentRecord(ctx, paymentRecord(orderID, pay)); err != nil {
			return err
		}
		if !changed {
			return nil
		}

		if err := s.restoreStock(ctx, tx, repo, orderID); err != nil {
			return err
		}
		return repo.AppendLog(ctx, orderID, event, map[string]any{
			"provider_payment_id": pay.ID,
			"payment_status":      pay.Status,
		})
	})
}

func (s *Service) applyRefund(ctx context.Context, orderID uuid.UUID, pay *mercadopago.Payment) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ordersRepo.WithTx(tx)

		changed, err := repo.Transition(ctx, orderID,
			[]enums.OrderStatus{enums.OrderStatusPaid}, enums.OrderStatusRefunded)
		if err != nil {
			return err
		}
		if _, err := repo.CreatePaymentRecord(ctx, paymentRecord(orderID, pay)); err != nil {
			return err
		}
		if !changed {
			return nil
		}

		if err := s.restoreStock(ctx, tx, repo, orderID); err != nil {
			return err
		}
		return repo.AppendLog(ctx, orderID, EventRefunded, map[string]any{
			"provider_payment_id": pay.ID,
		})
	})
}

func (s *Service) restoreStock(ctx context.Context, tx *gorm.DB, repo orders.Repository, orderID uuid.UUID) error {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	demands := make([]stock.Demand, 0, len(order.LineItems))
	for _, line := range order.LineItems {
		demands = append(demands, stock.Demand{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return s.restorer.Restore(ctx, tx, demands)
}

func paymentRecord(orderID uuid.UUID, pay *mercadopago.Payment) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:                uuid.New(),
		OrderID:           orderID,
		ProviderPaymentID: pay.ID,
		Status:            enums.PaymentStatus(pay.Status),
		Gross:             pay.Amount,
		Fee:               pay.Fee,
		Net:               pay.Net,
		Method:            pay.Method,
	}
}
