package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/internal/stock"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/pagination"
)

// Audit log events written by order state changes.
const (
	EventCanceled  = "order.canceled"
	EventExpired   = "order.expired"
	EventShipped   = "order.shipped"
	EventDelivered = "order.delivered"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StockRestorer credits reserved stock back, used on cancellation paths.
type StockRestorer interface {
	Restore(ctx context.Context, db *gorm.DB, demands []stock.Demand) error
}

// Service exposes order reads and the customer/admin state transitions.
type Service interface {
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]Summary, string, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*Detail, error)
	Status(ctx context.Context, orderID uuid.UUID) (*StatusView, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID) error
	Expire(ctx context.Context, orderID uuid.UUID) error
	MarkShipped(ctx context.Context, orderID uuid.UUID) error
	MarkDelivered(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	repo     Repository
	tx       txRunner
	restorer StockRestorer
}

// NewService builds the orders service.
func NewService(repo Repository, tx txRunner, restorer StockRestorer) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if restorer == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	return &service{repo: repo, tx: tx, restorer: restorer}, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]Summary, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	rows, next, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, summaryFromModel(row))
	}
	return summaries, next, nil
}

func (s *service) Get(ctx context.Context, userID, orderID uuid.UUID) (*Detail, error) {
	order, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return detailFromModel(order), nil
}

// loadOwned fetches an order and enforces that it belongs to userID.
func (s *service) loadOwned(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

func (s *service) Status(ctx context.Context, orderID uuid.UUID) (*StatusView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &StatusView{ID: order.ID, Status: order.Status, PaymentURL: order.PaymentURL}, nil
}

// Cancel returns stock and flips the order to canceled. Repeating the call on
// an already canceled order succeeds without crediting stock again.
func (s *service) Cancel(ctx context.Context, userID, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := findForUpdate(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		if order.Status == enums.OrderStatusCanceled {
			return nil
		}
		return s.cancelLocked(ctx, tx, repo, order, EventCanceled)
	})
}

// Expire is the sweep-side cancellation for orders stuck before payment.
func (s *service) Expire(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := findForUpdate(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCanceled {
			return nil
		}
		if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusAwaitingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order no longer awaiting payment")
		}
		return s.cancelLocked(ctx, tx, repo, order, EventExpired)
	})
}

func (s *service) cancelLocked(ctx context.Context, tx *gorm.DB, repo Repository, order *orderState, event string) error {
	changed, err := repo.Transition(ctx, order.ID, cancelableStatuses, enums.OrderStatusCanceled)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if !changed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be canceled in status "+order.Status.String())
	}
	if err := s.restorer.Restore(ctx, tx, order.Demands); err != nil {
		return err
	}
	return repo.AppendLog(ctx, order.ID, event, map[string]any{"from": order.Status})
}

func (s *service) MarkShipped(ctx context.Context, orderID uuid.UUID) error {
	return s.adminTransition(ctx, orderID,
		[]enums.OrderStatus{enums.OrderStatusProcessing}, enums.OrderStatusShipped, EventShipped)
}

func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.adminTransition(ctx, orderID,
		[]enums.OrderStatus{enums.OrderStatusShipped}, enums.OrderStatusDelivered, EventDelivered)
}

func (s *service) adminTransition(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, event string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		changed, err := repo.Transition(ctx, orderID, from, to)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !changed {
			order, err := repo.FindByID(ctx, orderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
			}
			if order.Status == to {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move order from %s to %s", order.Status, to))
		}
		return repo.AppendLog(ctx, orderID, event, nil)
	})
}

var cancelableStatuses = []enums.OrderStatus{
	enums.OrderStatusPending,
	enums.OrderStatusAwaitingPayment,
	enums.OrderStatusPaid,
}

type orderState struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Status  enums.OrderStatus
	Demands []stock.Demand
}

func findForUpdate(ctx context.Context, repo Repository, orderID uuid.UUID) (*orderState, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	demands := make([]stock.Demand, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		demands = append(demands, stock.Demand{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return &orderState{ID: order.ID, UserID: order.UserID, Status: order.Status, Demands: demands}, nil
}

type stockRestorer struct{}

// NewStockRestorer exposes the default ledger-backed restore implementation.
func NewStockRestorer() StockRestorer {
	return stockRestorer{}
}

func (stockRestorer) Restore(ctx context.Context, db *gorm.DB, demands []stock.Demand) error {
	return stock.Restore(ctx, db, demands)
}
