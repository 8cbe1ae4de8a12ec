package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
)

// Audit log events written per dispatch attempt.
const (
	EventSupplierNotified     = "order.supplier_notified"
	EventSupplierNotifyFailed = "order.supplier_notify_failed"
	EventProcessing           = "order.processing"
)

type supplierLoader interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Supplier, error)
}

// ServiceParams bundles the bridge dependencies.
type ServiceParams struct {
	OrdersRepo orders.Repository
	Suppliers  supplierLoader
	Notifier   Notifier
	Dispatch   config.DispatchConfig
	Logger     *logger.Logger
}

// Service fans an order's line items out to their suppliers. Acknowledgment
// is tracked per item, so a partial failure only retries the missing groups.
type Service struct {
	ordersRepo orders.Repository
	suppliers  supplierLoader
	notifier   Notifier
	cfg        config.DispatchConfig
	logger     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Suppliers == nil {
		return nil, fmt.Errorf("supplier loader required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		ordersRepo: params.OrdersRepo,
		suppliers:  params.Suppliers,
		notifier:   params.Notifier,
		cfg:        params.Dispatch,
		logger:     params.Logger,
	}, nil
}

type supplierGroup struct {
	supplierID uuid.UUID
	itemIDs    []uuid.UUID
	items      []NotificationItem
}

type groupOutcome struct {
	supplierID uuid.UUID
	itemIDs    []uuid.UUID
	err        error
}

// DispatchOrder notifies every supplier that still has unacknowledged items
// on the order. Safe to call repeatedly; already notified groups are skipped
// and a fully acknowledged order converges to processing.
func (s *Service) DispatchOrder(ctx context.Context, orderID uuid.UUID) error {
	ctx = s.logger.WithOrderID(ctx, orderID.String())

	pending, err := s.ordersRepo.UnnotifiedLineItems(ctx, orderID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return s.markProcessing(ctx, orderID)
	}

	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}

	groups := groupBySupplier(pending)
	ids := make([]uuid.UUID, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.supplierID)
	}
	suppliers, err := s.suppliers.FindByIDs(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load suppliers")
	}

	outcomes := make([]groupOutcome, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group supplierGroup) {
			defer wg.Done()
			outcomes[i] = groupOutcome{
				supplierID: group.supplierID,
				itemIDs:    group.itemIDs,
				err:        s.notifyGroup(ctx, order, suppliers, group),
			}
		}(i, group)
	}
	wg.Wait()

	now := time.Now().UTC()
	var errs []error
	for _, outcome := range outcomes {
		if outcome.err != nil {
			errs = append(errs, outcome.err)
			s.logger.Error(ctx, fmt.Sprintf("notify supplier %s", outcome.supplierID), outcome.err)
			if logErr := s.ordersRepo.AppendLog(ctx, orderID, EventSupplierNotifyFailed, map[string]any{
				"supplier_id": outcome.supplierID,
				"error":       outcome.err.Error(),
			}); logErr != nil {
				s.logger.Error(ctx, "log supplier notify failure", logErr)
			}
			continue
		}
		if err := s.ordersRepo.MarkLineItemsNotified(ctx, outcome.itemIDs, now); err != nil {
			errs = append(errs, err)
			continue
		}
		if logErr := s.ordersRepo.AppendLog(ctx, orderID, EventSupplierNotified, map[string]any{
			"supplier_id": outcome.supplierID,
			"items":       len(outcome.itemIDs),
		}); logErr != nil {
			s.logger.Error(ctx, "log supplier notification", logErr)
		}
	}

	if len(errs) == 0 {
		return s.markProcessing(ctx, orderID)
	}
	failed := len(errs)
	return pkgerrors.Wrap(pkgerrors.CodeSupplierNotify, multierr.Combine(errs...),
		fmt.Sprintf("%d of %d supplier groups not notified", failed, len(groups)))
}

func (s *Service) notifyGroup(ctx context.Context, order *models.Order, suppliers map[uuid.UUID]models.Supplier, group supplierGroup) error {
	supplier, ok := suppliers[group.supplierID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeSupplierNotify, "supplier not found")
	}
	if !supplier.Active {
		return pkgerrors.New(pkgerrors.CodeSupplierNotify, "supplier is inactive")
	}

	notifyCtx := ctx
	if s.cfg.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		notifyCtx, cancel = context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		defer cancel()
	}

	return s.notifier.Notify(notifyCtx, &supplier, Notification{
		OrderID:      order.ID,
		SupplierID:   group.supplierID,
		CustomerName: order.CustomerName,
		Address:      order.Address,
		Items:        group.items,
	})
}

func (s *Service) markProcessing(ctx context.Context, orderID uuid.UUID) error {
	changed, err := s.ordersRepo.Transition(ctx, orderID,
		[]enums.OrderStatus{enums.OrderStatusPaid}, enums.OrderStatusProcessing)
	if err != nil {
		return err
	}
	if changed {
		if err := s.ordersRepo.AppendLog(ctx, orderID, EventProcessing, nil); err != nil {
			s.logger.Error(ctx, "log processing transition", err)
		}
	}
	return nil
}

func groupBySupplier(items []models.OrderLineItem) []supplierGroup {
	bySupplier := map[uuid.UUID]*supplierGroup{}
	for _, item := range items {
		group, ok := bySupplier[item.SupplierID]
		if !ok {
			group = &supplierGroup{supplierID: item.SupplierID}
			bySupplier[item.SupplierID] = group
		}
		group.itemIDs = append(group.itemIDs, item.ID)
		group.items = append(group.items, NotificationItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
		})
	}

	groups := make([]supplierGroup, 0, len(bySupplier))
	for _, group := range bySupplier {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].supplierID.String() < groups[j].supplierID.String()
	})
	return groups
}
