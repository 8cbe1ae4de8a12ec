package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/internal/cart"
	"github.com/gustavoferreira/dropmart-backend/internal/orders"
	"github.com/gustavoferreira/dropmart-backend/internal/pricing"
	product "github.com/gustavoferreira/dropmart-backend/internal/products"
	"github.com/gustavoferreira/dropmart-backend/internal/stock"
	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	"github.com/gustavoferreira/dropmart-backend/pkg/enums"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
	"github.com/gustavoferreira/dropmart-backend/pkg/mercadopago"
	"github.com/gustavoferreira/dropmart-backend/pkg/types"
)

// Audit log events written by the orchestrator.
const (
	EventCreated           = "order.created"
	EventPreferenceCreated = "order.preference_created"
	EventCheckoutFailed    = "order.checkout_failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type guestProvisioner interface {
	ProvisionGuest(ctx context.Context, tx *gorm.DB, name, email string) (*models.User, error)
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type preferenceCreator interface {
	CreatePreference(ctx context.Context, input mercadopago.PreferenceInput) (*mercadopago.Preference, error)
}

type stockLedger interface {
	Lock(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
	Reserve(ctx context.Context, tx *gorm.DB, demands []stock.Demand) error
	Restore(ctx context.Context, db *gorm.DB, demands []stock.Demand) error
}

type ledgerEngine struct{}

func (ledgerEngine) Lock(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	return stock.Lock(ctx, tx, ids)
}

func (ledgerEngine) Reserve(ctx context.Context, tx *gorm.DB, demands []stock.Demand) error {
	return stock.Reserve(ctx, tx, demands)
}

func (ledgerEngine) Restore(ctx context.Context, db *gorm.DB, demands []stock.Demand) error {
	return stock.Restore(ctx, db, demands)
}

// GuestInfo identifies an unauthenticated buyer.
type GuestInfo struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Email string `json:"email" validate:"required,email"`
}

// ItemInput is one direct-buy line. When absent the buyer's cart is used.
type ItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// Input carries everything the orchestrator needs for one checkout.
type Input struct {
	UserID         uuid.UUID
	Guest          *GuestInfo
	Address        types.Address
	Items          []ItemInput
	DisplayedTotal *decimal.Decimal
}

// Result answers a successful checkout.
type Result struct {
	OrderID    uuid.UUID         `json:"order_id"`
	Total      decimal.Decimal   `json:"total"`
	Status     enums.OrderStatus `json:"status"`
	PaymentURL string            `json:"payment_url"`
}

// Service executes the checkout transaction plus the provider call.
type Service interface {
	Execute(ctx context.Context, input Input) (*Result, error)
}

type service struct {
	tx         txRunner
	conn       *gorm.DB
	ordersRepo orders.Repository
	cartRepo   *cart.Repository
	products   *product.Repository
	identity   guestProvisioner
	users      userLoader
	policy     *pricing.Policy
	ledger     stockLedger
	payments   preferenceCreator
	cfg        config.CheckoutConfig
	logger     *logger.Logger
}

// ServiceParams bundles the orchestrator dependencies.
type ServiceParams struct {
	Tx         txRunner
	Conn       *gorm.DB
	OrdersRepo orders.Repository
	CartRepo   *cart.Repository
	Products   *product.Repository
	Identity   guestProvisioner
	Users      userLoader
	Policy     *pricing.Policy
	Ledger     stockLedger
	Payments   preferenceCreator
	Checkout   config.CheckoutConfig
	Logger     *logger.Logger
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Conn == nil {
		return nil, fmt.Errorf("db connection required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.CartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.Identity == nil {
		return nil, fmt.Errorf("identity service required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user loader required")
	}
	if params.Policy == nil {
		return nil, fmt.Errorf("pricing policy required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment preference client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		params.Ledger = ledgerEngine{}
	}
	return &service{
		tx:         params.Tx,
		conn:       params.Conn,
		ordersRepo: params.OrdersRepo,
		cartRepo:   params.CartRepo,
		products:   params.Products,
		identity:   params.Identity,
		users:      params.Users,
		policy:     params.Policy,
		ledger:     params.Ledger,
		payments:   params.Payments,
		cfg:        params.Checkout,
		logger:     params.Logger,
	}, nil
}

func (s *service) Execute(ctx context.Context, input Input) (*Result, error) {
	if err := input.Address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery address")
	}
	if input.UserID == uuid.Nil && input.Guest == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication or guest info required")
	}

	epsilon, err := decimal.NewFromString(s.cfg.PriceEpsilon)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse price epsilon")
	}

	var (
		order   *models.Order
		demands []stock.Demand
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		buyer, err := s.resolveBuyer(ctx, tx, input)
		if err != nil {
			return err
		}

		demandsTx, fromCart, cartID, err := s.resolveDemands(ctx, tx, buyer.ID, input.Items)
		if err != nil {
			return err
		}
		demands = demandsTx

		lines, totals, err := s.priceDemands(ctx, tx, demands)
		if err != nil {
			return err
		}

		if input.DisplayedTotal != nil {
			if totals.total.Sub(*input.DisplayedTotal).Abs().GreaterThan(epsilon) {
				return pkgerrors.New(pkgerrors.CodePriceChanged, "prices changed since the cart was displayed").
					WithDetails(map[string]any{
						"displayed_total": input.DisplayedTotal,
						"current_total":   totals.total,
					})
			}
		}

		if err := s.ledger.Reserve(ctx, tx, demands); err != nil {
			return err
		}

		order = &models.Order{
			ID:            uuid.New(),
			UserID:        buyer.ID,
			Status:        enums.OrderStatusPending,
			Total:         totals.total,
			TotalCost:     totals.cost,
			NetProfit:     totals.profit,
			CustomerName:  buyer.Name,
			CustomerEmail: buyer.Email,
			Address:       input.Address.Normalized(),
			LineItems:     lines,
		}
		for i := range order.LineItems {
			order.LineItems[i].OrderID = order.ID
		}

		repo := s.ordersRepo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		if err := repo.AppendLog(ctx, order.ID, EventCreated, map[string]any{
			"total": totals.total,
			"items": len(order.LineItems),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "log order creation")
		}

		if fromCart {
			if err := s.cartRepo.WithTx(tx).Clear(ctx, cartID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	preference, err := s.createPreference(ctx, order)
	if err != nil {
		return nil, s.compensate(ctx, order, demands, err)
	}

	if err := s.ordersRepo.SetPaymentPreference(ctx, order.ID, preference.ID, preference.InitPoint); err != nil {
		return nil, s.compensate(ctx, order, demands, err)
	}
	if err := s.ordersRepo.AppendLog(ctx, order.ID, EventPreferenceCreated, map[string]any{
		"preference_id": preference.ID,
	}); err != nil {
		s.logger.Error(s.logger.WithOrderID(ctx, order.ID.String()), "log preference creation", err)
	}

	return &Result{
		OrderID:    order.ID,
		Total:      order.Total,
		Status:     enums.OrderStatusPending,
		PaymentURL: preference.InitPoint,
	}, nil
}

type buyer struct {
	ID    uuid.UUID
	Name  string
	Email string
}

func (s *service) resolveBuyer(ctx context.Context, tx *gorm.DB, input Input) (*buyer, error) {
	if input.UserID != uuid.Nil {
		user, err := s.users.FindByID(ctx, input.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account no longer exists")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
		}
		return &buyer{ID: user.ID, Name: user.Name, Email: user.Email}, nil
	}

	guest, err := s.identity.ProvisionGuest(ctx, tx, input.Guest.Name, input.Guest.Email)
	if err != nil {
		return nil, err
	}
	return &buyer{ID: guest.ID, Name: guest.Name, Email: guest.Email}, nil
}

func (s *service) resolveDemands(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, items []ItemInput) ([]stock.Demand, bool, uuid.UUID, error) {
	if len(items) > 0 {
		demands := make([]stock.Demand, 0, len(items))
		for _, item := range items {
			if item.Quantity < 1 {
				return nil, false, uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be at least 1")
			}
			demands = append(demands, stock.Demand{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		return stock.Consolidate(demands), false, uuid.Nil, nil
	}

	record, err := s.cartRepo.WithTx(tx).FindByUser(ctx, buyerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, uuid.Nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no items")
		}
		return nil, false, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(record.Items) == 0 {
		return nil, false, uuid.Nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no items")
	}

	demands := make([]stock.Demand, 0, len(record.Items))
	for _, item := range record.Items {
		demands = append(demands, stock.Demand{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return stock.Consolidate(demands), true, record.ID, nil
}

type orderTotals struct {
	total  decimal.Decimal
	cost   decimal.Decimal
	profit decimal.Decimal
}

// priceDemands locks the product rows, then loads the catalog data, runs the
// margin gate per product and builds the snapshot line items at current
// prices. Holding the lock before the read keeps a concurrent price update
// from landing between the pricing snapshot and the stock decrement.
func (s *service) priceDemands(ctx context.Context, tx *gorm.DB, demands []stock.Demand) ([]models.OrderLineItem, orderTotals, error) {
	ids := make([]uuid.UUID, 0, len(demands))
	for _, d := range demands {
		ids = append(ids, d.ProductID)
	}

	if err := s.ledger.Lock(ctx, tx, ids); err != nil {
		return nil, orderTotals{}, err
	}

	catalog, err := s.products.WithTx(tx).FindByIDs(ctx, ids)
	if err != nil {
		return nil, orderTotals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	totals := orderTotals{total: decimal.Zero, cost: decimal.Zero}
	lines := make([]models.OrderLineItem, 0, len(demands))
	for _, d := range demands {
		listing, ok := catalog[d.ProductID]
		if !ok || !listing.Active {
			return nil, orderTotals{}, pkgerrors.New(pkgerrors.CodeNotFound, "product unavailable").
				WithDetails(map[string]any{"product_id": d.ProductID})
		}

		ev := s.policy.EvaluateSale(listing.Price, listing.Cost)
		if !ev.Allowed {
			return nil, orderTotals{}, pkgerrors.New(pkgerrors.CodeMarginTooLow, "margin too low for "+listing.Title).
				WithDetails(map[string]any{
					"product_id": listing.ID,
					"margin_pct": ev.MarginPct,
					"minimum":    s.policy.MinimumMargin(),
				})
		}

		qty := decimal.NewFromInt(int64(d.Quantity))
		totals.total = totals.total.Add(listing.Price.Mul(qty))
		totals.cost = totals.cost.Add(listing.Cost.Mul(qty))

		lines = append(lines, models.OrderLineItem{
			ID:         uuid.New(),
			ProductID:  listing.ID,
			Quantity:   d.Quantity,
			Title:      listing.Title,
			UnitPrice:  listing.Price,
			UnitCost:   listing.Cost,
			SupplierID: listing.SupplierID,
		})
	}

	totals.profit = totals.total.Sub(totals.cost).Sub(totals.total.Mul(s.policy.FeeRate()))
	return lines, totals, nil
}

func (s *service) createPreference(ctx context.Context, order *models.Order) (*mercadopago.Preference, error) {
	items := make([]mercadopago.PreferenceItem, 0, len(order.LineItems))
	for _, line := range order.LineItems {
		items = append(items, mercadopago.PreferenceItem{
			Title:     line.Title,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	input := mercadopago.PreferenceInput{
		OrderID:    order.ID.String(),
		PayerEmail: order.CustomerEmail,
		Items:      items,
	}

	tries := s.cfg.ProviderTries
	if tries < 1 {
		tries = 1
	}
	backoff := retry.WithMaxRetries(uint64(tries-1), retry.NewExponential(500*time.Millisecond))

	var preference *mercadopago.Preference
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx := ctx
		if s.cfg.ProviderTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
			defer cancel()
		}
		created, err := s.payments.CreatePreference(callCtx, input)
		if err != nil {
			if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeValidation {
				return err
			}
			return retry.RetryableError(err)
		}
		preference = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preference, nil
}

// compensate releases the reserved stock and fails the order after the
// provider call could not complete. The checkout transaction already
// committed, so this runs at-least-once semantics outside any tx.
func (s *service) compensate(ctx context.Context, order *models.Order, demands []stock.Demand, cause error) error {
	ctx = s.logger.WithOrderID(ctx, order.ID.String())
	s.logger.Error(ctx, "payment preference creation failed, compensating", cause)

	changed, err := s.ordersRepo.Transition(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusFailedCheckout)
	if err != nil {
		s.logger.Error(ctx, "mark order failed_checkout", err)
	}
	if changed {
		if err := s.ledger.Restore(ctx, s.conn, demands); err != nil {
			s.logger.Error(ctx, "restore stock after failed checkout", err)
		}
		if err := s.ordersRepo.AppendLog(ctx, order.ID, EventCheckoutFailed, map[string]any{
			"reason": cause.Error(),
		}); err != nil {
			s.logger.Error(ctx, "log failed checkout", err)
		}
	}

	if appErr := pkgerrors.As(cause); appErr != nil {
		return appErr
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "payment provider unavailable")
}
