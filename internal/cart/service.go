package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	product "github.com/gustavoferreira/dropmart-backend/internal/products"
	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
)

// ItemView is one consolidated cart line priced at current catalog values.
type ItemView struct {
	ProductID uuid.UUID       `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// View is the whole cart as shown to the buyer. Total is advisory; the
// checkout recomputes it from then-current prices.
type View struct {
	Items []ItemView      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// Service exposes the cart operations.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*View, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*View, error)
}

type service struct {
	repo     *Repository
	products *product.Repository
}

// NewService builds the cart service.
func NewService(repo *Repository, products *product.Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	return &service{repo: repo, products: products}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &View{Items: []ItemView{}, Total: decimal.Zero}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return s.render(ctx, cart)
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	listing, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !listing.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}

	cart, err := s.repo.EnsureForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure cart")
	}
	if err := s.repo.UpsertItem(ctx, cart.ID, productID, quantity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add cart item")
	}
	return s.Get(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart is empty")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	removed, err := s.repo.RemoveItem(ctx, cart.ID, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
	}
	if !removed {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not in cart")
	}
	return s.Get(ctx, userID)
}

func (s *service) render(ctx context.Context, cart *models.Cart) (*View, error) {
	if len(cart.Items) == 0 {
		return &View{Items: []ItemView{}, Total: decimal.Zero}, nil
	}

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	catalog, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "price cart items")
	}

	view := &View{Items: make([]ItemView, 0, len(cart.Items)), Total: decimal.Zero}
	for _, item := range cart.Items {
		listing, ok := catalog[item.ProductID]
		if !ok {
			// Product removed from the catalog since it was added.
			continue
		}
		lineTotal := listing.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		view.Items = append(view.Items, ItemView{
			ProductID: item.ProductID,
			Title:     listing.Title,
			UnitPrice: listing.Price,
			Quantity:  item.Quantity,
			LineTotal: lineTotal,
		})
		view.Total = view.Total.Add(lineTotal)
	}
	return view, nil
}
