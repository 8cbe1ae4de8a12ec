package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gustavoferreira/dropmart-backend/pkg/db/models"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/pagination"
)

// View is the storefront projection of a product. Cost never leaves the
// backend.
type View struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	InStock   bool            `json:"in_stock"`
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
}

// Service exposes catalog reads to controllers.
type Service interface {
	List(ctx context.Context, params pagination.Params) ([]View, string, error)
	Get(ctx context.Context, id uuid.UUID) (*View, error)
}

type service struct {
	repo *Repository
}

// NewService builds the catalog service.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) ([]View, string, error) {
	rows, next, err := s.repo.ListActive(ctx, params)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	views := make([]View, 0, len(rows))
	for _, row := range rows {
		views = append(views, viewFromModel(row))
	}
	return views, next, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !row.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	view := viewFromModel(*row)
	return &view, nil
}

func viewFromModel(row models.Product) View {
	return View{
		ID:        row.ID,
		Title:     row.Title,
		Price:     row.Price,
		InStock:   row.Stock > 0,
		Stock:     row.Stock,
		CreatedAt: row.CreatedAt,
	}
}
