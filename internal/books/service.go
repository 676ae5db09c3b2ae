package books

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	pkgerrors "github.com/94nj111/library-service/pkg/errors"
	"github.com/94nj111/library-service/pkg/pagination"
)

// Service defines catalog operations exposed to controllers.
type Service interface {
	Create(ctx context.Context, input CreateBookInput) (*BookResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*BookResponse, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) (*BookList, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateBookInput) (*BookResponse, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo Repository
}

// NewService builds a catalog service with the required dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("books repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, input CreateBookInput) (*BookResponse, error) {
	cover, err := enums.ParseCoverType(input.Cover)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cover type")
	}
	fee, err := parseDailyFee(input.DailyFee)
	if err != nil {
		return nil, err
	}

	book, err := s.repo.Create(ctx, &models.Book{
		Title:     input.Title,
		Author:    input.Author,
		Cover:     cover,
		Inventory: input.Inventory,
		DailyFee:  fee,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create book")
	}

	resp := toBookResponse(*book)
	return &resp, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*BookResponse, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id required")
	}
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
	}
	resp := toBookResponse(*book)
	return &resp, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters ListFilters) (*BookList, error) {
	rows, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list books")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	list := &BookList{Items: make([]BookResponse, 0, len(rows))}
	for i, row := range rows {
		if i >= limit {
			last := rows[limit-1]
			list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
				CreatedAt: last.CreatedAt,
				ID:        last.ID,
			})
			break
		}
		list.Items = append(list.Items, toBookResponse(row))
	}
	return list, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateBookInput) (*BookResponse, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id required")
	}

	updates := map[string]any{}
	if input.Title != nil {
		updates["title"] = *input.Title
	}
	if input.Author != nil {
		updates["author"] = *input.Author
	}
	if input.Cover != nil {
		cover, err := enums.ParseCoverType(*input.Cover)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cover type")
		}
		updates["cover"] = cover
	}
	if input.Inventory != nil {
		if *input.Inventory < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory cannot be negative")
		}
		updates["inventory"] = *input.Inventory
	}
	if input.DailyFee != nil {
		fee, err := parseDailyFee(*input.DailyFee)
		if err != nil {
			return nil, err
		}
		updates["daily_fee"] = fee
	}
	if len(updates) == 0 {
		return s.Get(ctx, id)
	}

	if err := s.repo.Update(ctx, id, updates); err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update book")
	}
	return s.Get(ctx, id)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "book id required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete book")
	}
	return nil
}

func parseDailyFee(raw string) (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "invalid daily fee")
	}
	if fee.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "daily fee cannot be negative")
	}
	return fee, nil
}
