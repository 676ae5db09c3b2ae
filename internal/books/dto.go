package books

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
)

// CreateBookInput captures the admin payload for adding a title.
type CreateBookInput struct {
	Title     string `json:"title" validate:"required,max=255"`
	Author    string `json:"author" validate:"required,max=255"`
	Cover     string `json:"cover" validate:"required,oneof=HARD SOFT"`
	Inventory int    `json:"inventory" validate:"gte=0"`
	DailyFee  string `json:"daily_fee" validate:"required"`
}

// UpdateBookInput carries partial updates; nil fields stay untouched.
type UpdateBookInput struct {
	Title     *string `json:"title,omitempty" validate:"omitempty,max=255"`
	Author    *string `json:"author,omitempty" validate:"omitempty,max=255"`
	Cover     *string `json:"cover,omitempty" validate:"omitempty,oneof=HARD SOFT"`
	Inventory *int    `json:"inventory,omitempty" validate:"omitempty,gte=0"`
	DailyFee  *string `json:"daily_fee,omitempty"`
}

// ListFilters narrows the catalog listing.
type ListFilters struct {
	Title  string
	Author string
}

// BookResponse is the wire representation of a catalog entry.
type BookResponse struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Author    string          `json:"author"`
	Cover     enums.CoverType `json:"cover"`
	Inventory int             `json:"inventory"`
	DailyFee  decimal.Decimal `json:"daily_fee"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BookList is a cursor page of catalog entries.
type BookList struct {
	Items      []BookResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toBookResponse(book models.Book) BookResponse {
	return BookResponse{
		ID:        book.ID,
		Title:     book.Title,
		Author:    book.Author,
		Cover:     book.Cover,
		Inventory: book.Inventory,
		DailyFee:  book.DailyFee,
		CreatedAt: book.CreatedAt,
		UpdatedAt: book.UpdatedAt,
	}
}
