package borrowings

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
)

// DateLayout is the wire format for borrowing dates.
const DateLayout = "2006-01-02"

// CreateBorrowingInput captures the payload for taking a book out.
type CreateBorrowingInput struct {
	BookID             uuid.UUID `json:"book_id" validate:"required"`
	BorrowDate         string    `json:"borrow_date,omitempty"`
	ExpectedReturnDate string    `json:"expected_return_date" validate:"required"`

	ActorUserID uuid.UUID      `json:"-"`
	ActorRole   enums.UserRole `json:"-"`
}

// ListFilters narrows the borrowing listing.
type ListFilters struct {
	IsActive *bool
	UserID   *uuid.UUID
}

// BookBrief is the nested catalog summary embedded in borrowing payloads.
type BookBrief struct {
	ID       uuid.UUID       `json:"id"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Cover    enums.CoverType `json:"cover"`
	DailyFee decimal.Decimal `json:"daily_fee"`
}

// BorrowingResponse is the wire representation of a borrowing.
type BorrowingResponse struct {
	ID                 uuid.UUID  `json:"id"`
	BookID             uuid.UUID  `json:"book_id"`
	Book               *BookBrief `json:"book,omitempty"`
	UserID             uuid.UUID  `json:"user_id"`
	BorrowDate         string     `json:"borrow_date"`
	ExpectedReturnDate string     `json:"expected_return_date"`
	ActualReturnDate   *string    `json:"actual_return_date,omitempty"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
}

// BorrowingList is a cursor page of borrowings.
type BorrowingList struct {
	Items      []BorrowingResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// ReturnResult reports the outcome of a return attempt. When FineRequired is
// set the borrowing was left untouched and the caller must settle the fine
// before retrying.
type ReturnResult struct {
	Borrowing    *BorrowingResponse
	FineRequired bool
}

// BorrowingCreatedEvent is emitted when a borrowing is opened.
type BorrowingCreatedEvent struct {
	BorrowingID        uuid.UUID `json:"borrowing_id"`
	BookID             uuid.UUID `json:"book_id"`
	BookTitle          string    `json:"book_title"`
	UserID             uuid.UUID `json:"user_id"`
	BorrowDate         string    `json:"borrow_date"`
	ExpectedReturnDate string    `json:"expected_return_date"`
}

func toBorrowingResponse(row models.Borrowing) BorrowingResponse {
	resp := BorrowingResponse{
		ID:                 row.ID,
		BookID:             row.BookID,
		UserID:             row.UserID,
		BorrowDate:         row.BorrowDate.Format(DateLayout),
		ExpectedReturnDate: row.ExpectedReturnDate.Format(DateLayout),
		IsActive:           row.IsActive(),
		CreatedAt:          row.CreatedAt,
	}
	if row.ActualReturnDate != nil {
		formatted := row.ActualReturnDate.Format(DateLayout)
		resp.ActualReturnDate = &formatted
	}
	if row.Book != nil {
		resp.Book = &BookBrief{
			ID:       row.Book.ID,
			Title:    row.Book.Title,
			Author:   row.Book.Author,
			Cover:    row.Book.Cover,
			DailyFee: row.Book.DailyFee,
		}
	}
	return resp
}
