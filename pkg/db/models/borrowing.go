package models

import (
	"time"

	"github.com/google/uuid"
)

// Borrowing records one user holding one copy of one book. The open/closed
// state is the nullable ActualReturnDate; ReturnState gives it a typed view.
type Borrowing struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	BookID             uuid.UUID  `gorm:"column:book_id;type:uuid;not null"`
	Book               *Book      `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
	UserID             uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	BorrowDate         time.Time  `gorm:"column:borrow_date;type:date;not null"`
	ExpectedReturnDate time.Time  `gorm:"column:expected_return_date;type:date;not null;check:chk_borrowings_date_order,expected_return_date >= borrow_date"`
	ActualReturnDate   *time.Time `gorm:"column:actual_return_date;type:date"`
	Payments           []Payment  `gorm:"foreignKey:BorrowingID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsActive reports whether the book is still out.
func (b Borrowing) IsActive() bool {
	return b.ActualReturnDate == nil
}

// IsOverdueAt reports whether the borrowing has passed its expected return
// date as of the given day (dates compared at day granularity).
func (b Borrowing) IsOverdueAt(day time.Time) bool {
	return b.ExpectedReturnDate.Before(truncateToDay(day))
}

// ReturnState is the explicit tagged view of the open/returned lifecycle.
type ReturnState struct {
	Returned   bool
	ReturnedOn time.Time
}

// State derives the tagged return state from the nullable column.
func (b Borrowing) State() ReturnState {
	if b.ActualReturnDate == nil {
		return ReturnState{}
	}
	return ReturnState{Returned: true, ReturnedOn: *b.ActualReturnDate}
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Day truncates a timestamp to a UTC calendar date, the granularity every
// borrowing/payment date comparison uses.
func Day(t time.Time) time.Time {
	return truncateToDay(t)
}
