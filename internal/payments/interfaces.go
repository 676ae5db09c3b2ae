package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/pagination"
)

// Repository defines persistence operations for payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, row *models.Payment) (*models.Payment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	List(ctx context.Context, params pagination.Params, userID *uuid.UUID) ([]models.Payment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) (bool, error)
	FindPending(ctx context.Context) ([]models.Payment, error)
	HasPendingForUser(ctx context.Context, userID uuid.UUID) (bool, error)
}

// CheckoutProvider is the external payment gateway surface the service needs.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, name string, amountMinor int64) (sessionID, sessionURL string, err error)
	SessionPaid(ctx context.Context, sessionID string) (bool, error)
}

// BorrowingReader loads borrowings for pricing and ownership checks.
type BorrowingReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Borrowing, error)
}

// BorrowingFinalizer closes an overdue borrowing once its fine settles.
type BorrowingFinalizer interface {
	MarkReturned(ctx context.Context, id uuid.UUID, returnedOn time.Time) error
}
