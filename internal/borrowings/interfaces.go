package borrowings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/pagination"
)

// Repository defines persistence operations for borrowings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, row *models.Borrowing) (*models.Borrowing, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Borrowing, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Borrowing, error)
	MarkReturned(ctx context.Context, id uuid.UUID, returnedOn time.Time) error
	FindOverdueActive(ctx context.Context, asOf time.Time) ([]models.Borrowing, error)
}
