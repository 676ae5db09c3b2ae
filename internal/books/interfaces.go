package books

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/pagination"
)

// Repository defines persistence operations for the book catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, book *models.Book) (*models.Book, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Book, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
}
