package borrowings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a borrowing repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, row *models.Borrowing) (*models.Borrowing, error) {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Borrowing, error) {
	var row models.Borrowing
	err := r.db.WithContext(ctx).
		Preload("Book").
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Borrowing, error) {
	query := r.db.WithContext(ctx).Model(&models.Borrowing{}).Preload("Book")

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.IsActive != nil {
		if *filters.IsActive {
			query = query.Where("actual_return_date IS NULL")
		} else {
			query = query.Where("actual_return_date IS NOT NULL")
		}
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Borrowing
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkReturned closes the borrowing; the NULL guard makes concurrent returns
// race-safe, only one caller observes the row flip.
func (r *repository) MarkReturned(ctx context.Context, id uuid.UUID, returnedOn time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Borrowing{}).
		Where("id = ? AND actual_return_date IS NULL", id).
		Update("actual_return_date", models.Day(returnedOn))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) FindOverdueActive(ctx context.Context, asOf time.Time) ([]models.Borrowing, error) {
	var rows []models.Borrowing
	err := r.db.WithContext(ctx).
		Preload("Book").
		Where("actual_return_date IS NULL AND expected_return_date < ?", models.Day(asOf)).
		Order("expected_return_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
