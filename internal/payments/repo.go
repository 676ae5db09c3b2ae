package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, row *models.Payment) (*models.Payment, error) {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var row models.Payment
	err := r.db.WithContext(ctx).
		Preload("Borrowing").
		Preload("Borrowing.Book").
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	var row models.Payment
	err := r.db.WithContext(ctx).
		Preload("Borrowing").
		Preload("Borrowing.Book").
		Where("session_id = ?", sessionID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, userID *uuid.UUID) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{}).Preload("Borrowing")

	if userID != nil {
		query = query.
			Joins("JOIN borrowings ON borrowings.id = payments.borrowing_id").
			Where("borrowings.user_id = ?", *userID)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(payments.created_at, payments.id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Payment
	err = query.
		Order("payments.created_at DESC").
		Order("payments.id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TransitionStatus flips the status only when the row is still in the
// expected source state, so concurrent sweeps and callbacks cannot clobber
// each other.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindPending(ctx context.Context) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Preload("Borrowing").
		Where("status = ?", enums.PaymentStatusPending).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) HasPendingForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Joins("JOIN borrowings ON borrowings.id = payments.borrowing_id").
		Where("borrowings.user_id = ? AND payments.status = ?", userID, enums.PaymentStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
