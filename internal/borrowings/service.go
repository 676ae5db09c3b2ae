package borrowings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	pkgerrors "github.com/94nj111/library-service/pkg/errors"
	"github.com/94nj111/library-service/pkg/outbox"
	"github.com/94nj111/library-service/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InventoryGuard adjusts a book's available copy count with stock safety.
type InventoryGuard interface {
	Acquire(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error
}

// PendingPaymentChecker reports whether a user still owes money on any
// checkout session.
type PendingPaymentChecker interface {
	HasPendingForUser(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Service defines the borrowing lifecycle operations.
type Service interface {
	Create(ctx context.Context, input CreateBorrowingInput) (*BorrowingResponse, error)
	Get(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*BorrowingResponse, error)
	List(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, params pagination.Params, filters ListFilters) (*BorrowingList, error)
	Return(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*ReturnResult, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	inventory InventoryGuard
	pending   PendingPaymentChecker
	now       func() time.Time
}

// NewService builds a borrowing service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, inventory InventoryGuard, pending PendingPaymentChecker) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("borrowings repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory guard required")
	}
	if pending == nil {
		return nil, fmt.Errorf("pending payment checker required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    outboxSvc,
		inventory: inventory,
		pending:   pending,
		now:       time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateBorrowingInput) (*BorrowingResponse, error) {
	if input.BookID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id required")
	}
	if input.ActorUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	borrowDate, expectedReturn, err := s.parseDates(input.BorrowDate, input.ExpectedReturnDate)
	if err != nil {
		return nil, err
	}

	hasPending, err := s.pending.HasPendingForUser(ctx, input.ActorUserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending payments")
	}
	if hasPending {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "you have unpaid bills")
	}

	var created *models.Borrowing
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		acquired, err := s.inventory.Acquire(ctx, tx, input.BookID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire book copy")
		}
		if !acquired {
			return pkgerrors.New(pkgerrors.CodeValidation, "book is out of stock")
		}

		repo := s.repo.WithTx(tx)
		row, err := repo.Create(ctx, &models.Borrowing{
			BookID:             input.BookID,
			UserID:             input.ActorUserID,
			BorrowDate:         borrowDate,
			ExpectedReturnDate: expectedReturn,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create borrowing")
		}

		created, err = repo.FindByID(ctx, row.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload borrowing")
		}

		event := BorrowingCreatedEvent{
			BorrowingID:        created.ID,
			BookID:             created.BookID,
			UserID:             created.UserID,
			BorrowDate:         created.BorrowDate.Format(DateLayout),
			ExpectedReturnDate: created.ExpectedReturnDate.Format(DateLayout),
		}
		if created.Book != nil {
			event.BookTitle = created.Book.Title
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowingCreated,
			AggregateType: enums.AggregateBorrowing,
			AggregateID:   created.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: string(input.ActorRole)},
			Data:          event,
			Version:       1,
		})
	})
	if err != nil {
		return nil, err
	}

	resp := toBorrowingResponse(*created)
	return &resp, nil
}

func (s *service) Get(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*BorrowingResponse, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrowing id required")
	}
	row, err := s.loadVisible(ctx, actorUserID, actorRole, id)
	if err != nil {
		return nil, err
	}
	resp := toBorrowingResponse(*row)
	return &resp, nil
}

func (s *service) List(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, params pagination.Params, filters ListFilters) (*BorrowingList, error) {
	if actorUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actorRole.IsStaff() {
		if filters.UserID != nil && *filters.UserID != actorUserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cannot list another user's borrowings")
		}
		own := actorUserID
		filters.UserID = &own
	}

	rows, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list borrowings")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	list := &BorrowingList{Items: make([]BorrowingResponse, 0, len(rows))}
	for i, row := range rows {
		if i >= limit {
			last := rows[limit-1]
			list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
				CreatedAt: last.CreatedAt,
				ID:        last.ID,
			})
			break
		}
		list.Items = append(list.Items, toBorrowingResponse(row))
	}
	return list, nil
}

func (s *service) Return(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*ReturnResult, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrowing id required")
	}
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrowing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load borrowing")
	}
	if row.UserID != actorUserID && !actorRole.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "borrowing does not belong to user")
	}
	if !row.IsActive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrowing already returned")
	}

	today := s.now()
	if row.IsOverdueAt(today) {
		// The book stays out until the fine is settled; the caller is
		// redirected into the fine checkout flow.
		resp := toBorrowingResponse(*row)
		return &ReturnResult{Borrowing: &resp, FineRequired: true}, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.MarkReturned(ctx, id, today); err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeValidation, "borrowing already returned")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark returned")
		}
		if err := s.inventory.Release(ctx, tx, row.BookID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release book copy")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload borrowing")
	}
	resp := toBorrowingResponse(*updated)
	return &ReturnResult{Borrowing: &resp}, nil
}

func (s *service) loadVisible(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*models.Borrowing, error) {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrowing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load borrowing")
	}
	// Cross-user reads 404 rather than 403 so ids cannot be probed.
	if row.UserID != actorUserID && !actorRole.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrowing not found")
	}
	return row, nil
}

func (s *service) parseDates(borrowRaw, expectedRaw string) (time.Time, time.Time, error) {
	borrowDate := models.Day(s.now())
	if borrowRaw != "" {
		parsed, err := time.Parse(DateLayout, borrowRaw)
		if err != nil {
			return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid borrow date")
		}
		borrowDate = models.Day(parsed)
	}
	if expectedRaw == "" {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "expected return date required")
	}
	expectedReturn, err := time.Parse(DateLayout, expectedRaw)
	if err != nil {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid expected return date")
	}
	expected := models.Day(expectedReturn)
	if expected.Before(borrowDate) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "expected return date must be on or after borrow date")
	}
	return borrowDate, expected, nil
}

type inventoryGuardImpl struct{}

// NewInventoryGuard exposes the default stock-safe inventory implementation.
func NewInventoryGuard() InventoryGuard {
	return inventoryGuardImpl{}
}

func (inventoryGuardImpl) Acquire(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory acquire")
	}
	res := tx.WithContext(ctx).Exec(`
		UPDATE books
		SET inventory = inventory - 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND inventory > 0
	`, bookID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (inventoryGuardImpl) Release(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory release")
	}
	res := tx.WithContext(ctx).Exec(`
		UPDATE books
		SET inventory = inventory + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, bookID)
	if res.Error != nil {
		return res.Error
	}
	return nil
}
