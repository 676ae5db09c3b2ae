package borrowings

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	pkgerrors "github.com/94nj111/library-service/pkg/errors"
	"github.com/94nj111/library-service/pkg/outbox"
	"github.com/94nj111/library-service/pkg/pagination"
)

type stubRepo struct {
	rows      map[uuid.UUID]*models.Borrowing
	created   *models.Borrowing
	listRows  []models.Borrowing
	marked    []uuid.UUID
	markedErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: map[uuid.UUID]*models.Borrowing{}}
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, row *models.Borrowing) (*models.Borrowing, error) {
	row.ID = uuid.New()
	s.created = row
	s.rows[row.ID] = row
	return row, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Borrowing, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (s *stubRepo) List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Borrowing, error) {
	out := make([]models.Borrowing, 0, len(s.listRows))
	for _, row := range s.listRows {
		if filters.UserID != nil && row.UserID != *filters.UserID {
			continue
		}
		if filters.IsActive != nil && row.IsActive() != *filters.IsActive {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *stubRepo) MarkReturned(ctx context.Context, id uuid.UUID, returnedOn time.Time) error {
	if s.markedErr != nil {
		return s.markedErr
	}
	s.marked = append(s.marked, id)
	if row, ok := s.rows[id]; ok {
		day := models.Day(returnedOn)
		row.ActualReturnDate = &day
	}
	return nil
}

func (s *stubRepo) FindOverdueActive(ctx context.Context, asOf time.Time) ([]models.Borrowing, error) {
	return nil, nil
}

type stubTxRunner struct{ calls int }

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	return fn(&gorm.DB{})
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubInventory struct {
	acquired  []uuid.UUID
	released  []uuid.UUID
	available bool
}

func (s *stubInventory) Acquire(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (bool, error) {
	if !s.available {
		return false, nil
	}
	s.acquired = append(s.acquired, bookID)
	return true, nil
}

func (s *stubInventory) Release(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	s.released = append(s.released, bookID)
	return nil
}

type stubPending struct{ pending bool }

func (s *stubPending) HasPendingForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.pending, nil
}

type fixture struct {
	repo      *stubRepo
	tx        *stubTxRunner
	outbox    *stubOutbox
	inventory *stubInventory
	pending   *stubPending
	svc       Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newStubRepo(),
		tx:        &stubTxRunner{},
		outbox:    &stubOutbox{},
		inventory: &stubInventory{available: true},
		pending:   &stubPending{},
	}
	svc, err := NewService(f.repo, f.tx, f.outbox, f.inventory, f.pending)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func dateString(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func TestCreateBorrowingHappyPath(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	bookID := uuid.New()
	now := time.Now()

	resp, err := f.svc.Create(context.Background(), CreateBorrowingInput{
		BookID:             bookID,
		ExpectedReturnDate: dateString(now.Add(7 * 24 * time.Hour)),
		ActorUserID:        userID,
		ActorRole:          enums.RoleUser,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !resp.IsActive {
		t.Fatal("new borrowing must be active")
	}
	if len(f.inventory.acquired) != 1 || f.inventory.acquired[0] != bookID {
		t.Fatal("inventory not acquired")
	}
	if len(f.outbox.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.outbox.events))
	}
	event := f.outbox.events[0]
	if event.EventType != enums.EventBorrowingCreated {
		t.Fatalf("unexpected event type %s", event.EventType)
	}
	if event.Actor == nil || event.Actor.UserID != userID {
		t.Fatal("event missing actor")
	}
}

func TestCreateBorrowingBlockedByPendingPayment(t *testing.T) {
	f := newFixture(t)
	f.pending.pending = true

	_, err := f.svc.Create(context.Background(), CreateBorrowingInput{
		BookID:             uuid.New(),
		ExpectedReturnDate: dateString(time.Now().Add(24 * time.Hour)),
		ActorUserID:        uuid.New(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if typed.Message() != "you have unpaid bills" {
		t.Fatalf("unexpected message %q", typed.Message())
	}
	if f.tx.calls != 0 {
		t.Fatal("gate must fire before any transaction")
	}
}

func TestCreateBorrowingOutOfStock(t *testing.T) {
	f := newFixture(t)
	f.inventory.available = false

	_, err := f.svc.Create(context.Background(), CreateBorrowingInput{
		BookID:             uuid.New(),
		ExpectedReturnDate: dateString(time.Now().Add(24 * time.Hour)),
		ActorUserID:        uuid.New(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if typed.Message() != "book is out of stock" {
		t.Fatalf("unexpected message %q", typed.Message())
	}
	if len(f.outbox.events) != 0 {
		t.Fatal("no event should be queued when stock acquisition fails")
	}
}

func TestCreateBorrowingRejectsInvertedDates(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	_, err := f.svc.Create(context.Background(), CreateBorrowingInput{
		BookID:             uuid.New(),
		BorrowDate:         dateString(now.Add(48 * time.Hour)),
		ExpectedReturnDate: dateString(now),
		ActorUserID:        uuid.New(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetHidesOtherUsersBorrowings(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	row := &models.Borrowing{
		ID:                 uuid.New(),
		BookID:             uuid.New(),
		UserID:             owner,
		BorrowDate:         models.Day(time.Now()),
		ExpectedReturnDate: models.Day(time.Now().Add(24 * time.Hour)),
	}
	f.repo.rows[row.ID] = row

	_, err := f.svc.Get(context.Background(), uuid.New(), enums.RoleUser, row.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("cross-user read must 404, got %v", err)
	}

	if _, err := f.svc.Get(context.Background(), uuid.New(), enums.RoleAdmin, row.ID); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), owner, enums.RoleUser, row.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
}

func TestListScopesNonAdminToOwnRows(t *testing.T) {
	f := newFixture(t)
	me := uuid.New()
	other := uuid.New()
	f.repo.listRows = []models.Borrowing{
		{ID: uuid.New(), UserID: me, BorrowDate: models.Day(time.Now()), ExpectedReturnDate: models.Day(time.Now())},
		{ID: uuid.New(), UserID: other, BorrowDate: models.Day(time.Now()), ExpectedReturnDate: models.Day(time.Now())},
	}

	list, err := f.svc.List(context.Background(), me, enums.RoleUser, pagination.Params{}, ListFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].UserID != me {
		t.Fatalf("expected only own rows, got %+v", list.Items)
	}

	_, err = f.svc.List(context.Background(), me, enums.RoleUser, pagination.Params{}, ListFilters{UserID: &other})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}

	adminList, err := f.svc.List(context.Background(), uuid.New(), enums.RoleAdmin, pagination.Params{}, ListFilters{})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(adminList.Items) != 2 {
		t.Fatalf("admin should see all rows, got %d", len(adminList.Items))
	}
}

func TestReturnOnTimeClosesAndReleases(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	bookID := uuid.New()
	row := &models.Borrowing{
		ID:                 uuid.New(),
		BookID:             bookID,
		UserID:             owner,
		BorrowDate:         models.Day(time.Now().Add(-24 * time.Hour)),
		ExpectedReturnDate: models.Day(time.Now().Add(24 * time.Hour)),
	}
	f.repo.rows[row.ID] = row

	result, err := f.svc.Return(context.Background(), owner, enums.RoleUser, row.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if result.FineRequired {
		t.Fatal("on-time return must not require a fine")
	}
	if result.Borrowing.IsActive {
		t.Fatal("borrowing should be closed")
	}
	if len(f.inventory.released) != 1 || f.inventory.released[0] != bookID {
		t.Fatal("inventory not released")
	}
}

func TestReturnOverdueLeavesBorrowingOpen(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	row := &models.Borrowing{
		ID:                 uuid.New(),
		BookID:             uuid.New(),
		UserID:             owner,
		BorrowDate:         models.Day(time.Now().Add(-10 * 24 * time.Hour)),
		ExpectedReturnDate: models.Day(time.Now().Add(-3 * 24 * time.Hour)),
	}
	f.repo.rows[row.ID] = row

	result, err := f.svc.Return(context.Background(), owner, enums.RoleUser, row.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if !result.FineRequired {
		t.Fatal("overdue return must require a fine")
	}
	if !result.Borrowing.IsActive {
		t.Fatal("overdue borrowing must stay open")
	}
	if len(f.repo.marked) != 0 {
		t.Fatal("overdue return must not mutate the row")
	}
	if len(f.inventory.released) != 0 {
		t.Fatal("overdue return must not release inventory")
	}
}

func TestReturnRejectsRepeatAndForeignCalls(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	returned := models.Day(time.Now())
	row := &models.Borrowing{
		ID:                 uuid.New(),
		BookID:             uuid.New(),
		UserID:             owner,
		BorrowDate:         returned.Add(-48 * time.Hour),
		ExpectedReturnDate: returned.Add(24 * time.Hour),
		ActualReturnDate:   &returned,
	}
	f.repo.rows[row.ID] = row

	_, err := f.svc.Return(context.Background(), owner, enums.RoleUser, row.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("repeat return must 400, got %v", err)
	}

	open := &models.Borrowing{
		ID:                 uuid.New(),
		BookID:             uuid.New(),
		UserID:             owner,
		BorrowDate:         models.Day(time.Now()),
		ExpectedReturnDate: models.Day(time.Now().Add(24 * time.Hour)),
	}
	f.repo.rows[open.ID] = open

	_, err = f.svc.Return(context.Background(), uuid.New(), enums.RoleUser, open.ID)
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("foreign return must 403, got %v", err)
	}
}
