package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	pkgerrors "github.com/94nj111/library-service/pkg/errors"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/outbox"
	"github.com/94nj111/library-service/pkg/pagination"
)

type stubRepo struct {
	rows       map[uuid.UUID]*models.Payment
	bySession  map[string]*models.Payment
	created    *models.Payment
	updates    map[string]any
	updatedID  uuid.UUID
	listRows   []models.Payment
	listUserID *uuid.UUID
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		rows:      map[uuid.UUID]*models.Payment{},
		bySession: map[string]*models.Payment{},
	}
}

func (s *stubRepo) add(row *models.Payment) {
	s.rows[row.ID] = row
	s.bySession[row.SessionID] = row
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, row *models.Payment) (*models.Payment, error) {
	row.ID = uuid.New()
	s.created = row
	s.add(row)
	return row, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (s *stubRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	row, ok := s.bySession[sessionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (s *stubRepo) List(ctx context.Context, params pagination.Params, userID *uuid.UUID) ([]models.Payment, error) {
	s.listUserID = userID
	return s.listRows, nil
}

func (s *stubRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	s.updatedID = id
	s.updates = updates
	return nil
}

func (s *stubRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) (bool, error) {
	row, ok := s.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	return true, nil
}

func (s *stubRepo) FindPending(ctx context.Context) ([]models.Payment, error) {
	return nil, nil
}

func (s *stubRepo) HasPendingForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, nil
}

type stubBorrowings struct {
	rows map[uuid.UUID]*models.Borrowing
}

func (s *stubBorrowings) FindByID(ctx context.Context, id uuid.UUID) (*models.Borrowing, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubOutbox struct{ events []outbox.DomainEvent }

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubProvider struct {
	sessionID  string
	sessionURL string
	createErr  error
	paid       bool
	paidErr    error
	createName string
	amount     int64
}

func (s *stubProvider) CreateSession(ctx context.Context, name string, amountMinor int64) (string, string, error) {
	if s.createErr != nil {
		return "", "", s.createErr
	}
	s.createName = name
	s.amount = amountMinor
	return s.sessionID, s.sessionURL, nil
}

func (s *stubProvider) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	if s.paidErr != nil {
		return false, s.paidErr
	}
	return s.paid, nil
}

type stubInventory struct{ released []uuid.UUID }

func (s *stubInventory) Acquire(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (bool, error) {
	return true, nil
}

func (s *stubInventory) Release(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	s.released = append(s.released, bookID)
	return nil
}

type stubFinalizer struct{ closed []uuid.UUID }

func (s *stubFinalizer) MarkReturned(ctx context.Context, id uuid.UUID, returnedOn time.Time) error {
	s.closed = append(s.closed, id)
	return nil
}

type fixture struct {
	repo       *stubRepo
	borrowings *stubBorrowings
	outbox     *stubOutbox
	provider   *stubProvider
	inventory  *stubInventory
	finalizer  *stubFinalizer
	svc        Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:       newStubRepo(),
		borrowings: &stubBorrowings{rows: map[uuid.UUID]*models.Borrowing{}},
		outbox:     &stubOutbox{},
		provider:   &stubProvider{sessionID: "cs_test_123", sessionURL: "https://checkout.test/cs_test_123"},
		inventory:  &stubInventory{},
		finalizer:  &stubFinalizer{},
	}
	svc, err := NewService(ServiceParams{
		Repo:       f.repo,
		Borrowings: f.borrowings,
		Tx:         &stubTxRunner{},
		Outbox:     f.outbox,
		Provider:   f.provider,
		Inventory:  f.inventory,
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Config: config.PaymentsConfig{
			FineMultiplier:  2,
			SessionTTL:      24 * time.Hour,
			ProviderTimeout: time.Second,
		},
		FinalizerFactory: func(tx *gorm.DB) BorrowingFinalizer { return f.finalizer },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func activeBorrowing(owner uuid.UUID, borrowDaysAgo, expectedInDays int) *models.Borrowing {
	now := time.Now()
	return &models.Borrowing{
		ID:     uuid.New(),
		BookID: uuid.New(),
		UserID: owner,
		Book: &models.Book{
			ID:       uuid.New(),
			Title:    "Dune",
			DailyFee: decimal.RequireFromString("1.50"),
		},
		BorrowDate:         models.Day(now.Add(-time.Duration(borrowDaysAgo) * 24 * time.Hour)),
		ExpectedReturnDate: models.Day(now.Add(time.Duration(expectedInDays) * 24 * time.Hour)),
	}
}

func TestCreateSessionChargesPlannedWindow(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	row := activeBorrowing(owner, 0, 7)
	f.borrowings.rows[row.ID] = row

	resp, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		BorrowingID: row.ID,
		ActorUserID: owner,
		ActorRole:   enums.RoleUser,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if resp.Type != enums.PaymentTypePayment {
		t.Fatalf("expected PAYMENT, got %s", resp.Type)
	}
	// 7 days at 1.50/day.
	if !resp.MoneyToPay.Equal(decimal.RequireFromString("10.50")) {
		t.Fatalf("unexpected amount %s", resp.MoneyToPay)
	}
	if f.provider.amount != 1050 {
		t.Fatalf("expected 1050 minor units, got %d", f.provider.amount)
	}
	if resp.SessionID != "cs_test_123" || resp.SessionURL == "" {
		t.Fatalf("session fields not propagated: %+v", resp)
	}
	if resp.Status != enums.PaymentStatusPending {
		t.Fatalf("new session must be pending, got %s", resp.Status)
	}
}

func TestCreateSessionChargesDoubledFineWhenOverdue(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	row := activeBorrowing(owner, 10, -4)
	f.borrowings.rows[row.ID] = row

	resp, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		BorrowingID: row.ID,
		ActorUserID: owner,
		ActorRole:   enums.RoleUser,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if resp.Type != enums.PaymentTypeFine {
		t.Fatalf("expected FINE, got %s", resp.Type)
	}
	// 4 overdue days at 1.50/day doubled.
	if !resp.MoneyToPay.Equal(decimal.RequireFromString("12")) {
		t.Fatalf("unexpected fine %s", resp.MoneyToPay)
	}
	if f.provider.createName != "Fine: Dune" {
		t.Fatalf("unexpected product name %q", f.provider.createName)
	}
}

func TestCreateSessionSameDayChargesNothing(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	row := activeBorrowing(owner, 0, 0)
	f.borrowings.rows[row.ID] = row

	resp, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		BorrowingID: row.ID,
		ActorUserID: owner,
		ActorRole:   enums.RoleUser,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if resp.Type != enums.PaymentTypePayment {
		t.Fatalf("expected PAYMENT, got %s", resp.Type)
	}
	if !resp.MoneyToPay.IsZero() {
		t.Fatalf("a same-day window has no rental days to charge, got %s", resp.MoneyToPay)
	}
	if f.provider.amount != 0 {
		t.Fatalf("expected 0 minor units, got %d", f.provider.amount)
	}
}

func TestCreateSessionUnknownBorrowing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		BorrowingID: uuid.New(),
		ActorUserID: uuid.New(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateSessionHidesForeignBorrowing(t *testing.T) {
	f := newFixture(t)
	row := activeBorrowing(uuid.New(), 0, 7)
	f.borrowings.rows[row.ID] = row

	_, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		BorrowingID: row.ID,
		ActorUserID: uuid.New(),
		ActorRole:   enums.RoleUser,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("cross-user create must 404, got %v", err)
	}
}

func TestCreateSessionProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.createErr = errors.New("stripe is down")
	owner := uuid.New()
	row := activeBorrowing(owner, 0, 7)
	f.borrowings.rows[row.ID] = row

	_, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		BorrowingID: row.ID,
		ActorUserID: owner,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if f.repo.created != nil {
		t.Fatal("no payment row may be written when the provider fails")
	}
}

func TestHandleSuccessSettlesPayment(t *testing.T) {
	f := newFixture(t)
	f.provider.paid = true
	owner := uuid.New()
	borrowing := activeBorrowing(owner, 0, 7)
	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: borrowing.ID,
		Borrowing:   borrowing,
		Status:      enums.PaymentStatusPending,
		Type:        enums.PaymentTypePayment,
		SessionID:   "cs_ok",
		MoneyToPay:  decimal.RequireFromString("10.50"),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	f.repo.add(payment)

	result, err := f.svc.HandleSuccess(context.Background(), "cs_ok")
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if !result.Settled || result.Status != enums.PaymentStatusPaid {
		t.Fatalf("expected settled PAID, got %+v", result)
	}
	if f.repo.updates["status"] != enums.PaymentStatusPaid {
		t.Fatalf("status not updated: %v", f.repo.updates)
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventPaymentSucceeded {
		t.Fatalf("expected payment_succeeded event, got %+v", f.outbox.events)
	}
	if len(f.finalizer.closed) != 0 {
		t.Fatal("a borrowing inside its window must stay open")
	}
}

func TestHandleSuccessOnFineClosesBorrowing(t *testing.T) {
	f := newFixture(t)
	f.provider.paid = true
	owner := uuid.New()
	borrowing := activeBorrowing(owner, 10, -4)
	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: borrowing.ID,
		Borrowing:   borrowing,
		Status:      enums.PaymentStatusPending,
		Type:        enums.PaymentTypeFine,
		SessionID:   "cs_fine",
		MoneyToPay:  decimal.RequireFromString("12"),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	f.repo.add(payment)

	result, err := f.svc.HandleSuccess(context.Background(), "cs_fine")
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if !result.Settled {
		t.Fatal("fine must settle")
	}
	if len(f.finalizer.closed) != 1 || f.finalizer.closed[0] != borrowing.ID {
		t.Fatal("fine settlement must close the borrowing")
	}
	if len(f.inventory.released) != 1 || f.inventory.released[0] != borrowing.BookID {
		t.Fatal("fine settlement must release the copy")
	}
}

func TestHandleSuccessClosesOverdueBorrowingOnBasePayment(t *testing.T) {
	f := newFixture(t)
	f.provider.paid = true
	owner := uuid.New()
	borrowing := activeBorrowing(owner, 10, -4)
	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: borrowing.ID,
		Borrowing:   borrowing,
		Status:      enums.PaymentStatusPending,
		Type:        enums.PaymentTypePayment,
		SessionID:   "cs_late_base",
		MoneyToPay:  decimal.RequireFromString("10.50"),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	f.repo.add(payment)

	if _, err := f.svc.HandleSuccess(context.Background(), "cs_late_base"); err != nil {
		t.Fatalf("handle success: %v", err)
	}
	// The borrowing was open past its due date, so settling any charge on
	// it finalizes the return.
	if len(f.finalizer.closed) != 1 || f.finalizer.closed[0] != borrowing.ID {
		t.Fatal("settling a payment on an open overdue borrowing must close it")
	}
	if len(f.inventory.released) != 1 || f.inventory.released[0] != borrowing.BookID {
		t.Fatal("closing the borrowing must release the copy")
	}
}

func TestHandleSuccessPendingProviderState(t *testing.T) {
	f := newFixture(t)
	f.provider.paid = false
	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: uuid.New(),
		Status:      enums.PaymentStatusPending,
		Type:        enums.PaymentTypePayment,
		SessionID:   "cs_wait",
		MoneyToPay:  decimal.NewFromInt(5),
	}
	f.repo.add(payment)

	result, err := f.svc.HandleSuccess(context.Background(), "cs_wait")
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if result.Settled {
		t.Fatal("unpaid session must not settle")
	}
	if f.repo.updates != nil {
		t.Fatal("unpaid session must not mutate the row")
	}
}

func TestHandleSuccessIsIdempotentForPaidRows(t *testing.T) {
	f := newFixture(t)
	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: uuid.New(),
		Status:      enums.PaymentStatusPaid,
		Type:        enums.PaymentTypePayment,
		SessionID:   "cs_done",
		MoneyToPay:  decimal.NewFromInt(5),
	}
	f.repo.add(payment)

	result, err := f.svc.HandleSuccess(context.Background(), "cs_done")
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if !result.Settled {
		t.Fatal("paid row must report settled")
	}
	if len(f.outbox.events) != 0 {
		t.Fatal("repeat success must not re-emit events")
	}
}

func TestHandleSuccessValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleSuccess(context.Background(), "")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("blank session id must 400, got %v", err)
	}

	_, err = f.svc.HandleSuccess(context.Background(), "cs_unknown")
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unknown session must 404, got %v", err)
	}

	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: uuid.New(),
		Status:      enums.PaymentStatusPending,
		SessionID:   "cs_err",
		MoneyToPay:  decimal.NewFromInt(5),
	}
	f.repo.add(payment)
	f.provider.paidErr = errors.New("stripe is down")
	_, err = f.svc.HandleSuccess(context.Background(), "cs_err")
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeProvider {
		t.Fatalf("provider failure must map to provider code, got %v", err)
	}
}

func TestHandleCancelAcksWithoutLookup(t *testing.T) {
	f := newFixture(t)

	// Cancel never resolves the row, so an id the repo has never seen is
	// acknowledged the same way.
	result, err := f.svc.HandleCancel(context.Background(), "cs_unknown")
	if err != nil {
		t.Fatalf("handle cancel: %v", err)
	}
	if result.Settled {
		t.Fatal("cancel must not settle")
	}
	if result.Status != enums.PaymentStatusPending {
		t.Fatalf("cancel must report the session as still open, got %s", result.Status)
	}
	if f.repo.updates != nil {
		t.Fatal("cancel must not mutate any row")
	}

	if _, err := f.svc.HandleCancel(context.Background(), ""); pkgerrors.As(err) == nil {
		t.Fatal("blank session id must error")
	}
}

func TestRenewReopensExpiredSession(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	borrowing := activeBorrowing(owner, 10, -4)
	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: borrowing.ID,
		Borrowing:   borrowing,
		Status:      enums.PaymentStatusExpired,
		Type:        enums.PaymentTypeFine,
		SessionID:   "cs_old",
		MoneyToPay:  decimal.RequireFromString("12"),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	f.repo.add(payment)
	f.provider.sessionID = "cs_new"
	f.provider.sessionURL = "https://checkout.test/cs_new"

	resp, err := f.svc.Renew(context.Background(), owner, enums.RoleUser, payment.ID)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if resp.SessionID != "cs_new" || resp.Status != enums.PaymentStatusPending {
		t.Fatalf("unexpected renewal %+v", resp)
	}
	if !resp.MoneyToPay.Equal(payment.MoneyToPay) {
		t.Fatal("renewal must keep the original amount")
	}
	if f.repo.updatedID != payment.ID {
		t.Fatal("renewal must update the same row")
	}
	if f.provider.amount != 1200 {
		t.Fatalf("renewal must re-charge the stored amount, got %d", f.provider.amount)
	}
}

func TestRenewRejectsNonExpiredStates(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	borrowing := activeBorrowing(owner, 0, 7)
	for _, status := range []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusPaid} {
		payment := &models.Payment{
			ID:          uuid.New(),
			BorrowingID: borrowing.ID,
			Borrowing:   borrowing,
			Status:      status,
			SessionID:   "cs_" + string(status),
			MoneyToPay:  decimal.NewFromInt(5),
		}
		f.repo.add(payment)

		_, err := f.svc.Renew(context.Background(), owner, enums.RoleUser, payment.ID)
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
			t.Fatalf("renewing %s must 422, got %v", status, err)
		}
	}
}

func TestGetHidesForeignPayments(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	borrowing := activeBorrowing(owner, 0, 7)
	payment := &models.Payment{
		ID:          uuid.New(),
		BorrowingID: borrowing.ID,
		Borrowing:   borrowing,
		Status:      enums.PaymentStatusPending,
		SessionID:   "cs_get",
		MoneyToPay:  decimal.NewFromInt(5),
	}
	f.repo.add(payment)

	_, err := f.svc.Get(context.Background(), uuid.New(), enums.RoleUser, payment.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("cross-user get must 404, got %v", err)
	}

	if _, err := f.svc.Get(context.Background(), owner, enums.RoleUser, payment.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), uuid.New(), enums.RoleAdmin, payment.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}
}

func TestListScopesNonAdmins(t *testing.T) {
	f := newFixture(t)
	me := uuid.New()

	if _, err := f.svc.List(context.Background(), me, enums.RoleUser, pagination.Params{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if f.repo.listUserID == nil || *f.repo.listUserID != me {
		t.Fatal("non-admin list must be scoped to the caller")
	}

	if _, err := f.svc.List(context.Background(), me, enums.RoleAdmin, pagination.Params{}); err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if f.repo.listUserID != nil {
		t.Fatal("admin list must be unscoped")
	}
}
