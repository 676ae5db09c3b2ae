package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/internal/borrowings"
	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	pkgerrors "github.com/94nj111/library-service/pkg/errors"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/outbox"
	"github.com/94nj111/library-service/pkg/pagination"
)

const hoursPerDay = 24

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type finalizerFactory func(tx *gorm.DB) BorrowingFinalizer

func defaultFinalizerFactory(tx *gorm.DB) BorrowingFinalizer {
	return borrowings.NewRepository(tx)
}

// Service defines the payment lifecycle operations.
type Service interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*SessionResponse, error)
	Renew(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, paymentID uuid.UUID) (*SessionResponse, error)
	HandleSuccess(ctx context.Context, sessionID string) (*CallbackResult, error)
	HandleCancel(ctx context.Context, sessionID string) (*CallbackResult, error)
	Get(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*PaymentResponse, error)
	List(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, params pagination.Params) (*PaymentList, error)
}

// ServiceParams configure the payment service.
type ServiceParams struct {
	Repo             Repository
	Borrowings       BorrowingReader
	Tx               txRunner
	Outbox           outboxPublisher
	Provider         CheckoutProvider
	Inventory        borrowings.InventoryGuard
	Logger           *logger.Logger
	Config           config.PaymentsConfig
	FinalizerFactory finalizerFactory
}

type service struct {
	repo       Repository
	borrowings BorrowingReader
	tx         txRunner
	outbox     outboxPublisher
	provider   CheckoutProvider
	inventory  borrowings.InventoryGuard
	logg       *logger.Logger
	cfg        config.PaymentsConfig
	finalizer  finalizerFactory
	now        func() time.Time
}

// NewService builds a payment service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Borrowings == nil {
		return nil, fmt.Errorf("borrowings reader required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("checkout provider required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.SessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	if params.Config.FineMultiplier <= 0 {
		return nil, fmt.Errorf("fine multiplier must be positive")
	}
	finalizer := params.FinalizerFactory
	if finalizer == nil {
		finalizer = defaultFinalizerFactory
	}
	return &service{
		repo:       params.Repo,
		borrowings: params.Borrowings,
		tx:         params.Tx,
		outbox:     params.Outbox,
		provider:   params.Provider,
		inventory:  params.Inventory,
		logg:       params.Logger,
		cfg:        params.Config,
		finalizer:  finalizer,
		now:        time.Now,
	}, nil
}

func (s *service) CreateSession(ctx context.Context, input CreateSessionInput) (*SessionResponse, error) {
	if input.BorrowingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrowing id required")
	}
	if input.ActorUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	borrowing, err := s.loadBorrowing(ctx, input.BorrowingID, input.ActorUserID, input.ActorRole)
	if err != nil {
		return nil, err
	}

	paymentType, amount := s.priceFor(*borrowing)
	name := fmt.Sprintf("Borrowing %s", borrowing.ID)
	if borrowing.Book != nil {
		name = borrowing.Book.Title
	}
	if paymentType == enums.PaymentTypeFine {
		name = fmt.Sprintf("Fine: %s", name)
	}

	sessionID, sessionURL, err := s.openProviderSession(ctx, name, amount)
	if err != nil {
		return nil, err
	}

	row := &models.Payment{
		BorrowingID: borrowing.ID,
		Status:      enums.PaymentStatusPending,
		Type:        paymentType,
		SessionID:   sessionID,
		SessionURL:  sessionURL,
		MoneyToPay:  amount,
		ExpiresAt:   s.now().Add(s.cfg.SessionTTL),
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := toSessionResponse(*row)
	return &resp, nil
}

// Renew reopens an expired checkout session in place: same payment row, same
// amount, fresh provider session. The replaced session id is logged.
func (s *service) Renew(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, paymentID uuid.UUID) (*SessionResponse, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	row, err := s.loadVisible(ctx, actorUserID, actorRole, paymentID)
	if err != nil {
		return nil, err
	}
	if !row.Status.CanTransitionTo(enums.PaymentStatusPending) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment in state %s cannot be renewed", row.Status))
	}

	name := fmt.Sprintf("Borrowing %s", row.BorrowingID)
	if row.Borrowing != nil && row.Borrowing.Book != nil {
		name = row.Borrowing.Book.Title
	}
	if row.Type == enums.PaymentTypeFine {
		name = fmt.Sprintf("Fine: %s", name)
	}

	sessionID, sessionURL, err := s.openProviderSession(ctx, name, row.MoneyToPay)
	if err != nil {
		return nil, err
	}

	oldSessionID := row.SessionID
	expiresAt := s.now().Add(s.cfg.SessionTTL)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Update(ctx, row.ID, map[string]any{
			"status":      enums.PaymentStatusPending,
			"session_id":  sessionID,
			"session_url": sessionURL,
			"expires_at":  expiresAt,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "renew payment session")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id":     row.ID.String(),
		"old_session_id": oldSessionID,
		"new_session_id": sessionID,
	})
	s.logg.Info(logCtx, "expired checkout session renewed")

	row.Status = enums.PaymentStatusPending
	row.SessionID = sessionID
	row.SessionURL = sessionURL
	row.ExpiresAt = expiresAt
	resp := toSessionResponse(*row)
	return &resp, nil
}

func (s *service) HandleSuccess(ctx context.Context, sessionID string) (*CallbackResult, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	row, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if row.Status == enums.PaymentStatusPaid {
		return &CallbackResult{Settled: true, Status: row.Status, Message: "payment already settled"}, nil
	}

	paid, err := s.checkProviderSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !paid {
		return &CallbackResult{
			Settled: false,
			Status:  row.Status,
			Message: "payment has not settled yet, try again later",
		}, nil
	}
	if !row.Status.CanTransitionTo(enums.PaymentStatusPaid) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment in state %s cannot settle", row.Status))
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Update(ctx, row.ID, map[string]any{"status": enums.PaymentStatusPaid}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment")
		}

		// Settling a charge on an open overdue borrowing is the deferred
		// half of its return: the borrowing closes and the copy goes back
		// on the shelf here, whatever the payment type.
		if row.Borrowing != nil && row.Borrowing.IsActive() && row.Borrowing.IsOverdueAt(s.now()) {
			if err := s.finalizer(tx).MarkReturned(ctx, row.BorrowingID, s.now()); err != nil {
				if err != gorm.ErrRecordNotFound {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close borrowing")
				}
			} else if err := s.inventory.Release(ctx, tx, row.Borrowing.BookID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release book copy")
			}
		}

		event := PaymentSucceededEvent{
			PaymentID:   row.ID,
			BorrowingID: row.BorrowingID,
			Type:        row.Type,
			Amount:      row.MoneyToPay.StringFixed(2),
		}
		if row.Borrowing != nil {
			event.UserID = row.Borrowing.UserID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSucceeded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   row.ID,
			Data:          event,
			Version:       1,
		})
	})
	if err != nil {
		return nil, err
	}

	return &CallbackResult{Settled: true, Status: enums.PaymentStatusPaid, Message: "payment settled, thank you"}, nil
}

// HandleCancel is a pure acknowledgement: the session stays open for its
// 24 hour window, so nothing is looked up and nothing mutates.
func (s *service) HandleCancel(ctx context.Context, sessionID string) (*CallbackResult, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	return &CallbackResult{
		Settled: false,
		Status:  enums.PaymentStatusPending,
		Message: "payment can be completed later, the session is available for only 24 hours",
	}, nil
}

func (s *service) Get(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*PaymentResponse, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	row, err := s.loadVisible(ctx, actorUserID, actorRole, id)
	if err != nil {
		return nil, err
	}
	resp := toPaymentResponse(*row)
	return &resp, nil
}

func (s *service) List(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, params pagination.Params) (*PaymentList, error) {
	if actorUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	var scope *uuid.UUID
	if !actorRole.IsStaff() {
		scope = &actorUserID
	}

	rows, err := s.repo.List(ctx, params, scope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	list := &PaymentList{Items: make([]PaymentResponse, 0, len(rows))}
	for i, row := range rows {
		if i >= limit {
			last := rows[limit-1]
			list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
				CreatedAt: last.CreatedAt,
				ID:        last.ID,
			})
			break
		}
		list.Items = append(list.Items, toPaymentResponse(row))
	}
	return list, nil
}

func (s *service) loadBorrowing(ctx context.Context, borrowingID, actorUserID uuid.UUID, actorRole enums.UserRole) (*models.Borrowing, error) {
	row, err := s.borrowings.FindByID(ctx, borrowingID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrowing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load borrowing")
	}
	if !actorRole.IsStaff() && row.UserID != actorUserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrowing not found")
	}
	return row, nil
}

func (s *service) loadVisible(ctx context.Context, actorUserID uuid.UUID, actorRole enums.UserRole, id uuid.UUID) (*models.Payment, error) {
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	// Cross-user reads 404 rather than 403 so ids cannot be probed.
	if !actorRole.IsStaff() && (row.Borrowing == nil || row.Borrowing.UserID != actorUserID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return row, nil
}

// priceFor computes the charge for a borrowing: the base fee covers the
// planned window, a fine doubles the daily fee for every day past due.
func (s *service) priceFor(row models.Borrowing) (enums.PaymentType, decimal.Decimal) {
	fee := decimal.Zero
	if row.Book != nil {
		fee = row.Book.DailyFee
	}

	today := models.Day(s.now())
	reference := today
	if row.ActualReturnDate != nil {
		reference = models.Day(*row.ActualReturnDate)
	}

	if row.IsOverdueAt(reference) {
		overdueDays := daysBetween(row.ExpectedReturnDate, reference)
		if overdueDays < 0 {
			overdueDays = 0
		}
		amount := fee.
			Mul(decimal.NewFromInt(int64(overdueDays))).
			Mul(decimal.NewFromInt(int64(s.cfg.FineMultiplier)))
		return enums.PaymentTypeFine, amount
	}

	// Only the planned window is charged; a same-day window prices at zero.
	days := daysBetween(row.BorrowDate, row.ExpectedReturnDate)
	return enums.PaymentTypePayment, fee.Mul(decimal.NewFromInt(int64(days)))
}

func (s *service) openProviderSession(ctx context.Context, name string, amount decimal.Decimal) (string, string, error) {
	callCtx := ctx
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}
	sessionID, sessionURL, err := s.provider.CreateSession(callCtx, name, toMinorUnits(amount))
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeProvider, err, "open checkout session")
	}
	return sessionID, sessionURL, nil
}

func (s *service) checkProviderSession(ctx context.Context, sessionID string) (bool, error) {
	callCtx := ctx
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}
	paid, err := s.provider.SessionPaid(callCtx, sessionID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "check checkout session")
	}
	return paid, nil
}

func daysBetween(from, to time.Time) int {
	return int(models.Day(to).Sub(models.Day(from)).Hours() / hoursPerDay)
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
