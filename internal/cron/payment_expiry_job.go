package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/internal/payments"
	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/logger"
)

const defaultProviderCheckTimeout = 10 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pendingPaymentsReader interface {
	FindPending(ctx context.Context) ([]models.Payment, error)
}

type transactionalPaymentRepo interface {
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) (bool, error)
}

// sessionSettler finalizes a payment the provider reports as paid.
type sessionSettler interface {
	HandleSuccess(ctx context.Context, sessionID string) (*payments.CallbackResult, error)
}

type paymentRepoFactory func(tx *gorm.DB) transactionalPaymentRepo

func defaultPaymentRepo(tx *gorm.DB) transactionalPaymentRepo {
	return payments.NewRepository(tx)
}

// PaymentExpiryJobParams configure the pending checkout session sweeper.
type PaymentExpiryJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Pending     pendingPaymentsReader
	Provider    payments.CheckoutProvider
	Settler     sessionSettler
	RepoFactory paymentRepoFactory
	Timeout     time.Duration
}

// NewPaymentExpiryJob builds the cron job that sweeps every pending checkout
// session: paid ones settle, unreachable or stale ones expire. The sweep is
// the only path out of PENDING for a session the user abandoned.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Pending == nil {
		return nil, fmt.Errorf("pending payments reader required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("checkout provider required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("session settler required")
	}
	repoFactory := params.RepoFactory
	if repoFactory == nil {
		repoFactory = defaultPaymentRepo
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultProviderCheckTimeout
	}
	return &paymentExpiryJob{
		logg:        params.Logger,
		db:          params.DB,
		pending:     params.Pending,
		provider:    params.Provider,
		settler:     params.Settler,
		repoFactory: repoFactory,
		timeout:     timeout,
		now:         time.Now,
	}, nil
}

type paymentExpiryJob struct {
	logg        *logger.Logger
	db          txRunner
	pending     pendingPaymentsReader
	provider    payments.CheckoutProvider
	settler     sessionSettler
	repoFactory paymentRepoFactory
	timeout     time.Duration
	now         func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "payment-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	rows, err := j.pending.FindPending(ctx)
	if err != nil {
		return fmt.Errorf("query pending payments: %w", err)
	}

	now := j.now()
	var errs []error
	expired, settled := 0, 0
	for _, row := range rows {
		paid, checkErr := j.checkProvider(ctx, row.SessionID)
		switch {
		case checkErr != nil:
			// An unreachable gateway leaves the session unusable; expire it
			// now, renewal reopens it once the gateway is back.
			logCtx := j.logg.WithField(ctx, "payment_id", row.ID.String())
			j.logg.Warn(logCtx, "provider check failed, expiring session")
			if err := j.expire(ctx, row); err != nil {
				errs = append(errs, err)
				continue
			}
			expired++
		case paid:
			// The user paid but never came back through the success
			// callback; settle here so the row cannot sit in PENDING.
			if _, err := j.settler.HandleSuccess(ctx, row.SessionID); err != nil {
				errs = append(errs, fmt.Errorf("settle payment %s: %w", row.ID, err))
				continue
			}
			settled++
		case row.IsStaleAt(now):
			if err := j.expire(ctx, row); err != nil {
				errs = append(errs, err)
				continue
			}
			expired++
		}
	}

	if expired > 0 || settled > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"expired_count": expired,
			"settled_count": settled,
		})
		j.logg.Info(logCtx, "pending checkout sessions swept")
	}
	return multierr.Combine(errs...)
}

func (j *paymentExpiryJob) checkProvider(ctx context.Context, sessionID string) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	return j.provider.SessionPaid(checkCtx, sessionID)
}

func (j *paymentExpiryJob) expire(ctx context.Context, row models.Payment) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		// The guarded transition keeps the sweep idempotent: a session
		// settled between the read and now is simply left alone.
		if _, err := j.repoFactory(tx).TransitionStatus(ctx, row.ID, enums.PaymentStatusPending, enums.PaymentStatusExpired); err != nil {
			return fmt.Errorf("expire payment %s: %w", row.ID, err)
		}
		return nil
	})
}
