package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/internal/borrowings"
	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/outbox"
)

type overdueBorrowingsReader interface {
	FindOverdueActive(ctx context.Context, asOf time.Time) ([]models.Borrowing, error)
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// BorrowingOverdueEvent is queued once per overdue borrowing so members get
// nudged about books they are holding past the expected return date.
type BorrowingOverdueEvent struct {
	BorrowingID        uuid.UUID `json:"borrowing_id"`
	BookID             uuid.UUID `json:"book_id"`
	BookTitle          string    `json:"book_title"`
	UserID             uuid.UUID `json:"user_id"`
	ExpectedReturnDate string    `json:"expected_return_date"`
	OverdueDays        int       `json:"overdue_days"`
}

// OverdueNoticeJobParams configure the overdue borrowing notifier feed.
type OverdueNoticeJobParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Overdue overdueBorrowingsReader
	Outbox  outboxEmitter
}

// NewOverdueNoticeJob builds the cron job that queues overdue notices.
func NewOverdueNoticeJob(params OverdueNoticeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Overdue == nil {
		return nil, fmt.Errorf("overdue borrowings reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &overdueNoticeJob{
		logg:    params.Logger,
		db:      params.DB,
		overdue: params.Overdue,
		outbox:  params.Outbox,
		now:     time.Now,
	}, nil
}

type overdueNoticeJob struct {
	logg    *logger.Logger
	db      txRunner
	overdue overdueBorrowingsReader
	outbox  outboxEmitter
	now     func() time.Time
}

func (j *overdueNoticeJob) Name() string { return "overdue-notice" }

func (j *overdueNoticeJob) Run(ctx context.Context) error {
	now := j.now()
	rows, err := j.overdue.FindOverdueActive(ctx, now)
	if err != nil {
		return fmt.Errorf("query overdue borrowings: %w", err)
	}

	var errs []error
	for _, row := range rows {
		if err := j.queueNotice(ctx, row, now); err != nil {
			errs = append(errs, err)
		}
	}
	if len(rows) > 0 {
		logCtx := j.logg.WithField(ctx, "overdue_count", len(rows))
		j.logg.Info(logCtx, "overdue borrowings swept")
	}
	return multierr.Combine(errs...)
}

func (j *overdueNoticeJob) queueNotice(ctx context.Context, row models.Borrowing, now time.Time) error {
	overdueDays := int(models.Day(now).Sub(row.ExpectedReturnDate).Hours() / 24)
	event := BorrowingOverdueEvent{
		BorrowingID:        row.ID,
		BookID:             row.BookID,
		UserID:             row.UserID,
		ExpectedReturnDate: row.ExpectedReturnDate.Format(borrowings.DateLayout),
		OverdueDays:        overdueDays,
	}
	if row.Book != nil {
		event.BookTitle = row.Book.Title
	}

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowingOverdue,
			AggregateType: enums.AggregateBorrowing,
			AggregateID:   row.ID,
			Data:          event,
			Version:       1,
		})
	})
	if err != nil {
		return fmt.Errorf("queue overdue notice for %s: %w", row.ID, err)
	}
	return nil
}
