package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/outbox"
)

// outboxDrainer is the slice of the outbox repository the notifier needs.
type outboxDrainer interface {
	FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

// ServiceParams configure the notification dispatcher.
type ServiceParams struct {
	Logger *logger.Logger
	Outbox outboxDrainer
	Sender MessageSender
	Config config.NotifierConfig
}

// Service drains queued domain events and pushes them to the audience.
type Service struct {
	logg   *logger.Logger
	outbox outboxDrainer
	sender MessageSender
	cfg    config.NotifierConfig
}

// NewService builds the notifier service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox drainer required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("message sender required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Service{
		logg:   params.Logger,
		outbox: params.Outbox,
		sender: params.Sender,
		cfg:    cfg,
	}, nil
}

// Run polls the outbox until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "notifier context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.DrainOnce(ctx); err != nil {
				s.logg.Error(ctx, "notification drain failed", err)
			}
		}
	}
}

// DrainOnce delivers a single batch of queued events.
func (s *Service) DrainOnce(ctx context.Context) error {
	rows, err := s.outbox.FetchUnpublished(s.cfg.BatchSize, s.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("fetch unpublished events: %w", err)
	}

	for _, row := range rows {
		s.deliver(ctx, row)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, row models.OutboxEvent) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":   row.ID.String(),
		"event_type": row.EventType,
	})

	text, err := renderMessage(row)
	if err != nil {
		// An unrenderable payload never becomes renderable; burn its
		// attempts so it stops blocking the queue.
		s.logg.Error(logCtx, "event payload is unrenderable", err)
		if markErr := s.outbox.MarkFailed(row.ID, err); markErr != nil {
			s.logg.Error(logCtx, "failed to record render failure", markErr)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err = s.sender.Send(sendCtx, text)
	cancel()
	if err != nil {
		s.logg.Error(logCtx, "notification delivery failed", err)
		if markErr := s.outbox.MarkFailed(row.ID, err); markErr != nil {
			s.logg.Error(logCtx, "failed to record delivery failure", markErr)
		}
		return
	}

	if err := s.outbox.MarkPublished(row.ID); err != nil {
		s.logg.Error(logCtx, "failed to mark event published", err)
		return
	}
	s.logg.Info(logCtx, "notification delivered")
}

type borrowingCreatedPayload struct {
	BookTitle          string `json:"book_title"`
	UserID             string `json:"user_id"`
	BorrowDate         string `json:"borrow_date"`
	ExpectedReturnDate string `json:"expected_return_date"`
}

type borrowingOverduePayload struct {
	BookTitle          string `json:"book_title"`
	UserID             string `json:"user_id"`
	ExpectedReturnDate string `json:"expected_return_date"`
	OverdueDays        int    `json:"overdue_days"`
}

type paymentSucceededPayload struct {
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
}

func renderMessage(row models.OutboxEvent) (string, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}

	switch row.EventType {
	case enums.EventBorrowingCreated:
		var data borrowingCreatedPayload
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return "", fmt.Errorf("decode borrowing created payload: %w", err)
		}
		return fmt.Sprintf(
			"New borrowing was created:\nBorrow date: %s\nExpected return date: %s\nBook: %s\nUser: %s",
			data.BorrowDate, data.ExpectedReturnDate, data.BookTitle, data.UserID,
		), nil

	case enums.EventBorrowingOverdue:
		var data borrowingOverduePayload
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return "", fmt.Errorf("decode borrowing overdue payload: %w", err)
		}
		return fmt.Sprintf(
			"Borrowing is overdue:\nBook: %s\nUser: %s\nExpected return date: %s\nDays overdue: %d",
			data.BookTitle, data.UserID, data.ExpectedReturnDate, data.OverdueDays,
		), nil

	case enums.EventPaymentSucceeded:
		var data paymentSucceededPayload
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return "", fmt.Errorf("decode payment succeeded payload: %w", err)
		}
		return fmt.Sprintf(
			"Payment successful:\nType: %s\nAmount: %s\nUser: %s",
			data.Type, data.Amount, data.UserID,
		), nil

	default:
		return "", fmt.Errorf("unknown event type %q", row.EventType)
	}
}
