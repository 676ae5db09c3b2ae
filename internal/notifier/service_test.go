package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/logger"
	"github.com/94nj111/library-service/pkg/outbox"
)

type stubDrainer struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (s *stubDrainer) FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return s.rows, nil
}

func (s *stubDrainer) MarkPublished(id uuid.UUID) error {
	s.published = append(s.published, id)
	return nil
}

func (s *stubDrainer) MarkFailed(id uuid.UUID, err error) error {
	s.failed = append(s.failed, id)
	return nil
}

type stubSender struct {
	sent []string
	err  error
}

func (s *stubSender) Send(ctx context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func eventRow(t *testing.T, eventType enums.OutboxEventType, data any) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
	}
}

func newService(t *testing.T, drainer *stubDrainer, sender *stubSender) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{ServiceName: "notifier-test"}),
		Outbox: drainer,
		Sender: sender,
		Config: config.NotifierConfig{BatchSize: 10, MaxAttempts: 3, SendTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestDrainDeliversAndMarksPublished(t *testing.T) {
	userID := uuid.NewString()
	drainer := &stubDrainer{rows: []models.OutboxEvent{
		eventRow(t, enums.EventBorrowingCreated, map[string]any{
			"book_title":           "Dune",
			"user_id":              userID,
			"borrow_date":          "2026-08-01",
			"expected_return_date": "2026-08-08",
		}),
	}}
	sender := &stubSender{}
	svc := newService(t, drainer, sender)

	if err := svc.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if !strings.Contains(msg, "New borrowing was created") || !strings.Contains(msg, "Book: Dune") {
		t.Fatalf("unexpected message %q", msg)
	}
	if len(drainer.published) != 1 {
		t.Fatal("delivered event must be marked published")
	}
	if len(drainer.failed) != 0 {
		t.Fatal("no failures expected")
	}
}

func TestDrainMarksFailureAndKeepsGoing(t *testing.T) {
	rows := []models.OutboxEvent{
		eventRow(t, enums.EventBorrowingOverdue, map[string]any{
			"book_title":           "Dune",
			"user_id":              uuid.NewString(),
			"expected_return_date": "2026-08-01",
			"overdue_days":         3,
		}),
		eventRow(t, enums.EventPaymentSucceeded, map[string]any{
			"payment_id": uuid.NewString(),
			"user_id":    uuid.NewString(),
			"type":       "FINE",
			"amount":     "12.00",
		}),
	}
	drainer := &stubDrainer{rows: rows}
	sender := &stubSender{err: errors.New("telegram down")}
	svc := newService(t, drainer, sender)

	if err := svc.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(drainer.failed) != 2 {
		t.Fatalf("both deliveries must be marked failed, got %d", len(drainer.failed))
	}
	if len(drainer.published) != 0 {
		t.Fatal("failed deliveries must not be marked published")
	}
}

func TestDrainBurnsUnrenderableEvents(t *testing.T) {
	row := models.OutboxEvent{
		ID:        uuid.New(),
		EventType: enums.OutboxEventType("mystery"),
		Payload:   json.RawMessage(`{"version":1,"eventId":"x","data":{}}`),
	}
	drainer := &stubDrainer{rows: []models.OutboxEvent{row}}
	sender := &stubSender{}
	svc := newService(t, drainer, sender)

	if err := svc.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("unknown event must not be sent")
	}
	if len(drainer.failed) != 1 {
		t.Fatal("unknown event must be marked failed")
	}
}

func TestRenderMessages(t *testing.T) {
	overdue := eventRow(t, enums.EventBorrowingOverdue, map[string]any{
		"book_title":           "Dune",
		"user_id":              "u1",
		"expected_return_date": "2026-08-01",
		"overdue_days":         4,
	})
	text, err := renderMessage(overdue)
	if err != nil {
		t.Fatalf("render overdue: %v", err)
	}
	if !strings.Contains(text, "overdue") || !strings.Contains(text, "Days overdue: 4") {
		t.Fatalf("unexpected overdue text %q", text)
	}

	paid := eventRow(t, enums.EventPaymentSucceeded, map[string]any{
		"payment_id": "p1",
		"user_id":    "u1",
		"type":       "PAYMENT",
		"amount":     "10.50",
	})
	text, err = renderMessage(paid)
	if err != nil {
		t.Fatalf("render payment: %v", err)
	}
	if !strings.Contains(text, "Payment successful") || !strings.Contains(text, "Amount: 10.50") {
		t.Fatalf("unexpected payment text %q", text)
	}
}
