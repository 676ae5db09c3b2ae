package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/94nj111/library-service/internal/payments"
	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/logger"
)

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubPendingReader struct {
	rows []models.Payment
	err  error
}

func (s *stubPendingReader) FindPending(ctx context.Context) ([]models.Payment, error) {
	return s.rows, s.err
}

type stubCheckoutProvider struct {
	paid    map[string]bool
	err     error
	queried []string
}

func (s *stubCheckoutProvider) CreateSession(ctx context.Context, name string, amountMinor int64) (string, string, error) {
	return "", "", errors.New("not used")
}

func (s *stubCheckoutProvider) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	s.queried = append(s.queried, sessionID)
	if s.err != nil {
		return false, s.err
	}
	return s.paid[sessionID], nil
}

type stubTransitionRepo struct {
	transitions map[uuid.UUID]enums.PaymentStatus
	err         error
}

func (s *stubTransitionRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.transitions == nil {
		s.transitions = map[uuid.UUID]enums.PaymentStatus{}
	}
	s.transitions[id] = to
	return true, nil
}

type stubSettler struct {
	settled []string
	err     error
}

func (s *stubSettler) HandleSuccess(ctx context.Context, sessionID string) (*payments.CallbackResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.settled = append(s.settled, sessionID)
	return &payments.CallbackResult{Settled: true, Status: enums.PaymentStatusPaid}, nil
}

func pendingPayment(sessionID string, expiresIn time.Duration) models.Payment {
	return models.Payment{
		ID:        uuid.New(),
		Status:    enums.PaymentStatusPending,
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(expiresIn),
	}
}

func newExpiryJob(t *testing.T, reader *stubPendingReader, provider *stubCheckoutProvider, repo *stubTransitionRepo, settler *stubSettler) Job {
	t.Helper()
	job, err := NewPaymentExpiryJob(PaymentExpiryJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:          &stubTxRunner{},
		Pending:     reader,
		Provider:    provider,
		Settler:     settler,
		RepoFactory: func(tx *gorm.DB) transactionalPaymentRepo { return repo },
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	return job
}

func TestExpiryJobExpiresStaleSessions(t *testing.T) {
	stale := pendingPayment("cs_stale", -time.Hour)
	fresh := pendingPayment("cs_fresh", time.Hour)
	reader := &stubPendingReader{rows: []models.Payment{stale, fresh}}
	provider := &stubCheckoutProvider{paid: map[string]bool{}}
	repo := &stubTransitionRepo{}

	job := newExpiryJob(t, reader, provider, repo, &stubSettler{})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if repo.transitions[stale.ID] != enums.PaymentStatusExpired {
		t.Fatal("stale session must be expired")
	}
	if _, touched := repo.transitions[fresh.ID]; touched {
		t.Fatal("fresh unpaid session must be left alone")
	}
	if len(provider.queried) != 2 {
		t.Fatalf("every pending session must be checked, got %v", provider.queried)
	}
}

func TestExpiryJobSettlesSessionsPaidAtProvider(t *testing.T) {
	stale := pendingPayment("cs_paid_stale", -48*time.Hour)
	fresh := pendingPayment("cs_paid_fresh", time.Hour)
	reader := &stubPendingReader{rows: []models.Payment{stale, fresh}}
	provider := &stubCheckoutProvider{paid: map[string]bool{"cs_paid_stale": true, "cs_paid_fresh": true}}
	repo := &stubTransitionRepo{}
	settler := &stubSettler{}

	job := newExpiryJob(t, reader, provider, repo, settler)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(repo.transitions) != 0 {
		t.Fatal("a session paid at the provider must never be expired")
	}
	if len(settler.settled) != 2 {
		t.Fatalf("paid sessions must settle through the success path, got %v", settler.settled)
	}
}

func TestExpiryJobExpiresOnProviderFailure(t *testing.T) {
	stale := pendingPayment("cs_err_stale", -time.Hour)
	fresh := pendingPayment("cs_err_fresh", time.Hour)
	reader := &stubPendingReader{rows: []models.Payment{stale, fresh}}
	provider := &stubCheckoutProvider{err: errors.New("gateway down")}
	repo := &stubTransitionRepo{}

	job := newExpiryJob(t, reader, provider, repo, &stubSettler{})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// An unreachable gateway expires the session regardless of its window.
	if repo.transitions[stale.ID] != enums.PaymentStatusExpired {
		t.Fatal("provider failure on a stale session must expire it")
	}
	if repo.transitions[fresh.ID] != enums.PaymentStatusExpired {
		t.Fatal("provider failure inside the window must still expire the session")
	}
}

func TestExpiryJobAggregatesPerRowErrors(t *testing.T) {
	rowA := pendingPayment("cs_a", -time.Hour)
	rowB := pendingPayment("cs_b", -time.Hour)
	reader := &stubPendingReader{rows: []models.Payment{rowA, rowB}}
	provider := &stubCheckoutProvider{paid: map[string]bool{}}
	repo := &stubTransitionRepo{err: errors.New("db down")}

	job := newExpiryJob(t, reader, provider, repo, &stubSettler{})
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(provider.queried) != 2 {
		t.Fatal("a failed row must not stop the sweep")
	}
}

func TestExpiryJobKeepsSweepingWhenSettleFails(t *testing.T) {
	paid := pendingPayment("cs_paid", time.Hour)
	stale := pendingPayment("cs_stale", -time.Hour)
	reader := &stubPendingReader{rows: []models.Payment{paid, stale}}
	provider := &stubCheckoutProvider{paid: map[string]bool{"cs_paid": true}}
	repo := &stubTransitionRepo{}

	job := newExpiryJob(t, reader, provider, repo, &stubSettler{err: errors.New("settle failed")})
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected settle error to surface")
	}
	if repo.transitions[stale.ID] != enums.PaymentStatusExpired {
		t.Fatal("a failed settle must not stop the rest of the sweep")
	}
}
