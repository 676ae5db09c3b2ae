package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/94nj111/library-service/pkg/db/models"
	"github.com/94nj111/library-service/pkg/enums"
)

// CreateSessionInput captures a request to open a checkout session for a
// borrowing. The service decides whether it charges the base fee or a fine.
type CreateSessionInput struct {
	BorrowingID uuid.UUID `json:"borrowing_id" validate:"required"`

	ActorUserID uuid.UUID      `json:"-"`
	ActorRole   enums.UserRole `json:"-"`
}

// SessionResponse is returned when a checkout session is opened or renewed.
type SessionResponse struct {
	PaymentID  uuid.UUID           `json:"payment_id"`
	SessionID  string              `json:"session_id"`
	SessionURL string              `json:"session_url"`
	Status     enums.PaymentStatus `json:"status"`
	Type       enums.PaymentType   `json:"type"`
	MoneyToPay decimal.Decimal     `json:"money_to_pay"`
	ExpiresAt  time.Time           `json:"expires_at"`
}

// PaymentResponse is the wire representation of a payment.
type PaymentResponse struct {
	ID          uuid.UUID           `json:"id"`
	BorrowingID uuid.UUID           `json:"borrowing_id"`
	Status      enums.PaymentStatus `json:"status"`
	Type        enums.PaymentType   `json:"type"`
	SessionURL  string              `json:"session_url"`
	SessionID   string              `json:"session_id"`
	MoneyToPay  decimal.Decimal     `json:"money_to_pay"`
	ExpiresAt   time.Time           `json:"expires_at"`
	CreatedAt   time.Time           `json:"created_at"`
}

// PaymentList is a cursor page of payments.
type PaymentList struct {
	Items      []PaymentResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// CallbackResult reports what a provider redirect callback observed.
type CallbackResult struct {
	Settled bool                `json:"settled"`
	Status  enums.PaymentStatus `json:"status"`
	Message string              `json:"message"`
}

// PaymentSucceededEvent is emitted when a checkout session settles.
type PaymentSucceededEvent struct {
	PaymentID   uuid.UUID         `json:"payment_id"`
	BorrowingID uuid.UUID         `json:"borrowing_id"`
	UserID      uuid.UUID         `json:"user_id"`
	Type        enums.PaymentType `json:"type"`
	Amount      string            `json:"amount"`
}

func toPaymentResponse(row models.Payment) PaymentResponse {
	return PaymentResponse{
		ID:          row.ID,
		BorrowingID: row.BorrowingID,
		Status:      row.Status,
		Type:        row.Type,
		SessionURL:  row.SessionURL,
		SessionID:   row.SessionID,
		MoneyToPay:  row.MoneyToPay,
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
	}
}

func toSessionResponse(row models.Payment) SessionResponse {
	return SessionResponse{
		PaymentID:  row.ID,
		SessionID:  row.SessionID,
		SessionURL: row.SessionURL,
		Status:     row.Status,
		Type:       row.Type,
		MoneyToPay: row.MoneyToPay,
		ExpiresAt:  row.ExpiresAt,
	}
}
