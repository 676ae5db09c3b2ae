package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/94nj111/library-service/pkg/enums"
)

// Payment tracks one external checkout session charged against a borrowing.
// A payment has no existence independent of its borrowing.
type Payment struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	BorrowingID uuid.UUID           `gorm:"column:borrowing_id;type:uuid;not null"`
	Borrowing   *Borrowing          `gorm:"foreignKey:BorrowingID;constraint:OnDelete:CASCADE"`
	Status      enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'PENDING'"`
	Type        enums.PaymentType   `gorm:"column:type;type:payment_type;not null"`
	SessionURL  string              `gorm:"column:session_url;not null"`
	SessionID   string              `gorm:"column:session_id;not null;index"`
	MoneyToPay  decimal.Decimal     `gorm:"column:money_to_pay;type:numeric(10,2);not null"`
	ExpiresAt   time.Time           `gorm:"column:expires_at;not null"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsStaleAt reports whether a pending session has outlived its window.
func (p Payment) IsStaleAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
