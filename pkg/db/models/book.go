package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/94nj111/library-service/pkg/enums"
)

// Book is one title in the catalog; Inventory counts the physical copies
// currently available to borrow.
type Book struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Title     string          `gorm:"column:title;not null"`
	Author    string          `gorm:"column:author;not null"`
	Cover     enums.CoverType `gorm:"column:cover;type:cover_type;not null"`
	Inventory int             `gorm:"column:inventory;not null;default:0;check:inventory >= 0"`
	DailyFee  decimal.Decimal `gorm:"column:daily_fee;type:numeric(10,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
