package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrTopUpNotFound = errors.New("topup_not_found")
)

// CreditTopUp is a purchased (or admin-granted) credit block. Immutable once
// created except for UsedCents, which only grows through the charge path.
// Exhausted and expired blocks are skipped but never deleted.
type CreditTopUp struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	AccountID snowflake.ID `json:"account_id" gorm:"not null;index"`

	AmountCents int64     `json:"amount_cents" gorm:"not null"`
	UsedCents   int64     `json:"used_cents" gorm:"not null;default:0"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null"`

	// SourceRef ties the block to the originating provider charge, or carries
	// an admin grant reference. Refund reversal looks blocks up by it.
	SourceRef string `json:"source_ref" gorm:"type:text;not null;uniqueIndex"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (CreditTopUp) TableName() string { return "credit_topups" }

func (t *CreditTopUp) RemainingCents() int64 {
	return t.AmountCents - t.UsedCents
}

// WalletStatus is the advisory read-only balance view. The charge path
// re-reads everything under a lock; callers must treat this as stale.
type WalletStatus struct {
	MonthlyRemainingCents int64 `json:"monthly_remaining_cents"`
	TopUpRemainingCents   int64 `json:"topup_remaining_cents"`
	TotalAvailableCents   int64 `json:"total_available_cents"`
}
