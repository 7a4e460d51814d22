package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrAccountNotFound = errors.New("account_not_found")
	ErrInvalidAccount  = errors.New("invalid_account")
)

// Account is the per-user ledger row. Daily quota and wallet usage are only
// mutated through the wallet service and the subscription reconciler.
type Account struct {
	ID    snowflake.ID `json:"id" gorm:"primaryKey"`
	Email string       `json:"email" gorm:"type:text;not null;uniqueIndex"`

	DailyQuotaLimit   int       `json:"daily_quota_limit" gorm:"not null"`
	DailyQuotaUsed    int       `json:"daily_quota_used" gorm:"not null;default:0"`
	DailyQuotaResetAt time.Time `json:"daily_quota_reset_at" gorm:"not null"`

	WalletMonthlyUsedCents int64     `json:"wallet_monthly_used_cents" gorm:"not null;default:0"`
	WalletMonthlyResetAt   time.Time `json:"wallet_monthly_reset_at" gorm:"not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }
