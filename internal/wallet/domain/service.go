package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// GetWalletStatus is a pure read; it never mutates state.
	GetWalletStatus(ctx context.Context, accountID snowflake.ID) (WalletStatus, error)

	// ChargeCents debits amountCents across the monthly wallet and top-up
	// blocks atomically. It returns false with no mutation when the combined
	// balance cannot cover the amount. A zero amount is a no-op success.
	ChargeCents(ctx context.Context, accountID snowflake.ID, amountCents int64) (bool, error)

	// GrantTopUp creates a credit block. Both the purchase path and admin
	// grants go through here so the invariants stay uniform.
	GrantTopUp(ctx context.Context, accountID snowflake.ID, amountCents int64, expiresAt time.Time, sourceRef string) (*CreditTopUp, error)

	// RevokeTopUpBySourceRef marks the block fully used so refunded credit
	// can no longer be spent. Missing blocks are not an error.
	RevokeTopUpBySourceRef(ctx context.Context, sourceRef string) error

	// ConsumeDailyQuota spends n units of the free daily quota, rolling the
	// counter over at day boundaries. Returns false when the quota is exhausted.
	ConsumeDailyQuota(ctx context.Context, accountID snowflake.ID, n int) (bool, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, topup *CreditTopUp) error
	// ListSpendable returns unexpired, not fully used blocks ordered by
	// nearest expiry first.
	ListSpendable(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) ([]CreditTopUp, error)
	ListSpendableForUpdate(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, now time.Time) ([]CreditTopUp, error)
	FindBySourceRef(ctx context.Context, db *gorm.DB, sourceRef string) (*CreditTopUp, error)
	FindBySourceRefForUpdate(ctx context.Context, tx *gorm.DB, sourceRef string) (*CreditTopUp, error)
	Update(ctx context.Context, tx *gorm.DB, topup *CreditTopUp) error
}
