package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ProviderSubscriptionEvent is the reconciler's view of a provider-side
// subscription snapshot, already resolved to an internal account.
type ProviderSubscriptionEvent struct {
	AccountID              snowflake.ID
	ExternalSubscriptionID string
	Active                 bool // provider reports "active"; everything else pauses access
	PriceCents             int64
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

type Service interface {
	// ApplyProviderEvent runs the read-classify-write reconciliation under a
	// row lock and resets the wallet cycle when the classification calls for it.
	ApplyProviderEvent(ctx context.Context, ev ProviderSubscriptionEvent) error

	// PauseByExternalID stamps cycle end = now without deleting the row.
	PauseByExternalID(ctx context.Context, externalID string) error
	PauseByAccount(ctx context.Context, accountID snowflake.ID) error

	// DeleteByExternalID removes the row outright (subscription.deleted).
	DeleteByExternalID(ctx context.Context, externalID string) error

	// GrantAdminSubscription goes through the same reset primitive as the
	// provider-driven path. until == nil grants a permanent subscription.
	GrantAdminSubscription(ctx context.Context, accountID snowflake.ID, allowanceCents int64, until *time.Time) error
	RevokeAdminSubscription(ctx context.Context, accountID snowflake.ID) error

	GetForAccount(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
}

type Repository interface {
	FindByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Subscription, error)
	FindByAccountForUpdate(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*Subscription, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	Insert(ctx context.Context, tx *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, tx *gorm.DB, sub *Subscription) error
	Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
}
