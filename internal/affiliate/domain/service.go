package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ConversionInput is the settled charge detail handed over by the webhook
// pipeline. Amounts come from the provider's balance transaction, fetched
// before any locks are taken.
type ConversionInput struct {
	ProviderEventID string
	AccountID       snowflake.ID
	Type            ConversionType
	AffiliateCode   string
	ClickID         string
	ChargeID        string
	OccurredAt      time.Time
	GrossCents      int64
	FeeCents        int64
	NetCents        int64
}

type Service interface {
	CreateAffiliate(ctx context.Context, name string) (*Affiliate, error)
	GetByCode(ctx context.Context, code string) (*Affiliate, error)
	// RecordClick mints a click id for the redirect handler. Unknown or
	// suspended codes return an error so the handler can fall through to a
	// plain redirect.
	RecordClick(ctx context.Context, code, referrer string) (string, error)
	// RecordConversionIfEligible books the conversion and its commission when
	// the referenced click falls inside the attribution window. Ineligible
	// conversions are dropped silently; duplicate provider event ids are a
	// no-op.
	RecordConversionIfEligible(ctx context.Context, input *ConversionInput) error
	// VoidCommissionForCharge flips a PENDING commission to VOIDED. PAID
	// commissions stay paid; clawing back settled payouts is a manual step.
	VoidCommissionForCharge(ctx context.Context, chargeID string) error
	// MarkPayableCommissionsPaid settles every PENDING commission whose
	// payable date has passed and returns how many were settled.
	MarkPayableCommissionsPaid(ctx context.Context) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, affiliate *Affiliate) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Affiliate, error)
	InsertClick(ctx context.Context, db *gorm.DB, click *Click) error
	FindClick(ctx context.Context, db *gorm.DB, id string) (*Click, error)
	// InsertConversion reports false when the provider event id was already
	// booked.
	InsertConversion(ctx context.Context, tx *gorm.DB, conversion *Conversion) (bool, error)
	FindConversionByChargeID(ctx context.Context, db *gorm.DB, chargeID string) (*Conversion, error)
	InsertCommission(ctx context.Context, tx *gorm.DB, commission *Commission) error
	FindCommissionByConversionForUpdate(ctx context.Context, tx *gorm.DB, conversionID snowflake.ID) (*Commission, error)
	UpdateCommission(ctx context.Context, tx *gorm.DB, commission *Commission) error
	MarkPayablePaid(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}
