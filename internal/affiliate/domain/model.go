package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrAffiliateNotFound  = errors.New("affiliate_not_found")
	ErrAffiliateSuspended = errors.New("affiliate_suspended")
	ErrInvalidAffiliate   = errors.New("invalid_affiliate")
	ErrClickNotFound      = errors.New("click_not_found")
)

type AffiliateStatus string

const (
	AffiliateActive    AffiliateStatus = "ACTIVE"
	AffiliateSuspended AffiliateStatus = "SUSPENDED"
)

type ConversionType string

const (
	ConversionSubscriptionInitial ConversionType = "SUBSCRIPTION_INITIAL"
	ConversionTopUp               ConversionType = "TOPUP"
)

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "PENDING"
	CommissionPaid    CommissionStatus = "PAID"
	CommissionVoided  CommissionStatus = "VOIDED"
)

type Affiliate struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code      string          `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name      string          `json:"name" gorm:"type:text;not null"`
	Status    AffiliateStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Affiliate) TableName() string { return "affiliates" }

// Click ids are ULIDs so the redirect handler can mint them without a
// database round trip and they still sort by time.
type Click struct {
	ID          string       `json:"id" gorm:"type:text;primaryKey"`
	AffiliateID snowflake.ID `json:"affiliate_id" gorm:"not null;index"`
	Referrer    string       `json:"referrer" gorm:"type:text"`
	OccurredAt  time.Time    `json:"occurred_at" gorm:"not null"`
}

func (Click) TableName() string { return "affiliate_clicks" }

// Conversion links a settled provider charge back to the affiliate click
// that earned it. ProviderEventID is unique so redelivered webhooks cannot
// double-book.
type Conversion struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex"`
	AffiliateID     snowflake.ID   `json:"affiliate_id" gorm:"not null;index"`
	AccountID       snowflake.ID   `json:"account_id" gorm:"not null"`
	ClickID         string         `json:"click_id" gorm:"type:text"`
	Type            ConversionType `json:"type" gorm:"type:text;not null"`
	ChargeID        string         `json:"charge_id" gorm:"type:text;not null;index"`
	GrossCents      int64          `json:"gross_cents" gorm:"not null"`
	FeeCents        int64          `json:"fee_cents" gorm:"not null"`
	NetCents        int64          `json:"net_cents" gorm:"not null"`
	OccurredAt      time.Time      `json:"occurred_at" gorm:"not null"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (Conversion) TableName() string { return "affiliate_conversions" }

type Commission struct {
	ID              snowflake.ID     `json:"id" gorm:"primaryKey"`
	ConversionID    snowflake.ID     `json:"conversion_id" gorm:"not null;uniqueIndex"`
	AffiliateID     snowflake.ID     `json:"affiliate_id" gorm:"not null;index"`
	CommissionCents int64            `json:"commission_cents" gorm:"not null"`
	Status          CommissionStatus `json:"status" gorm:"type:text;not null;index"`
	PayableAt       time.Time        `json:"payable_at" gorm:"not null"`
	PaidAt          *time.Time       `json:"paid_at"`
	VoidedAt        *time.Time       `json:"voided_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (Commission) TableName() string { return "affiliate_commissions" }
