package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Plan string

const (
	PlanNone    Plan = "NONE"
	PlanPremium Plan = "PREMIUM"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidPlan          = errors.New("invalid_plan")
)

// Subscription is the stored snapshot of the provider-side subscription.
// ExternalSubscriptionID nil means the subscription was granted by an admin
// and has no provider-side counterpart.
type Subscription struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	AccountID snowflake.ID `json:"account_id" gorm:"not null;uniqueIndex"`

	Plan                   Plan    `json:"plan" gorm:"type:text;not null"`
	MonthlyAllowanceCents  int64   `json:"monthly_allowance_cents" gorm:"not null"`
	ExternalSubscriptionID *string `json:"external_subscription_id" gorm:"type:text;index"`

	CycleStartAt time.Time  `json:"cycle_start_at" gorm:"not null"`
	CycleEndAt   *time.Time `json:"cycle_end_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// ActiveAt reports whether the subscription grants access at the given time.
// A far-future CycleEndAt is a permanent admin grant and counts as active.
func (s *Subscription) ActiveAt(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.CycleEndAt == nil || s.CycleEndAt.After(now)
}
