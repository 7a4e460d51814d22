package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")

	// ErrRetryable marks transient failures the webhook handler must surface
	// so the provider's at-least-once redelivery can succeed later.
	ErrRetryable = errors.New("retryable")
)

// Retryable wraps err so the webhook endpoint answers with a retry-eligible
// status instead of acknowledging the delivery.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRetryable, err)
}

type EventKind string

const (
	KindSubscriptionUpdated  EventKind = "subscription_updated"
	KindSubscriptionDeleted  EventKind = "subscription_deleted"
	KindInvoicePaymentFailed EventKind = "invoice_payment_failed"
	KindChargeRefunded       EventKind = "charge_refunded"
	KindDisputeCreated       EventKind = "dispute_created"
	KindCheckoutCompleted    EventKind = "checkout_completed"
)

// WebhookEvent is the canonical event parsed by a provider adapter. Exactly
// one of the payload pointers is set, matching Kind.
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	Kind            EventKind
	OccurredAt      time.Time
	RawPayload      []byte

	Subscription *SubscriptionData
	Invoice      *InvoiceData
	Charge       *ChargeData
	Checkout     *CheckoutData
}

// SubscriptionData covers subscription created and updated deliveries.
type SubscriptionData struct {
	ExternalSubscriptionID string
	ProviderCustomerID     string
	Status                 string // provider status verbatim; "active" grants access
	PriceCents             int64
	PeriodStart            time.Time
	PeriodEnd              time.Time

	// Initial marks the created delivery. Only initial subscriptions qualify
	// for affiliate attribution.
	Initial       bool
	AffiliateCode string
	ClickID       string
	ChargeID      string
}

type InvoiceData struct {
	ProviderCustomerID     string
	ExternalSubscriptionID string
}

// ChargeData covers charge.refunded and charge.dispute.created. Dispute
// payloads carry only the charge id; the reader backfills the rest.
type ChargeData struct {
	ChargeID           string
	ProviderCustomerID string
	InvoiceID          string
}

// CheckoutData covers checkout.session.completed for one-time top-up
// purchases.
type CheckoutData struct {
	SessionID          string
	ProviderCustomerID string
	AccountID          snowflake.ID
	AmountCents        int64
	Currency           string
	PaymentIntentID    string
	AffiliateCode      string
	ClickID            string
}

// EventRecord is the audit and idempotency row for every verified delivery.
// ProviderEventID is unique. ProcessedAt is stamped only after the event's
// effects committed, so a redelivered failure is reprocessed while a
// redelivered success is skipped.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex"`
	Kind            string         `json:"kind" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// BalanceTransaction is the provider's settlement detail for a charge.
type BalanceTransaction struct {
	GrossCents int64
	FeeCents   int64
	NetCents   int64
}

// Verifier authenticates and decodes a raw webhook delivery.
type Verifier interface {
	VerifyAndParse(payload []byte, signature string) (*WebhookEvent, error)
}

// ProviderReader is the outbound read-only surface of the payment provider.
// Lookups only; the provider stays authoritative for money movement.
type ProviderReader interface {
	GetCustomerEmail(ctx context.Context, providerCustomerID string) (string, error)
	// GetCharge resolves a charge id to its invoice and customer linkage.
	GetCharge(ctx context.Context, chargeID string) (*ChargeData, error)
	GetChargeBalance(ctx context.Context, chargeID string) (*BalanceTransaction, error)
	GetPaymentIntentCharge(ctx context.Context, paymentIntentID string) (string, error)
	GetInvoiceSubscription(ctx context.Context, invoiceID string) (string, error)
}
