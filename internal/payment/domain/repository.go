package domain

import (
	"context"
	"time"
)

// EventRepository persists the webhook audit trail.
type EventRepository interface {
	// InsertOrGet inserts rec, or returns the existing row when the provider
	// event id was already recorded.
	InsertOrGet(ctx context.Context, rec *EventRecord) (*EventRecord, bool, error)
	MarkProcessed(ctx context.Context, providerEventID string, at time.Time) error
	// DeleteProcessedBefore prunes processed rows older than cutoff and
	// returns how many were removed.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IngestService handles a verified, decoded webhook event end to end.
type IngestService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}
