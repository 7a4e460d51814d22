package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/luminahealthlabs/lumina/internal/payment/domain"
)

type eventRepository struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) InsertOrGet(ctx context.Context, rec *domain.EventRecord) (*domain.EventRecord, bool, error) {
	err := r.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}

	var existing domain.EventRecord
	err = r.db.WithContext(ctx).
		Where("provider_event_id = ?", rec.ProviderEventID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *eventRepository) MarkProcessed(ctx context.Context, providerEventID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("provider_event_id = ?", providerEventID).
		Update("processed_at", at).Error
}

func (r *eventRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND received_at < ?", cutoff).
		Delete(&domain.EventRecord{})
	return result.RowsAffected, result.Error
}
