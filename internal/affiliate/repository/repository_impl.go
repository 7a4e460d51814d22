package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	affiliatedomain "github.com/luminahealthlabs/lumina/internal/affiliate/domain"
	"github.com/luminahealthlabs/lumina/internal/db"
)

type repository struct{}

func Provide() affiliatedomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, affiliate *affiliatedomain.Affiliate) error {
	return db.WithContext(ctx).Create(affiliate).Error
}

func (r *repository) FindByCode(ctx context.Context, db *gorm.DB, code string) (*affiliatedomain.Affiliate, error) {
	var affiliate affiliatedomain.Affiliate
	err := db.WithContext(ctx).First(&affiliate, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

func (r *repository) InsertClick(ctx context.Context, db *gorm.DB, click *affiliatedomain.Click) error {
	return db.WithContext(ctx).Create(click).Error
}

func (r *repository) FindClick(ctx context.Context, db *gorm.DB, id string) (*affiliatedomain.Click, error) {
	var click affiliatedomain.Click
	err := db.WithContext(ctx).First(&click, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &click, nil
}

func (r *repository) InsertConversion(ctx context.Context, tx *gorm.DB, conversion *affiliatedomain.Conversion) (bool, error) {
	err := tx.WithContext(ctx).Create(conversion).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) FindConversionByChargeID(ctx context.Context, db *gorm.DB, chargeID string) (*affiliatedomain.Conversion, error) {
	var conversion affiliatedomain.Conversion
	err := db.WithContext(ctx).First(&conversion, "charge_id = ?", chargeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conversion, nil
}

func (r *repository) InsertCommission(ctx context.Context, tx *gorm.DB, commission *affiliatedomain.Commission) error {
	return tx.WithContext(ctx).Create(commission).Error
}

func (r *repository) FindCommissionByConversionForUpdate(ctx context.Context, tx *gorm.DB, conversionID snowflake.ID) (*affiliatedomain.Commission, error) {
	var commission affiliatedomain.Commission
	err := db.LockForUpdate(tx).WithContext(ctx).
		First(&commission, "conversion_id = ?", conversionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) UpdateCommission(ctx context.Context, tx *gorm.DB, commission *affiliatedomain.Commission) error {
	return tx.WithContext(ctx).Save(commission).Error
}

func (r *repository) MarkPayablePaid(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Model(&affiliatedomain.Commission{}).
		Where("status = ? AND payable_at <= ?", affiliatedomain.CommissionPending, now).
		Updates(map[string]any{
			"status":     affiliatedomain.CommissionPaid,
			"paid_at":    now,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}
