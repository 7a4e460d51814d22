package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/luminahealthlabs/lumina/internal/db"
	subscriptiondomain "github.com/luminahealthlabs/lumina/internal/subscription/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() subscriptiondomain.Repository {
	return &repository{}
}

func (r *repository) FindByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).First(&sub, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByAccountForUpdate(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.LockForUpdate(tx).WithContext(ctx).
		First(&sub, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).First(&sub, "external_subscription_id = ?", externalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) Insert(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return tx.WithContext(ctx).Create(sub).Error
}

func (r *repository) Update(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return tx.WithContext(ctx).Save(sub).Error
}

func (r *repository) Delete(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).Delete(&subscriptiondomain.Subscription{}, "id = ?", id).Error
}
