package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	dbpkg "github.com/luminahealthlabs/lumina/internal/db"
	walletdomain "github.com/luminahealthlabs/lumina/internal/wallet/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() walletdomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, topup *walletdomain.CreditTopUp) error {
	return db.WithContext(ctx).Create(topup).Error
}

func (r *repository) ListSpendable(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) ([]walletdomain.CreditTopUp, error) {
	return listSpendable(ctx, db, accountID, now)
}

func (r *repository) ListSpendableForUpdate(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, now time.Time) ([]walletdomain.CreditTopUp, error) {
	return listSpendable(ctx, dbpkg.LockForUpdate(tx), accountID, now)
}

func listSpendable(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) ([]walletdomain.CreditTopUp, error) {
	var topups []walletdomain.CreditTopUp
	err := db.WithContext(ctx).
		Where("account_id = ? AND expires_at > ? AND used_cents < amount_cents", accountID, now).
		Order("expires_at ASC").
		Find(&topups).Error
	if err != nil {
		return nil, err
	}
	return topups, nil
}

func (r *repository) FindBySourceRef(ctx context.Context, db *gorm.DB, sourceRef string) (*walletdomain.CreditTopUp, error) {
	return findBySourceRef(ctx, db, sourceRef)
}

func (r *repository) FindBySourceRefForUpdate(ctx context.Context, tx *gorm.DB, sourceRef string) (*walletdomain.CreditTopUp, error) {
	return findBySourceRef(ctx, dbpkg.LockForUpdate(tx), sourceRef)
}

func findBySourceRef(ctx context.Context, db *gorm.DB, sourceRef string) (*walletdomain.CreditTopUp, error) {
	var topup walletdomain.CreditTopUp
	err := db.WithContext(ctx).First(&topup, "source_ref = ?", sourceRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &topup, nil
}

func (r *repository) Update(ctx context.Context, tx *gorm.DB, topup *walletdomain.CreditTopUp) error {
	return tx.WithContext(ctx).Save(topup).Error
}
