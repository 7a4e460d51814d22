package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/luminahealthlabs/lumina/internal/account/domain"
	"github.com/luminahealthlabs/lumina/internal/clock"
	"github.com/luminahealthlabs/lumina/internal/observability"
	subscriptiondomain "github.com/luminahealthlabs/lumina/internal/subscription/domain"
	walletdomain "github.com/luminahealthlabs/lumina/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	AccountRepo accountdomain.Repository
	SubRepo     subscriptiondomain.Repository
	TopUpRepo   walletdomain.Repository

	Metrics *observability.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	accountRepo accountdomain.Repository
	subRepo     subscriptiondomain.Repository
	topupRepo   walletdomain.Repository

	metrics *observability.Metrics
}

func NewService(p ServiceParam) walletdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("wallet.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		accountRepo: p.AccountRepo,
		subRepo:     p.SubRepo,
		topupRepo:   p.TopUpRepo,
		metrics:     p.Metrics,
	}
}

func (s *Service) GetWalletStatus(ctx context.Context, accountID snowflake.ID) (walletdomain.WalletStatus, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return walletdomain.WalletStatus{}, err
	}
	if account == nil {
		return walletdomain.WalletStatus{}, accountdomain.ErrAccountNotFound
	}

	now := s.clock.Now(ctx)

	monthlyRemaining := int64(0)
	sub, err := s.subRepo.FindByAccount(ctx, s.db, accountID)
	if err != nil {
		return walletdomain.WalletStatus{}, err
	}
	if sub.ActiveAt(now) {
		monthlyRemaining = sub.MonthlyAllowanceCents - account.WalletMonthlyUsedCents
		if monthlyRemaining < 0 {
			monthlyRemaining = 0
		}
	}

	topups, err := s.topupRepo.ListSpendable(ctx, s.db, accountID, now)
	if err != nil {
		return walletdomain.WalletStatus{}, err
	}
	var topupRemaining int64
	for i := range topups {
		topupRemaining += topups[i].RemainingCents()
	}

	return walletdomain.WalletStatus{
		MonthlyRemainingCents: monthlyRemaining,
		TopUpRemainingCents:   topupRemaining,
		TotalAvailableCents:   monthlyRemaining + topupRemaining,
	}, nil
}

func (s *Service) ChargeCents(ctx context.Context, accountID snowflake.ID, amountCents int64) (bool, error) {
	if amountCents < 0 {
		return false, walletdomain.ErrInvalidAmount
	}
	if amountCents == 0 {
		// Some features are conditionally free.
		return true, nil
	}

	charged := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrAccountNotFound
		}

		now := s.clock.Now(ctx)

		monthlyRemaining := int64(0)
		sub, err := s.subRepo.FindByAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if sub.ActiveAt(now) {
			monthlyRemaining = sub.MonthlyAllowanceCents - account.WalletMonthlyUsedCents
			if monthlyRemaining < 0 {
				monthlyRemaining = 0
			}
		}

		topups, err := s.topupRepo.ListSpendableForUpdate(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		var topupRemaining int64
		for i := range topups {
			topupRemaining += topups[i].RemainingCents()
		}

		if monthlyRemaining+topupRemaining < amountCents {
			return nil
		}

		// Monthly allowance first: it is use-it-or-lose-it at cycle end, while
		// top-ups persist until expiry. Within top-ups, nearest expiry first.
		remaining := amountCents
		if debit := min64(monthlyRemaining, remaining); debit > 0 {
			account.WalletMonthlyUsedCents += debit
			account.UpdatedAt = now
			if err := s.accountRepo.Update(ctx, tx, account); err != nil {
				return err
			}
			remaining -= debit
		}

		for i := range topups {
			if remaining == 0 {
				break
			}
			debit := min64(topups[i].RemainingCents(), remaining)
			if debit <= 0 {
				continue
			}
			topups[i].UsedCents += debit
			topups[i].UpdatedAt = now
			if err := s.topupRepo.Update(ctx, tx, &topups[i]); err != nil {
				return err
			}
			remaining -= debit
		}

		if remaining != 0 {
			return fmt.Errorf("charge drift: %d cents undebited", remaining)
		}

		charged = true
		return nil
	})
	if err != nil {
		s.countCharge("error")
		return false, err
	}

	if charged {
		s.countCharge("charged")
	} else {
		s.countCharge("insufficient_funds")
		s.log.Debug("charge declined",
			zap.String("account_id", accountID.String()),
			zap.Int64("amount_cents", amountCents))
	}
	return charged, nil
}

func (s *Service) GrantTopUp(ctx context.Context, accountID snowflake.ID, amountCents int64, expiresAt time.Time, sourceRef string) (*walletdomain.CreditTopUp, error) {
	if amountCents <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}

	now := s.clock.Now(ctx)
	topup := walletdomain.CreditTopUp{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		AmountCents: amountCents,
		ExpiresAt:   expiresAt,
		SourceRef:   sourceRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Retried grants for the same source (redelivered webhook, repeated
	// Idempotency-Key) must not stack credit.
	if err := s.topupRepo.Insert(ctx, s.db, &topup); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.topupRepo.FindBySourceRef(ctx, s.db, sourceRef)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.log.Info("topup granted",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount_cents", amountCents),
		zap.String("source_ref", sourceRef))
	return &topup, nil
}

func (s *Service) RevokeTopUpBySourceRef(ctx context.Context, sourceRef string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		topup, err := s.topupRepo.FindBySourceRefForUpdate(ctx, tx, sourceRef)
		if err != nil {
			return err
		}
		if topup == nil {
			// Not every refunded charge bought credit.
			return nil
		}
		if topup.UsedCents == topup.AmountCents {
			return nil
		}

		topup.UsedCents = topup.AmountCents
		topup.UpdatedAt = s.clock.Now(ctx)
		if err := s.topupRepo.Update(ctx, tx, topup); err != nil {
			return err
		}

		s.log.Info("topup revoked", zap.String("source_ref", sourceRef))
		return nil
	})
}

func (s *Service) ConsumeDailyQuota(ctx context.Context, accountID snowflake.ID, n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}

	allowed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrAccountNotFound
		}

		now := s.clock.Now(ctx)
		if !sameDay(account.DailyQuotaResetAt, now) {
			account.DailyQuotaUsed = 0
			account.DailyQuotaResetAt = now
		}

		if account.DailyQuotaUsed+n > account.DailyQuotaLimit {
			// Persist the rollover even when the consume is declined.
			account.UpdatedAt = now
			return s.accountRepo.Update(ctx, tx, account)
		}

		account.DailyQuotaUsed += n
		account.UpdatedAt = now
		if err := s.accountRepo.Update(ctx, tx, account); err != nil {
			return err
		}
		allowed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (s *Service) countCharge(outcome string) {
	if s.metrics != nil {
		s.metrics.ChargesTotal.WithLabelValues(outcome).Inc()
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
