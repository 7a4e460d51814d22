package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/luminahealthlabs/lumina/internal/account/domain"
	"github.com/luminahealthlabs/lumina/internal/clock"
	"github.com/luminahealthlabs/lumina/internal/config"
	subscriptiondomain "github.com/luminahealthlabs/lumina/internal/subscription/domain"
	usagedomain "github.com/luminahealthlabs/lumina/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// permanentGrantHorizon marks admin grants with no end date; a far-future
// cycle end means "permanent" while keeping the column non-null semantics
// uniform with provider-managed rows.
const permanentGrantHorizon = 100 * 365 * 24 * time.Hour

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   *config.Config

	AccountRepo accountdomain.Repository
	Repo        subscriptiondomain.Repository
	UsageSvc    usagedomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   *config.Config

	accountRepo accountdomain.Repository
	repo        subscriptiondomain.Repository
	usageSvc    usagedomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		accountRepo: p.AccountRepo,
		repo:        p.Repo,
		usageSvc:    p.UsageSvc,
	}
}

func (s *Service) ApplyProviderEvent(ctx context.Context, ev subscriptiondomain.ProviderSubscriptionEvent) error {
	if ev.AccountID == 0 {
		return accountdomain.ErrInvalidAccount
	}
	if strings.TrimSpace(ev.ExternalSubscriptionID) == "" {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	if !ev.Active {
		// Past-due, trialing-ended and friends pause access; the row stays so
		// a later active report can revive it.
		return s.PauseByAccount(ctx, ev.AccountID)
	}

	allowanceCents, dailyQuota := s.cfg.AllowanceForPrice(ev.PriceCents)

	resetApplied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.FindByIDForUpdate(ctx, tx, ev.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrAccountNotFound
		}

		sub, err := s.repo.FindByAccountForUpdate(ctx, tx, ev.AccountID)
		if err != nil {
			return err
		}

		now := s.clock.Now(ctx)

		isNew := sub == nil
		isTierChange := !isNew && sub.MonthlyAllowanceCents != allowanceCents
		isSwitchingToProviderManaged := !isNew && sub.ExternalSubscriptionID == nil
		// The provider may rotate subscription ids on renewal. An id change
		// alone is not a replacement; the billing period has to have moved too.
		isPeriodAdvance := !isNew && !ev.PeriodStart.Equal(sub.CycleStartAt)

		shouldResetCycle := isNew || isTierChange || isSwitchingToProviderManaged || isPeriodAdvance

		if isNew {
			sub = &subscriptiondomain.Subscription{
				ID:        s.genID.Generate(),
				AccountID: ev.AccountID,
				CreatedAt: now,
			}
		}

		// The event is authoritative for these fields regardless of reset.
		externalID := ev.ExternalSubscriptionID
		sub.Plan = subscriptiondomain.PlanPremium
		sub.MonthlyAllowanceCents = allowanceCents
		sub.ExternalSubscriptionID = &externalID
		periodEnd := ev.PeriodEnd
		sub.CycleEndAt = &periodEnd
		sub.UpdatedAt = now

		if shouldResetCycle {
			// Anchor to the provider's period start, not "now", to keep
			// billing-period alignment.
			sub.CycleStartAt = ev.PeriodStart

			account.WalletMonthlyUsedCents = 0
			account.WalletMonthlyResetAt = ev.PeriodStart
			account.DailyQuotaLimit = dailyQuota
			account.DailyQuotaUsed = 0
			account.DailyQuotaResetAt = now
			account.UpdatedAt = now
			if err := s.accountRepo.Update(ctx, tx, account); err != nil {
				return err
			}
			resetApplied = true
		}

		if isNew {
			if err := s.repo.Insert(ctx, tx, sub); err != nil {
				return err
			}
		} else if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		s.log.Info("subscription reconciled",
			zap.String("account_id", ev.AccountID.String()),
			zap.String("external_subscription_id", ev.ExternalSubscriptionID),
			zap.Bool("is_new", isNew),
			zap.Bool("tier_change", isTierChange),
			zap.Bool("cycle_reset", shouldResetCycle))
		return nil
	})
	if err != nil {
		return err
	}

	if resetApplied {
		// Redis counters are display-only; reset failures are logged, not fatal.
		_ = s.usageSvc.ResetMonthly(ctx, ev.AccountID)
	}
	return nil
}

func (s *Service) PauseByExternalID(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		return s.pause(ctx, tx, sub)
	})
}

func (s *Service) PauseByAccount(ctx context.Context, accountID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByAccountForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if sub == nil {
			// Nothing to pause; the event still acknowledges cleanly.
			return nil
		}
		return s.pause(ctx, tx, sub)
	})
}

func (s *Service) pause(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
	now := s.clock.Now(ctx)
	if sub.CycleEndAt != nil && !sub.CycleEndAt.After(now) {
		return nil
	}
	sub.CycleEndAt = &now
	sub.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, sub); err != nil {
		return err
	}
	s.log.Info("subscription paused", zap.String("account_id", sub.AccountID.String()))
	return nil
}

func (s *Service) DeleteByExternalID(ctx context.Context, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if sub == nil {
			// Already gone; deletion is idempotent.
			return nil
		}
		if err := s.repo.Delete(ctx, tx, sub.ID); err != nil {
			return err
		}
		s.log.Info("subscription deleted", zap.String("account_id", sub.AccountID.String()))
		return nil
	})
}

func (s *Service) GrantAdminSubscription(ctx context.Context, accountID snowflake.ID, allowanceCents int64, until *time.Time) error {
	if allowanceCents <= 0 {
		return subscriptiondomain.ErrInvalidPlan
	}

	resetAccount := accountID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return accountdomain.ErrAccountNotFound
		}

		sub, err := s.repo.FindByAccountForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		now := s.clock.Now(ctx)
		end := now.Add(permanentGrantHorizon)
		if until != nil {
			end = *until
		}

		isNew := sub == nil
		if isNew {
			sub = &subscriptiondomain.Subscription{
				ID:        s.genID.Generate(),
				AccountID: accountID,
				CreatedAt: now,
			}
		}

		sub.Plan = subscriptiondomain.PlanPremium
		sub.MonthlyAllowanceCents = allowanceCents
		sub.ExternalSubscriptionID = nil
		sub.CycleStartAt = now
		sub.CycleEndAt = &end
		sub.UpdatedAt = now

		account.WalletMonthlyUsedCents = 0
		account.WalletMonthlyResetAt = now
		account.DailyQuotaLimit = s.cfg.Wallet.DefaultDailyQuota
		account.DailyQuotaUsed = 0
		account.DailyQuotaResetAt = now
		account.UpdatedAt = now
		if err := s.accountRepo.Update(ctx, tx, account); err != nil {
			return err
		}

		if isNew {
			return s.repo.Insert(ctx, tx, sub)
		}
		return s.repo.Update(ctx, tx, sub)
	})
	if err != nil {
		return err
	}

	_ = s.usageSvc.ResetMonthly(ctx, resetAccount)
	return nil
}

func (s *Service) RevokeAdminSubscription(ctx context.Context, accountID snowflake.ID) error {
	return s.PauseByAccount(ctx, accountID)
}

func (s *Service) GetForAccount(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.repo.FindByAccount(ctx, s.db, accountID)
}
