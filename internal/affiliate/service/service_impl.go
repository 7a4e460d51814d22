package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	affiliatedomain "github.com/luminahealthlabs/lumina/internal/affiliate/domain"
	"github.com/luminahealthlabs/lumina/internal/clock"
	"github.com/luminahealthlabs/lumina/internal/config"
	"github.com/luminahealthlabs/lumina/internal/observability"
)

type ServiceParam struct {
	fx.In

	Config *config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock

	Repo affiliatedomain.Repository

	Metrics *observability.Metrics `optional:"true"`
}

type Service struct {
	cfg   *config.Config
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo affiliatedomain.Repository

	metrics *observability.Metrics
}

func NewService(p ServiceParam) affiliatedomain.Service {
	return &Service{
		cfg:     p.Config,
		db:      p.DB,
		log:     p.Log.Named("affiliate.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) CreateAffiliate(ctx context.Context, name string) (*affiliatedomain.Affiliate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, affiliatedomain.ErrInvalidAffiliate
	}

	id := s.genID.Generate()
	code := slug.Make(name)
	existing, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		code = fmt.Sprintf("%s-%s", code, strings.ToLower(id.Base36()))
	}

	now := s.clock.Now(ctx)
	affiliate := &affiliatedomain.Affiliate{
		ID:        id,
		Code:      code,
		Name:      name,
		Status:    affiliatedomain.AffiliateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, affiliate); err != nil {
		return nil, err
	}
	return affiliate, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*affiliatedomain.Affiliate, error) {
	affiliate, err := s.repo.FindByCode(ctx, s.db, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, affiliatedomain.ErrAffiliateNotFound
	}
	return affiliate, nil
}

func (s *Service) RecordClick(ctx context.Context, code, referrer string) (string, error) {
	affiliate, err := s.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}
	if affiliate.Status != affiliatedomain.AffiliateActive {
		return "", affiliatedomain.ErrAffiliateSuspended
	}

	now := s.clock.Now(ctx)
	click := &affiliatedomain.Click{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		AffiliateID: affiliate.ID,
		Referrer:    strings.TrimSpace(referrer),
		OccurredAt:  now,
	}
	if err := s.repo.InsertClick(ctx, s.db, click); err != nil {
		return "", err
	}
	return click.ID, nil
}

// RecordConversionIfEligible books the conversion and a PENDING commission of
// half the net amount when the attributed click is inside the window.
// Everything that fails eligibility is dropped with a log line, never an
// error: a bad affiliate tag must not bounce the payment webhook.
func (s *Service) RecordConversionIfEligible(ctx context.Context, input *affiliatedomain.ConversionInput) error {
	affiliate, err := s.repo.FindByCode(ctx, s.db, strings.TrimSpace(input.AffiliateCode))
	if err != nil {
		return err
	}
	if affiliate == nil || affiliate.Status != affiliatedomain.AffiliateActive {
		s.log.Info("conversion dropped: unknown or inactive affiliate",
			zap.String("code", input.AffiliateCode),
			zap.String("provider_event_id", input.ProviderEventID))
		return nil
	}

	if input.ClickID == "" {
		s.log.Info("conversion dropped: no click id",
			zap.String("provider_event_id", input.ProviderEventID))
		return nil
	}
	click, err := s.repo.FindClick(ctx, s.db, input.ClickID)
	if err != nil {
		return err
	}
	if click == nil || click.AffiliateID != affiliate.ID {
		s.log.Info("conversion dropped: click missing or mismatched",
			zap.String("click_id", input.ClickID),
			zap.String("provider_event_id", input.ProviderEventID))
		return nil
	}

	window := time.Duration(s.cfg.Affiliate.AttributionWindowDays) * 24 * time.Hour
	if input.OccurredAt.Sub(click.OccurredAt) > window {
		s.log.Info("conversion dropped: outside attribution window",
			zap.String("click_id", input.ClickID),
			zap.Time("clicked_at", click.OccurredAt),
			zap.Time("converted_at", input.OccurredAt))
		return nil
	}

	if input.NetCents <= 0 {
		s.log.Info("conversion dropped: non-positive net",
			zap.Int64("net_cents", input.NetCents),
			zap.String("provider_event_id", input.ProviderEventID))
		return nil
	}

	now := s.clock.Now(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conversion := &affiliatedomain.Conversion{
			ID:              s.genID.Generate(),
			ProviderEventID: input.ProviderEventID,
			AffiliateID:     affiliate.ID,
			AccountID:       input.AccountID,
			ClickID:         input.ClickID,
			Type:            input.Type,
			ChargeID:        input.ChargeID,
			GrossCents:      input.GrossCents,
			FeeCents:        input.FeeCents,
			NetCents:        input.NetCents,
			OccurredAt:      input.OccurredAt,
			CreatedAt:       now,
		}
		inserted, err := s.repo.InsertConversion(ctx, tx, conversion)
		if err != nil {
			return err
		}
		if !inserted {
			// Redelivered webhook; the commission already exists.
			return nil
		}

		commission := &affiliatedomain.Commission{
			ID:              s.genID.Generate(),
			ConversionID:    conversion.ID,
			AffiliateID:     affiliate.ID,
			CommissionCents: input.NetCents / 2,
			Status:          affiliatedomain.CommissionPending,
			PayableAt:       input.OccurredAt.AddDate(0, 0, s.cfg.Affiliate.PayoutDelayDays),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return s.repo.InsertCommission(ctx, tx, commission)
	})
}

// VoidCommissionForCharge turns a PENDING commission into VOIDED. Paid
// commissions are left alone and flagged for manual review.
func (s *Service) VoidCommissionForCharge(ctx context.Context, chargeID string) error {
	if chargeID == "" {
		return nil
	}
	conversion, err := s.repo.FindConversionByChargeID(ctx, s.db, chargeID)
	if err != nil {
		return err
	}
	if conversion == nil {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commission, err := s.repo.FindCommissionByConversionForUpdate(ctx, tx, conversion.ID)
		if err != nil {
			return err
		}
		if commission == nil {
			return nil
		}
		switch commission.Status {
		case affiliatedomain.CommissionPending:
			now := s.clock.Now(ctx)
			commission.Status = affiliatedomain.CommissionVoided
			commission.VoidedAt = &now
			commission.UpdatedAt = now
			if err := s.repo.UpdateCommission(ctx, tx, commission); err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.CommissionsVoided.Inc()
			}
		case affiliatedomain.CommissionPaid:
			s.log.Warn("refund against paid commission, manual clawback required",
				zap.String("charge_id", chargeID),
				zap.Int64("commission_id", int64(commission.ID)))
		}
		return nil
	})
}

func (s *Service) MarkPayableCommissionsPaid(ctx context.Context) (int64, error) {
	settled, err := s.repo.MarkPayablePaid(ctx, s.db, s.clock.Now(ctx))
	if err != nil {
		return 0, err
	}
	if settled > 0 {
		s.log.Info("settled payable commissions", zap.Int64("count", settled))
	}
	return settled, nil
}
