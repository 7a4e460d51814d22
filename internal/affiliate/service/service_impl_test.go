package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	affiliatedomain "github.com/luminahealthlabs/lumina/internal/affiliate/domain"
	affiliaterepo "github.com/luminahealthlabs/lumina/internal/affiliate/repository"
	"github.com/luminahealthlabs/lumina/internal/config"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now(_ context.Context) time.Time { return c.now }

type affiliateFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *fixedClock
	svc   affiliatedomain.Service
}

func newAffiliateFixture(t *testing.T) *affiliateFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&affiliatedomain.Affiliate{},
		&affiliatedomain.Click{},
		&affiliatedomain.Conversion{},
		&affiliatedomain.Commission{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := &fixedClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}

	cfg := &config.Config{
		Affiliate: config.AffiliateConfig{
			AttributionWindowDays: 30,
			PayoutDelayDays:       30,
		},
	}

	svc := NewService(ServiceParam{
		Config: cfg,
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Repo:   affiliaterepo.Provide(),
	})

	return &affiliateFixture{db: db, node: node, clock: clk, svc: svc}
}

func (f *affiliateFixture) conversionInput(code, clickID, eventID string, netCents int64) *affiliatedomain.ConversionInput {
	return &affiliatedomain.ConversionInput{
		ProviderEventID: eventID,
		AccountID:       f.node.Generate(),
		Type:            affiliatedomain.ConversionSubscriptionInitial,
		AffiliateCode:   code,
		ClickID:         clickID,
		ChargeID:        "ch_" + eventID,
		OccurredAt:      f.clock.now,
		GrossCents:      netCents + 100,
		FeeCents:        100,
		NetCents:        netCents,
	}
}

func (f *affiliateFixture) loadCommissions(t *testing.T) []affiliatedomain.Commission {
	t.Helper()
	var commissions []affiliatedomain.Commission
	require.NoError(t, f.db.Find(&commissions).Error)
	return commissions
}

func TestCreateAffiliateSlugCode(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Morning Wellness Co")
	require.NoError(t, err)
	require.Equal(t, "morning-wellness-co", affiliate.Code)
	require.Equal(t, affiliatedomain.AffiliateActive, affiliate.Status)

	// A second affiliate with a colliding name gets a suffixed code.
	other, err := f.svc.CreateAffiliate(ctx, "Morning Wellness Co")
	require.NoError(t, err)
	require.NotEqual(t, affiliate.Code, other.Code)
	require.Contains(t, other.Code, "morning-wellness-co-")
}

func TestRecordClickUnknownCode(t *testing.T) {
	f := newAffiliateFixture(t)

	_, err := f.svc.RecordClick(context.Background(), "nobody", "")
	require.ErrorIs(t, err, affiliatedomain.ErrAffiliateNotFound)
}

func TestConversionWithinWindowBooksCommission(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Coach Kim")
	require.NoError(t, err)
	clickID, err := f.svc.RecordClick(ctx, affiliate.Code, "https://instagram.com")
	require.NoError(t, err)

	// Conversion lands 10 days after the click.
	f.clock.now = f.clock.now.AddDate(0, 0, 10)
	input := f.conversionInput(affiliate.Code, clickID, "evt_1", 777)
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, input))

	commissions := f.loadCommissions(t)
	require.Len(t, commissions, 1)
	require.Equal(t, int64(388), commissions[0].CommissionCents) // floor(777/2)
	require.Equal(t, affiliatedomain.CommissionPending, commissions[0].Status)
	require.True(t, commissions[0].PayableAt.Equal(f.clock.now.AddDate(0, 0, 30)))
}

func TestConversionOutsideWindowIsDropped(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Coach Kim")
	require.NoError(t, err)
	clickID, err := f.svc.RecordClick(ctx, affiliate.Code, "")
	require.NoError(t, err)

	f.clock.now = f.clock.now.AddDate(0, 0, 31)
	input := f.conversionInput(affiliate.Code, clickID, "evt_late", 1000)
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, input))

	require.Empty(t, f.loadCommissions(t))
}

func TestConversionWithoutClickIsDropped(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Coach Kim")
	require.NoError(t, err)

	input := f.conversionInput(affiliate.Code, "", "evt_noclick", 1000)
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, input))

	require.Empty(t, f.loadCommissions(t))
}

func TestDuplicateProviderEventBooksOneCommission(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Coach Kim")
	require.NoError(t, err)
	clickID, err := f.svc.RecordClick(ctx, affiliate.Code, "")
	require.NoError(t, err)

	input := f.conversionInput(affiliate.Code, clickID, "evt_dup", 1000)
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, input))
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, input))

	require.Len(t, f.loadCommissions(t), 1)
}

func TestVoidCommissionForCharge(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Coach Kim")
	require.NoError(t, err)
	clickID, err := f.svc.RecordClick(ctx, affiliate.Code, "")
	require.NoError(t, err)

	input := f.conversionInput(affiliate.Code, clickID, "evt_refund", 1000)
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, input))

	require.NoError(t, f.svc.VoidCommissionForCharge(ctx, input.ChargeID))

	commissions := f.loadCommissions(t)
	require.Len(t, commissions, 1)
	require.Equal(t, affiliatedomain.CommissionVoided, commissions[0].Status)
	require.NotNil(t, commissions[0].VoidedAt)

	// Voiding again, or voiding an unknown charge, is a no-op.
	require.NoError(t, f.svc.VoidCommissionForCharge(ctx, input.ChargeID))
	require.NoError(t, f.svc.VoidCommissionForCharge(ctx, "ch_unknown"))
}

func TestVoidLeavesPaidCommissionAlone(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Coach Kim")
	require.NoError(t, err)
	clickID, err := f.svc.RecordClick(ctx, affiliate.Code, "")
	require.NoError(t, err)

	input := f.conversionInput(affiliate.Code, clickID, "evt_paid", 1000)
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, input))

	// Settle the commission, then a late refund arrives.
	f.clock.now = f.clock.now.AddDate(0, 0, 31)
	settled, err := f.svc.MarkPayableCommissionsPaid(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), settled)

	require.NoError(t, f.svc.VoidCommissionForCharge(ctx, input.ChargeID))

	commissions := f.loadCommissions(t)
	require.Len(t, commissions, 1)
	require.Equal(t, affiliatedomain.CommissionPaid, commissions[0].Status)
}

func TestMarkPayableCommissionsPaidSettlesDueOnly(t *testing.T) {
	f := newAffiliateFixture(t)
	ctx := context.Background()

	affiliate, err := f.svc.CreateAffiliate(ctx, "Coach Kim")
	require.NoError(t, err)
	clickID, err := f.svc.RecordClick(ctx, affiliate.Code, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, f.conversionInput(affiliate.Code, clickID, "evt_a", 1000)))

	f.clock.now = f.clock.now.AddDate(0, 0, 15)
	require.NoError(t, f.svc.RecordConversionIfEligible(ctx, f.conversionInput(affiliate.Code, clickID, "evt_b", 1000)))

	// Day 31: only the first conversion has cleared its payout delay.
	f.clock.now = f.clock.now.AddDate(0, 0, 16)
	settled, err := f.svc.MarkPayableCommissionsPaid(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), settled)

	var pending int64
	require.NoError(t, f.db.Model(&affiliatedomain.Commission{}).
		Where("status = ?", affiliatedomain.CommissionPending).
		Count(&pending).Error)
	require.Equal(t, int64(1), pending)
}
