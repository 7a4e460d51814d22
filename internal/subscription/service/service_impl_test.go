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

	accountdomain "github.com/luminahealthlabs/lumina/internal/account/domain"
	accountrepo "github.com/luminahealthlabs/lumina/internal/account/repository"
	"github.com/luminahealthlabs/lumina/internal/config"
	subscriptiondomain "github.com/luminahealthlabs/lumina/internal/subscription/domain"
	subscriptionrepo "github.com/luminahealthlabs/lumina/internal/subscription/repository"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now(_ context.Context) time.Time { return c.now }

type noopUsage struct {
	resets int
}

func (u *noopUsage) IncrFeature(_ context.Context, _ snowflake.ID, _ string) (int64, error) {
	return 0, nil
}
func (u *noopUsage) GetMonthly(_ context.Context, _ snowflake.ID) (map[string]int64, error) {
	return nil, nil
}
func (u *noopUsage) ResetMonthly(_ context.Context, _ snowflake.ID) error {
	u.resets++
	return nil
}

type reconcilerFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *fixedClock
	usage *noopUsage
	svc   subscriptiondomain.Service
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&subscriptiondomain.Subscription{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := &fixedClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	usage := &noopUsage{}

	cfg := &config.Config{
		Wallet: config.WalletConfig{DefaultDailyQuota: 20},
		Plans: []config.PlanTier{
			{PriceCents: 999, AllowanceCents: 500, DailyQuota: 50},
			{PriceCents: 1999, AllowanceCents: 1200, DailyQuota: 100},
		},
	}

	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Cfg:         cfg,
		AccountRepo: accountrepo.Provide(),
		Repo:        subscriptionrepo.Provide(),
		UsageSvc:    usage,
	})

	return &reconcilerFixture{db: db, node: node, clock: clk, usage: usage, svc: svc}
}

func (f *reconcilerFixture) createAccount(t *testing.T) *accountdomain.Account {
	t.Helper()
	account := &accountdomain.Account{
		ID:                   f.node.Generate(),
		Email:                "member@example.com",
		DailyQuotaResetAt:    f.clock.now,
		WalletMonthlyResetAt: f.clock.now,
		CreatedAt:            f.clock.now,
		UpdatedAt:            f.clock.now,
	}
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func (f *reconcilerFixture) providerEvent(accountID snowflake.ID, externalID string, priceCents int64, periodStart time.Time) subscriptiondomain.ProviderSubscriptionEvent {
	return subscriptiondomain.ProviderSubscriptionEvent{
		AccountID:              accountID,
		ExternalSubscriptionID: externalID,
		Active:                 true,
		PriceCents:             priceCents,
		PeriodStart:            periodStart,
		PeriodEnd:              periodStart.AddDate(0, 1, 0),
	}
}

func (f *reconcilerFixture) reloadAccount(t *testing.T, id snowflake.ID) *accountdomain.Account {
	t.Helper()
	var account accountdomain.Account
	require.NoError(t, f.db.First(&account, "id = ?", id).Error)
	return &account
}

func (f *reconcilerFixture) reloadSub(t *testing.T, accountID snowflake.ID) *subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "account_id = ?", accountID).Error)
	return &sub
}

func TestApplyProviderEventNewSubscriptionResetsCycle(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)
	periodStart := f.clock.now.AddDate(0, 0, -1)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 999, periodStart)))

	sub := f.reloadSub(t, account.ID)
	require.Equal(t, subscriptiondomain.PlanPremium, sub.Plan)
	require.Equal(t, int64(500), sub.MonthlyAllowanceCents)
	require.NotNil(t, sub.ExternalSubscriptionID)
	require.Equal(t, "sub_1", *sub.ExternalSubscriptionID)
	require.True(t, sub.CycleStartAt.Equal(periodStart))

	reloaded := f.reloadAccount(t, account.ID)
	require.Equal(t, int64(0), reloaded.WalletMonthlyUsedCents)
	require.Equal(t, 50, reloaded.DailyQuotaLimit)
	require.Equal(t, 1, f.usage.resets)
}

func TestApplyProviderEventIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)
	periodStart := f.clock.now.AddDate(0, 0, -1)
	ev := f.providerEvent(account.ID, "sub_1", 999, periodStart)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, ev))

	// Spend against the fresh cycle, then replay the same event.
	account = f.reloadAccount(t, account.ID)
	account.WalletMonthlyUsedCents = 300
	require.NoError(t, f.db.Save(account).Error)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, ev))

	reloaded := f.reloadAccount(t, account.ID)
	require.Equal(t, int64(300), reloaded.WalletMonthlyUsedCents)
	require.Equal(t, 1, f.usage.resets)
}

func TestApplyProviderEventTierChangeResetsCycle(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)
	periodStart := f.clock.now.AddDate(0, 0, -1)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 999, periodStart)))
	account = f.reloadAccount(t, account.ID)
	account.WalletMonthlyUsedCents = 400
	require.NoError(t, f.db.Save(account).Error)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 1999, periodStart)))

	sub := f.reloadSub(t, account.ID)
	require.Equal(t, int64(1200), sub.MonthlyAllowanceCents)
	reloaded := f.reloadAccount(t, account.ID)
	require.Equal(t, int64(0), reloaded.WalletMonthlyUsedCents)
	require.Equal(t, 100, reloaded.DailyQuotaLimit)
}

func TestApplyProviderEventPeriodAdvanceResetsCycle(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)
	periodStart := f.clock.now.AddDate(0, -1, 0)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 999, periodStart)))
	account = f.reloadAccount(t, account.ID)
	account.WalletMonthlyUsedCents = 400
	require.NoError(t, f.db.Save(account).Error)

	// Renewal: same subscription id, next billing period.
	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 999, periodStart.AddDate(0, 1, 0))))

	reloaded := f.reloadAccount(t, account.ID)
	require.Equal(t, int64(0), reloaded.WalletMonthlyUsedCents)
}

func TestApplyProviderEventIDChurnAloneDoesNotReset(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)
	periodStart := f.clock.now.AddDate(0, 0, -1)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 999, periodStart)))
	account = f.reloadAccount(t, account.ID)
	account.WalletMonthlyUsedCents = 300
	require.NoError(t, f.db.Save(account).Error)

	// The provider rotated the subscription id without moving the period.
	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_2", 999, periodStart)))

	sub := f.reloadSub(t, account.ID)
	require.Equal(t, "sub_2", *sub.ExternalSubscriptionID)
	reloaded := f.reloadAccount(t, account.ID)
	require.Equal(t, int64(300), reloaded.WalletMonthlyUsedCents)
}

func TestApplyProviderEventInactivePauses(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)
	periodStart := f.clock.now.AddDate(0, 0, -1)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 999, periodStart)))

	ev := f.providerEvent(account.ID, "sub_1", 999, periodStart)
	ev.Active = false
	require.NoError(t, f.svc.ApplyProviderEvent(ctx, ev))

	sub := f.reloadSub(t, account.ID)
	require.False(t, sub.ActiveAt(f.clock.now.Add(time.Minute)))
}

func TestUnlistedPriceGrantsItsOwnAmount(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 4242, f.clock.now)))

	sub := f.reloadSub(t, account.ID)
	require.Equal(t, int64(4242), sub.MonthlyAllowanceCents)
	reloaded := f.reloadAccount(t, account.ID)
	require.Equal(t, 20, reloaded.DailyQuotaLimit)
}

func TestGrantAdminSubscriptionAndProviderTakeover(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)

	require.NoError(t, f.svc.GrantAdminSubscription(ctx, account.ID, 500, nil))

	sub := f.reloadSub(t, account.ID)
	require.Nil(t, sub.ExternalSubscriptionID)
	require.True(t, sub.ActiveAt(f.clock.now.AddDate(50, 0, 0)))

	account = f.reloadAccount(t, account.ID)
	account.WalletMonthlyUsedCents = 200
	require.NoError(t, f.db.Save(account).Error)

	// A real purchase takes over the admin grant and resets the cycle.
	periodStart := f.clock.now
	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_real", 999, periodStart)))

	sub = f.reloadSub(t, account.ID)
	require.NotNil(t, sub.ExternalSubscriptionID)
	reloaded := f.reloadAccount(t, account.ID)
	require.Equal(t, int64(0), reloaded.WalletMonthlyUsedCents)
}

func TestGrantAdminSubscriptionWithEndDate(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)
	until := f.clock.now.AddDate(0, 0, 7)

	require.NoError(t, f.svc.GrantAdminSubscription(ctx, account.ID, 500, &until))

	sub := f.reloadSub(t, account.ID)
	require.True(t, sub.ActiveAt(f.clock.now.AddDate(0, 0, 6)))
	require.False(t, sub.ActiveAt(f.clock.now.AddDate(0, 0, 8)))
}

func TestRevokeAdminSubscription(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)

	require.NoError(t, f.svc.GrantAdminSubscription(ctx, account.ID, 500, nil))
	require.NoError(t, f.svc.RevokeAdminSubscription(ctx, account.ID))

	sub := f.reloadSub(t, account.ID)
	require.False(t, sub.ActiveAt(f.clock.now.Add(time.Minute)))

	// Revoking twice stays clean.
	require.NoError(t, f.svc.RevokeAdminSubscription(ctx, account.ID))
}

func TestDeleteByExternalID(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	account := f.createAccount(t)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, f.providerEvent(account.ID, "sub_1", 999, f.clock.now)))
	require.NoError(t, f.svc.DeleteByExternalID(ctx, "sub_1"))

	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).Where("account_id = ?", account.ID).Count(&count).Error)
	require.Equal(t, int64(0), count)

	// Deleting again is idempotent.
	require.NoError(t, f.svc.DeleteByExternalID(ctx, "sub_1"))
}
