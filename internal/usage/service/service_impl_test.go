package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	usagedomain "github.com/luminahealthlabs/lumina/internal/usage/domain"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now(_ context.Context) time.Time { return c.now }

func newUsageFixture(t *testing.T) (usagedomain.Service, *miniredis.Miniredis, *fixedClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clk := &fixedClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	svc := NewService(ServiceParam{
		Redis: client,
		Log:   zap.NewNop(),
		Clock: clk,
	})
	return svc, mr, clk
}

func TestIncrFeatureCountsPerMonth(t *testing.T) {
	svc, _, clk := newUsageFixture(t)
	ctx := t.Context()
	accountID := snowflake.ID(42)

	for i := 1; i <= 3; i++ {
		val, err := svc.IncrFeature(ctx, accountID, "symptom_check")
		require.NoError(t, err)
		require.Equal(t, int64(i), val)
	}
	val, err := svc.IncrFeature(ctx, accountID, "meal_plan")
	require.NoError(t, err)
	require.Equal(t, int64(1), val)

	usage, err := svc.GetMonthly(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"symptom_check": 3, "meal_plan": 1}, usage)

	// A new month starts from zero without touching the old counters.
	clk.now = clk.now.AddDate(0, 1, 0)
	val, err = svc.IncrFeature(ctx, accountID, "symptom_check")
	require.NoError(t, err)
	require.Equal(t, int64(1), val)
}

func TestGetMonthlyIsolatesAccounts(t *testing.T) {
	svc, _, _ := newUsageFixture(t)
	ctx := t.Context()

	_, err := svc.IncrFeature(ctx, snowflake.ID(1), "symptom_check")
	require.NoError(t, err)

	usage, err := svc.GetMonthly(ctx, snowflake.ID(2))
	require.NoError(t, err)
	require.Empty(t, usage)
}

func TestResetMonthlyClearsCurrentMonth(t *testing.T) {
	svc, _, _ := newUsageFixture(t)
	ctx := t.Context()
	accountID := snowflake.ID(42)

	_, err := svc.IncrFeature(ctx, accountID, "symptom_check")
	require.NoError(t, err)
	_, err = svc.IncrFeature(ctx, accountID, "meal_plan")
	require.NoError(t, err)

	require.NoError(t, svc.ResetMonthly(ctx, accountID))

	usage, err := svc.GetMonthly(ctx, accountID)
	require.NoError(t, err)
	require.Empty(t, usage)

	// Resetting an empty month is a no-op.
	require.NoError(t, svc.ResetMonthly(ctx, accountID))
}

func TestCountersFailOpenWhenRedisIsDown(t *testing.T) {
	svc, mr, _ := newUsageFixture(t)
	ctx := t.Context()
	mr.Close()

	val, err := svc.IncrFeature(ctx, snowflake.ID(42), "symptom_check")
	require.NoError(t, err)
	require.Equal(t, int64(0), val)

	usage, err := svc.GetMonthly(ctx, snowflake.ID(42))
	require.NoError(t, err)
	require.Empty(t, usage)

	require.NoError(t, svc.ResetMonthly(ctx, snowflake.ID(42)))
}