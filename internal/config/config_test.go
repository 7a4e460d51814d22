package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 30, cfg.Affiliate.AttributionWindowDays)
	require.Equal(t, 30, cfg.Affiliate.PayoutDelayDays)
	require.Equal(t, 365, cfg.Wallet.TopUpExpiryDays)
	require.Equal(t, 20, cfg.Wallet.DefaultDailyQuota)
	require.Equal(t, 90, cfg.WebhookRetentionDays())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LUMINA_SERVER_ADDR", ":9999")
	t.Setenv("LUMINA_AFFILIATE_ATTRIBUTION_WINDOW_DAYS", "14")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.Addr)
	require.Equal(t, 14, cfg.Affiliate.AttributionWindowDays)
}

func TestAllowanceForPrice(t *testing.T) {
	cfg := Config{
		Wallet: WalletConfig{DefaultDailyQuota: 20},
		Plans: []PlanTier{
			{PriceCents: 999, AllowanceCents: 500, DailyQuota: 50},
			{PriceCents: 1999, AllowanceCents: 1200},
		},
	}

	allowance, quota := cfg.AllowanceForPrice(999)
	require.Equal(t, int64(500), allowance)
	require.Equal(t, 50, quota)

	// A tier without its own quota falls back to the default.
	allowance, quota = cfg.AllowanceForPrice(1999)
	require.Equal(t, int64(1200), allowance)
	require.Equal(t, 20, quota)

	// Unlisted prices grant their own amount.
	allowance, quota = cfg.AllowanceForPrice(4242)
	require.Equal(t, int64(4242), allowance)
	require.Equal(t, 20, quota)
}
