package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service tracks monthly per-feature usage counters. They are shown to the
// user and used for coarse rate limits only; nothing here is charged.
type Service interface {
	IncrFeature(ctx context.Context, accountID snowflake.ID, feature string) (int64, error)
	GetMonthly(ctx context.Context, accountID snowflake.ID) (map[string]int64, error)
	// ResetMonthly drops the counters for the current month; called when the
	// wallet cycle resets.
	ResetMonthly(ctx context.Context, accountID snowflake.ID) error
}
