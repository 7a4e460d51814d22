package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/luminahealthlabs/lumina/internal/clock"
	usagedomain "github.com/luminahealthlabs/lumina/internal/usage/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Redis *redis.Client
	Log   *zap.Logger
	Clock clock.Clock
}

type service struct {
	redis *redis.Client
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p ServiceParam) usagedomain.Service {
	return &service{
		redis: p.Redis,
		log:   p.Log.Named("usage.service"),
		clock: p.Clock,
	}
}

// Key layout: usage:{account_id}:{feature}:{YYYY-MM}
func (s *service) IncrFeature(ctx context.Context, accountID snowflake.ID, feature string) (int64, error) {
	key := fmt.Sprintf("usage:%s:%s:%s", accountID.String(), feature, s.month(ctx))

	val, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: usage counters are display-only and must not block features.
		s.log.Error("failed to increment feature usage", zap.Error(err))
		return 0, nil
	}

	if val == 1 {
		// 35 days covers the month plus clock skew.
		s.redis.Expire(ctx, key, 35*24*time.Hour)
	}
	return val, nil
}

func (s *service) GetMonthly(ctx context.Context, accountID snowflake.ID) (map[string]int64, error) {
	keys, err := s.monthKeys(ctx, accountID)
	if err != nil {
		return map[string]int64{}, nil
	}

	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		val, err := s.redis.Get(ctx, key).Int64()
		if err != nil {
			continue
		}
		parts := strings.Split(key, ":")
		if len(parts) != 4 {
			continue
		}
		out[parts[2]] = val
	}
	return out, nil
}

func (s *service) ResetMonthly(ctx context.Context, accountID snowflake.ID) error {
	keys, err := s.monthKeys(ctx, accountID)
	if err != nil || len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		s.log.Error("failed to reset usage counters", zap.Error(err))
	}
	return nil
}

func (s *service) monthKeys(ctx context.Context, accountID snowflake.ID) ([]string, error) {
	pattern := fmt.Sprintf("usage:%s:*:%s", accountID.String(), s.month(ctx))
	keys, err := s.redis.Keys(ctx, pattern).Result()
	if err != nil {
		s.log.Error("failed to list usage keys", zap.Error(err))
		return nil, err
	}
	return keys, nil
}

func (s *service) month(ctx context.Context) string {
	return s.clock.Now(ctx).Format("2006-01")
}
