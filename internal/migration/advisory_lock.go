package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// advisoryLockKey serializes schema migrations across lumina instances
// sharing a database. It must not collide with other advisory lock users
// on the same cluster.
const advisoryLockKey int64 = 5_864_621_733_004

type unlockFunc func(ctx context.Context) error

func acquireAdvisoryLock(ctx context.Context, db *sql.DB) (unlockFunc, error) {
	if db == nil {
		return nil, errors.New("advisory lock requires database handle")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var locked bool
	err := db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockKey).Scan(&locked)
	if err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another lumina instance is migrating, refusing to run concurrently")
	}

	return func(unlockCtx context.Context) error {
		if unlockCtx == nil {
			unlockCtx = context.Background()
		}
		var released bool
		if err := db.QueryRowContext(unlockCtx, "SELECT pg_advisory_unlock($1)", advisoryLockKey).Scan(&released); err != nil {
			return fmt.Errorf("release migration lock: %w", err)
		}
		if !released {
			return errors.New("migration lock was not held by this session")
		}
		return nil
	}, nil
}
