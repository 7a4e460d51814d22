package clock

import (
	"context"
	"time"
)

// Clock supplies the current time to services that compute billing cycles,
// credit expiry, and commission payout dates. Tests substitute a fixed clock.
type Clock interface {
	Now(ctx context.Context) time.Time
}
