package ratelimit

import (
	"context"
	"fmt"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Limiter applies a fixed-window rate to keys using an in-memory ulule store.
type Limiter struct {
	limiter *limiter.Limiter
}

// NewMemoryLimiter parses a rate in ulule's "<limit>-<period>" format, e.g. "60-M".
func NewMemoryLimiter(formatted string) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", formatted, err)
	}
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "taxinput",
		CleanUpInterval: time.Minute,
	})
	return &Limiter{limiter: limiter.New(store, rate)}, nil
}

// Allow registers a hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (allowed bool, limit, remaining int, reset time.Time, err error) {
	if l == nil || l.limiter == nil {
		return true, 0, 0, time.Now(), nil
	}
	c, err := l.limiter.Get(ctx, key)
	if err != nil {
		return false, 0, 0, time.Now(), err
	}
	return !c.Reached, int(c.Limit), int(c.Remaining), time.Unix(c.Reset, 0), nil
}
