package rateLimit

import (
	"context"
	"strconv"
	"time"
)

// Counter is satisfied by the redis cache adapter.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	rate    int
	period  time.Duration
}

func NewRateLimiter(counter Counter, rate int, period time.Duration) *RateLimiter {
	return &RateLimiter{counter: counter, rate: rate, period: period}
}

// Allow reports whether key is still under its budget for the current window.
// A non-positive rate disables limiting. Counter failures let the request through.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl.rate <= 0 {
		return true, nil
	}
	n, err := rl.counter.Incr(ctx, "rl:"+key, rl.period)
	if err != nil {
		return true, err
	}
	return n <= int64(rl.rate), nil
}

func UserKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func IPKey(ip string) string {
	return "ip:" + ip
}
