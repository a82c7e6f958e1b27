package otp

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// windowScript bumps a fixed-window counter and starts its TTL on the first
// hit of the window.
var windowScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RequestLimiter caps how many passcodes may be requested per email per
// window.  It fails open: if Redis is unreachable the request is allowed.
type RequestLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	log    *zap.SugaredLogger
}

// NewRequestLimiter builds a limiter; a nil client disables limiting.
func NewRequestLimiter(rdb *redis.Client, limit int, window time.Duration, log *zap.SugaredLogger) *RequestLimiter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RequestLimiter{rdb: rdb, limit: limit, window: window, prefix: "otp:req", log: log}
}

// Allow reports whether another passcode may be sent to email.
func (l *RequestLimiter) Allow(ctx context.Context, email string) bool {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return true
	}
	n, err := windowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + normalize(email)}, l.window.Milliseconds()).Int64()
	if err != nil {
		l.log.Warnw("otp request limiter unavailable, allowing", "error", err)
		return true
	}
	return n <= int64(l.limit)
}
