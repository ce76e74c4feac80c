package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/certpipe/certpipe/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Second buckets expire after 2s to tolerate clock skew between
	// instances; day buckets after a full day.
	secondWindowTTL = 2
	dayWindowTTL    = 86400
)

// consumeScript increments the window counter and sets the TTL on first
// increment, in a single round-trip. Returns the post-increment count.
var consumeScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

var _ ratelimit.Limiter = (*RateLimiter)(nil)
var _ ratelimit.Inspector = (*RateLimiter)(nil)

// RateLimiter is a distributed windowed-counter limiter backed by Redis.
// It fails open: if Redis is unreachable the request is allowed and a
// warning is logged, because availability of sending is prioritized over
// strict enforcement.
type RateLimiter struct {
	client *goredis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewRateLimiter(client *goredis.Client, logger *zap.Logger) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		client: client,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *RateLimiter) TryConsume(ctx context.Context, scope string, unit ratelimit.Unit, limit int) ratelimit.Decision {
	if r == nil || r.client == nil {
		return ratelimit.Decision{Allowed: true}
	}
	if limit <= 0 {
		return ratelimit.Decision{Allowed: true}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key, ttl := r.windowKey(scope, unit)
	count, err := consumeScript.Run(ctx, r.client, []string{key}, ttl).Int64()
	if err != nil {
		r.logger.Warn("rate limit check failed, allowing send",
			zap.String("scope", scope),
			zap.String("unit", unit.String()),
			zap.Error(err),
		)
		return ratelimit.Decision{Allowed: true}
	}

	if count > int64(limit) {
		reason := fmt.Sprintf("per-second rate limit exceeded (%d/sec)", limit)
		if unit == ratelimit.UnitDay {
			reason = fmt.Sprintf("daily rate limit exceeded (%d/day)", limit)
		}
		return ratelimit.Decision{Allowed: false, Reason: reason}
	}

	return ratelimit.Decision{Allowed: true}
}

// Current reports the live counts in the active second and day windows.
func (r *RateLimiter) Current(ctx context.Context, scope string) (ratelimit.Usage, error) {
	if r == nil || r.client == nil {
		return ratelimit.Usage{}, fmt.Errorf("rate limiter is not initialized")
	}

	secondKey, _ := r.windowKey(scope, ratelimit.UnitSecond)
	dayKey, _ := r.windowKey(scope, ratelimit.UnitDay)

	values, err := r.client.MGet(ctx, secondKey, dayKey).Result()
	if err != nil {
		return ratelimit.Usage{}, fmt.Errorf("failed to read rate counters: %w", err)
	}

	return ratelimit.Usage{
		PerSecond: parseCount(values[0]),
		PerDay:    parseCount(values[1]),
	}, nil
}

// Reset clears the active window counter for a scope.
func (r *RateLimiter) Reset(ctx context.Context, scope string, unit ratelimit.Unit) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("rate limiter is not initialized")
	}

	key, _ := r.windowKey(scope, unit)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate counter: %w", err)
	}
	return nil
}

func (r *RateLimiter) windowKey(scope string, unit ratelimit.Unit) (string, int) {
	normalized := strings.ToLower(strings.TrimSpace(scope))
	now := r.now().UTC()

	if unit == ratelimit.UnitDay {
		return fmt.Sprintf("rate:%s:day:%s", normalized, now.Format("2006-01-02")), dayWindowTTL
	}
	return fmt.Sprintf("rate:%s:second:%d", normalized, now.Unix()), secondWindowTTL
}

func parseCount(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0
	}
	return n
}
