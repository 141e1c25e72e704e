// Package ratelimit answers "is this action allowed right now" for opaque
// keys over a rolling window. It knows nothing about users or labels.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

// Well-known action names.
const (
	ActionSubmit          = "submit"
	ActionLifecycle       = "lifecycle"
	ActionRecommendations = "recommendations"
	ActionUnsubscribe     = "unsubscribe"
)

type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RetryAfter is how long a denied caller should wait, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

type Rule struct {
	Max    int
	Window time.Duration
}

// Limiter admits at most limit calls per key within any rolling window.
// Denied calls do not consume capacity.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Key builds the conventional "{action}:{actor}" key.
func Key(action, actor string) string {
	return action + ":" + actor
}

// Rules converts configured actions into limiter rules.
func Rules(cfg config.RateLimitConfig) map[string]Rule {
	out := make(map[string]Rule, len(cfg.Actions))
	for action, r := range cfg.Actions {
		out[action] = Rule{Max: r.Max, Window: r.Window}
	}
	return out
}

// New picks the backend named in config. The memory backend is per-instance.
func New(cfg config.RateLimitConfig, rdb redis.Scripter) (Limiter, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryLimiter(), nil
	case "redis", "":
		if rdb == nil {
			return nil, fmt.Errorf("rate limiter: redis backend needs a client")
		}
		return NewRedisLimiter(rdb, "rl:"), nil
	default:
		return nil, fmt.Errorf("rate limiter: unknown backend %q", cfg.Backend)
	}
}
