package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/ratelimit"
)

// RateLimitConfig binds one action's rule to a limiter.
type RateLimitConfig struct {
	Limiter ratelimit.Limiter
	Action  string
	Rule    ratelimit.Rule
	// Actor picks the identity being limited, e.g. the path user id or the
	// client IP. An empty actor skips limiting.
	Actor func(c echo.Context) string
	Log   *zap.Logger
	Now   func() time.Time
}

// ActorParam limits by a path parameter.
func ActorParam(name string) func(echo.Context) string {
	return func(c echo.Context) string { return c.Param(name) }
}

// ActorIP limits by client address.
func ActorIP(c echo.Context) string { return c.RealIP() }

// RateLimitMiddleware applies a rolling-window limit per actor. Limiter
// errors let the request through.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Limiter == nil || cfg.Rule.Max <= 0 || cfg.Rule.Window <= 0 {
				// no limit configured (dev): allow
				return next(c)
			}
			actor := cfg.Actor(c)
			if actor == "" {
				return next(c)
			}

			d, err := cfg.Limiter.Allow(c.Request().Context(), ratelimit.Key(cfg.Action, actor), cfg.Rule.Max, cfg.Rule.Window)
			if err != nil {
				cfg.Log.Warn("rate limiter unavailable, allowing request", zap.String("action", cfg.Action), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.ResetAt.IsZero() {
				h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}

			if !d.Allowed {
				metrics.RateLimited.WithLabelValues(cfg.Action).Inc()
				wait := d.RetryAfter(cfg.Now())
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":       "rate_limited",
					"action":      cfg.Action,
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}
