package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// Allow counts one request for id in the current window. Redis errors let the
// request through.
func (r *RateLimiter) Allow(ctx context.Context, id string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", id)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}
	return count <= int64(r.limit), nil
}

// SubmitRateLimit limits payment submissions per user, or per IP when anonymous.
func (r *RateLimiter) SubmitRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		id := e.RealIP()
		if e.Auth != nil {
			id = "user:" + e.Auth.Id
		}

		ok, err := r.Allow(e.Request.Context(), id)
		if err != nil {
			slog.Warn("security: rate limit check failed", "id", id, "error", err)
		}
		if !ok {
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}
		return e.Next()
	}
}

// AntiBot rejects crawler user agents.
func (r *RateLimiter) AntiBot() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.UserAgent()) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
