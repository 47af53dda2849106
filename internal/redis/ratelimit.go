package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key patterns:
// - ratelimit:{user_id}:calls - per-window call initiation limit

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	CallLimit  int           // Max calls per window
	CallWindow time.Duration // Call rate limit window
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		CallLimit:  10, // 10 calls per minute
		CallWindow: 60 * time.Second,
	}
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

// fixed-window counter: increments only while under the limit
var rateLimitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if ttl == window then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	else
		return {0, 0, ttl}
	end
`)

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

// AllowCall checks if a user can initiate a call
func (r *RateLimiter) AllowCall(ctx context.Context, userID string) (*RateLimitResult, error) {
	return r.Allow(ctx, callKey(userID), r.config.CallLimit, r.config.CallWindow)
}

// Allow consumes one unit of key's quota when available.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	result, err := rateLimitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	return &RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetIn:   time.Duration(result[2]) * time.Second,
		Limit:     limit,
	}, nil
}

// ResetUser resets all rate limits for a user
func (r *RateLimiter) ResetUser(ctx context.Context, userID string) error {
	return r.client.Del(ctx, callKey(userID)).Err()
}

func callKey(userID string) string {
	return fmt.Sprintf("ratelimit:%s:calls", userID)
}
