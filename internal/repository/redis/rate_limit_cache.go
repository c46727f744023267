package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/client"
	"kyc-service/internal/util"
)

const submissionLimitPrefix = "kyc_submit_limit:"

// RateLimitCache counts actions per key in fixed windows.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// Decision is the outcome of one counted attempt.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// AllowSubmission counts a KYC submission for userID and reports whether it
// stays within limit per window.
func (c *RateLimitCache) AllowSubmission(ctx context.Context, userID string, limit int, window time.Duration) (Decision, error) {
	return c.allow(ctx, submissionLimitPrefix+userID, limit, window)
}

func (c *RateLimitCache) allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment rate limit counter", zap.String("key", key), zap.Error(err))
		return Decision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	d := Decision{Allowed: count <= int64(limit), Count: count, Limit: limit}
	if !d.Allowed {
		ttl, err := c.client.TTL(ctx, key)
		if err == nil && ttl > 0 {
			d.RetryAfter = ttl
		} else {
			d.RetryAfter = window
		}
		util.Debug("Rate limit exceeded", zap.String("key", key), zap.Int64("count", count), zap.Int("limit", limit))
	}
	return d, nil
}
