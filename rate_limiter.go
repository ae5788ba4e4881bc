package agentcore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitInfo is the outcome of a rate limit check.
type RateLimitInfo struct {
	Allowed         bool          `json:"allowed"`
	MinuteCount     int64         `json:"minute_count"`
	HourCount       int64         `json:"hour_count"`
	MinuteRemaining int64         `json:"minute_remaining"`
	HourRemaining   int64         `json:"hour_remaining"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
}

// RateLimiter enforces per-identifier request quotas with fixed
// one-minute and one-hour windows backed by Redis counters. Counter
// keys embed the window epoch, so a new window starts at zero without
// any cleanup work.
type RateLimiter struct {
	redis             *redis.Client
	requestsPerMinute int64
	requestsPerHour   int64
	logger            Logger
	metrics           Metrics

	// now is swappable for window boundary tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive limits fall back to
// the defaults.
func NewRateLimiter(client *redis.Client, perMinute, perHour int, logger Logger, metrics Metrics) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	if perHour <= 0 {
		perHour = DefaultRequestsPerHour
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &RateLimiter{
		redis:             client,
		requestsPerMinute: int64(perMinute),
		requestsPerHour:   int64(perHour),
		logger:            logger,
		metrics:           metrics,
		now:               time.Now,
	}
}

// IdentifierFor picks the rate limit subject: the user ID when known,
// otherwise the client IP.
func IdentifierFor(userID, clientIP string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP
}

func (r *RateLimiter) minuteKey(id string, t time.Time) string {
	return fmt.Sprintf("ratelimit:minute:%s:%d", id, t.Unix()/60)
}

func (r *RateLimiter) hourKey(id string, t time.Time) string {
	return fmt.Sprintf("ratelimit:hour:%s:%d", id, t.Unix()/3600)
}

// Check tests the identifier against both windows. When increment is
// true an admitted request is counted; pass false for read-only
// probes. Counters only move for admitted requests: a blocked caller
// retrying in the same window burns no quota in either window.
// A blocked request returns ErrRateLimited carrying the retry-after
// distance to the nearest window boundary that would admit it.
func (r *RateLimiter) Check(ctx context.Context, id string, increment bool) (*RateLimitInfo, error) {
	t := r.now()
	minuteKey := r.minuteKey(id, t)
	hourKey := r.hourKey(id, t)

	readPipe := r.redis.Pipeline()
	minuteCmd := readPipe.Get(ctx, minuteKey)
	hourCmd := readPipe.Get(ctx, hourKey)
	if _, err := readPipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, WithContext(ErrStoreFailure, map[string]interface{}{
			"identifier": id,
			"op":         "ratelimit",
			"cause":      err.Error(),
		})
	}
	minuteCount, _ := minuteCmd.Int64()
	hourCount, _ := hourCmd.Int64()

	info := &RateLimitInfo{
		MinuteCount:     minuteCount,
		HourCount:       hourCount,
		MinuteRemaining: max(0, r.requestsPerMinute-minuteCount),
		HourRemaining:   max(0, r.requestsPerHour-hourCount),
	}

	switch {
	case minuteCount >= r.requestsPerMinute:
		info.RetryAfter = time.Duration(60-t.Unix()%60) * time.Second
	case hourCount >= r.requestsPerHour:
		info.RetryAfter = time.Duration(3600-t.Unix()%3600) * time.Second
	default:
		info.Allowed = true
	}

	if !info.Allowed {
		r.metrics.Increment(MetricRateLimitBlocked, "identifier", id)
		r.logger.Warn("rate limit exceeded",
			"identifier", id,
			"minute_count", minuteCount,
			"hour_count", hourCount,
			"retry_after", info.RetryAfter)
		return info, WithRetryAfter(WithContext(ErrRateLimited, map[string]interface{}{
			"identifier":   id,
			"minute_count": minuteCount,
			"hour_count":   hourCount,
		}), info.RetryAfter)
	}

	if increment {
		pipe := r.redis.Pipeline()
		admitMinute := pipe.Incr(ctx, minuteKey)
		// Expiry is twice the window so a counter outlives its window
		// but never accumulates forever.
		pipe.Expire(ctx, minuteKey, 2*time.Minute)
		admitHour := pipe.Incr(ctx, hourKey)
		pipe.Expire(ctx, hourKey, 2*time.Hour)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, WithContext(ErrStoreFailure, map[string]interface{}{
				"identifier": id,
				"op":         "ratelimit",
				"cause":      err.Error(),
			})
		}
		info.MinuteCount = admitMinute.Val()
		info.HourCount = admitHour.Val()
		info.MinuteRemaining = max(0, r.requestsPerMinute-info.MinuteCount)
		info.HourRemaining = max(0, r.requestsPerHour-info.HourCount)
	}
	r.metrics.Increment(MetricRateLimitAllowed, "identifier", id)
	return info, nil
}

// Remaining reports quota left in both windows without counting a request.
func (r *RateLimiter) Remaining(ctx context.Context, id string) (*RateLimitInfo, error) {
	info, err := r.Check(ctx, id, false)
	if err != nil && !IsQuotaError(err) {
		return nil, err
	}
	return info, nil
}

// Reset clears the identifier's current windows. Intended for admin
// and test use.
func (r *RateLimiter) Reset(ctx context.Context, id string) error {
	t := r.now()
	if err := r.redis.Del(ctx, r.minuteKey(id, t), r.hourKey(id, t)).Err(); err != nil {
		return WithContext(ErrStoreFailure, map[string]interface{}{
			"identifier": id,
			"op":         "ratelimit_reset",
			"cause":      err.Error(),
		})
	}
	return nil
}
