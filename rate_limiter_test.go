package agentcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToMinuteLimit(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, 3, 100, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := limiter.Check(ctx, "user:alice", true)
		if err != nil {
			t.Fatalf("request %d should be allowed: %v", i+1, err)
		}
		if !info.Allowed {
			t.Fatalf("request %d reported not allowed", i+1)
		}
	}

	info, err := limiter.Check(ctx, "user:alice", true)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fourth request should be limited, got %v", err)
	}
	if info.Allowed {
		t.Error("blocked info should report not allowed")
	}
}

func TestRateLimiter_RetryAfterMatchesWindowBoundary(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, 1, 100, nil, nil)
	// 15 seconds into a minute window.
	limiter.now = func() time.Time { return time.Unix(615, 0) }
	ctx := context.Background()

	if _, err := limiter.Check(ctx, "user:bob", true); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	info, err := limiter.Check(ctx, "user:bob", true)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if info.RetryAfter != 45*time.Second {
		t.Errorf("retry_after = %v, want 45s", info.RetryAfter)
	}
	retryAfter, ok := RetryAfter(err)
	if !ok || retryAfter != 45*time.Second {
		t.Errorf("error should carry retry_after 45s, got %v ok=%v", retryAfter, ok)
	}
}

func TestRateLimiter_HourLimitIndependentOfMinute(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, 100, 2, nil, nil)
	base := time.Unix(7200, 0)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Check(ctx, "ip:1.2.3.4", true); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}
	info, err := limiter.Check(ctx, "ip:1.2.3.4", true)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected hour limit, got %v", err)
	}
	if info.RetryAfter != time.Hour {
		t.Errorf("retry_after = %v, want 1h", info.RetryAfter)
	}
}

func TestRateLimiter_NewWindowResetsCount(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, 1, 100, nil, nil)
	now := time.Unix(30, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := limiter.Check(ctx, "user:carol", true); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if _, err := limiter.Check(ctx, "user:carol", true); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second request should be limited, got %v", err)
	}

	now = time.Unix(61, 0)
	if _, err := limiter.Check(ctx, "user:carol", true); err != nil {
		t.Errorf("new minute window should admit the request: %v", err)
	}
}

func TestRateLimiter_BlockedRequestsBurnNoQuota(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, 2, 5, nil, nil)
	now := time.Unix(600, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	accepted := 0
	for i := 0; i < 10; i++ {
		if _, err := limiter.Check(ctx, "user:frank", true); err == nil {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("accepted = %d, want 2", accepted)
	}
	// Only the admitted requests reach the hour counter; the eight
	// rejections leave it untouched.
	hourKey := limiter.hourKey("user:frank", now)
	val, err := client.Get(ctx, hourKey).Int64()
	if err != nil {
		t.Fatalf("hour counter read failed: %v", err)
	}
	if val != 2 {
		t.Errorf("hour counter = %d, want 2", val)
	}

	// Later minute windows: the hour budget still has room for three
	// more, exactly as if the rejections had never happened.
	now = time.Unix(660, 0)
	for i := 0; i < 2; i++ {
		if _, err := limiter.Check(ctx, "user:frank", true); err != nil {
			t.Fatalf("request %d in second minute should pass: %v", i+1, err)
		}
	}
	now = time.Unix(720, 0)
	if _, err := limiter.Check(ctx, "user:frank", true); err != nil {
		t.Fatalf("fifth hourly request should pass: %v", err)
	}
	if _, err := limiter.Check(ctx, "user:frank", true); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("sixth hourly request should hit the hour limit, got %v", err)
	}
}

func TestRateLimiter_RemainingDoesNotCount(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, 5, 100, nil, nil)
	ctx := context.Background()

	if _, err := limiter.Check(ctx, "user:dave", true); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		info, err := limiter.Remaining(ctx, "user:dave")
		if err != nil {
			t.Fatalf("remaining failed: %v", err)
		}
		if info.MinuteRemaining != 4 {
			t.Fatalf("remaining = %d, want 4 (probe must not count)", info.MinuteRemaining)
		}
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, 1, 100, nil, nil)
	ctx := context.Background()

	limiter.Check(ctx, "user:eve", true)
	if _, err := limiter.Check(ctx, "user:eve", true); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit before reset, got %v", err)
	}
	if err := limiter.Reset(ctx, "user:eve"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, err := limiter.Check(ctx, "user:eve", true); err != nil {
		t.Errorf("request after reset should pass: %v", err)
	}
}

func TestIdentifierFor(t *testing.T) {
	if got := IdentifierFor("alice", "1.2.3.4"); got != "user:alice" {
		t.Errorf("IdentifierFor with user = %q", got)
	}
	if got := IdentifierFor("", "1.2.3.4"); got != "ip:1.2.3.4" {
		t.Errorf("IdentifierFor without user = %q", got)
	}
}
