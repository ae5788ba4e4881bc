package agentcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts used for safe lock operations: both verify the stored
// token before mutating, so a lock that expired and was re-acquired by
// another holder is never released or extended by the old holder.
const (
	lockReleaseScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	lockExtendScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// LockInfo describes the current holder of a lock key.
type LockInfo struct {
	Token string
	TTL   time.Duration
}

// DistributedLock provides Redis-based distributed locking for
// coordinating operations across multiple processes.
//
// A held lock is identified by a token of the form <random128>:<unix>
// so release and extend only ever affect the caller's own acquisition.
type DistributedLock struct {
	redis      *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	retryDelay time.Duration
	logger     Logger
	metrics    Metrics
}

// NewDistributedLock creates a lock manager. TTL zero falls back to
// DefaultLockTTL.
func NewDistributedLock(client *redis.Client, keyPrefix string, defaultTTL time.Duration, logger Logger, metrics Metrics) *DistributedLock {
	if defaultTTL <= 0 {
		defaultTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &DistributedLock{
		redis:      client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		retryDelay: DefaultLockRetryInterval,
		logger:     logger,
		metrics:    metrics,
	}
}

// lockKey builds the Redis key, lock:<resource>; the prefix namespaces
// resources of one kind (lock:conversation:<thread_id>).
func (l *DistributedLock) lockKey(key string) string {
	if l.keyPrefix == "" {
		return "lock:" + key
	}
	return fmt.Sprintf("lock:%s:%s", l.keyPrefix, key)
}

func newLockToken() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return fmt.Sprintf("%s:%d", hex.EncodeToString(buf), time.Now().Unix())
}

// HeldLock is one successful acquisition. Release or Extend on a lock
// whose Redis key has expired (or been taken over) are no-ops that
// report failure rather than touching the new holder's key.
type HeldLock struct {
	lock  *DistributedLock
	key   string
	token string
	ttl   time.Duration
}

// Token returns the fencing token stored under the lock key.
func (h *HeldLock) Token() string { return h.token }

// Release deletes the lock key if this holder still owns it. Returns
// true when the key was actually deleted.
func (h *HeldLock) Release(ctx context.Context) (bool, error) {
	res, err := h.lock.redis.Eval(ctx, lockReleaseScript, []string{h.lock.lockKey(h.key)}, h.token).Int64()
	if err != nil {
		return false, WithContext(ErrStoreFailure, map[string]interface{}{
			"key":   h.key,
			"op":    "release",
			"cause": err.Error(),
		})
	}
	if res == 1 {
		h.lock.metrics.Increment(MetricLockReleased, "key", h.key)
	}
	return res == 1, nil
}

// Extend pushes the lock's expiry out to ttl from now, if still held.
func (h *HeldLock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = h.ttl
	}
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	res, err := h.lock.redis.Eval(ctx, lockExtendScript, []string{h.lock.lockKey(h.key)}, h.token, seconds).Int64()
	if err != nil {
		return false, WithContext(ErrStoreFailure, map[string]interface{}{
			"key":   h.key,
			"op":    "extend",
			"cause": err.Error(),
		})
	}
	return res == 1, nil
}

// TryAcquire makes a single SET NX attempt. Returns ErrLockHeld when
// another holder owns the key.
func (l *DistributedLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*HeldLock, error) {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	token := newLockToken()
	ok, err := l.redis.SetNX(ctx, l.lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, WithContext(ErrStoreFailure, map[string]interface{}{
			"key":   key,
			"op":    "acquire",
			"cause": err.Error(),
		})
	}
	if !ok {
		l.metrics.Increment(MetricLockContention, "key", key)
		return nil, WithContext(ErrLockHeld, map[string]interface{}{
			"key": key,
			"ttl": ttl.String(),
		})
	}
	l.metrics.Increment(MetricLockAcquired, "key", key)
	return &HeldLock{lock: l, key: key, token: token, ttl: ttl}, nil
}

// Acquire blocks until the lock is obtained or timeout elapses,
// retrying at a fixed interval. Timeout zero means a single attempt.
func (l *DistributedLock) Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (*HeldLock, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	for {
		held, err := l.TryAcquire(ctx, key, ttl)
		if err == nil {
			l.metrics.Timing(MetricLockWaitTime, time.Since(start), "key", key)
			return held, nil
		}
		if !IsBusyError(err) {
			l.metrics.Increment(MetricLockFailed, "key", key)
			return nil, err
		}
		if timeout <= 0 || time.Now().After(deadline) {
			l.metrics.Increment(MetricLockTimeout, "key", key)
			return nil, WithContext(ErrLockTimeout, map[string]interface{}{
				"key":     key,
				"timeout": timeout.String(),
			})
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

// Locked reports whether any holder currently owns the key.
func (l *DistributedLock) Locked(ctx context.Context, key string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.lockKey(key)).Result()
	if err != nil {
		return false, WithContext(ErrStoreFailure, map[string]interface{}{
			"key":   key,
			"op":    "exists",
			"cause": err.Error(),
		})
	}
	return n > 0, nil
}

// Info returns the current holder's token and remaining TTL, or
// ErrNotFound when the key is free.
func (l *DistributedLock) Info(ctx context.Context, key string) (*LockInfo, error) {
	pipe := l.redis.Pipeline()
	getCmd := pipe.Get(ctx, l.lockKey(key))
	ttlCmd := pipe.TTL(ctx, l.lockKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"key": key})
		}
		return nil, WithContext(ErrStoreFailure, map[string]interface{}{
			"key":   key,
			"op":    "info",
			"cause": err.Error(),
		})
	}
	return &LockInfo{Token: getCmd.Val(), TTL: ttlCmd.Val()}, nil
}

// WithLock runs fn under the lock and releases it afterwards.
func (l *DistributedLock) WithLock(ctx context.Context, key string, ttl, timeout time.Duration, fn func(ctx context.Context) error) error {
	held, err := l.Acquire(ctx, key, ttl, timeout)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := held.Release(releaseCtx); err != nil {
			l.logger.Warn("lock release failed", "key", key, "error", err)
		}
	}()
	return fn(ctx)
}

// ConversationLock serializes turns for a thread: at most one turn per
// thread executes at a time, across all server instances.
type ConversationLock struct {
	lock    *DistributedLock
	ttl     time.Duration
	timeout time.Duration
}

// NewConversationLock creates the per-thread lock used by the turn
// pipeline (long default TTL, bounded acquisition wait).
func NewConversationLock(client *redis.Client, ttl, timeout time.Duration, logger Logger, metrics Metrics) *ConversationLock {
	if ttl <= 0 {
		ttl = DefaultConversationLockTTL
	}
	if timeout <= 0 {
		timeout = DefaultConversationLockTimeout
	}
	return &ConversationLock{
		lock:    NewDistributedLock(client, "conversation", ttl, logger, metrics),
		ttl:     ttl,
		timeout: timeout,
	}
}

// WithThread runs fn while holding the thread's lock.
func (c *ConversationLock) WithThread(ctx context.Context, threadID string, fn func(ctx context.Context) error) error {
	return c.lock.WithLock(ctx, threadID, c.ttl, c.timeout, fn)
}

// ThreadLocked reports whether a turn is in flight for the thread.
func (c *ConversationLock) ThreadLocked(ctx context.Context, threadID string) (bool, error) {
	return c.lock.Locked(ctx, threadID)
}
