package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	threadKeyPrefix    = "thread:"
	threadUserIndexFmt = "threads:user:%s"
)

// ThreadStore persists thread state as JSON documents in Redis, with a
// per-user sorted set index for listing (scored by last update time).
type ThreadStore struct {
	client  *redis.Client
	logger  Logger
	metrics Metrics
	ttl     time.Duration
}

// NewThreadStore creates a store. A zero ttl means threads never expire.
func NewThreadStore(client *redis.Client, ttl time.Duration, logger Logger, metrics Metrics) *ThreadStore {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &ThreadStore{client: client, logger: logger, metrics: metrics, ttl: ttl}
}

func threadKey(threadID string) string {
	return threadKeyPrefix + threadID
}

func threadUserIndexKey(userID string) string {
	return fmt.Sprintf(threadUserIndexFmt, userID)
}

// Get loads a thread by ID. Returns ErrNotFound when no such thread exists.
func (s *ThreadStore) Get(ctx context.Context, threadID string) (*ThreadState, error) {
	data, err := s.client.Get(ctx, threadKey(threadID)).Bytes()
	if err == redis.Nil {
		return nil, WithContext(ErrNotFound, map[string]interface{}{"thread_id": threadID})
	}
	if err != nil {
		return nil, WithContext(ErrStoreFailure, map[string]interface{}{
			"thread_id": threadID,
			"cause":     err.Error(),
		})
	}
	var state ThreadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, WithContext(ErrStoreFailure, map[string]interface{}{
			"thread_id": threadID,
			"cause":     err.Error(),
		})
	}
	return &state, nil
}

// GetOrCreate loads a thread, creating a fresh one when it does not
// exist yet. The created flag is true when a new thread was made.
func (s *ThreadStore) GetOrCreate(ctx context.Context, threadID, userID string) (*ThreadState, bool, error) {
	if threadID != "" {
		state, err := s.Get(ctx, threadID)
		if err == nil {
			return state, false, nil
		}
		if !IsNotFound(err) {
			return nil, false, err
		}
	}
	state := NewThreadState(threadID, userID)
	if err := s.Save(ctx, state); err != nil {
		return nil, false, err
	}
	s.logger.Info("thread created", "thread_id", state.ThreadID, "user_id", userID)
	return state, true, nil
}

// Save writes the thread back and refreshes the user index.
func (s *ThreadStore) Save(ctx context.Context, state *ThreadState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return WithContext(ErrStoreFailure, map[string]interface{}{
			"thread_id": state.ThreadID,
			"cause":     err.Error(),
		})
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, threadKey(state.ThreadID), data, s.ttl)
	pipe.ZAdd(ctx, threadUserIndexKey(state.UserID), redis.Z{
		Score:  float64(state.UpdatedAt.Unix()),
		Member: state.ThreadID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return WithContext(ErrStoreFailure, map[string]interface{}{
			"thread_id": state.ThreadID,
			"cause":     err.Error(),
		})
	}
	return nil
}

// Delete removes a thread and its index entry. Deleting a missing
// thread returns ErrNotFound.
func (s *ThreadStore) Delete(ctx context.Context, threadID string) error {
	state, err := s.Get(ctx, threadID)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, threadKey(threadID))
	pipe.ZRem(ctx, threadUserIndexKey(state.UserID), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return WithContext(ErrStoreFailure, map[string]interface{}{
			"thread_id": threadID,
			"cause":     err.Error(),
		})
	}
	s.logger.Info("thread deleted", "thread_id", threadID, "user_id", state.UserID)
	return nil
}

// ThreadSummaryView is a listing row: thread metadata without messages.
type ThreadSummaryView struct {
	ThreadID  string    `json:"thread_id"`
	Stage     Stage     `json:"stage"`
	TurnCount int       `json:"turn_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListByUser returns the user's threads newest-first, paged by limit
// and offset. Threads that expired out from under the index are skipped.
func (s *ThreadStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]ThreadSummaryView, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	ids, err := s.client.ZRevRange(ctx, threadUserIndexKey(userID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, WithContext(ErrStoreFailure, map[string]interface{}{
			"user_id": userID,
			"cause":   err.Error(),
		})
	}
	views := make([]ThreadSummaryView, 0, len(ids))
	for _, id := range ids {
		state, err := s.Get(ctx, id)
		if IsNotFound(err) {
			s.client.ZRem(ctx, threadUserIndexKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, ThreadSummaryView{
			ThreadID:  state.ThreadID,
			Stage:     state.Stage,
			TurnCount: state.TurnCount,
			UpdatedAt: state.UpdatedAt,
		})
	}
	return views, nil
}
