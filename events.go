package agentcore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventQueueKey is the Redis list the emitter pushes to and the
// observer drains.
const EventQueueKey = "agent:events"

// EventType names a pipeline occurrence worth observing.
type EventType string

const (
	EventRequestStarted          EventType = "request_started"
	EventRequestCompleted        EventType = "request_completed"
	EventErrorOccurred           EventType = "error_occurred"
	EventContextTrimmed          EventType = "context_trimmed"
	EventSummarizationTriggered  EventType = "summarization_triggered"
	EventSummarizationCompleted  EventType = "summarization_completed"
	EventSummarizationFallback   EventType = "summarization_fallback"
	EventMemoryRetrieved         EventType = "memory_retrieved"
	EventMemoryStored            EventType = "memory_stored"
	EventEntityExtracted         EventType = "entity_extracted"
	EventRateLimited             EventType = "rate_limited"
	EventPromptInjectionDetected EventType = "prompt_injection_detected"
	EventLanguageDetected        EventType = "language_detected"
	EventStageAdvanced           EventType = "stage_advanced"
	EventAPICalled               EventType = "naver_api_called"
)

// Event is the wire shape pushed onto the queue. Every event carries a
// unique ID so consumers can deduplicate redeliveries.
type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter publishes events to the observer queue. Emission is best
// effort: a Redis failure is logged and the event dropped, never
// surfaced to the turn pipeline.
type Emitter struct {
	redis   *redis.Client
	enabled bool
	logger  Logger
	metrics Metrics
}

// NewEmitter creates an emitter. A disabled emitter silently discards
// everything.
func NewEmitter(client *redis.Client, enabled bool, logger Logger, metrics Metrics) *Emitter {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Emitter{redis: client, enabled: enabled, logger: logger, metrics: metrics}
}

// Emit pushes one event.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if !e.enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("event marshal failed", "event_type", string(event.Type), "error", err)
		e.metrics.Increment(MetricEventsDropped, "event_type", string(event.Type))
		return
	}
	if err := e.redis.RPush(ctx, EventQueueKey, payload).Err(); err != nil {
		e.logger.Warn("event emit failed", "event_type", string(event.Type), "error", err)
		e.metrics.Increment(MetricEventsDropped, "event_type", string(event.Type))
		return
	}
	e.metrics.Increment(MetricEventsEmitted, "event_type", string(event.Type))
}

// EmitTyped is shorthand for the common case.
func (e *Emitter) EmitTyped(ctx context.Context, kind EventType, threadID, userID string, data map[string]interface{}) {
	e.Emit(ctx, Event{Type: kind, ThreadID: threadID, UserID: userID, Data: data})
}

// RequestStarted marks the beginning of a turn.
func (e *Emitter) RequestStarted(ctx context.Context, threadID, userID string) {
	e.EmitTyped(ctx, EventRequestStarted, threadID, userID, nil)
}

// RequestCompleted marks a finished turn with its latency and the
// context size the model saw.
func (e *Emitter) RequestCompleted(ctx context.Context, threadID, userID string, latency time.Duration, tokens int) {
	e.EmitTyped(ctx, EventRequestCompleted, threadID, userID, map[string]interface{}{
		"latency_ms":  float64(latency.Milliseconds()),
		"token_count": tokens,
	})
}

// ErrorOccurred records a turn failure with its stable error code.
func (e *Emitter) ErrorOccurred(ctx context.Context, threadID, userID string, err error) {
	e.EmitTyped(ctx, EventErrorOccurred, threadID, userID, map[string]interface{}{
		"error_code": ErrorCode(err),
		"error":      err.Error(),
	})
}

// RateLimited records a rejected request.
func (e *Emitter) RateLimited(ctx context.Context, userID string, retryAfter time.Duration) {
	e.EmitTyped(ctx, EventRateLimited, "", userID, map[string]interface{}{
		"retry_after_seconds": retryAfter.Seconds(),
	})
}

// APICalled records one outbound call to an external place/directions
// API so the observer can track per-API volume.
func (e *Emitter) APICalled(ctx context.Context, threadID, apiType string, latency time.Duration, success bool) {
	e.EmitTyped(ctx, EventAPICalled, threadID, "", map[string]interface{}{
		"api_type":   apiType,
		"latency_ms": float64(latency.Milliseconds()),
		"success":    success,
	})
}

// PromptInjectionDetected records a blocked injection attempt.
func (e *Emitter) PromptInjectionDetected(ctx context.Context, threadID, userID string) {
	e.EmitTyped(ctx, EventPromptInjectionDetected, threadID, userID, nil)
}
