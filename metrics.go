package agentcore

import "time"

// Metrics provides observability for conversation core operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing
type InMemoryMetrics struct {
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.Timings[name] = append(m.Timings[name], duration)
}

// Common metric names
const (
	MetricTurnSuccess  = "agentcore.turn.success"
	MetricTurnError    = "agentcore.turn.error"
	MetricTurnDuration = "agentcore.turn.duration"
	MetricTurnTokens   = "agentcore.turn.tokens"

	MetricLockAcquired   = "agentcore.lock.acquired"
	MetricLockFailed     = "agentcore.lock.failed"
	MetricLockTimeout    = "agentcore.lock.timeout"
	MetricLockContention = "agentcore.lock.contention" // Number of retries needed
	MetricLockWaitTime   = "agentcore.lock.wait_duration"
	MetricLockReleased   = "agentcore.lock.released"

	MetricRateLimitAllowed = "agentcore.ratelimit.allowed"
	MetricRateLimitBlocked = "agentcore.ratelimit.blocked"

	MetricBreakerOpened   = "agentcore.breaker.opened"
	MetricBreakerClosed   = "agentcore.breaker.closed"
	MetricBreakerRejected = "agentcore.breaker.rejected"

	MetricValidatorRejected  = "agentcore.validator.rejected"
	MetricValidatorSanitized = "agentcore.validator.sanitized"

	MetricContextTrimmed    = "agentcore.context.trimmed"
	MetricContextTokens     = "agentcore.context.tokens"
	MetricSummarizeSuccess  = "agentcore.summarize.success"
	MetricSummarizeFallback = "agentcore.summarize.fallback"
	MetricSummarizeDuration = "agentcore.summarize.duration"
	MetricTokenCacheHits    = "agentcore.tokens.cache_hits"
	MetricTokenCacheMisses  = "agentcore.tokens.cache_misses"

	MetricMemoryStored       = "agentcore.memory.stored"
	MetricMemoryRetrieved    = "agentcore.memory.retrieved"
	MetricMemorySearchTime   = "agentcore.memory.search_duration"
	MetricEmbeddingCalls     = "agentcore.embedding.calls"
	MetricEmbeddingFallbacks = "agentcore.embedding.fallbacks"

	MetricEventsEmitted   = "agentcore.events.emitted"
	MetricEventsDropped   = "agentcore.events.dropped"
	MetricEventsProcessed = "agentcore.events.processed"
	MetricAlertsSent      = "agentcore.alerts.sent"
	MetricQueueDepth      = "agentcore.events.queue_depth"

	MetricLLMCalls    = "agentcore.llm.calls"
	MetricLLMErrors   = "agentcore.llm.errors"
	MetricLLMDuration = "agentcore.llm.duration"
)
