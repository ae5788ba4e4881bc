package agentcore

import (
	"context"
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	SuccessThreshold int
}

// DefaultBreakerConfig returns the standard dependency protection settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		HalfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	out := c
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = DefaultFailureThreshold
	}
	if out.RecoveryTimeout <= 0 {
		out.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if out.HalfOpenMaxCalls <= 0 {
		out.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = DefaultSuccessThreshold
	}
	return out
}

// BreakerStats is a point-in-time snapshot of a breaker.
type BreakerStats struct {
	Name            string       `json:"name"`
	State           BreakerState `json:"state"`
	Failures        int          `json:"failures"`
	HalfOpenCalls   int          `json:"half_open_calls"`
	HalfOpenSuccess int          `json:"half_open_successes"`
	LastFailure     time.Time    `json:"last_failure,omitempty"`
	LastStateChange time.Time    `json:"last_state_change,omitempty"`
	TotalRejected   int64        `json:"total_rejected"`
	TotalStateOpens int64        `json:"total_opens"`
}

// CircuitBreaker protects one dependency from cascading failures.
//
// Closed counts consecutive failures; at the threshold it opens and
// fails fast. After the recovery timeout it admits a bounded number of
// probe calls (half-open); enough successes close it, any failure
// reopens it. Errors caused by the caller rather than the dependency
// can be excluded from failure counting.
type CircuitBreaker struct {
	mu              sync.Mutex
	name            string
	config          BreakerConfig
	state           BreakerState
	failures        int
	halfOpenCalls   int
	halfOpenSuccess int
	lastFailTime    time.Time
	lastStateChange time.Time
	totalRejected   int64
	totalOpens      int64
	excluded        func(error) bool
	logger          Logger
	metrics         Metrics

	now func() time.Time
}

// NewCircuitBreaker creates a named breaker.
func NewCircuitBreaker(name string, config BreakerConfig, logger Logger, metrics Metrics) *CircuitBreaker {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &CircuitBreaker{
		name:    name,
		config:  config.withDefaults(),
		state:   BreakerClosed,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithExcludedErrors sets a predicate for errors that should not count
// as dependency failures (validation errors, rate limits and so on).
func (cb *CircuitBreaker) WithExcludedErrors(fn func(error) bool) *CircuitBreaker {
	cb.excluded = fn
	return cb
}

// Call runs fn through the breaker. An open circuit returns
// ErrCircuitOpen carrying the time until the next probe is allowed;
// fn's own error is passed through otherwise.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		elapsed := cb.now().Sub(cb.lastFailTime)
		if elapsed >= cb.config.RecoveryTimeout {
			cb.setState(BreakerHalfOpen)
			cb.halfOpenCalls = 1
			return nil
		}
		cb.totalRejected++
		cb.metrics.Increment(MetricBreakerRejected, "breaker", cb.name)
		return WithRetryAfter(WithContext(ErrCircuitOpen, map[string]interface{}{
			"breaker": cb.name,
			"state":   string(cb.state),
		}), cb.config.RecoveryTimeout-elapsed)
	case BreakerHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			cb.totalRejected++
			cb.metrics.Increment(MetricBreakerRejected, "breaker", cb.name)
			return WithRetryAfter(WithContext(ErrCircuitOpen, map[string]interface{}{
				"breaker": cb.name,
				"state":   string(cb.state),
			}), cb.config.RecoveryTimeout)
		}
		cb.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.excluded != nil && cb.excluded(err) {
		// Caller fault, not a dependency failure. Neutral for the breaker.
		return
	}

	if err != nil {
		cb.failures++
		cb.lastFailTime = cb.now()
		if cb.state == BreakerHalfOpen || (cb.state == BreakerClosed && cb.failures >= cb.config.FailureThreshold) {
			cb.setState(BreakerOpen)
		}
		return
	}

	switch cb.state {
	case BreakerHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.SuccessThreshold {
			cb.setState(BreakerClosed)
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

// setState transitions the breaker; callers hold cb.mu.
func (cb *CircuitBreaker) setState(next BreakerState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.lastStateChange = cb.now()
	switch next {
	case BreakerOpen:
		cb.totalOpens++
		cb.metrics.Increment(MetricBreakerOpened, "breaker", cb.name)
		cb.logger.Warn("circuit breaker opened", "breaker", cb.name, "failures", cb.failures)
	case BreakerClosed:
		cb.failures = 0
		cb.metrics.Increment(MetricBreakerClosed, "breaker", cb.name)
		cb.logger.Info("circuit breaker closed", "breaker", cb.name, "from", string(prev))
	case BreakerHalfOpen:
		cb.halfOpenSuccess = 0
		cb.logger.Info("circuit breaker half open", "breaker", cb.name)
	}
	if next != BreakerHalfOpen {
		cb.halfOpenCalls = 0
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats snapshots the breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		HalfOpenCalls:   cb.halfOpenCalls,
		HalfOpenSuccess: cb.halfOpenSuccess,
		LastFailure:     cb.lastFailTime,
		LastStateChange: cb.lastStateChange,
		TotalRejected:   cb.totalRejected,
		TotalStateOpens: cb.totalOpens,
	}
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.halfOpenCalls = 0
	cb.halfOpenSuccess = 0
	cb.setState(BreakerClosed)
}

// BreakerRegistry holds one breaker per named dependency so every call
// site shares state for the same dependency.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   Logger
	metrics  Metrics
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(logger Logger, metrics Metrics) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
		metrics:  metrics,
	}
}

// GetOrCreate returns the breaker for name, creating it with config on
// first use. Later calls ignore config.
func (r *BreakerRegistry) GetOrCreate(name string, config BreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, config, r.logger, r.metrics)
	r.breakers[name] = cb
	return cb
}

// Get returns the named breaker, or nil when it was never created.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Stats snapshots every registered breaker.
func (r *BreakerRegistry) Stats() map[string]BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]BreakerStats, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Stats()
	}
	return out
}

// ResetAll closes every breaker. Admin and test use.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
