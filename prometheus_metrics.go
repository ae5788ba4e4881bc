package agentcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, a fresh registry is created
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers the standard conversation-core metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counters[MetricTurnSuccess] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "turn",
			Name:      "success_total",
			Help:      "Total number of completed conversation turns",
		},
		[]string{},
	)

	p.counters[MetricTurnError] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "turn",
			Name:      "errors_total",
			Help:      "Total number of failed conversation turns",
		},
		[]string{"error_code"},
	)

	p.counters[MetricLockAcquired] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "lock",
			Name:      "acquired_total",
			Help:      "Total number of lock acquisitions",
		},
		[]string{},
	)

	p.counters[MetricLockTimeout] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Total number of lock acquisition timeouts",
		},
		[]string{},
	)

	p.counters[MetricRateLimitBlocked] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "ratelimit",
			Name:      "blocked_total",
			Help:      "Total number of rate-limited requests",
		},
		[]string{"window"},
	)

	p.counters[MetricBreakerRejected] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "breaker",
			Name:      "rejected_total",
			Help:      "Total number of calls rejected by open circuits",
		},
		[]string{"breaker"},
	)

	p.counters[MetricValidatorRejected] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "validator",
			Name:      "rejected_total",
			Help:      "Total number of rejected inputs",
		},
		[]string{"reason"},
	)

	p.counters[MetricSummarizeFallback] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "summarize",
			Name:      "fallbacks_total",
			Help:      "Total number of summarization fallbacks by strategy",
		},
		[]string{"strategy"},
	)

	p.counters[MetricMemoryStored] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "memory",
			Name:      "stored_total",
			Help:      "Total number of memories stored",
		},
		[]string{"memory_type"},
	)

	p.counters[MetricEventsProcessed] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Total number of observer events processed",
		},
		[]string{"event_type"},
	)

	// Timing histograms
	p.histograms[MetricTurnDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "turn",
			Name:      "duration_seconds",
			Help:      "End-to-end turn duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{},
	)

	p.histograms[MetricLLMDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "llm",
			Name:      "duration_seconds",
			Help:      "LLM call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{},
	)

	p.histograms[MetricMemorySearchTime] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "memory",
			Name:      "search_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{},
	)

	// Gauge metrics
	p.gauges[MetricContextTokens] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "context",
			Name:      "tokens",
			Help:      "Token count of the active context window",
		},
		[]string{},
	)

	p.gauges[MetricQueueDepth] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Current depth of the observer event queue",
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentcore",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}

	labels := p.extractLabelValues(tags)
	counter.With(labels).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "agentcore",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}

	labels := p.extractLabelValues(tags)
	gauge.With(labels).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentcore",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}

	labels := p.extractLabelValues(tags)
	histogram.With(labels).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	if len(tags) == 0 {
		return prometheus.Labels{}
	}

	labels := make(prometheus.Labels)
	for i := 0; i < len(tags)-1; i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// sanitizeMetricName converts dotted metric names to prometheus-safe names
func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
