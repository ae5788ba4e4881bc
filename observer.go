package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
)

const (
	observerPollTimeout   = 1 * time.Second
	errorAlertThreshold   = 5
	latencyWarningMS      = 5000
	latencyReportInterval = 100
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is the payload posted to the alert webhook.
type Alert struct {
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AlertSink receives alerts raised by the observer.
type AlertSink interface {
	Send(ctx context.Context, alert Alert) error
}

// WebhookAlertSink posts alerts to an HTTP endpoint.
type WebhookAlertSink struct {
	http *resty.Client
	url  string
}

// NewWebhookAlertSink creates a sink with a bounded request timeout.
func NewWebhookAlertSink(url string, timeout time.Duration) *WebhookAlertSink {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookAlertSink{
		http: resty.New().SetTimeout(timeout),
		url:  url,
	}
}

func (s *WebhookAlertSink) Send(ctx context.Context, alert Alert) error {
	resp, err := s.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(s.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode())
	}
	return nil
}

// ObserverStats is a snapshot of what the observer has seen.
type ObserverStats struct {
	EventsProcessed int64            `json:"events_processed"`
	ErrorCounts     map[string]int64 `json:"error_counts"`
	EventCounts     map[string]int64 `json:"event_counts"`
	APICallCounts   map[string]int64 `json:"api_call_counts"`
	AlertsSent      int64            `json:"alerts_sent"`
	LatencySamples  int              `json:"latency_samples"`
}

// Observer drains the event queue in the background and watches for
// anomalies: repeated errors of one kind, slow turns, and injection
// attempts. It aggregates latency into percentile reports every
// hundred samples.
type Observer struct {
	redis   *redis.Client
	sink    AlertSink
	anomaly bool
	logger  Logger
	metrics Metrics

	mu              sync.Mutex
	eventsProcessed int64
	errorCounts     map[string]int64
	eventCounts     map[string]int64
	apiCallCounts   map[string]int64
	alertsSent      int64
	latencies       []float64

	stop chan struct{}
	done chan struct{}
}

// NewObserver creates an observer. A nil sink disables alert delivery
// but keeps the counting and logging behavior.
func NewObserver(client *redis.Client, sink AlertSink, anomalyDetection bool, logger Logger, metrics Metrics) *Observer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Observer{
		redis:         client,
		sink:          sink,
		anomaly:       anomalyDetection,
		logger:        logger,
		metrics:       metrics,
		errorCounts:   make(map[string]int64),
		eventCounts:   make(map[string]int64),
		apiCallCounts: make(map[string]int64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the drain loop.
func (o *Observer) Start() {
	go o.run()
}

// Stop signals the loop and waits for it to drain the current poll.
func (o *Observer) Stop(ctx context.Context) error {
	close(o.stop)
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Observer) run() {
	defer close(o.done)
	ctx := context.Background()
	for {
		select {
		case <-o.stop:
			return
		default:
		}

		res, err := o.redis.BLPop(ctx, observerPollTimeout, EventQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			o.logger.Warn("event queue poll failed", "error", err)
			select {
			case <-o.stop:
				return
			case <-time.After(observerPollTimeout):
			}
			continue
		}
		// BLPop returns [key, value].
		if len(res) == 2 {
			o.handle(ctx, []byte(res[1]))
		}

		if depth, err := o.redis.LLen(ctx, EventQueueKey).Result(); err == nil {
			o.metrics.Gauge(MetricQueueDepth, float64(depth))
		}
	}
}

func (o *Observer) handle(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		o.logger.Warn("undecodable event skipped", "error", err)
		return
	}

	o.mu.Lock()
	o.eventsProcessed++
	o.eventCounts[string(event.Type)]++
	o.mu.Unlock()
	o.metrics.Increment(MetricEventsProcessed, "event_type", string(event.Type))

	// Any event may carry a latency sample, not just completed turns.
	if latency, ok := event.Data["latency_ms"].(float64); ok {
		o.handleLatency(ctx, event, latency)
	}

	switch event.Type {
	case EventErrorOccurred:
		o.handleError(ctx, event)
	case EventPromptInjectionDetected:
		o.alert(ctx, Alert{
			Severity: AlertCritical,
			Message:  "prompt injection attempt detected",
			Details: map[string]interface{}{
				"thread_id": event.ThreadID,
				"user_id":   event.UserID,
			},
		})
	case EventAPICalled:
		apiType, _ := event.Data["api_type"].(string)
		if apiType == "" {
			apiType = "unknown"
		}
		o.mu.Lock()
		o.apiCallCounts[apiType]++
		o.mu.Unlock()
	case EventRateLimited:
		o.logger.Warn("rate limited request observed",
			"user_id", event.UserID,
			"data", event.Data)
	}
}

func (o *Observer) handleError(ctx context.Context, event Event) {
	code, _ := event.Data["error_code"].(string)
	if code == "" {
		code = "UNKNOWN"
	}
	o.mu.Lock()
	o.errorCounts[code]++
	count := o.errorCounts[code]
	o.mu.Unlock()

	if o.anomaly && count == errorAlertThreshold {
		o.alert(ctx, Alert{
			Severity: AlertCritical,
			Message:  fmt.Sprintf("error %s occurred %d times", code, count),
			Details: map[string]interface{}{
				"error_code": code,
				"count":      count,
			},
		})
	}
}

func (o *Observer) handleLatency(ctx context.Context, event Event, latency float64) {
	if o.anomaly && latency > latencyWarningMS {
		o.alert(ctx, Alert{
			Severity: AlertWarning,
			Message:  fmt.Sprintf("slow operation: %s took %.0fms", event.Type, latency),
			Details: map[string]interface{}{
				"event_type": string(event.Type),
				"thread_id":  event.ThreadID,
				"latency_ms": latency,
			},
		})
	}

	o.mu.Lock()
	o.latencies = append(o.latencies, latency)
	ready := len(o.latencies) >= latencyReportInterval
	var samples []float64
	var errs, apiCalls map[string]int64
	if ready {
		samples = o.latencies
		errs = o.errorCounts
		apiCalls = o.apiCallCounts
		o.latencies = nil
		o.errorCounts = make(map[string]int64)
		o.apiCallCounts = make(map[string]int64)
	}
	o.mu.Unlock()

	if ready {
		o.report(samples, errs, apiCalls)
	}
}

// report logs the aggregate for one full window of samples. The error
// and API-call counters cover the same window and start fresh after.
func (o *Observer) report(samples []float64, errs, apiCalls map[string]int64) {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	percentile := func(p float64) float64 {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	o.logger.Info("performance report",
		"samples", len(sorted),
		"avg_ms", sum/float64(len(sorted)),
		"p50_ms", percentile(0.50),
		"p95_ms", percentile(0.95),
		"p99_ms", percentile(0.99),
		"error_counts", errs,
		"api_call_counts", apiCalls)
}

func (o *Observer) alert(ctx context.Context, alert Alert) {
	alert.Timestamp = time.Now().UTC()
	o.logger.Error("alert raised", "severity", string(alert.Severity), "message", alert.Message)
	if o.sink == nil {
		return
	}
	if err := o.sink.Send(ctx, alert); err != nil {
		o.logger.Warn("alert delivery failed", "error", err)
		return
	}
	o.mu.Lock()
	o.alertsSent++
	o.mu.Unlock()
	o.metrics.Increment(MetricAlertsSent, "severity", string(alert.Severity))
}

// Stats snapshots the observer counters.
func (o *Observer) Stats() ObserverStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	errs := make(map[string]int64, len(o.errorCounts))
	for k, v := range o.errorCounts {
		errs[k] = v
	}
	events := make(map[string]int64, len(o.eventCounts))
	for k, v := range o.eventCounts {
		events[k] = v
	}
	apiCalls := make(map[string]int64, len(o.apiCallCounts))
	for k, v := range o.apiCallCounts {
		apiCalls[k] = v
	}
	return ObserverStats{
		EventsProcessed: o.eventsProcessed,
		ErrorCounts:     errs,
		EventCounts:     events,
		APICallCounts:   apiCalls,
		AlertsSent:      o.alertsSent,
		LatencySamples:  len(o.latencies),
	}
}
