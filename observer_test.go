package agentcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *captureSink) Send(ctx context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *captureSink) get() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestObserver_CountsEvents(t *testing.T) {
	_, client := newTestRedis(t)
	emitter := NewEmitter(client, true, nil, nil)
	observer := NewObserver(client, nil, true, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	ctx := context.Background()
	emitter.RequestStarted(ctx, "t1", "alice")
	emitter.RequestCompleted(ctx, "t1", "alice", 100*time.Millisecond, 42)
	emitter.RateLimited(ctx, "alice", time.Minute)

	waitFor(t, 3*time.Second, func() bool {
		return observer.Stats().EventsProcessed == 3
	})
	stats := observer.Stats()
	if stats.EventCounts["request_started"] != 1 {
		t.Errorf("request_started count = %d", stats.EventCounts["request_started"])
	}
	if stats.LatencySamples != 1 {
		t.Errorf("latency samples = %d, want 1", stats.LatencySamples)
	}
}

func TestObserver_RepeatedErrorsRaiseAlert(t *testing.T) {
	_, client := newTestRedis(t)
	emitter := NewEmitter(client, true, nil, nil)
	sink := &captureSink{}
	observer := NewObserver(client, sink, true, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	ctx := context.Background()
	for i := 0; i < errorAlertThreshold; i++ {
		emitter.ErrorOccurred(ctx, "t1", "alice", ErrLLMFailure)
	}

	waitFor(t, 3*time.Second, func() bool {
		return len(sink.get()) == 1
	})
	alert := sink.get()[0]
	if alert.Severity != AlertCritical {
		t.Errorf("severity = %s, want critical", alert.Severity)
	}
	if alert.Details["error_code"] != "SERVICE_UNAVAILABLE" {
		t.Errorf("alert details wrong: %+v", alert.Details)
	}

	// Further errors of the same code must not alert again.
	emitter.ErrorOccurred(ctx, "t1", "alice", ErrLLMFailure)
	waitFor(t, 3*time.Second, func() bool {
		return observer.Stats().EventsProcessed == int64(errorAlertThreshold)+1
	})
	if len(sink.get()) != 1 {
		t.Errorf("alerts = %d, want 1", len(sink.get()))
	}
}

func TestObserver_InjectionAlwaysAlerts(t *testing.T) {
	_, client := newTestRedis(t)
	emitter := NewEmitter(client, true, nil, nil)
	sink := &captureSink{}
	observer := NewObserver(client, sink, false, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	emitter.PromptInjectionDetected(context.Background(), "t1", "mallory")
	waitFor(t, 3*time.Second, func() bool {
		return len(sink.get()) == 1
	})
	if sink.get()[0].Severity != AlertCritical {
		t.Errorf("injection alert severity = %s", sink.get()[0].Severity)
	}
}

func TestObserver_LatencyWindowResets(t *testing.T) {
	_, client := newTestRedis(t)
	emitter := NewEmitter(client, true, nil, nil)
	observer := NewObserver(client, nil, true, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	ctx := context.Background()
	for i := 0; i < latencyReportInterval; i++ {
		emitter.RequestCompleted(ctx, "t1", "alice", time.Duration(i+1)*time.Millisecond, 10)
	}
	waitFor(t, 5*time.Second, func() bool {
		return observer.Stats().EventsProcessed == int64(latencyReportInterval)
	})
	if got := observer.Stats().LatencySamples; got != 0 {
		t.Errorf("buffer should reset after a full window, has %d samples", got)
	}
}

func TestObserver_CountsAPICalls(t *testing.T) {
	_, client := newTestRedis(t)
	emitter := NewEmitter(client, true, nil, nil)
	observer := NewObserver(client, nil, true, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	ctx := context.Background()
	emitter.APICalled(ctx, "t1", "local_search", 80*time.Millisecond, true)
	emitter.APICalled(ctx, "t1", "local_search", 95*time.Millisecond, true)
	emitter.APICalled(ctx, "t1", "directions", 200*time.Millisecond, false)

	waitFor(t, 3*time.Second, func() bool {
		return observer.Stats().EventsProcessed == 3
	})
	stats := observer.Stats()
	if stats.APICallCounts["local_search"] != 2 {
		t.Errorf("local_search count = %d", stats.APICallCounts["local_search"])
	}
	if stats.APICallCounts["directions"] != 1 {
		t.Errorf("directions count = %d", stats.APICallCounts["directions"])
	}
	if stats.LatencySamples != 3 {
		t.Errorf("latency samples = %d, want 3 (api calls carry latency too)", stats.LatencySamples)
	}
}

func TestObserver_SlowEventRaisesWarning(t *testing.T) {
	_, client := newTestRedis(t)
	emitter := NewEmitter(client, true, nil, nil)
	sink := &captureSink{}
	observer := NewObserver(client, sink, true, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	ctx := context.Background()
	emitter.RequestCompleted(ctx, "t1", "alice", 6*time.Second, 128)

	waitFor(t, 3*time.Second, func() bool {
		return len(sink.get()) == 1
	})
	alert := sink.get()[0]
	if alert.Severity != AlertWarning {
		t.Errorf("severity = %s, want warning", alert.Severity)
	}
	if alert.Details["latency_ms"] != float64(6000) {
		t.Errorf("alert details wrong: %+v", alert.Details)
	}
}

func TestObserver_SlowEventSilentWithoutAnomalyDetection(t *testing.T) {
	_, client := newTestRedis(t)
	emitter := NewEmitter(client, true, nil, nil)
	sink := &captureSink{}
	observer := NewObserver(client, sink, false, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	emitter.RequestCompleted(context.Background(), "t1", "alice", 6*time.Second, 128)

	waitFor(t, 3*time.Second, func() bool {
		return observer.Stats().EventsProcessed == 1
	})
	if len(sink.get()) != 0 {
		t.Errorf("alerts = %d, want 0", len(sink.get()))
	}
}

func TestObserver_UndecodableEventSkipped(t *testing.T) {
	_, client := newTestRedis(t)
	observer := NewObserver(client, nil, true, nil, nil)
	observer.Start()
	defer observer.Stop(context.Background())

	ctx := context.Background()
	client.RPush(ctx, EventQueueKey, "not json at all")
	emitter := NewEmitter(client, true, nil, nil)
	emitter.RequestStarted(ctx, "t1", "alice")

	waitFor(t, 3*time.Second, func() bool {
		return observer.Stats().EventsProcessed == 1
	})
}

func TestWebhookAlertSink_PostsJSON(t *testing.T) {
	received := make(chan Alert, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		json.NewDecoder(r.Body).Decode(&alert)
		received <- alert
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookAlertSink(ts.URL, time.Second)
	err := sink.Send(context.Background(), Alert{
		Severity: AlertWarning,
		Message:  "latency drift",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	alert := <-received
	if alert.Severity != AlertWarning || alert.Message != "latency drift" {
		t.Errorf("payload wrong: %+v", alert)
	}
}

func TestWebhookAlertSink_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	sink := NewWebhookAlertSink(ts.URL, time.Second)
	if err := sink.Send(context.Background(), Alert{Severity: AlertCritical, Message: "x"}); err == nil {
		t.Error("5xx response should surface as an error")
	}
}
