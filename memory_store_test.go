package agentcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeQdrant records requests and serves canned responses per path.
type fakeQdrant struct {
	requests  map[string][]json.RawMessage
	responses map[string]string
	statuses  map[string]int
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{
		requests:  make(map[string][]json.RawMessage),
		responses: make(map[string]string),
		statuses:  make(map[string]int),
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		var body json.RawMessage
		json.NewDecoder(r.Body).Decode(&body)
		f.requests[key] = append(f.requests[key], body)
		if status, ok := f.statuses[key]; ok {
			w.WriteHeader(status)
			return
		}
		resp, ok := f.responses[key]
		if !ok {
			resp = `{"status":"ok","result":{}}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	t.Cleanup(ts.Close)
	return f, ts
}

func testVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) / float32(dim)
	}
	return v
}

func TestMemoryStore_EnsureCollectionCreatesWhenMissing(t *testing.T) {
	f, ts := newFakeQdrant(t)
	f.statuses["GET /collections/memories"] = http.StatusNotFound
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	if err := store.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	bodies := f.requests["PUT /collections/memories"]
	if len(bodies) != 1 {
		t.Fatalf("create requests = %d, want 1", len(bodies))
	}
	var req struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	json.Unmarshal(bodies[0], &req)
	if req.Vectors.Size != 4 || req.Vectors.Distance != "Cosine" {
		t.Errorf("create request wrong: %+v", req)
	}
}

func TestMemoryStore_EnsureCollectionNoopWhenPresent(t *testing.T) {
	f, ts := newFakeQdrant(t)
	f.responses["GET /collections/memories"] = `{
		"result": {"config": {"params": {"vectors": {"size": 4}}}}
	}`
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	if err := store.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if len(f.requests["PUT /collections/memories"]) != 0 {
		t.Error("existing collection must not be recreated")
	}
}

func TestMemoryStore_EnsureCollectionDimensionMismatch(t *testing.T) {
	f, ts := newFakeQdrant(t)
	f.responses["GET /collections/memories"] = `{
		"result": {"config": {"params": {"vectors": {"size": 8}}}}
	}`
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	err := store.EnsureCollection(context.Background())
	if err == nil {
		t.Fatal("collection with a different vector size must be rejected")
	}
	if len(f.requests["PUT /collections/memories"]) != 0 {
		t.Error("mismatched collection must not be recreated")
	}
}

func TestMemoryStore_UpsertSendsPointsWithPayload(t *testing.T) {
	f, ts := newFakeQdrant(t)
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	m := NewMemory("alice", "t1", MemoryPreference, "loves palaces")
	m.Metadata = map[string]string{"source": "turn"}
	err := store.Upsert(context.Background(), []*Memory{m}, [][]float32{testVector(4)})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	bodies := f.requests["PUT /collections/memories/points"]
	if len(bodies) != 1 {
		t.Fatalf("upsert requests = %d, want 1", len(bodies))
	}
	var req struct {
		Points []qdrantPoint `json:"points"`
	}
	json.Unmarshal(bodies[0], &req)
	if len(req.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(req.Points))
	}
	p := req.Points[0]
	if p.ID != m.ID || len(p.Vector) != 4 {
		t.Errorf("point identity wrong: %+v", p)
	}
	if p.Payload["user_id"] != "alice" || p.Payload["type"] != "preference" {
		t.Errorf("payload wrong: %+v", p.Payload)
	}
	if p.Payload["meta_source"] != "turn" {
		t.Errorf("metadata not flattened: %+v", p.Payload)
	}
}

func TestMemoryStore_UpsertRejectsDimensionMismatch(t *testing.T) {
	_, ts := newFakeQdrant(t)
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	m := NewMemory("alice", "t1", MemoryConversation, "x")
	err := store.Upsert(context.Background(), []*Memory{m}, [][]float32{testVector(8)})
	if err == nil {
		t.Error("mismatched vector dimension should be rejected")
	}
}

func TestMemoryStore_SearchDecodesResults(t *testing.T) {
	f, ts := newFakeQdrant(t)
	created := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	f.responses["POST /collections/memories/points/search"] = `{
		"result": [
			{"id": "m1", "score": 0.91, "payload": {
				"user_id": "alice", "thread_id": "t1", "type": "preference",
				"content": "vegetarian food only", "created_at": "` + created + `"
			}},
			{"id": "m2", "score": 0.74, "payload": {
				"user_id": "alice", "type": "mystery_type",
				"content": "visited Bukchon"
			}}
		]
	}`
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	results, err := store.Search(context.Background(), SearchQuery{
		Vector:         testVector(4),
		UserID:         "alice",
		Limit:          5,
		ScoreThreshold: 0.7,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Score != 0.91 || results[0].Type != MemoryPreference {
		t.Errorf("first result wrong: %+v", results[0])
	}
	// Unknown stored type survives decoding, not an error.
	if results[1].Type != MemoryType("mystery_type") {
		t.Errorf("unknown type should be preserved, got %s", results[1].Type)
	}

	var req qdrantSearchRequest
	json.Unmarshal(f.requests["POST /collections/memories/points/search"][0], &req)
	if req.ScoreThreshold != 0.7 || req.Limit != 5 || !req.WithPayload {
		t.Errorf("search request wrong: %+v", req)
	}
	if req.Filter == nil || len(req.Filter.Must) != 1 || req.Filter.Must[0].Key != "user_id" {
		t.Errorf("user filter missing: %+v", req.Filter)
	}
}

func TestMemoryStore_SearchFilterCombinesConditions(t *testing.T) {
	f, ts := newFakeQdrant(t)
	f.responses["POST /collections/memories/points/search"] = `{"result": []}`
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	cutoff := time.Unix(5000, 0)
	_, err := store.Search(context.Background(), SearchQuery{
		Vector:       testVector(4),
		UserID:       "alice",
		Types:        []MemoryType{MemoryPreference},
		CreatedAfter: cutoff,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	var req qdrantSearchRequest
	json.Unmarshal(f.requests["POST /collections/memories/points/search"][0], &req)
	if len(req.Filter.Must) != 3 {
		t.Fatalf("conditions = %d, want 3", len(req.Filter.Must))
	}
	keys := map[string]bool{}
	for _, c := range req.Filter.Must {
		keys[c.Key] = true
	}
	for _, want := range []string{"user_id", "type", "created_ts"} {
		if !keys[want] {
			t.Errorf("filter missing %s condition", want)
		}
	}
}

func TestMemoryStore_DeleteByUserUsesFilter(t *testing.T) {
	f, ts := newFakeQdrant(t)
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	if err := store.DeleteByUser(context.Background(), "alice"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	bodies := f.requests["POST /collections/memories/points/delete"]
	if len(bodies) != 1 {
		t.Fatalf("delete requests = %d, want 1", len(bodies))
	}
	var req struct {
		Filter qdrantFilter `json:"filter"`
	}
	json.Unmarshal(bodies[0], &req)
	if len(req.Filter.Must) != 1 || req.Filter.Must[0].Key != "user_id" {
		t.Errorf("delete filter wrong: %+v", req.Filter)
	}
}

func TestMemoryStore_ErrorStatusSurfaces(t *testing.T) {
	f, ts := newFakeQdrant(t)
	f.statuses["POST /collections/memories/points/search"] = http.StatusInternalServerError
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil)

	_, err := store.Search(context.Background(), SearchQuery{Vector: testVector(4)})
	if !IsDependencyError(err) {
		t.Errorf("expected dependency error, got %v", err)
	}
}

func TestMemoryStore_BreakerFailsFastWhenOpen(t *testing.T) {
	f, ts := newFakeQdrant(t)
	f.statuses["POST /collections/memories/points/search"] = http.StatusInternalServerError

	breaker := NewCircuitBreaker("vector-store", BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1,
	}, nil, nil)
	store := NewMemoryStore(ts.URL, "", "memories", 4, nil, nil).WithBreaker(breaker)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := store.Search(ctx, SearchQuery{Vector: testVector(4)}); err == nil {
			t.Fatal("expected search failure")
		}
	}

	hits := len(f.requests["POST /collections/memories/points/search"])
	_, err := store.Search(ctx, SearchQuery{Vector: testVector(4)})
	if !IsBusyError(err) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := len(f.requests["POST /collections/memories/points/search"]); got != hits {
		t.Errorf("open breaker still hit the store: %d -> %d", hits, got)
	}
}
