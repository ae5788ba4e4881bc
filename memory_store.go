package agentcore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// qdrant wire types, kept to the subset of the HTTP API this store uses.

type qdrantFilter struct {
	Must []qdrantCondition `json:"must,omitempty"`
}

type qdrantCondition struct {
	Key   string       `json:"key,omitempty"`
	Match *qdrantMatch `json:"match,omitempty"`
	Range *qdrantRange `json:"range,omitempty"`
}

type qdrantMatch struct {
	Value interface{} `json:"value,omitempty"`
	Any   []string    `json:"any,omitempty"`
}

type qdrantRange struct {
	GTE *float64 `json:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type qdrantPoint struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Score   float64                `json:"score,omitempty"`
}

type qdrantSearchRequest struct {
	Vector         []float32     `json:"vector"`
	Limit          int           `json:"limit"`
	ScoreThreshold float64       `json:"score_threshold,omitempty"`
	Filter         *qdrantFilter `json:"filter,omitempty"`
	WithPayload    bool          `json:"with_payload"`
}

type qdrantScrollRequest struct {
	Filter      *qdrantFilter `json:"filter,omitempty"`
	Limit       int           `json:"limit"`
	Offset      interface{}   `json:"offset,omitempty"`
	WithPayload bool          `json:"with_payload"`
}

type qdrantResponse struct {
	Status interface{} `json:"status"`
	Result struct {
		Points         []qdrantPoint `json:"points"`
		NextPageOffset interface{}   `json:"next_page_offset"`
		Count          int64         `json:"count"`
	} `json:"result"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
}

// MemoryStore persists memories as vectors in a Qdrant collection with
// the memory fields as point payload.
type MemoryStore struct {
	http       *resty.Client
	collection string
	dimension  int
	breaker    *CircuitBreaker
	logger     Logger
	metrics    Metrics
}

// NewMemoryStore creates a store for one collection. The vector
// dimension is frozen; EnsureCollection creates the collection with it
// and mismatched collections are a startup error.
func NewMemoryStore(baseURL, apiKey, collection string, dimension int, logger Logger, metrics Metrics) *MemoryStore {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultVectorStoreTimeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("api-key", apiKey)
	}
	return &MemoryStore{
		http:       client,
		collection: collection,
		dimension:  dimension,
		logger:     logger,
		metrics:    metrics,
	}
}

// WithBreaker guards every collection operation with a circuit
// breaker. An open breaker fails fast with ErrCircuitOpen.
func (s *MemoryStore) WithBreaker(breaker *CircuitBreaker) *MemoryStore {
	s.breaker = breaker
	return s
}

func (s *MemoryStore) guard(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Call(ctx, fn)
}

func (s *MemoryStore) storeErr(op string, err error) error {
	return WithContext(ErrVectorStoreFailure, map[string]interface{}{
		"collection": s.collection,
		"op":         op,
		"cause":      err.Error(),
	})
}

func (s *MemoryStore) statusErr(op string, code int, body string) error {
	return WithContext(ErrVectorStoreFailure, map[string]interface{}{
		"collection": s.collection,
		"op":         op,
		"status":     code,
		"body":       body,
	})
}

// EnsureCollection creates the collection when it does not exist. An
// existing collection with a different vector dimension is a startup
// error, not something to silently reuse.
func (s *MemoryStore) EnsureCollection(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	resp, err := s.http.R().SetContext(ctx).
		SetResult(&info).
		Get(fmt.Sprintf("/collections/%s", s.collection))
	if err != nil {
		return s.storeErr("get_collection", err)
	}
	if resp.StatusCode() == 200 {
		if got := info.Result.Config.Params.Vectors.Size; got != s.dimension {
			return WithContext(ErrVectorStoreFailure, map[string]interface{}{
				"collection": s.collection,
				"op":         "verify_collection",
				"want_dim":   s.dimension,
				"got_dim":    got,
			})
		}
		return nil
	}
	create := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	resp, err = s.http.R().SetContext(ctx).
		SetBody(create).
		Put(fmt.Sprintf("/collections/%s", s.collection))
	if err != nil {
		return s.storeErr("create_collection", err)
	}
	if resp.IsError() {
		return s.statusErr("create_collection", resp.StatusCode(), resp.String())
	}
	s.logger.Info("memory collection created",
		"collection", s.collection,
		"dimension", s.dimension)
	return nil
}

func memoryPayload(m *Memory) map[string]interface{} {
	payload := map[string]interface{}{
		"user_id":    m.UserID,
		"type":       string(m.Type),
		"content":    m.Content,
		"created_at": m.CreatedAt.Format(time.RFC3339),
		"created_ts": float64(m.CreatedAt.Unix()),
	}
	if m.ThreadID != "" {
		payload["thread_id"] = m.ThreadID
	}
	for k, v := range m.Metadata {
		payload["meta_"+k] = v
	}
	return payload
}

func memoryFromPoint(p qdrantPoint) *Memory {
	str := func(key string) string {
		if v, ok := p.Payload[key].(string); ok {
			return v
		}
		return ""
	}
	kind, _ := ParseMemoryType(str("type"))
	m := &Memory{
		ID:       p.ID,
		UserID:   str("user_id"),
		ThreadID: str("thread_id"),
		Type:     kind,
		Content:  str("content"),
		Score:    p.Score,
	}
	if ts, err := time.Parse(time.RFC3339, str("created_at")); err == nil {
		m.CreatedAt = ts
	}
	for k, v := range p.Payload {
		if len(k) > 5 && k[:5] == "meta_" {
			if sv, ok := v.(string); ok {
				if m.Metadata == nil {
					m.Metadata = map[string]string{}
				}
				m.Metadata[k[5:]] = sv
			}
		}
	}
	return m
}

// Upsert writes memories with their vectors. Vector dimension must
// match the collection.
func (s *MemoryStore) Upsert(ctx context.Context, memories []*Memory, vectors [][]float32) error {
	if len(memories) != len(vectors) {
		return WithContext(ErrVectorStoreFailure, map[string]interface{}{
			"op":       "upsert",
			"memories": len(memories),
			"vectors":  len(vectors),
		})
	}
	points := make([]qdrantPoint, 0, len(memories))
	for i, m := range memories {
		if len(vectors[i]) != s.dimension {
			return WithContext(ErrVectorStoreFailure, map[string]interface{}{
				"op":   "upsert",
				"want": s.dimension,
				"got":  len(vectors[i]),
			})
		}
		points = append(points, qdrantPoint{
			ID:      m.ID,
			Vector:  vectors[i],
			Payload: memoryPayload(m),
		})
	}
	err := s.guard(ctx, func(ctx context.Context) error {
		resp, err := s.http.R().SetContext(ctx).
			SetBody(map[string]interface{}{"points": points}).
			SetQueryParam("wait", "true").
			Put(fmt.Sprintf("/collections/%s/points", s.collection))
		if err != nil {
			return s.storeErr("upsert", err)
		}
		if resp.IsError() {
			return s.statusErr("upsert", resp.StatusCode(), resp.String())
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.Increment(MetricMemoryStored, "count", fmt.Sprintf("%d", len(points)))
	return nil
}

// SearchQuery narrows a vector search.
type SearchQuery struct {
	Vector         []float32
	UserID         string
	ThreadID       string
	Types          []MemoryType
	CreatedAfter   time.Time
	Limit          int
	ScoreThreshold float64
}

func (q SearchQuery) filter() *qdrantFilter {
	var must []qdrantCondition
	if q.UserID != "" {
		must = append(must, qdrantCondition{Key: "user_id", Match: &qdrantMatch{Value: q.UserID}})
	}
	if q.ThreadID != "" {
		must = append(must, qdrantCondition{Key: "thread_id", Match: &qdrantMatch{Value: q.ThreadID}})
	}
	if len(q.Types) == 1 {
		must = append(must, qdrantCondition{Key: "type", Match: &qdrantMatch{Value: string(q.Types[0])}})
	} else if len(q.Types) > 1 {
		any := make([]string, len(q.Types))
		for i, t := range q.Types {
			any[i] = string(t)
		}
		must = append(must, qdrantCondition{Key: "type", Match: &qdrantMatch{Any: any}})
	}
	if !q.CreatedAfter.IsZero() {
		gte := float64(q.CreatedAfter.Unix())
		must = append(must, qdrantCondition{Key: "created_ts", Range: &qdrantRange{GTE: &gte}})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrantFilter{Must: must}
}

// Search runs a filtered vector similarity search.
func (s *MemoryStore) Search(ctx context.Context, q SearchQuery) ([]*Memory, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultRetrievalTopK
	}
	start := time.Now()
	req := qdrantSearchRequest{
		Vector:         q.Vector,
		Limit:          q.Limit,
		ScoreThreshold: q.ScoreThreshold,
		Filter:         q.filter(),
		WithPayload:    true,
	}
	var out qdrantSearchResponse
	err := s.guard(ctx, func(ctx context.Context) error {
		resp, err := s.http.R().SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post(fmt.Sprintf("/collections/%s/points/search", s.collection))
		if err != nil {
			return s.storeErr("search", err)
		}
		if resp.IsError() {
			return s.statusErr("search", resp.StatusCode(), resp.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	memories := make([]*Memory, 0, len(out.Result))
	for _, p := range out.Result {
		memories = append(memories, memoryFromPoint(p))
	}
	s.metrics.Timing(MetricMemorySearchTime, time.Since(start))
	s.metrics.Increment(MetricMemoryRetrieved, "count", fmt.Sprintf("%d", len(memories)))
	return memories, nil
}

// scroll pages payload-only reads matching a filter.
func (s *MemoryStore) scroll(ctx context.Context, filter *qdrantFilter, limit int) ([]*Memory, error) {
	var memories []*Memory
	var offset interface{}
	for {
		req := qdrantScrollRequest{
			Filter:      filter,
			Limit:       min(limit-len(memories), 100),
			Offset:      offset,
			WithPayload: true,
		}
		var out qdrantResponse
		err := s.guard(ctx, func(ctx context.Context) error {
			resp, err := s.http.R().SetContext(ctx).
				SetBody(req).
				SetResult(&out).
				Post(fmt.Sprintf("/collections/%s/points/scroll", s.collection))
			if err != nil {
				return s.storeErr("scroll", err)
			}
			if resp.IsError() {
				return s.statusErr("scroll", resp.StatusCode(), resp.String())
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, p := range out.Result.Points {
			memories = append(memories, memoryFromPoint(p))
		}
		offset = out.Result.NextPageOffset
		if offset == nil || len(memories) >= limit {
			return memories, nil
		}
	}
}

// ListByUser returns up to limit memories for a user, unranked.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.scroll(ctx, &qdrantFilter{Must: []qdrantCondition{
		{Key: "user_id", Match: &qdrantMatch{Value: userID}},
	}}, limit)
}

// ListRecent returns a thread's memories created after the cutoff.
func (s *MemoryStore) ListRecent(ctx context.Context, userID, threadID string, since time.Time, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	gte := float64(since.Unix())
	must := []qdrantCondition{
		{Key: "user_id", Match: &qdrantMatch{Value: userID}},
		{Key: "created_ts", Range: &qdrantRange{GTE: &gte}},
	}
	if threadID != "" {
		must = append(must, qdrantCondition{Key: "thread_id", Match: &qdrantMatch{Value: threadID}})
	}
	return s.scroll(ctx, &qdrantFilter{Must: must}, limit)
}

func (s *MemoryStore) deletePoints(ctx context.Context, body map[string]interface{}) error {
	return s.guard(ctx, func(ctx context.Context) error {
		resp, err := s.http.R().SetContext(ctx).
			SetBody(body).
			SetQueryParam("wait", "true").
			Post(fmt.Sprintf("/collections/%s/points/delete", s.collection))
		if err != nil {
			return s.storeErr("delete", err)
		}
		if resp.IsError() {
			return s.statusErr("delete", resp.StatusCode(), resp.String())
		}
		return nil
	})
}

// DeleteByID removes specific memories.
func (s *MemoryStore) DeleteByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.deletePoints(ctx, map[string]interface{}{"points": ids})
}

// DeleteByUser removes all of a user's memories.
func (s *MemoryStore) DeleteByUser(ctx context.Context, userID string) error {
	return s.deletePoints(ctx, map[string]interface{}{
		"filter": qdrantFilter{Must: []qdrantCondition{
			{Key: "user_id", Match: &qdrantMatch{Value: userID}},
		}},
	})
}

// DeleteByThread removes memories tied to one thread.
func (s *MemoryStore) DeleteByThread(ctx context.Context, threadID string) error {
	return s.deletePoints(ctx, map[string]interface{}{
		"filter": qdrantFilter{Must: []qdrantCondition{
			{Key: "thread_id", Match: &qdrantMatch{Value: threadID}},
		}},
	})
}

// Count reports how many memories a user has stored.
func (s *MemoryStore) Count(ctx context.Context, userID string) (int64, error) {
	var out qdrantResponse
	err := s.guard(ctx, func(ctx context.Context) error {
		resp, err := s.http.R().SetContext(ctx).
			SetBody(map[string]interface{}{
				"filter": qdrantFilter{Must: []qdrantCondition{
					{Key: "user_id", Match: &qdrantMatch{Value: userID}},
				}},
				"exact": true,
			}).
			SetResult(&out).
			Post(fmt.Sprintf("/collections/%s/points/count", s.collection))
		if err != nil {
			return s.storeErr("count", err)
		}
		if resp.IsError() {
			return s.statusErr("count", resp.StatusCode(), resp.String())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}
