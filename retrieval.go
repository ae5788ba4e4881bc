package agentcore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	preferenceScoreThreshold = 0.5
	preferenceSearchLimit    = 3
	preferenceBoost          = 1.2
	recencyWindow            = 24 * time.Hour
	recencyDefaultRelevance  = 0.5
	recencyHalfLifeWindows   = 7
	relevanceWeight          = 0.8
	recencyWeight            = 0.2
)

// Retriever ranks long-term memories for a query. Candidates come from
// three sources: a semantic search over everything, a looser search
// restricted to preferences, and a recency scan of the last day. The
// union is scored by a weighted blend of relevance and freshness.
type Retriever struct {
	chain     *EmbeddingChain
	store     *MemoryStore
	topK      int
	threshold float64
	logger    Logger
	metrics   Metrics

	now func() time.Time
}

// NewRetriever creates a retriever. Non-positive topK and threshold
// fall back to the defaults.
func NewRetriever(chain *EmbeddingChain, store *MemoryStore, topK int, threshold float64, logger Logger, metrics Metrics) *Retriever {
	if topK <= 0 {
		topK = DefaultRetrievalTopK
	}
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Retriever{
		chain:     chain,
		store:     store,
		topK:      topK,
		threshold: threshold,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Retrieve returns the topK memories for the query, best first, with
// Score set to the combined ranking score. The recency union is scoped
// to threadID and skipped when no thread is supplied.
func (r *Retriever) Retrieve(ctx context.Context, userID, threadID, query string) ([]*Memory, error) {
	vector, err := r.chain.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()

	// Oversample the semantic search so reranking has room to reorder.
	semantic, err := r.store.Search(ctx, SearchQuery{
		Vector:         vector,
		UserID:         userID,
		Limit:          2 * r.topK,
		ScoreThreshold: r.threshold,
	})
	if err != nil {
		return nil, err
	}

	preferences, err := r.store.Search(ctx, SearchQuery{
		Vector:         vector,
		UserID:         userID,
		Types:          []MemoryType{MemoryPreference},
		Limit:          preferenceSearchLimit,
		ScoreThreshold: preferenceScoreThreshold,
	})
	if err != nil {
		r.logger.Warn("preference search failed", "user_id", userID, "error", err)
		preferences = nil
	}

	var recent []*Memory
	if threadID != "" {
		recent, err = r.store.ListRecent(ctx, userID, threadID, now.Add(-recencyWindow), 2*r.topK)
		if err != nil {
			r.logger.Warn("recency scan failed",
				"user_id", userID, "thread_id", threadID, "error", err)
			recent = nil
		}
	}

	candidates := make(map[string]*Memory)
	for _, m := range semantic {
		candidates[m.ID] = m
	}
	for _, m := range preferences {
		if existing, ok := candidates[m.ID]; ok {
			if m.Score > existing.Score {
				existing.Score = m.Score
			}
			continue
		}
		candidates[m.ID] = m
	}
	for _, m := range recent {
		if _, ok := candidates[m.ID]; ok {
			continue
		}
		// Unscored by any search; freshness alone earned its slot.
		m.Score = recencyDefaultRelevance
		candidates[m.ID] = m
	}

	ranked := make([]*Memory, 0, len(candidates))
	for _, m := range candidates {
		m.Score = combinedScore(m, now)
		ranked = append(ranked, m)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}
	return ranked, nil
}

// combinedScore blends search relevance with freshness. Recency decays
// linearly to zero over seven recency windows; preference memories get
// a fixed boost so durable facts outrank chit-chat.
func combinedScore(m *Memory, now time.Time) float64 {
	recency := 1 - m.AgeHours(now)/(recencyHalfLifeWindows*recencyWindow.Hours())
	if recency < 0 {
		recency = 0
	}
	score := relevanceWeight*m.Score + recencyWeight*recency
	if m.Type == MemoryPreference {
		score *= preferenceBoost
	}
	return score
}

// TimeHint renders a memory age in conversational terms.
func TimeHint(created, now time.Time) string {
	age := now.Sub(created)
	switch {
	case age < time.Hour:
		return "just now"
	case age < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(age.Hours()))
	case age < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(age.Hours()/24))
	default:
		return created.Format("2006-01-02")
	}
}

// memoryTypeLabel renders a memory type for the prompt.
func memoryTypeLabel(t MemoryType) string {
	switch t {
	case MemoryPreference:
		return "User preference"
	case MemoryPlace:
		return "Place"
	case MemoryItinerary:
		return "Itinerary"
	case MemoryFeedback:
		return "Feedback"
	case MemoryEntity:
		return "Entity"
	default:
		return "Conversation"
	}
}

// FormatMemories renders ranked memories as prompt lines, each with a
// type label and a time hint.
func FormatMemories(memories []*Memory, now time.Time) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%s, %s] %s\n", memoryTypeLabel(m.Type), TimeHint(m.CreatedAt, now), m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
