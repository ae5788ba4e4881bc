package agentcore

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// defaultEncoding is used when no model-specific encoding resolves.
	defaultEncoding = "cl100k_base"

	// messageOverheadTokens accounts for role framing around each message.
	messageOverheadTokens = 4

	// tokenCacheSize bounds the memoization cache.
	tokenCacheSize = 1000
)

// BudgetReport describes how a message list sits against the token limits.
type BudgetReport struct {
	Tokens      int
	SoftLimit   int
	HardLimit   int
	WithinSoft  bool
	WithinHard  bool
	Utilization float64 // fraction of the hard limit in use
}

// TokenCounter computes token counts for strings and message lists.
// Counting is pure and thread-safe; repeated counts are memoized in a
// bounded LRU. When no tokenizer encoding can be initialized the counter
// degrades to a bytes/4 estimate.
type TokenCounter struct {
	mu    sync.RWMutex
	tke   *tiktoken.Tiktoken
	cache *lru.Cache[string, int]
}

// NewTokenCounter creates a counter for the given model or encoding name.
// An empty name selects cl100k_base. Unknown names fall back first to the
// default encoding and finally to estimation.
func NewTokenCounter(modelOrEncoding string) *TokenCounter {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}

	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			tke, _ = tiktoken.GetEncoding(defaultEncoding)
		}
	}

	cache, _ := lru.New[string, int](tokenCacheSize)
	return &TokenCounter{tke: tke, cache: cache}
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	if n, ok := tc.cache.Get(text); ok {
		return n
	}

	n := tc.countUncached(text)
	tc.cache.Add(text, n)
	return n
}

func (tc *TokenCounter) countUncached(text string) int {
	tc.mu.RLock()
	tke := tc.tke
	tc.mu.RUnlock()

	if tke == nil {
		// Order-of-magnitude estimate; callers must not depend on exactness.
		return len(text) / 4
	}
	return len(tke.Encode(text, nil, nil))
}

// CountMessage returns the token count of a single message, including
// the fixed per-message overhead for role framing.
func (tc *TokenCounter) CountMessage(m Message) int {
	return tc.Count(m.Content) + messageOverheadTokens
}

// CountMessages returns the total token count of a message list, including
// a fixed per-message overhead for role framing.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for i := range messages {
		total += tc.Count(messages[i].Content) + messageOverheadTokens
	}
	return total
}

// Budget reports how messages sit against the soft and hard token limits.
func (tc *TokenCounter) Budget(messages []Message, soft, hard int) BudgetReport {
	tokens := tc.CountMessages(messages)
	report := BudgetReport{
		Tokens:     tokens,
		SoftLimit:  soft,
		HardLimit:  hard,
		WithinSoft: tokens <= soft,
		WithinHard: tokens <= hard,
	}
	if hard > 0 {
		report.Utilization = float64(tokens) / float64(hard)
	}
	return report
}
