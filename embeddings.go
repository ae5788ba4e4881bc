package agentcore

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const embeddingCacheSize = 2000

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// OpenAIEmbeddings is an EmbeddingProvider backed by an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbeddings struct {
	embedder  embeddings.Embedder
	dimension int
	name      string
}

// NewOpenAIEmbeddings builds a provider from config.
func NewOpenAIEmbeddings(cfg *Config) (*OpenAIEmbeddings, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.EmbeddingAPIKey),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.EmbeddingBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.EmbeddingBaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, WithContext(ErrEmbeddingFailure, map[string]interface{}{
			"stage": "init",
			"cause": err.Error(),
		})
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, WithContext(ErrEmbeddingFailure, map[string]interface{}{
			"stage": "init",
			"cause": err.Error(),
		})
	}
	return &OpenAIEmbeddings{
		embedder:  embedder,
		dimension: cfg.EmbeddingDimension,
		name:      "openai:" + cfg.EmbeddingModel,
	}, nil
}

func (p *OpenAIEmbeddings) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, WithContext(ErrEmbeddingFailure, map[string]interface{}{
			"provider": p.name,
			"cause":    err.Error(),
		})
	}
	return vectors, nil
}

func (p *OpenAIEmbeddings) Dimension() int { return p.dimension }
func (p *OpenAIEmbeddings) Name() string   { return p.name }

// EmbeddingChain tries providers in order until one succeeds. The last
// provider that worked is tried first on the next call, so a healthy
// fallback is not penalized by a dead primary on every request.
//
// The chain also memoizes vectors per text in an LRU cache and rejects
// vectors whose dimension disagrees with the first provider's declared
// dimension, which is frozen at construction.
type EmbeddingChain struct {
	mu        sync.Mutex
	providers []EmbeddingProvider
	lastGood  int
	dimension int
	cache     *lru.Cache[string, []float32]
	breaker   *CircuitBreaker
	logger    Logger
	metrics   Metrics
}

// NewEmbeddingChain creates a chain. At least one provider is required.
func NewEmbeddingChain(providers []EmbeddingProvider, logger Logger, metrics Metrics) (*EmbeddingChain, error) {
	if len(providers) == 0 {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"reason": "no embedding providers",
		})
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	cache, err := lru.New[string, []float32](embeddingCacheSize)
	if err != nil {
		return nil, err
	}
	return &EmbeddingChain{
		providers: providers,
		dimension: providers[0].Dimension(),
		cache:     cache,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// WithBreaker guards provider calls with a circuit breaker. Cache hits
// are served even while the breaker is open.
func (c *EmbeddingChain) WithBreaker(breaker *CircuitBreaker) *EmbeddingChain {
	c.breaker = breaker
	return c
}

// Dimension is the frozen vector dimension all providers must produce.
func (c *EmbeddingChain) Dimension() int { return c.dimension }

// Embed vectorizes texts. Cached texts are served without a provider
// call; the rest go to the providers as one batch.
func (c *EmbeddingChain) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var vectors [][]float32
	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, func(ctx context.Context) error {
			vectors, err = c.embedUncached(ctx, missing)
			return err
		})
	} else {
		vectors, err = c.embedUncached(ctx, missing)
	}
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		c.cache.Add(missing[j], vec)
	}
	return out, nil
}

// EmbedOne vectorizes a single text.
func (c *EmbeddingChain) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *EmbeddingChain) embedUncached(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	start := c.lastGood
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < len(c.providers); attempt++ {
		idx := (start + attempt) % len(c.providers)
		provider := c.providers[idx]
		c.metrics.Increment(MetricEmbeddingCalls, "provider", provider.Name())

		vectors, err := provider.Embed(ctx, texts)
		if err != nil {
			lastErr = err
			c.metrics.Increment(MetricEmbeddingFallbacks, "provider", provider.Name())
			c.logger.Warn("embedding provider failed",
				"provider", provider.Name(),
				"error", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err := c.checkDimension(provider, vectors); err != nil {
			lastErr = err
			continue
		}
		c.mu.Lock()
		c.lastGood = idx
		c.mu.Unlock()
		return vectors, nil
	}
	return nil, WithContext(ErrEmbeddingFailure, map[string]interface{}{
		"providers": len(c.providers),
		"cause":     lastErr.Error(),
	})
}

func (c *EmbeddingChain) checkDimension(provider EmbeddingProvider, vectors [][]float32) error {
	for _, vec := range vectors {
		if len(vec) != c.dimension {
			c.logger.Error("embedding dimension mismatch",
				"provider", provider.Name(),
				"want", c.dimension,
				"got", len(vec))
			return WithContext(ErrEmbeddingFailure, map[string]interface{}{
				"provider": provider.Name(),
				"reason":   "dimension mismatch",
				"want":     c.dimension,
				"got":      len(vec),
			})
		}
	}
	return nil
}
