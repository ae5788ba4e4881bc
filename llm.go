package agentcore

import (
	"context"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// StreamFunc receives response chunks as the model produces them.
type StreamFunc func(ctx context.Context, chunk []byte) error

// LLMClient wraps an OpenAI-compatible chat model with retries and
// breaker protection. All turn-pipeline model calls go through here.
type LLMClient struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int
	maxRetries  uint64
	backoffBase time.Duration
	backoffCap  time.Duration
	breaker     *CircuitBreaker
	logger      Logger
	metrics     Metrics
}

// NewLLMClient builds a client from config. The breaker may be nil
// when the caller handles protection itself.
func NewLLMClient(cfg *Config, breaker *CircuitBreaker, logger Logger, metrics Metrics) (*LLMClient, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.LLMModelName),
		openai.WithToken(cfg.LLMAPIKey),
	}
	if cfg.LLMBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.LLMBaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, WithContext(ErrLLMFailure, map[string]interface{}{
			"stage": "init",
			"cause": err.Error(),
		})
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &LLMClient{
		model:       model,
		modelName:   cfg.LLMModelName,
		temperature: cfg.LLMTemperature,
		maxTokens:   cfg.LLMMaxTokens,
		maxRetries:  DefaultLLMMaxRetries,
		backoffBase: DefaultLLMBackoffBase,
		backoffCap:  DefaultLLMBackoffCap,
		breaker:     breaker,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// WithTemperature returns a shallow copy using a different temperature.
// Summarization uses a low temperature copy of the turn client.
func (c *LLMClient) WithTemperature(t float64) *LLMClient {
	clone := *c
	clone.temperature = t
	return &clone
}

func toLLMContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role schema.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = schema.ChatMessageTypeSystem
		case RoleAssistant:
			role = schema.ChatMessageTypeAI
		case RoleTool:
			// schema.ChatMessageTypeTool does not exist in langchaingo
			// v0.1.7; "tool" matches the constant's value in later versions.
			role = schema.ChatMessageType("tool")
		default:
			role = schema.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

// Invoke sends messages to the model and returns the full response
// text, retrying transient failures with capped exponential backoff.
func (c *LLMClient) Invoke(ctx context.Context, messages []Message) (string, error) {
	return c.generate(ctx, messages, nil)
}

// Stream sends messages and forwards chunks to fn as they arrive,
// returning the assembled response. Retries only apply before the
// first chunk is delivered.
func (c *LLMClient) Stream(ctx context.Context, messages []Message, fn StreamFunc) (string, error) {
	return c.generate(ctx, messages, fn)
}

func (c *LLMClient) generate(ctx context.Context, messages []Message, stream StreamFunc) (string, error) {
	content := toLLMContent(messages)
	backoff := retry.WithCappedDuration(c.backoffCap, retry.NewExponential(c.backoffBase))
	backoff = retry.WithMaxRetries(c.maxRetries, backoff)

	var response string
	call := func(ctx context.Context) error {
		start := time.Now()
		c.metrics.Increment(MetricLLMCalls, "model", c.modelName)

		opts := []llms.CallOption{
			llms.WithTemperature(c.temperature),
			llms.WithMaxTokens(c.maxTokens),
		}
		streamed := false
		if stream != nil {
			opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				streamed = true
				return stream(ctx, chunk)
			}))
		}

		resp, err := c.model.GenerateContent(ctx, content, opts...)
		c.metrics.Timing(MetricLLMDuration, time.Since(start), "model", c.modelName)
		if err != nil {
			c.metrics.Increment(MetricLLMErrors, "model", c.modelName)
			if streamed || ctx.Err() != nil {
				// Mid-stream failures and cancellations are not retried.
				return err
			}
			c.logger.Warn("llm call failed, retrying", "model", c.modelName, "error", err)
			return retry.RetryableError(err)
		}
		if len(resp.Choices) == 0 {
			return retry.RetryableError(WithContext(ErrLLMFailure, map[string]interface{}{
				"reason": "empty response",
			}))
		}
		response = strings.TrimSpace(resp.Choices[0].Content)
		return nil
	}

	run := func(ctx context.Context) error {
		return retry.Do(ctx, backoff, call)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		if IsBusyError(err) || ctx.Err() != nil {
			return "", err
		}
		return "", WithContext(ErrLLMFailure, map[string]interface{}{
			"model": c.modelName,
			"cause": err.Error(),
		})
	}
	return response, nil
}
