package agentcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// TurnRequest is one user message aimed at a thread. Language, when
// set, overrides script-based detection.
type TurnRequest struct {
	UserID   string
	ThreadID string
	ClientIP string
	Message  string
	Language string
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Response   string    `json:"response"`
	ThreadID   string    `json:"thread_id"`
	TurnNumber int       `json:"turn_number"`
	Stage      Stage     `json:"stage"`
	LatencyMS  float64   `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"-"`
}

// Agent runs the conversation turn pipeline: validation, rate
// limiting, per-thread locking, context management, memory retrieval,
// the model call, and write-back of new memories.
type Agent struct {
	config    *Config
	validator *InputValidator
	limiter   *RateLimiter
	lock      *ConversationLock
	threads   *ThreadStore
	contexts  *ContextManager
	retriever *Retriever
	memories  *MemoryStore
	chain     *EmbeddingChain
	llm       *LLMClient
	emitter   *Emitter
	logger    Logger
	metrics   Metrics
}

// AgentDeps collects the agent's collaborators. Retriever, memories
// and chain may be nil to run without long-term memory.
type AgentDeps struct {
	Config    *Config
	Validator *InputValidator
	Limiter   *RateLimiter
	Lock      *ConversationLock
	Threads   *ThreadStore
	Contexts  *ContextManager
	Retriever *Retriever
	Memories  *MemoryStore
	Chain     *EmbeddingChain
	LLM       *LLMClient
	Emitter   *Emitter
	Logger    Logger
	Metrics   Metrics
}

// NewAgent wires the pipeline.
func NewAgent(deps AgentDeps) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Agent{
		config:    deps.Config,
		validator: deps.Validator,
		limiter:   deps.Limiter,
		lock:      deps.Lock,
		threads:   deps.Threads,
		contexts:  deps.Contexts,
		retriever: deps.Retriever,
		memories:  deps.Memories,
		chain:     deps.Chain,
		llm:       deps.LLM,
		emitter:   deps.Emitter,
		logger:    logger,
		metrics:   metrics,
	}
}

// Turn runs one full conversation turn and returns the assistant's
// response.
func (a *Agent) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	return a.runTurn(ctx, req, nil)
}

// StreamTurn runs a turn, forwarding response chunks to fn as the
// model produces them. The returned result carries the full response.
func (a *Agent) StreamTurn(ctx context.Context, req TurnRequest, fn StreamFunc) (*TurnResult, error) {
	return a.runTurn(ctx, req, fn)
}

func (a *Agent) runTurn(ctx context.Context, req TurnRequest, stream StreamFunc) (*TurnResult, error) {
	start := time.Now()
	a.emitter.RequestStarted(ctx, req.ThreadID, req.UserID)

	input, _, err := a.validator.Validate(req.Message)
	if err != nil {
		if errors.Is(err, ErrPromptInjection) {
			a.emitter.PromptInjectionDetected(ctx, req.ThreadID, req.UserID)
		}
		a.metrics.Increment(MetricTurnError, "code", ErrorCode(err))
		return nil, err
	}

	identifier := IdentifierFor(req.UserID, req.ClientIP)
	if _, err := a.limiter.Check(ctx, identifier, true); err != nil {
		if retryAfter, ok := RetryAfter(err); ok {
			a.emitter.RateLimited(ctx, req.UserID, retryAfter)
		}
		a.metrics.Increment(MetricTurnError, "code", ErrorCode(err))
		return nil, err
	}

	thread, _, err := a.threads.GetOrCreate(ctx, req.ThreadID, req.UserID)
	if err != nil {
		a.metrics.Increment(MetricTurnError, "code", ErrorCode(err))
		return nil, err
	}

	var result *TurnResult
	err = a.lock.WithThread(ctx, thread.ThreadID, func(ctx context.Context) error {
		// Re-read under the lock; another turn may have saved since.
		locked, err := a.threads.Get(ctx, thread.ThreadID)
		if err != nil {
			return err
		}
		result, err = a.executeTurn(ctx, locked, input, req, stream)
		return err
	})
	if err != nil {
		a.emitter.ErrorOccurred(ctx, thread.ThreadID, req.UserID, err)
		a.metrics.Increment(MetricTurnError, "code", ErrorCode(err))
		return nil, err
	}

	latency := time.Since(start)
	result.LatencyMS = float64(latency.Milliseconds())
	result.Timestamp = time.Now().UTC()
	a.emitter.RequestCompleted(ctx, thread.ThreadID, req.UserID, latency, result.TokenCount)
	a.metrics.Increment(MetricTurnSuccess)
	a.metrics.Timing(MetricTurnDuration, latency)
	return result, nil
}

// executeTurn is the critical section: the thread lock is held.
func (a *Agent) executeTurn(ctx context.Context, thread *ThreadState, input string, req TurnRequest, stream StreamFunc) (*TurnResult, error) {
	language := req.Language
	if language == "" {
		language = DetectLanguage(input)
	}
	intent := ClassifyIntent(input)
	entities := ExtractEntities(input)

	prevStage := thread.Stage
	thread.Append(UserMessage(input))
	thread.RecordTurn(TurnMetadata{
		UserIntent: intent,
		Entities:   EntityValues(entities),
	})
	stage := thread.AdvanceStage(intent)
	if stage != prevStage {
		a.emitter.EmitTyped(ctx, EventStageAdvanced, thread.ThreadID, thread.UserID, map[string]interface{}{
			"from": string(prevStage),
			"to":   string(stage),
		})
	}
	a.emitter.EmitTyped(ctx, EventLanguageDetected, thread.ThreadID, thread.UserID, map[string]interface{}{
		"language": language,
	})
	if len(entities) > 0 {
		a.emitter.EmitTyped(ctx, EventEntityExtracted, thread.ThreadID, thread.UserID, map[string]interface{}{
			"count": len(entities),
		})
	}

	memories := a.retrieveMemories(ctx, thread.UserID, thread.ThreadID, input)

	systemPrompt := BuildSystemPrompt(PromptInput{
		Stage:       stage,
		Language:    language,
		Preferences: thread.Preferences,
		Memories:    memories,
	})

	messages := append([]Message{SystemMessage(systemPrompt)}, thread.Messages...)
	managed := a.contexts.Manage(ctx, messages, thread.Summary)
	if managed.Trimmed {
		a.emitter.EmitTyped(ctx, EventContextTrimmed, thread.ThreadID, thread.UserID, map[string]interface{}{
			"tokens_before": managed.TokensBefore,
			"tokens_after":  managed.TokensAfter,
		})
		if managed.Summary != nil {
			thread.Summary = managed.Summary.Summary
			kind := EventSummarizationCompleted
			if managed.Summary.Strategy != "llm" {
				kind = EventSummarizationFallback
			}
			a.emitter.EmitTyped(ctx, kind, thread.ThreadID, thread.UserID, map[string]interface{}{
				"strategy": managed.Summary.Strategy,
				"messages": managed.Summary.Messages,
			})
		}
	}
	thread.TokenCount = managed.TokensAfter
	a.metrics.Gauge(MetricTurnTokens, float64(managed.TokensAfter))

	var response string
	var err error
	if stream != nil {
		response, err = a.llm.Stream(ctx, managed.Messages, stream)
	} else {
		response, err = a.llm.Invoke(ctx, managed.Messages)
	}
	if err != nil {
		return nil, err
	}

	thread.Append(AssistantMessage(response))
	if err := a.threads.Save(ctx, thread); err != nil {
		return nil, err
	}

	a.storeMemories(ctx, thread, input, response, entities)

	return &TurnResult{
		Response:   response,
		ThreadID:   thread.ThreadID,
		TurnNumber: thread.TurnCount,
		Stage:      stage,
		TokenCount: managed.TokensAfter,
	}, nil
}

// retrieveMemories is best effort: a memory outage degrades the answer
// quality, it does not fail the turn.
func (a *Agent) retrieveMemories(ctx context.Context, userID, threadID, query string) []*Memory {
	if a.retriever == nil {
		return nil
	}
	memories, err := a.retriever.Retrieve(ctx, userID, threadID, query)
	if err != nil {
		a.logger.Warn("memory retrieval failed", "user_id", userID, "error", err)
		return nil
	}
	if len(memories) > 0 {
		a.emitter.EmitTyped(ctx, EventMemoryRetrieved, threadID, userID, map[string]interface{}{
			"count": len(memories),
		})
	}
	return memories
}

// storeMemories writes the turn exchange and any extracted entities as
// long-term memories in one batched embedding call. Failures are
// logged, not surfaced.
func (a *Agent) storeMemories(ctx context.Context, thread *ThreadState, input, response string, entities []Entity) {
	if a.memories == nil || a.chain == nil {
		return
	}

	exchange := fmt.Sprintf("User asked: %s\nAssistant responded: %s", input, truncateForMemory(response))
	records := []*Memory{
		NewMemory(thread.UserID, thread.ThreadID, MemoryConversation, exchange),
	}
	for _, ent := range entities {
		m := NewMemory(thread.UserID, thread.ThreadID, MemoryEntity,
			fmt.Sprintf("%s:%s", ent.Type, ent.Value))
		m.Metadata = map[string]string{"entity_type": ent.Type, "entity_value": ent.Value}
		records = append(records, m)
	}

	texts := make([]string, len(records))
	for i, m := range records {
		texts[i] = m.Content
	}
	vectors, err := a.chain.Embed(ctx, texts)
	if err != nil {
		a.logger.Warn("memory embedding failed", "thread_id", thread.ThreadID, "error", err)
		return
	}
	if err := a.memories.Upsert(ctx, records, vectors); err != nil {
		a.logger.Warn("memory write failed", "thread_id", thread.ThreadID, "error", err)
		return
	}
	a.emitter.EmitTyped(ctx, EventMemoryStored, thread.ThreadID, thread.UserID, map[string]interface{}{
		"count": len(records),
	})
}

// truncateForMemory caps stored responses at 500 bytes, backing off to
// the previous rune boundary so multibyte text is never split.
func truncateForMemory(text string) string {
	const limit = 500
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut]) + "..."
}
