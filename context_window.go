package agentcore

import "fmt"

// TrimResult reports what trimming did to a message list. OverHard is
// set when the list still exceeds the hard limit after trimming, which
// happens when the protected tail alone is too large.
type TrimResult struct {
	Messages     []Message
	Removed      []Message
	TokensBefore int
	TokensAfter  int
	Trimmed      bool
	OverHard     bool
}

// ContextWindow keeps a thread's message list inside the model's token
// budget. System messages and the most recent keepRecent conversation
// messages are never dropped; older messages are kept newest-first
// while the soft limit allows, then removed oldest-first.
type ContextWindow struct {
	counter    *TokenCounter
	softLimit  int
	hardLimit  int
	keepRecent int
	logger     Logger
	metrics    Metrics
}

// NewContextWindow creates a window manager. Non-positive limits fall
// back to the defaults.
func NewContextWindow(counter *TokenCounter, softLimit, hardLimit, keepRecent int, logger Logger, metrics Metrics) *ContextWindow {
	if softLimit <= 0 {
		softLimit = DefaultSoftLimitTokens
	}
	if hardLimit <= 0 {
		hardLimit = DefaultHardLimitTokens
	}
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &ContextWindow{
		counter:    counter,
		softLimit:  softLimit,
		hardLimit:  hardLimit,
		keepRecent: keepRecent,
		logger:     logger,
		metrics:    metrics,
	}
}

// NeedsTrim reports whether the messages exceed the soft limit.
func (w *ContextWindow) NeedsTrim(messages []Message) bool {
	return w.counter.CountMessages(messages) > w.softLimit
}

// Trim drops the oldest middle messages until the list fits the soft
// limit. The returned Removed slice preserves original (oldest-first)
// order so it can feed summarization directly.
func (w *ContextWindow) Trim(messages []Message) *TrimResult {
	before := w.counter.CountMessages(messages)
	result := &TrimResult{
		Messages:     messages,
		TokensBefore: before,
		TokensAfter:  before,
	}
	if before <= w.softLimit {
		return result
	}

	system, conversation := SplitSystem(messages)
	if len(conversation) <= w.keepRecent {
		// Nothing trimmable: the protected tail alone exceeds the limit.
		result.OverHard = before > w.hardLimit
		if result.OverHard {
			w.logger.Warn("protected tail exceeds hard limit",
				"tokens", before, "hard_limit", w.hardLimit)
		}
		return result
	}

	tail := conversation[len(conversation)-w.keepRecent:]
	middle := conversation[:len(conversation)-w.keepRecent]

	budget := w.softLimit - w.counter.CountMessages(system) - w.counter.CountMessages(tail)

	// Walk the middle newest-first, keeping what still fits.
	kept := make([]Message, 0, len(middle))
	cut := len(middle)
	for i := len(middle) - 1; i >= 0; i-- {
		cost := w.counter.CountMessage(middle[i])
		if cost > budget {
			break
		}
		budget -= cost
		cut = i
	}
	kept = append(kept, middle[cut:]...)
	removed := middle[:cut]

	if len(removed) == 0 {
		return result
	}

	trimmed := make([]Message, 0, len(system)+len(kept)+len(tail))
	trimmed = append(trimmed, system...)
	trimmed = append(trimmed, kept...)
	trimmed = append(trimmed, tail...)

	result.Messages = trimmed
	result.Removed = removed
	result.TokensAfter = w.counter.CountMessages(trimmed)
	result.Trimmed = true

	w.metrics.Increment(MetricContextTrimmed)
	w.metrics.Gauge(MetricContextTokens, float64(result.TokensAfter))
	w.logger.Info("context trimmed",
		"removed_messages", len(removed),
		"tokens_before", before,
		"tokens_after", result.TokensAfter)
	return result
}

// InjectSummary places a summary pseudo-message directly after the
// system messages so the model sees it before the live conversation.
func InjectSummary(messages []Message, summary string) []Message {
	if summary == "" {
		return messages
	}
	system, conversation := SplitSystem(messages)
	summaryMsg := SystemMessage(fmt.Sprintf("[Previous conversation summary]\n%s\n[End of summary]", summary))
	out := make([]Message, 0, len(messages)+1)
	out = append(out, system...)
	out = append(out, summaryMsg)
	out = append(out, conversation...)
	return out
}
