package agentcore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	summarizeTranscriptMaxChars = 12000
	summarizeMinResultChars     = 50
	extractiveMaxLines          = 10
	extractiveMaxLineChars      = 200
)

const summarizePrompt = `Summarize the following conversation between a user and a travel assistant.
Keep concrete facts: places mentioned, user preferences, decisions made, and open questions.
Write a compact prose summary, no more than 200 words.

Conversation:
%s`

// extractiveKeywords flag messages worth keeping when no model is
// available to write a real summary.
var extractiveKeywords = []string{
	"want", "need", "prefer", "like", "visit", "go", "travel",
	"hotel", "restaurant", "food", "museum", "palace", "temple",
	"subway", "bus", "taxi", "walk",
	"morning", "afternoon", "evening", "night",
	"budget", "cheap", "expensive", "luxury",
	"day", "days", "week", "hour", "hours",
	"seoul", "busan", "jeju", "incheon", "gyeongju",
}

// Invoker is the minimal LLM surface the summarizer needs.
type Invoker interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// SummaryResult records which strategy produced the summary.
type SummaryResult struct {
	Summary  string `json:"summary"`
	Strategy string `json:"strategy"`
	Messages int    `json:"messages_summarized"`
}

// Summarizer compresses trimmed-away messages into a summary. It tries
// strategies in order of quality and always produces something:
//
//  1. full LLM summary of the transcript
//  2. LLM summary of the most recent half, marked as partial
//  3. extractive key points by keyword scoring
//  4. plain truncation with an omission marker
type Summarizer struct {
	llm     Invoker
	timeout time.Duration
	logger  Logger
	metrics Metrics
}

// NewSummarizer creates a summarizer. A nil llm skips straight to the
// extractive strategy.
func NewSummarizer(llm Invoker, timeout time.Duration, logger Logger, metrics Metrics) *Summarizer {
	if timeout <= 0 {
		timeout = DefaultSummarizeTimeout
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Summarizer{llm: llm, timeout: timeout, logger: logger, metrics: metrics}
}

// Summarize condenses messages, never returning an error: every
// strategy failure falls through to a cruder one, and the last cannot
// fail.
func (s *Summarizer) Summarize(ctx context.Context, messages []Message) *SummaryResult {
	if len(messages) == 0 {
		return &SummaryResult{Strategy: "none"}
	}
	start := time.Now()
	defer func() {
		s.metrics.Timing(MetricSummarizeDuration, time.Since(start))
	}()

	if s.llm != nil {
		if summary, err := s.llmSummary(ctx, messages); err == nil {
			s.metrics.Increment(MetricSummarizeSuccess, "strategy", "llm")
			return &SummaryResult{Summary: summary, Strategy: "llm", Messages: len(messages)}
		} else {
			s.logger.Warn("llm summarization failed", "error", err, "messages", len(messages))
		}

		// Second attempt on the recent half; a shorter transcript can
		// succeed where the full one timed out or overflowed.
		half := messages[len(messages)/2:]
		if len(half) > 0 && len(half) < len(messages) {
			if summary, err := s.llmSummary(ctx, half); err == nil {
				s.metrics.Increment(MetricSummarizeFallback, "strategy", "llm_partial")
				return &SummaryResult{
					Summary:  "[Partial summary - earlier context omitted]\n" + summary,
					Strategy: "llm_partial",
					Messages: len(half),
				}
			}
		}
	}

	if summary := extractiveSummary(messages); summary != "" {
		s.metrics.Increment(MetricSummarizeFallback, "strategy", "extractive")
		return &SummaryResult{Summary: summary, Strategy: "extractive", Messages: len(messages)}
	}

	s.metrics.Increment(MetricSummarizeFallback, "strategy", "truncation")
	return &SummaryResult{
		Summary:  truncationSummary(messages),
		Strategy: "truncation",
		Messages: len(messages),
	}
}

func (s *Summarizer) llmSummary(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	transcript := formatTranscript(messages)
	if len(transcript) > summarizeTranscriptMaxChars {
		transcript = transcript[len(transcript)-summarizeTranscriptMaxChars:]
	}

	out, err := s.llm.Invoke(ctx, []Message{
		UserMessage(fmt.Sprintf(summarizePrompt, transcript)),
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if len(out) < summarizeMinResultChars {
		return "", WithContext(ErrLLMFailure, map[string]interface{}{
			"reason": "summary too short",
			"length": len(out),
		})
	}
	return out, nil
}

func formatTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// extractiveSummary keeps whole messages: every user turn, plus any
// turn matching at least two travel keywords. Only the most recent
// lines survive the cap, so the summary tracks where the conversation
// currently is.
func extractiveSummary(messages []Message) string {
	var lines []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		lower := strings.ToLower(m.Content)
		hits := 0
		for _, kw := range extractiveKeywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits < 2 && m.Role != RoleUser {
			continue
		}
		content := m.Content
		if len(content) > extractiveMaxLineChars {
			content = content[:extractiveMaxLineChars] + "..."
		}
		role := "User"
		if m.Role == RoleAssistant {
			role = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", role, content))
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > extractiveMaxLines {
		lines = lines[len(lines)-extractiveMaxLines:]
	}
	return "Key points from previous conversation:\n" + strings.Join(lines, "\n")
}

// truncationSummary is the last resort: first and last two messages
// verbatim with an omission marker between them.
func truncationSummary(messages []Message) string {
	format := func(msgs []Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			content := m.Content
			if len(content) > extractiveMaxLineChars {
				content = content[:extractiveMaxLineChars]
			}
			out = append(out, fmt.Sprintf("%s: %s", m.Role, content))
		}
		return out
	}
	if len(messages) <= 4 {
		return strings.Join(format(messages), "\n")
	}
	parts := format(messages[:2])
	parts = append(parts, fmt.Sprintf("[... %d messages omitted ...]", len(messages)-4))
	parts = append(parts, format(messages[len(messages)-2:])...)
	return strings.Join(parts, "\n")
}

// ContextResult is the outcome of a full context management pass.
type ContextResult struct {
	Messages     []Message      `json:"-"`
	Trimmed      bool           `json:"trimmed"`
	OverHard     bool           `json:"over_hard,omitempty"`
	TokensBefore int            `json:"tokens_before"`
	TokensAfter  int            `json:"tokens_after"`
	Summary      *SummaryResult `json:"summary,omitempty"`
}

// ContextManager ties trimming and summarization together for the turn
// pipeline.
type ContextManager struct {
	window     *ContextWindow
	summarizer *Summarizer
	logger     Logger
}

// NewContextManager wires a window and summarizer.
func NewContextManager(window *ContextWindow, summarizer *Summarizer, logger Logger) *ContextManager {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ContextManager{window: window, summarizer: summarizer, logger: logger}
}

// Manage trims messages to the budget and, when anything was dropped,
// summarizes the removed portion and injects the summary after the
// system messages. An existing summary is folded in so context from
// earlier trims is not lost.
func (m *ContextManager) Manage(ctx context.Context, messages []Message, priorSummary string) *ContextResult {
	trim := m.window.Trim(messages)
	result := &ContextResult{
		Messages:     trim.Messages,
		Trimmed:      trim.Trimmed,
		OverHard:     trim.OverHard,
		TokensBefore: trim.TokensBefore,
		TokensAfter:  trim.TokensAfter,
	}
	if !trim.Trimmed {
		if priorSummary != "" {
			result.Messages = InjectSummary(result.Messages, priorSummary)
		}
		return result
	}

	toSummarize := trim.Removed
	if priorSummary != "" {
		toSummarize = append([]Message{SystemMessage(priorSummary)}, toSummarize...)
	}
	summary := m.summarizer.Summarize(ctx, toSummarize)
	result.Summary = summary
	result.Messages = InjectSummary(trim.Messages, summary.Summary)
	return result
}
