package agentcore

import (
	"regexp"
	"strings"
)

// Injection patterns checked against whitespace-normalized input.
// Matching input is rejected outright rather than sanitized.
var injectionPatterns = []*regexp.Regexp{
	// Instruction overrides.
	regexp.MustCompile(`(?im)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?im)disregard\s+(all\s+)?(previous|prior|above)`),
	regexp.MustCompile(`(?im)forget\s+(everything|all|previous)`),
	regexp.MustCompile(`(?im)new\s+instructions?:`),
	regexp.MustCompile(`(?im)system\s*:\s*`),
	regexp.MustCompile(`(?im)system\s*prompt`),
	regexp.MustCompile(`(?im)reveal\s+(your|the)\s+(instructions?|prompts?|rules)`),

	// Role-play pivots.
	regexp.MustCompile(`(?im)you\s+are\s+now\s+(a|an)\s+`),
	regexp.MustCompile(`(?im)act\s+as\s+(if\s+you\s+are|a|an)\s+`),
	regexp.MustCompile(`(?im)pretend\s+(to\s+be|you\s+are)`),
	regexp.MustCompile(`(?im)roleplay\s+as`),

	// Jailbreak keywords.
	regexp.MustCompile(`(?im)DAN\s+mode`),
	regexp.MustCompile(`(?im)developer\s+mode`),
	regexp.MustCompile(`(?im)bypass\s+(filters?|restrictions?|safety)`),
	regexp.MustCompile(`(?im)unlock\s+(hidden|secret)`),

	// Sentinel tokens and pseudo-tags, including synthetic role closers.
	regexp.MustCompile(`(?im)\[\s*/?\s*(INST|SYS(TEM)?)\s*\]`),
	regexp.MustCompile(`(?im)<\|.*?\|>`),
	regexp.MustCompile(`(?im)</?(system|user|assistant)>`),
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// escaper neutralizes markup fragments that survive the injection
// check. Escape outputs never re-match the inputs, so sanitizing an
// already sanitized string changes nothing.
var escaper = strings.NewReplacer(
	"<script", "&lt;script",
	"</script", "&lt;/script",
	"javascript:", "javascript&#58;",
)

// ValidationMeta describes what sanitization did to the input.
type ValidationMeta struct {
	OriginalLength  int  `json:"original_length"`
	SanitizedLength int  `json:"sanitized_length"`
	Modified        bool `json:"modified"`
}

// InputValidator gates raw user input before it reaches the pipeline.
// Checks run in a fixed order: empty, length, normalization, injection
// detection, escaping. The first failing check wins.
type InputValidator struct {
	maxLength int
	patterns  []*regexp.Regexp
	logger    Logger
	metrics   Metrics
}

// NewInputValidator creates a validator screening against the built-in
// pattern list. Non-positive maxLength falls back to the default.
func NewInputValidator(maxLength int, logger Logger, metrics Metrics) *InputValidator {
	if maxLength <= 0 {
		maxLength = DefaultMaxInputLength
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &InputValidator{
		maxLength: maxLength,
		patterns:  injectionPatterns,
		logger:    logger,
		metrics:   metrics,
	}
}

// WithPatterns extends the screening list with deployment-specific
// patterns, checked after the built-in ones.
func (v *InputValidator) WithPatterns(patterns ...*regexp.Regexp) *InputValidator {
	combined := make([]*regexp.Regexp, 0, len(injectionPatterns)+len(patterns))
	combined = append(combined, injectionPatterns...)
	combined = append(combined, patterns...)
	v.patterns = combined
	return v
}

// Validate sanitizes raw input or rejects it. Length is checked
// against the raw input before normalization so a caller can reason
// about the limit without knowing the normalization rules.
func (v *InputValidator) Validate(input string) (string, *ValidationMeta, error) {
	if strings.TrimSpace(input) == "" {
		v.metrics.Increment(MetricValidatorRejected, "reason", "empty")
		return "", nil, WithContext(ErrEmptyInput, map[string]interface{}{
			"length": len(input),
		})
	}
	if len(input) > v.maxLength {
		v.metrics.Increment(MetricValidatorRejected, "reason", "too_long")
		return "", nil, WithContext(ErrInputTooLong, map[string]interface{}{
			"length":     len(input),
			"max_length": v.maxLength,
		})
	}

	// Runs of spaces and tabs collapse to one space, three or more
	// newlines to two. Paragraph breaks survive normalization.
	normalized := spaceRun.ReplaceAllString(input, " ")
	normalized = strings.TrimSpace(newlineRun.ReplaceAllString(normalized, "\n\n"))

	for _, pattern := range v.patterns {
		if pattern.MatchString(normalized) {
			v.metrics.Increment(MetricValidatorRejected, "reason", "injection")
			v.logger.Warn("prompt injection detected",
				"pattern", pattern.String(),
				"input_length", len(input))
			return "", nil, WithContext(ErrPromptInjection, map[string]interface{}{
				"pattern": pattern.String(),
			})
		}
	}

	sanitized := escaper.Replace(normalized)
	meta := &ValidationMeta{
		OriginalLength:  len(input),
		SanitizedLength: len(sanitized),
		Modified:        sanitized != input,
	}
	if meta.Modified {
		v.metrics.Increment(MetricValidatorSanitized)
	}
	return sanitized, meta, nil
}
