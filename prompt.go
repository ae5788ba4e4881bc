package agentcore

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const basePrompt = `You are a knowledgeable Seoul travel assistant. You help visitors plan
trips, discover places, and navigate the city. Be concrete: name real
places, neighborhoods, and transit lines. Keep answers focused on what
the user asked.`

var stagePrompts = map[Stage]string{
	StageInit:          "The conversation is just starting. Greet the user naturally and learn what kind of trip they have in mind.",
	StageInvestigation: "You are learning the user's interests and constraints. Ask clarifying questions where it helps, and note preferences they reveal.",
	StagePlanning:      "The user is ready for concrete plans. Propose specific places, routes, and day structures with realistic timing.",
	StageResolution:    "The conversation is wrapping up. Consolidate the plan, confirm anything the user asked to save, and close warmly.",
}

var languageHints = map[string]string{
	"ko": "The user writes in Korean. Respond in Korean.",
	"ja": "The user writes in Japanese. Respond in Japanese.",
	"zh": "The user writes in Chinese. Respond in Chinese.",
	"en": "",
}

// DetectLanguage guesses the input language from its script. Mixed
// input defaults to the first non-Latin script seen; pure Latin is
// English.
func DetectLanguage(input string) string {
	for _, r := range input {
		switch {
		case unicode.Is(unicode.Hangul, r):
			return "ko"
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			return "ja"
		case unicode.Is(unicode.Han, r):
			return "zh"
		}
	}
	return "en"
}

// PromptInput collects everything the system prompt is built from.
type PromptInput struct {
	Stage       Stage
	Language    string
	Preferences Preferences
	Memories    []*Memory
	Now         time.Time
}

// BuildSystemPrompt assembles the per-turn system prompt: base
// instructions, stage guidance, language hint, known preferences, and
// retrieved memories.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if guidance, ok := stagePrompts[in.Stage]; ok && guidance != "" {
		b.WriteString("\n\n")
		b.WriteString(guidance)
	}
	if hint := languageHints[in.Language]; hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}

	if prefs := formatPreferences(in.Preferences); prefs != "" {
		b.WriteString("\n\nKnown user preferences:\n")
		b.WriteString(prefs)
	}

	if len(in.Memories) > 0 {
		now := in.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		b.WriteString("\n\nRelevant context from earlier conversations:\n")
		b.WriteString(FormatMemories(in.Memories, now))
	}
	return b.String()
}

func formatPreferences(p Preferences) string {
	var lines []string
	if p.BudgetLevel != "" {
		lines = append(lines, fmt.Sprintf("- Budget: %s", p.BudgetLevel))
	}
	if len(p.DietaryRestrictions) > 0 {
		lines = append(lines, fmt.Sprintf("- Dietary: %s", strings.Join(p.DietaryRestrictions, ", ")))
	}
	if p.MobilityLevel != "" {
		lines = append(lines, fmt.Sprintf("- Mobility: %s", p.MobilityLevel))
	}
	if len(p.Interests) > 0 {
		lines = append(lines, fmt.Sprintf("- Interests: %s", strings.Join(p.Interests, ", ")))
	}
	if p.AccommodationArea != "" {
		lines = append(lines, fmt.Sprintf("- Staying near: %s", p.AccommodationArea))
	}
	if from, ok := p.TravelDates["from"]; ok {
		to := p.TravelDates["to"]
		lines = append(lines, fmt.Sprintf("- Travel dates: %s to %s", from, to))
	}
	return strings.Join(lines, "\n")
}
