package agentcore

import (
	"strings"
	"testing"
	"time"
)

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Where is the nearest subway station?", "en"},
		{"경복궁 가는 법 알려줘", "ko"},
		{"こんにちは、ソウルです", "ja"},
		{"ソウルタワー", "ja"},
		{"我想去景福宫", "zh"},
		{"Mixed with 한국어 words", "ko"},
		{"", "en"},
	}
	for _, tc := range cases {
		if got := DetectLanguage(tc.input); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestBuildSystemPrompt_Minimal(t *testing.T) {
	prompt := BuildSystemPrompt(PromptInput{Stage: StageInit, Language: "en"})
	if !strings.Contains(prompt, "Seoul travel assistant") {
		t.Error("base instructions missing")
	}
	if !strings.Contains(prompt, "just starting") {
		t.Error("init stage guidance missing")
	}
	if strings.Contains(prompt, "Known user preferences") {
		t.Error("preferences section present with no preferences")
	}
	if strings.Contains(prompt, "Relevant context") {
		t.Error("memory section present with no memories")
	}
	if strings.Contains(prompt, "Respond in") {
		t.Error("language hint present for English")
	}
}

func TestBuildSystemPrompt_AllSections(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	mem := NewMemory("alice", "t1", MemoryPreference, "Loves third-wave coffee")
	mem.CreatedAt = now.Add(-2 * time.Hour)

	prompt := BuildSystemPrompt(PromptInput{
		Stage:    StagePlanning,
		Language: "ko",
		Preferences: Preferences{
			BudgetLevel: "mid-range",
			Interests:   []string{"food", "history"},
		},
		Memories: []*Memory{mem},
		Now:      now,
	})

	for _, want := range []string{
		"Respond in Korean",
		"concrete plans",
		"Known user preferences:",
		"- Budget: mid-range",
		"- Interests: food, history",
		"Relevant context from earlier conversations:",
		"Loves third-wave coffee",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Base must come before guidance, guidance before memories.
	base := strings.Index(prompt, "Seoul travel assistant")
	stage := strings.Index(prompt, "concrete plans")
	mems := strings.Index(prompt, "Relevant context")
	if !(base < stage && stage < mems) {
		t.Error("sections out of order")
	}
}

func TestFormatPreferences_TravelDates(t *testing.T) {
	out := formatPreferences(Preferences{
		TravelDates: map[string]string{"from": "2026-09-01", "to": "2026-09-05"},
	})
	if out != "- Travel dates: 2026-09-01 to 2026-09-05" {
		t.Errorf("out = %q", out)
	}
}
