package agentcore

import (
	"strings"
	"testing"
)

// Tests use an unknown model name so counting follows the character
// estimate, which is deterministic and needs no encoding data.

func TestTokenCounter_CharacterEstimate(t *testing.T) {
	tc := NewTokenCounter("model-under-test")
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, c := range cases {
		if got := tc.Count(c.text); got != c.want {
			t.Errorf("Count(%d chars) = %d, want %d", len(c.text), got, c.want)
		}
	}
}

func TestTokenCounter_CountIsStable(t *testing.T) {
	tc := NewTokenCounter("model-under-test")
	text := "Seoul has five grand palaces worth visiting."
	first := tc.Count(text)
	for i := 0; i < 10; i++ {
		if got := tc.Count(text); got != first {
			t.Fatalf("Count changed between calls: %d then %d", first, got)
		}
	}
}

func TestTokenCounter_MessageOverhead(t *testing.T) {
	tc := NewTokenCounter("model-under-test")
	messages := []Message{
		UserMessage("abcd"),
		AssistantMessage("abcdefgh"),
	}
	want := (1 + messageOverheadTokens) + (2 + messageOverheadTokens)
	if got := tc.CountMessages(messages); got != want {
		t.Errorf("CountMessages = %d, want %d", got, want)
	}
	if got := tc.CountMessage(messages[0]); got != 1+messageOverheadTokens {
		t.Errorf("CountMessage = %d, want %d", got, 1+messageOverheadTokens)
	}
}

func TestTokenCounter_Budget(t *testing.T) {
	tc := NewTokenCounter("model-under-test")
	messages := []Message{UserMessage(strings.Repeat("x", 400))}

	report := tc.Budget(messages, 200, 300)
	if !report.WithinSoft || !report.WithinHard {
		t.Errorf("104 tokens should be within 200/300: %+v", report)
	}

	report = tc.Budget(messages, 50, 300)
	if report.WithinSoft {
		t.Error("104 tokens should exceed soft limit 50")
	}
	if !report.WithinHard {
		t.Error("104 tokens should be within hard limit 300")
	}
	if report.Tokens != 104 {
		t.Errorf("Tokens = %d, want 104", report.Tokens)
	}
}
