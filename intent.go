package agentcore

import "strings"

// Intent is the coarse classification of a user message.
type Intent string

const (
	IntentGreeting          Intent = "greeting"
	IntentThanks            Intent = "thanks"
	IntentFarewell          Intent = "farewell"
	IntentQuestion          Intent = "question"
	IntentSearchRequest     Intent = "search_request"
	IntentDirectionsRequest Intent = "directions_request"
	IntentItineraryRequest  Intent = "itinerary_request"
	IntentSaveRequest       Intent = "save_request"
	IntentModification      Intent = "modification"
	IntentGeneral           Intent = "general"
)

// intentKeywords maps intents to trigger phrases, English and Korean.
// Order matters: more specific intents are checked before generic ones.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentSaveRequest, []string{
		"save this", "save my", "remember this", "remember that",
		"keep this", "저장", "기억해",
	}},
	{IntentItineraryRequest, []string{
		"itinerary", "day plan", "plan my", "plan a trip", "schedule",
		"일정", "계획", "코스",
	}},
	{IntentDirectionsRequest, []string{
		"how do i get", "how to get", "directions", "way to",
		"route to", "가는 법", "가는법", "어떻게 가",
	}},
	{IntentSearchRequest, []string{
		"find", "search", "recommend", "suggestion", "suggest",
		"looking for", "any good", "추천", "찾아",
	}},
	{IntentModification, []string{
		"change", "instead", "modify", "swap", "replace", "rather",
		"바꿔", "변경", "대신",
	}},
	{IntentGreeting, []string{
		"hello", "hi there", "hey", "good morning", "good afternoon",
		"good evening", "안녕하세요", "안녕!",
	}},
	{IntentThanks, []string{
		"thank", "thanks", "appreciate", "감사", "고마워",
	}},
	{IntentFarewell, []string{
		"goodbye", "bye", "see you", "farewell", "잘가", "안녕히",
	}},
}

var questionWords = []string{
	"what", "where", "when", "how", "why", "which", "who",
	"무엇", "어디", "언제", "어떻게", "왜", "누구",
}

// ClassifyIntent assigns an intent by keyword matching on the
// lowercased input. Unmatched input with a question mark or a question
// word is a question; everything else is general.
func ClassifyIntent(input string) Intent {
	lower := strings.ToLower(input)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.intent
			}
		}
	}
	if strings.Contains(lower, "?") {
		return IntentQuestion
	}
	for _, w := range questionWords {
		if strings.HasPrefix(lower, w+" ") || strings.Contains(lower, " "+w+" ") {
			return IntentQuestion
		}
	}
	return IntentGeneral
}
