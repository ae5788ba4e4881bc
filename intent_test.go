package agentcore

import "testing"

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		input string
		want  Intent
	}{
		{"Hello! I just landed in Seoul", IntentGreeting},
		{"hey, quick one", IntentGreeting},
		{"안녕하세요", IntentGreeting},
		{"Thanks, that was really helpful", IntentThanks},
		{"감사합니다", IntentThanks},
		{"Okay goodbye for now", IntentFarewell},
		{"Can you recommend a cafe in Seongsu", IntentSearchRequest},
		{"추천해 주세요", IntentSearchRequest},
		{"How do I get to Gyeongbokgung from Hongdae", IntentDirectionsRequest},
		{"명동 가는 법 알려줘", IntentDirectionsRequest},
		{"Build me a 3 day itinerary", IntentItineraryRequest},
		{"내일 일정 짜줘", IntentItineraryRequest},
		{"Please save this for later", IntentSaveRequest},
		{"이거 기억해줘", IntentSaveRequest},
		{"Swap the palace for a museum", IntentModification},
		{"대신 다른 곳으로", IntentModification},
		{"Is the palace open on Mondays?", IntentQuestion},
		{"what time does it close", IntentQuestion},
		{"I like quiet neighborhoods", IntentGeneral},
	}
	for _, tc := range cases {
		if got := ClassifyIntent(tc.input); got != tc.want {
			t.Errorf("ClassifyIntent(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestClassifyIntent_SpecificBeatsGeneric(t *testing.T) {
	// "save this" and "find" both appear; save_request is checked first.
	got := ClassifyIntent("Find it and save this place")
	if got != IntentSaveRequest {
		t.Errorf("got %s, want save_request to win", got)
	}
}
