package agentcore

import "testing"

func TestParseMemoryType_KnownTypes(t *testing.T) {
	known := []MemoryType{
		MemoryConversation,
		MemoryPreference,
		MemoryPlace,
		MemoryItinerary,
		MemoryFeedback,
		MemoryEntity,
	}
	for _, want := range known {
		got, ok := ParseMemoryType(string(want))
		if !ok {
			t.Errorf("ParseMemoryType(%q) not recognized", want)
		}
		if got != want {
			t.Errorf("ParseMemoryType(%q) = %q", want, got)
		}
	}
}

func TestParseMemoryType_PreservesUnknown(t *testing.T) {
	got, ok := ParseMemoryType("landmark")
	if ok {
		t.Error("unknown type reported as recognized")
	}
	if got != MemoryType("landmark") {
		t.Errorf("unknown type rewritten to %q, want preserved", got)
	}
}
