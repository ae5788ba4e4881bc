package agentcore

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies a stored memory.
type MemoryType string

const (
	MemoryConversation MemoryType = "conversation"
	MemoryPreference   MemoryType = "preference"
	MemoryPlace        MemoryType = "place"
	MemoryItinerary    MemoryType = "itinerary"
	MemoryFeedback     MemoryType = "feedback"
	MemoryEntity       MemoryType = "entity"
)

// ParseMemoryType maps a raw string to a MemoryType. Unknown values
// are preserved as-is and report false; stored data written by a newer
// build should still round-trip through this one.
func ParseMemoryType(raw string) (MemoryType, bool) {
	switch MemoryType(raw) {
	case MemoryConversation, MemoryPreference, MemoryPlace, MemoryItinerary, MemoryFeedback, MemoryEntity:
		return MemoryType(raw), true
	default:
		return MemoryType(raw), false
	}
}

// Memory is one long-term memory record. Score is only populated on
// retrieval results.
type Memory struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Type      MemoryType        `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Score     float64           `json:"score,omitempty"`
}

// NewMemory creates a memory record with a fresh ID and timestamp.
func NewMemory(userID, threadID string, kind MemoryType, content string) *Memory {
	return &Memory{
		ID:        uuid.NewString(),
		UserID:    userID,
		ThreadID:  threadID,
		Type:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// AgeHours is the memory's age in hours relative to now.
func (m *Memory) AgeHours(now time.Time) float64 {
	return now.Sub(m.CreatedAt).Hours()
}
