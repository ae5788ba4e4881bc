package agentcore

import (
	"time"

	"github.com/google/uuid"
)

// ThreadState is the full persisted state of one conversation thread.
type ThreadState struct {
	ThreadID    string         `json:"thread_id"`
	UserID      string         `json:"user_id"`
	Messages    []Message      `json:"messages"`
	Stage       Stage          `json:"stage"`
	TurnCount   int            `json:"turn_count"`
	Summary     string         `json:"summary,omitempty"`
	Preferences Preferences    `json:"preferences"`
	Turns       []TurnMetadata `json:"turns,omitempty"`
	TokenCount  int            `json:"token_count,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewThreadState creates an empty thread for a user. When threadID is
// empty a new one is generated.
func NewThreadState(threadID, userID string) *ThreadState {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &ThreadState{
		ThreadID:  threadID,
		UserID:    userID,
		Stage:     StageInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message and bumps the updated timestamp.
func (t *ThreadState) Append(m Message) {
	t.Messages = append(t.Messages, m)
	t.UpdatedAt = time.Now().UTC()
}

// RecordTurn appends per-turn metadata and increments the turn counter.
func (t *ThreadState) RecordTurn(meta TurnMetadata) {
	t.TurnCount++
	meta.TurnNumber = t.TurnCount
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	t.Turns = append(t.Turns, meta)
}

// AdvanceStage moves the thread forward based on the classified intent
// and turn count. Stages never move backward.
func (t *ThreadState) AdvanceStage(intent Intent) Stage {
	next := t.Stage
	switch {
	case intent == IntentSaveRequest || intent == IntentFarewell:
		next = StageResolution
	case intent == IntentItineraryRequest || t.TurnCount >= 5:
		next = StagePlanning
	case t.TurnCount >= 2:
		next = StageInvestigation
	}
	if next.After(t.Stage) {
		t.Stage = next
	}
	return t.Stage
}
