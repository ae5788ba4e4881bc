package agentcore

import "time"

// Role identifies the author of a message within a thread.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall describes a tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a conversation thread. Messages are append-only;
// a thread's message list is the single source of truth during a turn.
type Message struct {
	Role     Role      `json:"role"`
	Content  string    `json:"content"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// SplitSystem partitions messages into system messages and the rest,
// preserving order within each group.
func SplitSystem(messages []Message) (system, conversation []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			conversation = append(conversation, m)
		}
	}
	return system, conversation
}

// Stage is the coarse phase of a thread's lifecycle. Stages only move
// forward: Init -> Investigation -> Planning -> Resolution.
type Stage string

const (
	StageInit          Stage = "init"
	StageInvestigation Stage = "investigation"
	StagePlanning      Stage = "planning"
	StageResolution    Stage = "resolution"
)

var stageOrder = map[Stage]int{
	StageInit:          0,
	StageInvestigation: 1,
	StagePlanning:      2,
	StageResolution:    3,
}

// After checks whether s comes at or after other in the lifecycle.
func (s Stage) After(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}

// ParseStage converts a raw string to a Stage. Unknown values return
// StageInit and false; ingress treats that as a warning, not a crash.
func ParseStage(raw string) (Stage, bool) {
	switch Stage(raw) {
	case StageInit, StageInvestigation, StagePlanning, StageResolution:
		return Stage(raw), true
	default:
		return StageInit, false
	}
}

// Preferences captures what is known about the user's travel constraints.
type Preferences struct {
	Language            string            `json:"language"`
	BudgetLevel         string            `json:"budget_level,omitempty"`
	DietaryRestrictions []string          `json:"dietary_restrictions,omitempty"`
	MobilityLevel       string            `json:"mobility_level,omitempty"`
	Interests           []string          `json:"interests,omitempty"`
	AccommodationArea   string            `json:"accommodation_area,omitempty"`
	TravelDates         map[string]string `json:"travel_dates,omitempty"`
}

// TurnMetadata records per-turn observations.
type TurnMetadata struct {
	TurnNumber int       `json:"turn_number"`
	Timestamp  time.Time `json:"timestamp"`
	UserIntent Intent    `json:"user_intent,omitempty"`
	Entities   []string  `json:"entities_extracted,omitempty"`
	LatencyMS  float64   `json:"latency_ms,omitempty"`
	TokenCount int       `json:"token_count,omitempty"`
}
