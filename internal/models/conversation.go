// Package models defines conversation session structures for CareFlow.
package models

import "time"

// MessageOrigin identifies which participant produced a history entry.
type MessageOrigin string

const (
	// OriginUser marks a turn typed by the human user.
	OriginUser MessageOrigin = "user"
	// OriginCommunicator marks a user-facing turn from the communicator role.
	OriginCommunicator MessageOrigin = "communicator"
	// OriginAnalysis marks an internal turn from the psychologist/analysis role.
	OriginAnalysis MessageOrigin = "analysis"
)

// GenerationRole maps a message origin to the role tag used when formatting
// history for the generation service.
func (o MessageOrigin) GenerationRole() string {
	switch o {
	case OriginUser:
		return "user"
	default:
		return "assistant"
	}
}

// StateTransition records one move between conversation states.
type StateTransition struct {
	From         ConversationState `json:"from"`
	To           ConversationState `json:"to"`
	Reason       string            `json:"reason"`
	Risk         RiskLevel         `json:"risk"`
	ForcedByRisk bool              `json:"forced_by_risk"`
}

// HistoryMessage is one immutable turn in a conversation history.
type HistoryMessage struct {
	Text      string        `json:"text"`
	Origin    MessageOrigin `json:"origin"`
	Role      string        `json:"role"` // role tag for the generation service
	Timestamp time.Time     `json:"timestamp"`

	// Optional metadata populated on assessed turns.
	DetectedRisk  RiskLevel `json:"detected_risk,omitempty"`
	EmotionalTone string    `json:"emotional_tone,omitempty"`
	RiskFactors   []string  `json:"risk_factors,omitempty"`
	// RecommendedState is set on analysis-origin turns and carries the
	// state the analysis recommends moving to.
	RecommendedState ConversationState `json:"recommended_state,omitempty"`
	// Transition is set when the turn represents a state change.
	Transition *StateTransition `json:"transition,omitempty"`
}

// IsAnalysisTurn reports whether the entry is a real analysis result, as
// opposed to an internal transition marker that shares the analysis origin.
func (m *HistoryMessage) IsAnalysisTurn() bool {
	return m.Origin == OriginAnalysis && m.RecommendedState != ""
}

// ActiveGuidance is the multi-step instruction set produced by the analysis
// role that the communicator is expected to execute across subsequent turns.
type ActiveGuidance struct {
	ActionPlan            string   `json:"action_plan"`
	CurrentStep           int      `json:"current_step"`
	StepProgress          string   `json:"step_progress,omitempty"`
	SafetyRecommendations []string `json:"safety_recommendations,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// MaxHistoryLength caps the conversation history; the oldest entries are
// dropped first when the cap is exceeded.
const MaxHistoryLength = 200

// ConversationContext is the aggregate root for one user's session. It is
// owned exclusively by the orchestrator for the duration of one processing
// call and persisted by a store between calls.
type ConversationContext struct {
	UserID         string            `json:"user_id"`
	History        []HistoryMessage  `json:"history"`
	State          ConversationState `json:"state"`
	Risk           RiskLevel         `json:"risk"`
	Thinking       bool              `json:"thinking"`
	StartedAt      time.Time         `json:"started_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastAnalysisAt time.Time         `json:"last_analysis_at,omitempty"`
	PendingTaskIDs []string          `json:"pending_task_ids,omitempty"`
	Guidance       *ActiveGuidance   `json:"guidance,omitempty"`
	Ended          bool              `json:"ended"`
}

// NewConversationContext creates a fresh context in the INITIAL state.
func NewConversationContext(userID string) *ConversationContext {
	now := time.Now()
	return &ConversationContext{
		UserID:    userID,
		History:   []HistoryMessage{},
		State:     StateInitial,
		Risk:      RiskLow,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// AppendMessage appends a turn to the history, trimming from the head when
// the cap is exceeded.
func (c *ConversationContext) AppendMessage(msg HistoryMessage) {
	if msg.Role == "" {
		msg.Role = msg.Origin.GenerationRole()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.History = append(c.History, msg)
	if len(c.History) > MaxHistoryLength {
		c.History = c.History[len(c.History)-MaxHistoryLength:]
	}
	c.UpdatedAt = time.Now()
}

// UserTurnCount returns the number of user-origin turns in the history.
func (c *ConversationContext) UserTurnCount() int {
	count := 0
	for _, msg := range c.History {
		if msg.Origin == OriginUser {
			count++
		}
	}
	return count
}

// AddPendingTask records an outstanding background task identifier.
func (c *ConversationContext) AddPendingTask(taskID string) {
	c.PendingTaskIDs = append(c.PendingTaskIDs, taskID)
}

// RemovePendingTask drops a background task identifier from the outstanding set.
func (c *ConversationContext) RemovePendingTask(taskID string) {
	for i, id := range c.PendingTaskIDs {
		if id == taskID {
			c.PendingTaskIDs = append(c.PendingTaskIDs[:i], c.PendingTaskIDs[i+1:]...)
			return
		}
	}
}
