// Package models defines the core data structures for CareFlow.
//
// It includes conversation states, risk levels, history records, and the
// shared error variables used across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// ConversationState represents the phase a conversation is currently in.
type ConversationState string

const (
	// StateInitial is the state of a freshly created conversation.
	StateInitial ConversationState = "INITIAL"
	// StateGatheringInfo covers ordinary information-gathering turns.
	StateGatheringInfo ConversationState = "GATHERING_INFO"
	// StateAnalysisNeeded marks a conversation flagged for deeper analysis.
	StateAnalysisNeeded ConversationState = "ANALYSIS_NEEDED"
	// StatePendingAnalysis is a blocking state while an analysis is in flight.
	StatePendingAnalysis ConversationState = "PENDING_ANALYSIS"
	// StateDeepAnalysis is a blocking state entered on critical risk.
	StateDeepAnalysis ConversationState = "DEEP_ANALYSIS"
	// StateGuidanceDelivery covers turns that walk the user through guidance steps.
	StateGuidanceDelivery ConversationState = "GUIDANCE_DELIVERY"
	// StateSessionClosing wraps up the session with recommendations.
	StateSessionClosing ConversationState = "SESSION_CLOSING"
	// StateErrorRecovery is the universal escape hatch reachable from any state.
	StateErrorRecovery ConversationState = "ERROR_RECOVERY"
)

// IsValidConversationState checks if the given state is a known state.
func IsValidConversationState(s ConversationState) bool {
	switch s {
	case StateInitial, StateGatheringInfo, StateAnalysisNeeded, StatePendingAnalysis,
		StateDeepAnalysis, StateGuidanceDelivery, StateSessionClosing, StateErrorRecovery:
		return true
	default:
		return false
	}
}

// IsBlocking reports whether ordinary user turns are intercepted in this state.
func (s ConversationState) IsBlocking() bool {
	return s == StatePendingAnalysis || s == StateDeepAnalysis
}

// RiskLevel is an ordered risk classification for a conversation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// riskOrdinals defines the ordering LOW < MEDIUM < HIGH < CRITICAL.
var riskOrdinals = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Ordinal returns the position of the risk level in the ordering.
// Unknown levels are treated as LOW.
func (r RiskLevel) Ordinal() int {
	if o, ok := riskOrdinals[r]; ok {
		return o
	}
	return 0
}

// RiskFromOrdinal returns the risk level at the given ordinal, clamped to the valid range.
func RiskFromOrdinal(o int) RiskLevel {
	switch {
	case o <= 0:
		return RiskLow
	case o == 1:
		return RiskMedium
	case o == 2:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ParseRiskLevel normalizes a free-form risk level string. Unknown values
// fall back to LOW so that a malformed role response cannot escalate risk.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow
	case RiskMedium:
		return RiskMedium
	case RiskHigh:
		return RiskHigh
	case RiskCritical:
		return RiskCritical
	default:
		return RiskLow
	}
}

// Error variables for better error handling and testability
var (
	ErrSessionEnded       = errors.New("session has ended")
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskTimeout        = errors.New("task timed out")
	ErrEmptyUserID        = errors.New("user ID cannot be empty")
	ErrEmptyMessageBody   = errors.New("message body cannot be empty")
	ErrMessageBodyTooLong = errors.New("message body exceeds maximum length")
)

// MaxMessageBodyLength defines the maximum allowed length for an inbound message.
const MaxMessageBodyLength = 8192

// IncomingMessage represents one inbound user turn delivered by the transport.
type IncomingMessage struct {
	UserID string `json:"user_id"`
	Body   string `json:"body"`
	Time   int64  `json:"time"` // unix seconds; zero means "now"
}

// Validate performs validation on an incoming message.
func (m *IncomingMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Body == "" {
		return ErrEmptyMessageBody
	}
	if len(m.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Errorf creates an error API response with a formatted message.
func Errorf(format string, args ...interface{}) APIResponse {
	return Error(fmt.Sprintf(format, args...))
}
