package flow

import (
	"fmt"

	"github.com/BridgeWell/CareFlow/internal/models"
)

// BaseResponse carries the fields every structured role response must have.
type BaseResponse struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Validate implements genai.Validatable.
func (r *BaseResponse) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("missing text field")
	}
	if r.Reason == "" {
		return fmt.Errorf("missing reason field")
	}
	return nil
}

// CommunicatorResponse is the structured output of a communicator turn.
type CommunicatorResponse struct {
	BaseResponse
	SuggestedState       models.ConversationState `json:"suggested_state,omitempty"`
	RiskLevel            string                   `json:"risk_level,omitempty"`
	Engagement           string                   `json:"engagement,omitempty"`
	EmotionalTone        string                   `json:"emotional_tone,omitempty"`
	RiskFactors          []string                 `json:"risk_factors,omitempty"`
	GuidanceStepProgress string                   `json:"guidance_step_progress,omitempty"`
}

// Risk parses the reported risk level, defaulting to LOW when absent or
// unrecognized.
func (r *CommunicatorResponse) Risk() models.RiskLevel {
	return models.ParseRiskLevel(r.RiskLevel)
}

// AnalysisResponse is the structured output of an analyst turn.
type AnalysisResponse struct {
	BaseResponse
	RecommendedState      models.ConversationState `json:"recommended_state,omitempty"`
	RiskLevel             string                   `json:"risk_level,omitempty"`
	RiskFactors           []string                 `json:"risk_factors,omitempty"`
	ActionPlan            []string                 `json:"action_plan,omitempty"`
	SafetyRecommendations []string                 `json:"safety_recommendations,omitempty"`
}

func (r *AnalysisResponse) Risk() models.RiskLevel {
	return models.ParseRiskLevel(r.RiskLevel)
}

// FinishingResponse is the structured output of the session wrap-up turn.
type FinishingResponse struct {
	BaseResponse
	Recommendations []string `json:"recommendations,omitempty"`
	NextSteps       []string `json:"next_steps,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}
