package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"

	"github.com/BridgeWell/CareFlow/internal/genai"
	"github.com/BridgeWell/CareFlow/internal/models"
	"github.com/BridgeWell/CareFlow/internal/tone"
)

const defaultAnalystPrompt = `You are a clinical-support analyst reviewing a mental-health support conversation.
You never speak to the person directly. Assess the conversation so far and answer with a
single JSON object containing "text" (a concise analysis summary), "reason" (why you reached
this assessment), "recommended_state" (one of GATHERING_INFO, PENDING_ANALYSIS, DEEP_ANALYSIS,
GUIDANCE_DELIVERY, SESSION_CLOSING), "risk_level" (LOW, MEDIUM, HIGH, CRITICAL),
"risk_factors" (array of concrete observed risk factors), "action_plan" (array of small
concrete steps the person could take), and "safety_recommendations" (array; required whenever
risk is HIGH or CRITICAL).`

const defaultFinisherPrompt = `You are wrapping up a mental-health support conversation.
Answer with a single JSON object containing "text" (a warm closing summary addressed to the
person), "reason", "summary" (a neutral one-paragraph recap), "recommendations" (array of
follow-up resources or habits), and "next_steps" (array of concrete actions for the coming days).`

// Analyst performs the deep conversation analysis and the session wrap-up.
// Both run on the high generation tier.
type Analyst struct {
	genaiClient      genai.ClientInterface
	systemPromptFile string
	systemPrompt     string
}

// NewAnalyst creates an analyst role client.
func NewAnalyst(genaiClient genai.ClientInterface, systemPromptFile string) *Analyst {
	slog.Debug("flow.NewAnalyst: creating analyst", "hasGenAI", genaiClient != nil, "systemPromptFile", systemPromptFile)
	return &Analyst{
		genaiClient:      genaiClient,
		systemPromptFile: systemPromptFile,
	}
}

// LoadSystemPrompt loads the system prompt from the configured file.
func (a *Analyst) LoadSystemPrompt() error {
	if a.systemPromptFile == "" {
		return fmt.Errorf("analyst system prompt file not configured")
	}
	content, err := os.ReadFile(a.systemPromptFile)
	if err != nil {
		slog.Error("flow.Analyst.LoadSystemPrompt: failed to read system prompt file", "file", a.systemPromptFile, "error", err)
		return fmt.Errorf("failed to read analyst system prompt file: %w", err)
	}
	a.systemPrompt = string(content)
	slog.Info("flow.Analyst.LoadSystemPrompt: system prompt loaded", "file", a.systemPromptFile, "length", len(a.systemPrompt))
	return nil
}

func (a *Analyst) getSystemPrompt() string {
	if a.systemPrompt != "" {
		return a.systemPrompt
	}
	return defaultAnalystPrompt
}

// Analyze runs a full analysis over the conversation and returns the
// structured result. The conversation is rendered as a transcript in a single
// user message so the analyst sees it from the outside.
func (a *Analyst) Analyze(ctx context.Context, conv *models.ConversationContext) (*AnalysisResponse, error) {
	transcript, err := renderTranscript(conv)
	if err != nil {
		return nil, err
	}

	raw, err := a.genaiClient.Generate(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(transcript),
	}, genai.GenerateOptions{
		SystemPrompt: a.getSystemPrompt(),
		HighTier:     true,
		Temperature:  0.2,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis generation failed: %w", err)
	}

	var resp AnalysisResponse
	if err := genai.DecodeStructured(raw, &resp); err != nil {
		return nil, fmt.Errorf("analysis response invalid: %w", err)
	}
	slog.Info("flow.Analyst.Analyze: analysis complete",
		"userID", conv.UserID, "recommendedState", resp.RecommendedState, "riskLevel", resp.RiskLevel, "actionPlanSteps", len(resp.ActionPlan))
	return &resp, nil
}

// Finish produces the session wrap-up on session close.
func (a *Analyst) Finish(ctx context.Context, conv *models.ConversationContext) (*FinishingResponse, error) {
	transcript, err := renderTranscript(conv)
	if err != nil {
		return nil, err
	}

	raw, err := a.genaiClient.Generate(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(transcript),
	}, genai.GenerateOptions{
		SystemPrompt: defaultFinisherPrompt,
		HighTier:     true,
		Temperature:  0.4,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("finishing generation failed: %w", err)
	}

	var resp FinishingResponse
	if err := genai.DecodeStructured(raw, &resp); err != nil {
		return nil, fmt.Errorf("finishing response invalid: %w", err)
	}
	return &resp, nil
}

// renderTranscript serializes the conversation for out-of-band review. The
// JSON form keeps per-turn metadata the analyst needs, like detected risk and
// emotional tone.
func renderTranscript(conv *models.ConversationContext) (string, error) {
	type turn struct {
		Origin string `json:"origin"`
		Text   string `json:"text"`
		Risk   string `json:"detected_risk,omitempty"`
		Tone   string `json:"emotional_tone,omitempty"`
	}
	turns := make([]turn, 0, len(conv.History))
	for _, m := range conv.History {
		if m.Text == "" {
			continue
		}
		turns = append(turns, turn{
			Origin: string(m.Origin),
			Text:   m.Text,
			Risk:   string(m.DetectedRisk),
			Tone:   m.EmotionalTone,
		})
	}
	doc := map[string]any{
		"state":         conv.State,
		"risk":          conv.Risk,
		"turns":         turns,
		"user_turns":    conv.UserTurnCount(),
		"has_guidance":  conv.Guidance != nil,
		"dominant_tone": tone.Dominant(conv.History, 10),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to render transcript: %w", err)
	}
	return string(data), nil
}
