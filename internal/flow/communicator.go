package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"

	"github.com/BridgeWell/CareFlow/internal/genai"
	"github.com/BridgeWell/CareFlow/internal/models"
)

const defaultCommunicatorPrompt = `You are a warm, supportive companion in a mental-health support conversation.
Listen carefully, validate the person's feelings, and respond with empathy in their language.
Never diagnose and never promise outcomes. Keep replies short and conversational.
You must answer with a single JSON object containing at least "text" (your reply to the person)
and "reason" (one sentence explaining your choice). You may also include "suggested_state"
(one of INITIAL, GATHERING_INFO, ANALYSIS_NEEDED, PENDING_ANALYSIS, DEEP_ANALYSIS,
GUIDANCE_DELIVERY, SESSION_CLOSING), "risk_level" (LOW, MEDIUM, HIGH, CRITICAL),
"engagement", "emotional_tone", "risk_factors" (array of strings), and
"guidance_step_progress" when the person is working through an action plan.`

// Communicator produces the user-facing conversational turns. It is the only
// role whose text reaches the user directly.
type Communicator struct {
	genaiClient      genai.ClientInterface
	systemPromptFile string
	systemPrompt     string
	// historyWindow bounds how many recent turns are sent to the model.
	historyWindow int
}

// NewCommunicator creates a communicator role client. The system prompt file
// is optional; when empty or unreadable the built-in default prompt is used.
func NewCommunicator(genaiClient genai.ClientInterface, systemPromptFile string) *Communicator {
	slog.Debug("flow.NewCommunicator: creating communicator", "hasGenAI", genaiClient != nil, "systemPromptFile", systemPromptFile)
	return &Communicator{
		genaiClient:      genaiClient,
		systemPromptFile: systemPromptFile,
		historyWindow:    40,
	}
}

// LoadSystemPrompt loads the system prompt from the configured file.
func (c *Communicator) LoadSystemPrompt() error {
	if c.systemPromptFile == "" {
		return fmt.Errorf("communicator system prompt file not configured")
	}
	content, err := os.ReadFile(c.systemPromptFile)
	if err != nil {
		slog.Error("flow.Communicator.LoadSystemPrompt: failed to read system prompt file", "file", c.systemPromptFile, "error", err)
		return fmt.Errorf("failed to read communicator system prompt file: %w", err)
	}
	c.systemPrompt = string(content)
	slog.Info("flow.Communicator.LoadSystemPrompt: system prompt loaded", "file", c.systemPromptFile, "length", len(c.systemPrompt))
	return nil
}

func (c *Communicator) getSystemPrompt() string {
	if c.systemPrompt != "" {
		return c.systemPrompt
	}
	return defaultCommunicatorPrompt
}

// Respond generates the next communicator turn for the conversation. The
// instruction, when non-empty, is appended as a final steering message and is
// used for follow-up turns after analysis results arrive.
func (c *Communicator) Respond(ctx context.Context, conv *models.ConversationContext, instruction string) (*CommunicatorResponse, error) {
	messages := buildChatHistory(conv, c.historyWindow)
	if instruction != "" {
		messages = append(messages, openai.SystemMessage(instruction))
	}

	raw, err := c.genaiClient.Generate(ctx, messages, genai.GenerateOptions{
		SystemPrompt: c.getSystemPrompt(),
		Temperature:  0.7,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("communicator generation failed: %w", err)
	}

	var resp CommunicatorResponse
	if err := genai.DecodeStructured(raw, &resp); err != nil {
		return nil, fmt.Errorf("communicator response invalid: %w", err)
	}
	slog.Debug("flow.Communicator.Respond: generated turn",
		"userID", conv.UserID, "suggestedState", resp.SuggestedState, "riskLevel", resp.RiskLevel)
	return &resp, nil
}

// buildChatHistory converts the conversation tail into chat messages using
// each entry's generation role. Transition markers with no text are skipped.
func buildChatHistory(conv *models.ConversationContext, window int) []openai.ChatCompletionMessageParamUnion {
	history := conv.History
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		switch m.Origin.GenerationRole() {
		case "user":
			messages = append(messages, openai.UserMessage(m.Text))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Text))
		default:
			messages = append(messages, openai.SystemMessage(m.Text))
		}
	}
	return messages
}
