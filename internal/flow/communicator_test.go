package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/BridgeWell/CareFlow/internal/models"
)

func TestCommunicatorLoadSystemPrompt(t *testing.T) {
	c := NewCommunicator(&mockGenAI{}, "/non/existent/file.txt")
	if err := c.LoadSystemPrompt(); err == nil {
		t.Error("expected error for non-existent system prompt file")
	}

	c = NewCommunicator(&mockGenAI{}, "")
	if err := c.LoadSystemPrompt(); err == nil {
		t.Error("expected error for unconfigured system prompt file")
	}
	if !strings.Contains(c.getSystemPrompt(), "JSON") {
		t.Error("default system prompt should demand a JSON answer")
	}
}

func TestCommunicatorRespond(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("I'm here with you.", models.StateGatheringInfo, "LOW")},
	}}
	c := NewCommunicator(mock, "")

	conv := models.NewConversationContext("user1")
	conv.AppendMessage(models.HistoryMessage{Text: "hi", Origin: models.OriginUser})

	resp, err := c.Respond(context.Background(), conv, "")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Text != "I'm here with you." {
		t.Errorf("unexpected text: %q", resp.Text)
	}
	if resp.SuggestedState != models.StateGatheringInfo {
		t.Errorf("unexpected suggested state: %s", resp.SuggestedState)
	}
}

func TestCommunicatorRespondMalformedResponse(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{{raw: "I cannot answer in JSON, sorry"}}}
	c := NewCommunicator(mock, "")

	conv := models.NewConversationContext("user1")
	conv.AppendMessage(models.HistoryMessage{Text: "hi", Origin: models.OriginUser})

	if _, err := c.Respond(context.Background(), conv, ""); err == nil {
		t.Fatal("expected error for malformed response")
	}
}

func TestBuildChatHistory(t *testing.T) {
	conv := models.NewConversationContext("user1")
	conv.AppendMessage(models.HistoryMessage{Text: "hello", Origin: models.OriginUser})
	conv.AppendMessage(models.HistoryMessage{Text: "hi there", Origin: models.OriginCommunicator})
	conv.AppendMessage(models.HistoryMessage{Origin: models.OriginAnalysis, Transition: &models.StateTransition{}})
	conv.AppendMessage(models.HistoryMessage{Text: "analysis note", Origin: models.OriginAnalysis, RecommendedState: models.StateGuidanceDelivery})

	messages := buildChatHistory(conv, 0)
	// The empty transition marker is skipped.
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
}

func TestBuildChatHistoryWindow(t *testing.T) {
	conv := models.NewConversationContext("user1")
	for i := 0; i < 10; i++ {
		conv.AppendMessage(models.HistoryMessage{Text: "turn", Origin: models.OriginUser})
	}

	if got := len(buildChatHistory(conv, 4)); got != 4 {
		t.Errorf("expected window of 4 messages, got %d", got)
	}
}
