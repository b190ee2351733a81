package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/BridgeWell/CareFlow/internal/genai"
	"github.com/BridgeWell/CareFlow/internal/models"
	"github.com/BridgeWell/CareFlow/internal/store"
	"github.com/BridgeWell/CareFlow/internal/tasks"
)

// stubResult is one scripted generation outcome.
type stubResult struct {
	raw string
	err error
}

// mockGenAI scripts generation responses per tier. Calls pop from the front
// of the matching queue; an exhausted queue is an error so tests fail loudly
// on unexpected calls.
type mockGenAI struct {
	mu        sync.Mutex
	low       []stubResult
	high      []stubResult
	lowCalls  int
	highCalls int
}

func (m *mockGenAI) Generate(_ context.Context, _ []openai.ChatCompletionMessageParamUnion, opts genai.GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.HighTier {
		m.highCalls++
		return pop(&m.high, "high")
	}
	m.lowCalls++
	return pop(&m.low, "low")
}

func (m *mockGenAI) counts() (low, high int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lowCalls, m.highCalls
}

func pop(queue *[]stubResult, tier string) (string, error) {
	if len(*queue) == 0 {
		return "", fmt.Errorf("no stubbed %s-tier response left", tier)
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r.raw, r.err
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func commRaw(text string, suggested models.ConversationState, risk string, factors ...string) string {
	return mustJSON(CommunicatorResponse{
		BaseResponse:   BaseResponse{Text: text, Reason: "scripted"},
		SuggestedState: suggested,
		RiskLevel:      risk,
		RiskFactors:    factors,
	})
}

func analysisRaw(text string, recommended models.ConversationState, risk string, plan []string, safety []string) string {
	return mustJSON(AnalysisResponse{
		BaseResponse:          BaseResponse{Text: text, Reason: "scripted"},
		RecommendedState:      recommended,
		RiskLevel:             risk,
		ActionPlan:            plan,
		SafetyRecommendations: safety,
	})
}

func finishRaw(text, summary string) string {
	return mustJSON(FinishingResponse{
		BaseResponse:    BaseResponse{Text: text, Reason: "scripted"},
		Summary:         summary,
		Recommendations: []string{"keep a daily journal"},
	})
}

// testHarness bundles an orchestrator with its collaborators for inspection.
type testHarness struct {
	orchestrator *Orchestrator
	store        *store.InMemoryStore
	manager      *tasks.Manager
	mock         *mockGenAI
}

func newTestHarness(mock *mockGenAI, cfg OrchestratorConfig) *testHarness {
	st := store.NewInMemoryStore()
	manager := tasks.NewManager(time.Minute)
	cfg.Risk.ScanWindow = 1 // keyword scan covers only the newest user turn
	orch := NewOrchestrator(st, NewCommunicator(mock, ""), NewAnalyst(mock, ""), manager, cfg)
	return &testHarness{orchestrator: orch, store: st, manager: manager, mock: mock}
}

// seedConversation creates and persists a conversation pre-shaped by mutate.
func (h *testHarness) seedConversation(userID string, mutate func(*models.ConversationContext)) *models.ConversationContext {
	conv, err := h.store.CreateConversation(userID)
	if err != nil {
		panic(err)
	}
	if mutate != nil {
		mutate(conv)
	}
	if err := h.store.SaveConversation(conv); err != nil {
		panic(err)
	}
	return conv
}

func (h *testHarness) loadConversation(userID string) *models.ConversationContext {
	conv, err := h.store.GetConversation(userID)
	if err != nil {
		panic(err)
	}
	return conv
}
