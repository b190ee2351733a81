package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BridgeWell/CareFlow/internal/models"
)

func singleReply(t *testing.T, replies []string) string {
	t.Helper()
	if len(replies) != 1 {
		t.Fatalf("expected exactly one reply, got %d: %v", len(replies), replies)
	}
	return replies[0]
}

func TestProcessMessageNewConversation(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Welcome, I'm glad you reached out.", models.StateGatheringInfo, "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "Welcome, I'm glad you reached out." {
		t.Errorf("unexpected reply: %q", got)
	}

	conv := h.loadConversation("user1")
	if conv == nil {
		t.Fatal("conversation not persisted")
	}
	if conv.State != models.StateGatheringInfo {
		t.Errorf("expected state GATHERING_INFO, got %s", conv.State)
	}
	if len(conv.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(conv.History))
	}
	if conv.History[1].Transition == nil || conv.History[1].Transition.To != models.StateGatheringInfo {
		t.Errorf("reply turn should carry the transition, got %+v", conv.History[1].Transition)
	}
}

func TestProcessMessageValidation(t *testing.T) {
	h := newTestHarness(&mockGenAI{}, OrchestratorConfig{})

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "", Body: "hi"}); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: ""}); !errors.Is(err, models.ErrEmptyMessageBody) {
		t.Errorf("expected ErrEmptyMessageBody, got %v", err)
	}
	if conv := h.loadConversation("user1"); conv != nil {
		t.Error("invalid message should not create a conversation")
	}
}

func TestProcessMessageIllegalSuggestionIgnored(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Tell me more.", models.StateDeepAnalysis, "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "Tell me more." {
		t.Errorf("reply should still be delivered, got %q", got)
	}
	if conv := h.loadConversation("user1"); conv.State != models.StateInitial {
		t.Errorf("illegal suggestion should leave state at INITIAL, got %s", conv.State)
	}
}

func TestProcessMessageCriticalKeywordForcesDeepAnalysis(t *testing.T) {
	mock := &mockGenAI{
		low: []stubResult{
			{raw: commRaw("I'm so sorry you feel this way.", models.StateGatheringInfo, "LOW")},
			{raw: commRaw("You don't have to face this alone. Can we talk about who you could reach right now?", "", "CRITICAL")},
		},
		high: []stubResult{
			{raw: analysisRaw("serious self-harm risk", models.StateGuidanceDelivery, "CRITICAL",
				[]string{"contact crisis support"}, []string{"share the local crisis line"})},
		},
	}
	h := newTestHarness(mock, OrchestratorConfig{})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "I feel hopeless and want to die"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "You don't have to face this alone. Can we talk about who you could reach right now?" {
		t.Errorf("reply should come from the post-analysis turn, got %q", got)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateDeepAnalysis {
		t.Errorf("expected forced DEEP_ANALYSIS, got %s", conv.State)
	}
	if conv.Risk != models.RiskCritical {
		t.Errorf("expected CRITICAL risk, got %s", conv.Risk)
	}
	if conv.Guidance == nil || len(conv.Guidance.SafetyRecommendations) == 0 {
		t.Error("expected guidance with safety recommendations")
	}
	low, high := mock.counts()
	if high != 1 {
		t.Errorf("expected one synchronous analysis, got %d", high)
	}
	if low != 2 {
		t.Errorf("expected initial and follow-up communicator calls, got %d", low)
	}
}

func TestProcessMessageBlockedReturnsPlaceholderWithoutGeneration(t *testing.T) {
	h := newTestHarness(&mockGenAI{}, OrchestratorConfig{})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StatePendingAnalysis
		conv.AppendMessage(models.HistoryMessage{
			Origin: models.OriginAnalysis,
			Transition: &models.StateTransition{
				From: models.StateGatheringInfo,
				To:   models.StatePendingAnalysis,
				Risk: models.RiskMedium,
			},
		})
	})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "are you there?"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != shortPlaceholder {
		t.Errorf("expected short placeholder, got %q", got)
	}

	low, high := h.mock.counts()
	if low != 0 || high != 0 {
		t.Errorf("blocked turn must make zero generation calls, got low=%d high=%d", low, high)
	}
	if conv := h.loadConversation("user1"); !conv.Thinking {
		t.Error("expected Thinking flag set while blocked")
	}
}

func TestProcessMessageBlockedLongWaitUsesLongPlaceholder(t *testing.T) {
	h := newTestHarness(&mockGenAI{}, OrchestratorConfig{PlaceholderLongAfter: time.Nanosecond})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StatePendingAnalysis
		conv.AppendMessage(models.HistoryMessage{
			Origin:     models.OriginAnalysis,
			Timestamp:  time.Now().Add(-time.Minute),
			Transition: &models.StateTransition{From: models.StateGatheringInfo, To: models.StatePendingAnalysis},
		})
	})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "still waiting"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != longPlaceholder {
		t.Errorf("expected long placeholder, got %q", got)
	}
}

func TestProcessMessageAnalysisResultUnblocks(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Let's work through the plan together.", "", "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StatePendingAnalysis
		conv.AppendMessage(models.HistoryMessage{
			Origin:     models.OriginAnalysis,
			Transition: &models.StateTransition{From: models.StateGatheringInfo, To: models.StatePendingAnalysis},
		})
		conv.AppendMessage(models.HistoryMessage{
			Text:             "analysis complete",
			Origin:           models.OriginAnalysis,
			RecommendedState: models.StateGuidanceDelivery,
		})
	})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "ok"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "Let's work through the plan together." {
		t.Errorf("unexpected reply: %q", got)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateGuidanceDelivery {
		t.Errorf("expected GUIDANCE_DELIVERY after unblocking, got %s", conv.State)
	}
	if low, _ := mock.counts(); low != 1 {
		t.Errorf("expected one communicator call after unblocking, got %d", low)
	}
}

func TestProcessMessageStallForcesRecovery(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Sorry for the wait. Let's continue.", "", "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StatePendingAnalysis
		conv.AppendMessage(models.HistoryMessage{
			Origin:     models.OriginAnalysis,
			Timestamp:  time.Now().Add(-time.Hour),
			Transition: &models.StateTransition{From: models.StateGatheringInfo, To: models.StatePendingAnalysis},
		})
	})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hello?"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "Sorry for the wait. Let's continue." {
		t.Errorf("stalled conversation should get a real reply, got %q", got)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateGuidanceDelivery {
		t.Errorf("expected forced recovery to GUIDANCE_DELIVERY, got %s", conv.State)
	}
	if conv.LastAnalysisAt.IsZero() {
		t.Error("expected LastAnalysisAt refreshed by stall recovery")
	}
}

func TestProcessMessageStalledDeepAnalysisRecoversForward(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Thanks for your patience. Let's keep going.", "", "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StateDeepAnalysis
		conv.Risk = models.RiskMedium
		conv.AppendMessage(models.HistoryMessage{
			Origin:    models.OriginAnalysis,
			Timestamp: time.Now().Add(-time.Hour),
			Transition: &models.StateTransition{
				From: models.StatePendingAnalysis,
				To:   models.StateDeepAnalysis,
				Risk: models.RiskMedium,
			},
		})
	})

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hello?"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateGuidanceDelivery {
		t.Errorf("stalled deep analysis should recover forward to GUIDANCE_DELIVERY, got %s", conv.State)
	}
}

func TestProcessMessageUsesInboundTimestamp(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Good to hear from you.", models.StateGatheringInfo, "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})
	sent := time.Now().Add(-45 * time.Minute).Truncate(time.Second)

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hi", Time: sent.Unix()}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	conv := h.loadConversation("user1")
	if len(conv.History) == 0 || !conv.History[0].Timestamp.Equal(sent) {
		t.Errorf("user turn should carry the transport timestamp %v, got %v", sent, conv.History[0].Timestamp)
	}
}

func TestProcessMessageSessionClose(t *testing.T) {
	mock := &mockGenAI{
		low:  []stubResult{{raw: commRaw("It sounds like we're wrapping up.", models.StateSessionClosing, "LOW")}},
		high: []stubResult{{raw: finishRaw("Goodbye, take care of yourself.", "worked through a stressful week")}},
	}
	h := newTestHarness(mock, OrchestratorConfig{})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StateGatheringInfo
	})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "thanks, I'm good now"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "Goodbye, take care of yourself." {
		t.Errorf("expected wrap-up reply, got %q", got)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateSessionClosing || !conv.Ended {
		t.Errorf("expected ended session in SESSION_CLOSING, got state=%s ended=%v", conv.State, conv.Ended)
	}

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "one more thing"}); !errors.Is(err, models.ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded for ended session, got %v", err)
	}
}

func TestProcessMessageImmediateAnalysisRequest(t *testing.T) {
	mock := &mockGenAI{
		low: []stubResult{
			{raw: commRaw("Let me take a closer look.", models.StateAnalysisNeeded, "LOW")},
			{raw: commRaw("Here's what I suggest we try first.", "", "MEDIUM")},
		},
		high: []stubResult{
			{raw: analysisRaw("stress pattern identified", models.StateGuidanceDelivery, "MEDIUM",
				[]string{"short daily walks"}, nil)},
		},
	}
	h := newTestHarness(mock, OrchestratorConfig{})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StateGatheringInfo
	})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "work has been crushing me for months"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "Here's what I suggest we try first." {
		t.Errorf("expected post-analysis reply, got %q", got)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateGuidanceDelivery {
		t.Errorf("expected GUIDANCE_DELIVERY after synchronous analysis, got %s", conv.State)
	}
	if conv.Guidance == nil || conv.Guidance.ActionPlan == "" {
		t.Error("expected action plan recorded as active guidance")
	}
	if _, high := mock.counts(); high != 1 {
		t.Errorf("expected one synchronous analysis, got %d", high)
	}
}

func TestProcessMessageHighRiskRunsSynchronousAnalysis(t *testing.T) {
	mock := &mockGenAI{
		low: []stubResult{
			{raw: commRaw("I'm concerned about what you're describing.", models.StateGatheringInfo, "HIGH")},
			{raw: commRaw("Thank you for telling me. Here's a plan.", "", "MEDIUM")},
		},
		high: []stubResult{
			{raw: analysisRaw("elevated risk, guidance ready", models.StateGuidanceDelivery, "MEDIUM",
				[]string{"agree on a check-in routine"}, []string{"keep emergency contacts visible"})},
		},
	}
	h := newTestHarness(mock, OrchestratorConfig{})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "everything is falling apart"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if got := singleReply(t, replies); got != "Thank you for telling me. Here's a plan." {
		t.Errorf("reply should come from the post-analysis turn, got %q", got)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateGuidanceDelivery {
		t.Errorf("expected GUIDANCE_DELIVERY after synchronous analysis, got %s", conv.State)
	}
	if conv.Risk != models.RiskMedium {
		t.Errorf("expected risk damped to MEDIUM by the analysis, got %s", conv.Risk)
	}
	if conv.Guidance == nil || len(conv.Guidance.SafetyRecommendations) == 0 {
		t.Error("expected guidance with safety recommendations")
	}
	if len(conv.PendingTaskIDs) != 0 {
		t.Errorf("high risk must not defer to a background task, got %v", conv.PendingTaskIDs)
	}
	low, high := mock.counts()
	if high != 1 {
		t.Errorf("expected one synchronous analysis, got %d", high)
	}
	if low != 2 {
		t.Errorf("expected initial and follow-up communicator calls, got %d", low)
	}
}

func TestProcessMessageBackgroundTrigger(t *testing.T) {
	mock := &mockGenAI{
		low: []stubResult{
			{raw: commRaw("Tell me more about that.", "", "LOW")},
			{raw: commRaw("The plan above might help.", "", "LOW")},
		},
		high: []stubResult{
			{raw: analysisRaw("early picture formed", models.StateGuidanceDelivery, "LOW",
				[]string{"note one positive moment each evening"}, nil)},
		},
	}
	h := newTestHarness(mock, OrchestratorConfig{BackgroundEnabled: true, EarlyTurnThreshold: 1})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StateGatheringInfo
	})

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "lately I just feel flat"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	conv := h.loadConversation("user1")
	if len(conv.PendingTaskIDs) != 1 {
		t.Fatalf("expected one scheduled background task, got %d", len(conv.PendingTaskIDs))
	}
	if _, err := h.manager.WaitFor(context.Background(), conv.PendingTaskIDs[0], 2*time.Second); err != nil {
		t.Fatalf("background analysis did not finish: %v", err)
	}

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "what do you think?"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	conv = h.loadConversation("user1")
	if conv.State != models.StateGuidanceDelivery {
		t.Errorf("expected GUIDANCE_DELIVERY after harvest, got %s", conv.State)
	}
	if conv.Guidance == nil {
		t.Error("expected active guidance after harvest")
	}
}

func TestProcessMessageEarlyConversationSchedulesBackground(t *testing.T) {
	mock := &mockGenAI{
		low: []stubResult{
			{raw: commRaw("Tell me more about that.", "", "LOW")},
		},
		high: []stubResult{
			{raw: analysisRaw("first picture formed", models.StateGuidanceDelivery, "LOW",
				[]string{"keep a short daily journal"}, nil)},
		},
	}
	h := newTestHarness(mock, OrchestratorConfig{BackgroundEnabled: true})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StateGatheringInfo
	})

	// A single user turn is well below the default threshold; the turn must
	// still schedule an analysis.
	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "I haven't been sleeping"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	conv := h.loadConversation("user1")
	if len(conv.PendingTaskIDs) != 1 {
		t.Fatalf("expected a background analysis on an early turn, got %d tasks", len(conv.PendingTaskIDs))
	}
}

func TestShouldScheduleBackgroundPolicy(t *testing.T) {
	base := func() *models.ConversationContext {
		conv := models.NewConversationContext("user1")
		conv.State = models.StateGuidanceDelivery
		conv.Guidance = &models.ActiveGuidance{ActionPlan: "step one", CurrentStep: 1}
		conv.LastAnalysisAt = time.Now().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			conv.AppendMessage(models.HistoryMessage{Text: "turn", Origin: models.OriginUser})
		}
		return conv
	}

	cases := []struct {
		name string
		conv func() *models.ConversationContext
		resp *CommunicatorResponse
		want bool
	}{
		{
			name: "no signal past threshold",
			conv: base,
			resp: &CommunicatorResponse{},
			want: false,
		},
		{
			name: "blocking analysis state always triggers",
			conv: func() *models.ConversationContext {
				conv := base()
				conv.State = models.StatePendingAnalysis
				conv.LastAnalysisAt = time.Now()
				return conv
			},
			resp: &CommunicatorResponse{},
			want: true,
		},
		{
			name: "early turns trigger without other signals",
			conv: func() *models.ConversationContext {
				conv := base()
				conv.History = conv.History[:1]
				conv.LastAnalysisAt = time.Time{}
				return conv
			},
			resp: &CommunicatorResponse{},
			want: true,
		},
		{
			name: "early turns respect the short cooldown",
			conv: func() *models.ConversationContext {
				conv := base()
				conv.History = conv.History[:1]
				conv.LastAnalysisAt = time.Now()
				return conv
			},
			resp: &CommunicatorResponse{},
			want: false,
		},
		{
			name: "suggested analysis state",
			conv: base,
			resp: &CommunicatorResponse{SuggestedState: models.StateAnalysisNeeded},
			want: true,
		},
		{
			name: "low engagement",
			conv: base,
			resp: &CommunicatorResponse{Engagement: "low"},
			want: true,
		},
		{
			name: "risk factors reported",
			conv: base,
			resp: &CommunicatorResponse{RiskFactors: []string{"isolation"}},
			want: true,
		},
		{
			name: "gathering info state",
			conv: func() *models.ConversationContext {
				conv := base()
				conv.State = models.StateGatheringInfo
				return conv
			},
			resp: &CommunicatorResponse{},
			want: true,
		},
		{
			name: "no action plan yet",
			conv: func() *models.ConversationContext {
				conv := base()
				conv.Guidance = nil
				return conv
			},
			resp: &CommunicatorResponse{},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHarness(&mockGenAI{}, OrchestratorConfig{BackgroundEnabled: true, EarlyTurnThreshold: 3})
			if got := h.orchestrator.shouldScheduleBackground(tc.conv(), tc.resp, models.RiskLow); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestProcessMessageBackgroundTaskCapRespected(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Go on.", "", "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{BackgroundEnabled: true, EarlyTurnThreshold: 1, MaxBackgroundTasks: 1})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		conv.State = models.StateGatheringInfo
	})

	block := make(chan struct{})
	defer close(block)
	h.manager.Schedule(models.TaskTypeAnalysis, "user1", func(ctx context.Context) (any, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, nil
	})

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "more and more worries"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if conv := h.loadConversation("user1"); len(conv.PendingTaskIDs) != 0 {
		t.Errorf("task cap should prevent scheduling, got %v", conv.PendingTaskIDs)
	}
	if n := h.manager.RunningCountFor("user1"); n != 1 {
		t.Errorf("expected exactly the pre-existing task running, got %d", n)
	}
}

func TestProcessMessageErrorRecovery(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{err: errors.New("generation backend down")},
		{raw: commRaw("I'm sorry, something went wrong on my side. I'm still here.", "", "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hello"})
	if err != nil {
		t.Fatalf("expected recovered turn, got error: %v", err)
	}
	if got := singleReply(t, replies); got != "I'm sorry, something went wrong on my side. I'm still here." {
		t.Errorf("unexpected recovery reply: %q", got)
	}
	if conv := h.loadConversation("user1"); conv.State != models.StateErrorRecovery {
		t.Errorf("expected ERROR_RECOVERY, got %s", conv.State)
	}
}

func TestProcessMessageRecoveryFailurePropagates(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{err: errors.New("backend down")},
		{err: errors.New("backend still down")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hello"}); err == nil {
		t.Fatal("expected error when recovery itself fails")
	}

	// The user turn must survive the failure.
	conv := h.loadConversation("user1")
	if conv == nil || len(conv.History) == 0 || conv.History[0].Text != "hello" {
		t.Fatal("user turn lost after failed recovery")
	}
	if conv.State != models.StateErrorRecovery {
		t.Errorf("expected ERROR_RECOVERY persisted, got %s", conv.State)
	}
}

func TestProcessMessageResyncsDriftedState(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Picking up where we left off.", "", "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})
	h.seedConversation("user1", func(conv *models.ConversationContext) {
		// State field disagrees with the recorded transition history.
		conv.State = models.StateInitial
		conv.AppendMessage(models.HistoryMessage{
			Origin:     models.OriginAnalysis,
			Transition: &models.StateTransition{From: models.StateInitial, To: models.StateGatheringInfo, Risk: models.RiskMedium},
		})
	})

	if _, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hi again"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	conv := h.loadConversation("user1")
	if conv.State != models.StateGatheringInfo {
		t.Errorf("expected state resynced to GATHERING_INFO, got %s", conv.State)
	}
}

type recordingSender struct {
	userID string
	texts  []string
	calls  int
}

func (s *recordingSender) SendReplies(_ context.Context, userID string, texts []string) error {
	s.userID = userID
	s.texts = texts
	s.calls++
	return nil
}

func TestProcessMessageInvokesReplySender(t *testing.T) {
	mock := &mockGenAI{low: []stubResult{
		{raw: commRaw("Thanks for sharing that.", models.StateGatheringInfo, "LOW")},
	}}
	h := newTestHarness(mock, OrchestratorConfig{})
	sender := &recordingSender{}
	h.orchestrator.SetReplySender(sender)

	replies, err := h.orchestrator.ProcessMessage(context.Background(), models.IncomingMessage{UserID: "user1", Body: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected one delivery, got %d", sender.calls)
	}
	if sender.userID != "user1" {
		t.Errorf("delivery addressed to %q", sender.userID)
	}
	if len(sender.texts) != len(replies) || sender.texts[0] != replies[0] {
		t.Errorf("delivered texts %v do not match returned replies %v", sender.texts, replies)
	}
}
