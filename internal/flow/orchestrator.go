package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BridgeWell/CareFlow/internal/models"
	"github.com/BridgeWell/CareFlow/internal/store"
	"github.com/BridgeWell/CareFlow/internal/tasks"
	"github.com/BridgeWell/CareFlow/internal/tone"
)

// Default orchestration tunables.
const (
	DefaultStallTimeout       = 3 * time.Minute
	DefaultPlaceholderLong    = 20 * time.Second
	DefaultMaxBackgroundTasks = 2
	DefaultEarlyTurnThreshold = 4
	DefaultShortCooldown      = 2 * time.Minute
	DefaultLongCooldown       = 10 * time.Minute
)

// Placeholder replies returned while the conversation is blocked on an
// analysis. No generation call is made for these.
const (
	shortPlaceholder = "I'm taking a moment to think carefully about what you've shared. I'll be right with you."
	longPlaceholder  = "I'm still reflecting on everything you've told me. It's taking a little longer than usual, but I haven't forgotten you."
)

// OrchestratorConfig tunes the message pipeline. Zero values fall back to the
// package defaults.
type OrchestratorConfig struct {
	// StallTimeout is how long a blocking state may wait for analysis
	// before the orchestrator force-recovers.
	StallTimeout time.Duration
	// PlaceholderLongAfter selects the long placeholder variant once a
	// blocking wait has exceeded it.
	PlaceholderLongAfter time.Duration
	// MaxBackgroundTasks caps concurrently running background tasks per
	// conversation.
	MaxBackgroundTasks int
	// EarlyTurnThreshold is the number of user turns before background
	// analysis may be scheduled.
	EarlyTurnThreshold int
	// ShortCooldown and LongCooldown gate how often background analysis
	// runs, with the short window applying at elevated risk.
	ShortCooldown time.Duration
	LongCooldown  time.Duration
	// BackgroundEnabled toggles proactive background analysis.
	BackgroundEnabled bool
	// Risk configures local risk assessment.
	Risk RiskConfig
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.PlaceholderLongAfter <= 0 {
		c.PlaceholderLongAfter = DefaultPlaceholderLong
	}
	if c.MaxBackgroundTasks <= 0 {
		c.MaxBackgroundTasks = DefaultMaxBackgroundTasks
	}
	if c.EarlyTurnThreshold <= 0 {
		c.EarlyTurnThreshold = DefaultEarlyTurnThreshold
	}
	if c.ShortCooldown <= 0 {
		c.ShortCooldown = DefaultShortCooldown
	}
	if c.LongCooldown <= 0 {
		c.LongCooldown = DefaultLongCooldown
	}
	return c
}

// ReplySender delivers ordered reply texts to the user's transport. The
// HTTP API returns replies synchronously; push transports implement this to
// receive them as well.
type ReplySender interface {
	SendReplies(ctx context.Context, userID string, texts []string) error
}

// Orchestrator drives one conversation turn end to end: it loads the
// context, runs the state machine and role clients, persists the result, and
// returns the reply texts. Conversations are processed one turn at a time;
// the store is the only shared state between turns.
type Orchestrator struct {
	store        store.Store
	communicator *Communicator
	analyst      *Analyst
	tasks        *tasks.Manager
	replySender  ReplySender // optional
	cfg          OrchestratorConfig
}

// NewOrchestrator wires the orchestrator. All dependencies are required.
func NewOrchestrator(st store.Store, communicator *Communicator, analyst *Analyst, taskManager *tasks.Manager, cfg OrchestratorConfig) *Orchestrator {
	cfg = cfg.withDefaults()
	slog.Debug("flow.NewOrchestrator: creating orchestrator",
		"hasStore", st != nil, "hasCommunicator", communicator != nil, "hasAnalyst", analyst != nil,
		"backgroundEnabled", cfg.BackgroundEnabled, "maxBackgroundTasks", cfg.MaxBackgroundTasks)
	return &Orchestrator{
		store:        st,
		communicator: communicator,
		analyst:      analyst,
		tasks:        taskManager,
		cfg:          cfg,
	}
}

// TaskManager exposes the background task manager for sweep scheduling.
func (o *Orchestrator) TaskManager() *tasks.Manager {
	return o.tasks
}

// SetReplySender attaches an outbound reply sink. Replies are still returned
// to the caller either way.
func (o *Orchestrator) SetReplySender(sender ReplySender) {
	o.replySender = sender
}

// ProcessMessage runs one full turn for the user's message and returns the
// ordered reply texts. The user turn is persisted before any processing so
// it is never lost; a processing failure still ends with a saved
// conversation in ERROR_RECOVERY and an apologetic reply.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg models.IncomingMessage) ([]string, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	conv, err := o.store.GetConversation(msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		conv, err = o.store.CreateConversation(msg.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		slog.Info("flow.ProcessMessage: new conversation", "userID", msg.UserID)
	}
	if conv.Ended {
		return nil, models.ErrSessionEnded
	}

	userTurn := models.HistoryMessage{Text: msg.Body, Origin: models.OriginUser}
	if msg.Time > 0 {
		userTurn.Timestamp = time.Unix(msg.Time, 0)
	}
	conv.AppendMessage(userTurn)
	if err := o.store.SaveConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}

	reply, err := o.processTurn(ctx, conv)
	if err != nil {
		reply, err = o.recoverFromFailure(ctx, conv, err)
	}

	if saveErr := o.store.SaveConversation(conv); saveErr != nil {
		slog.Error("flow.ProcessMessage: failed to persist conversation", "userID", conv.UserID, "error", saveErr)
		if err == nil {
			err = fmt.Errorf("failed to persist conversation: %w", saveErr)
		}
	}
	if err != nil {
		return nil, err
	}

	var replies []string
	if reply != "" {
		replies = append(replies, reply)
	}
	if o.replySender != nil && len(replies) > 0 {
		if sendErr := o.replySender.SendReplies(ctx, conv.UserID, replies); sendErr != nil {
			slog.Error("flow.ProcessMessage: reply delivery failed", "userID", conv.UserID, "error", sendErr)
		}
	}
	return replies, nil
}

// processTurn is the turn pipeline proper. It mutates conv but never
// persists; the caller saves.
func (o *Orchestrator) processTurn(ctx context.Context, conv *models.ConversationContext) (string, error) {
	o.resyncState(conv)
	o.recoverFromStall(conv)

	if conv.State.IsBlocking() {
		if reply, blocked := o.checkBlocked(conv); blocked {
			return reply, nil
		}
	}

	o.harvestBackgroundTasks(conv)

	resp, err := o.communicator.Respond(ctx, conv, "")
	if err != nil {
		return "", err
	}

	assessed := AssessRisk(conv, resp.Risk(), resp.RiskFactors, o.cfg.Risk)

	switch {
	case assessed.Ordinal() >= models.RiskHigh.Ordinal():
		return o.handleElevatedRisk(ctx, conv, resp, assessed)
	case resp.SuggestedState == models.StateSessionClosing:
		return o.handleSessionClose(ctx, conv, resp, assessed)
	case resp.SuggestedState == models.StateAnalysisNeeded || resp.SuggestedState == models.StatePendingAnalysis:
		return o.handleImmediateAnalysis(ctx, conv, resp, assessed)
	default:
		return o.handleRegularTurn(conv, resp, assessed)
	}
}

// resyncState realigns the in-memory state with the most recent transition
// recorded in history. The two can drift apart only after a partial save, so
// a mismatch is logged loudly.
func (o *Orchestrator) resyncState(conv *models.ConversationContext) {
	lt := LastTransition(conv.History)
	if lt == nil || conv.State == lt.To {
		return
	}
	slog.Warn("flow.Orchestrator.resyncState: state drifted from history, resyncing",
		"userID", conv.UserID, "state", conv.State, "lastTransitionTo", lt.To)
	conv.State = lt.To
	conv.Risk = lt.Risk
}

// recoverFromStall force-exits a blocking state that has waited on analysis
// past the stall timeout. Recovery first tries the forward path to
// GUIDANCE_DELIVERY and falls back to ERROR_RECOVERY when that transition is
// rejected.
func (o *Orchestrator) recoverFromStall(conv *models.ConversationContext) {
	if !conv.State.IsBlocking() {
		return
	}
	waitedSince := o.blockingSince(conv)
	if time.Since(waitedSince) <= o.cfg.StallTimeout {
		return
	}

	slog.Warn("flow.Orchestrator.recoverFromStall: blocking state stalled, forcing recovery",
		"userID", conv.UserID, "state", conv.State, "waitedSince", waitedSince)

	t := AttemptTransition(conv, models.StateGuidanceDelivery, "analysis stalled past timeout", conv.Risk)
	if t == nil {
		t = AttemptTransition(conv, models.StateErrorRecovery, "analysis stalled past timeout", conv.Risk)
	}
	if t != nil {
		o.recordTransition(conv, t)
	}
	conv.LastAnalysisAt = time.Now()
	conv.Thinking = false
}

// blockingSince returns when the conversation entered its current blocking
// state, falling back to the last update time when no transition marker is
// found.
func (o *Orchestrator) blockingSince(conv *models.ConversationContext) time.Time {
	if entry := LastTransitionTo(conv.History, conv.State); entry != nil {
		return entry.Timestamp
	}
	return conv.UpdatedAt
}

// checkBlocked handles a turn arriving while the conversation is blocked on
// analysis. If an analysis result has landed since the block began, its
// recommendation is applied and the turn proceeds normally; otherwise a
// placeholder is returned with zero generation calls.
func (o *Orchestrator) checkBlocked(conv *models.ConversationContext) (string, bool) {
	blockedAt := IndexOfLast(conv.History, func(m models.HistoryMessage) bool {
		return m.Transition != nil && m.Transition.To == conv.State
	})

	if analysis := AnalysisAfter(conv.History, blockedAt); analysis != nil {
		slog.Debug("flow.Orchestrator.checkBlocked: analysis landed, unblocking",
			"userID", conv.UserID, "recommendedState", analysis.RecommendedState)
		if t := AttemptTransition(conv, analysis.RecommendedState, "applying completed analysis", conv.Risk); t != nil {
			o.recordTransition(conv, t)
		}
		conv.Thinking = false
		return "", false
	}

	// Harvest may have finished between turns; check before answering with
	// a placeholder.
	if o.harvestBackgroundTasks(conv) {
		if analysis := AnalysisAfter(conv.History, blockedAt); analysis != nil {
			conv.Thinking = false
			return "", false
		}
	}

	waited := time.Since(o.blockingSince(conv))
	reply := shortPlaceholder
	if waited > o.cfg.PlaceholderLongAfter {
		reply = longPlaceholder
	}
	slog.Debug("flow.Orchestrator.checkBlocked: still blocked, returning placeholder",
		"userID", conv.UserID, "state", conv.State, "waited", waited)
	conv.Thinking = true
	return reply, true
}

// harvestBackgroundTasks folds finished background analyses into the
// conversation and reports whether anything was applied.
func (o *Orchestrator) harvestBackgroundTasks(conv *models.ConversationContext) bool {
	if o.tasks == nil {
		return false
	}
	applied := false
	for _, task := range o.tasks.CompletedFor(conv.UserID) {
		if analysis, ok := task.Result.(*AnalysisResponse); ok {
			slog.Info("flow.Orchestrator.harvestBackgroundTasks: applying background analysis",
				"userID", conv.UserID, "taskID", task.ID, "recommendedState", analysis.RecommendedState)
			o.applyAnalysis(conv, analysis)
			applied = true
		}
		conv.RemovePendingTask(task.ID)
		o.tasks.Remove(task.ID)
	}
	// Failed tasks are dropped; the sweep handles stragglers.
	for _, task := range o.tasks.TasksFor(conv.UserID) {
		if task.Status == models.TaskStatusFailed {
			slog.Warn("flow.Orchestrator.harvestBackgroundTasks: background task failed",
				"userID", conv.UserID, "taskID", task.ID, "error", task.Err)
			conv.RemovePendingTask(task.ID)
			o.tasks.Remove(task.ID)
		}
	}
	return applied
}

// handleElevatedRisk runs the risk-forced path synchronously for HIGH and
// CRITICAL assessments: the forced transition, an immediate high-tier
// analysis stored as an internal turn, and a regenerated reply that reflects
// the analysis outcome.
func (o *Orchestrator) handleElevatedRisk(ctx context.Context, conv *models.ConversationContext, resp *CommunicatorResponse, assessed models.RiskLevel) (string, error) {
	slog.Warn("flow.Orchestrator.handleElevatedRisk: elevated risk detected",
		"userID", conv.UserID, "state", conv.State, "risk", assessed)

	if t := AttemptTransition(conv, resp.SuggestedState, "elevated risk detected", assessed); t != nil {
		o.recordTransition(conv, t)
	} else {
		conv.Risk = assessed
	}

	analysis, err := o.analyst.Analyze(ctx, conv)
	if err != nil {
		return "", fmt.Errorf("risk-path analysis failed: %w", err)
	}
	o.applyAnalysis(conv, analysis)

	instruction := concernInstruction(analysis)
	if assessed == models.RiskCritical {
		instruction = safetyInstruction(analysis)
	}
	followUp, err := o.communicator.Respond(ctx, conv, instruction)
	if err != nil {
		return "", fmt.Errorf("risk-path reply failed: %w", err)
	}
	o.appendCommunicatorTurn(conv, followUp, assessed)
	return followUp.Text, nil
}

// handleSessionClose runs the wrap-up generation and ends the session.
func (o *Orchestrator) handleSessionClose(ctx context.Context, conv *models.ConversationContext, resp *CommunicatorResponse, assessed models.RiskLevel) (string, error) {
	t := AttemptTransition(conv, models.StateSessionClosing, resp.Reason, assessed)
	if t == nil {
		// Closing is not reachable from here; treat as a regular turn.
		return o.handleRegularTurn(conv, resp, assessed)
	}
	o.recordTransition(conv, t)

	finishing, err := o.analyst.Finish(ctx, conv)
	if err != nil {
		return "", fmt.Errorf("session wrap-up failed: %w", err)
	}
	if finishing.Summary != "" {
		conv.AppendMessage(models.HistoryMessage{
			Text:   finishing.Summary,
			Origin: models.OriginAnalysis,
		})
	}
	conv.AppendMessage(models.HistoryMessage{
		Text:         finishing.Text,
		Origin:       models.OriginCommunicator,
		DetectedRisk: assessed,
	})
	conv.Ended = true
	slog.Info("flow.Orchestrator.handleSessionClose: session ended",
		"userID", conv.UserID, "userTurns", conv.UserTurnCount(), "recommendations", len(finishing.Recommendations))
	return finishing.Text, nil
}

// handleImmediateAnalysis runs the analysis synchronously when the
// communicator asks for it, then generates a follow-up reply grounded in the
// analysis outcome.
func (o *Orchestrator) handleImmediateAnalysis(ctx context.Context, conv *models.ConversationContext, resp *CommunicatorResponse, assessed models.RiskLevel) (string, error) {
	if t := AttemptTransition(conv, models.StatePendingAnalysis, resp.Reason, assessed); t != nil {
		o.recordTransition(conv, t)
	}

	analysis, err := o.analyst.Analyze(ctx, conv)
	if err != nil {
		return "", fmt.Errorf("requested analysis failed: %w", err)
	}
	o.applyAnalysis(conv, analysis)

	followUp, err := o.communicator.Respond(ctx, conv, "The analysis above just completed. Weave its guidance naturally into your next reply.")
	if err != nil {
		return "", fmt.Errorf("post-analysis reply failed: %w", err)
	}
	o.appendCommunicatorTurn(conv, followUp, assessed)
	return followUp.Text, nil
}

// handleRegularTurn applies the suggested transition, advances guidance, and
// schedules background analysis when the trigger policy allows it.
func (o *Orchestrator) handleRegularTurn(conv *models.ConversationContext, resp *CommunicatorResponse, assessed models.RiskLevel) (string, error) {
	appended := false
	if resp.SuggestedState != "" {
		if t := AttemptTransition(conv, resp.SuggestedState, resp.Reason, assessed); t != nil {
			o.appendCommunicatorTurnWithTransition(conv, resp, assessed, t)
			appended = true
		}
	}
	conv.Risk = assessed

	if resp.GuidanceStepProgress != "" && conv.Guidance != nil {
		conv.Guidance.StepProgress = resp.GuidanceStepProgress
		conv.Guidance.CurrentStep++
		conv.Guidance.UpdatedAt = time.Now()
	}

	if o.shouldScheduleBackground(conv, resp, assessed) {
		o.scheduleBackgroundAnalysis(conv, "periodic background analysis")
	}

	if !appended {
		o.appendCommunicatorTurn(conv, resp, assessed)
	}
	return resp.Text, nil
}

// recoverFromFailure is the last resort after a pipeline error: force
// ERROR_RECOVERY and ask the communicator for an apologetic reply. A failure
// of that final call propagates to the caller.
func (o *Orchestrator) recoverFromFailure(ctx context.Context, conv *models.ConversationContext, cause error) (string, error) {
	slog.Error("flow.Orchestrator.recoverFromFailure: turn failed, entering error recovery",
		"userID", conv.UserID, "state", conv.State, "error", cause)

	if t := AttemptTransition(conv, models.StateErrorRecovery, "turn processing failed", conv.Risk); t != nil {
		o.recordTransition(conv, t)
	}

	resp, err := o.communicator.Respond(ctx, conv,
		"Something went wrong on our side while processing the last message. Apologize briefly, reassure the person, and invite them to continue.")
	if err != nil {
		return "", fmt.Errorf("error recovery failed after %v: %w", cause, err)
	}
	o.appendCommunicatorTurn(conv, resp, conv.Risk)
	return resp.Text, nil
}

// applyAnalysis folds one analysis result into the conversation: risk,
// guidance, the analysis history turn, and the recommended transition.
func (o *Orchestrator) applyAnalysis(conv *models.ConversationContext, analysis *AnalysisResponse) {
	assessed := AssessRisk(conv, analysis.Risk(), analysis.RiskFactors, o.cfg.Risk)

	if len(analysis.ActionPlan) > 0 {
		conv.Guidance = &models.ActiveGuidance{
			ActionPlan:            strings.Join(analysis.ActionPlan, "\n"),
			CurrentStep:           1,
			SafetyRecommendations: analysis.SafetyRecommendations,
			UpdatedAt:             time.Now(),
		}
	} else if conv.Guidance != nil && len(analysis.SafetyRecommendations) > 0 {
		conv.Guidance.SafetyRecommendations = analysis.SafetyRecommendations
		conv.Guidance.UpdatedAt = time.Now()
	}

	recommended := analysis.RecommendedState
	if recommended == "" {
		recommended = models.StateGuidanceDelivery
	}
	transition := AttemptTransition(conv, recommended, analysis.Reason, assessed)
	if transition == nil {
		conv.Risk = assessed
	}

	conv.AppendMessage(models.HistoryMessage{
		Text:             analysis.Text,
		Origin:           models.OriginAnalysis,
		DetectedRisk:     assessed,
		RiskFactors:      analysis.RiskFactors,
		RecommendedState: recommended,
		Transition:       transition,
	})
	conv.LastAnalysisAt = time.Now()
	conv.Thinking = false
}

// shouldScheduleBackground is the trigger policy for proactive analysis.
// Early conversations trigger aggressively on the short cooldown; afterwards
// a trigger needs the long cooldown elapsed plus at least one signal that
// more analysis would help.
func (o *Orchestrator) shouldScheduleBackground(conv *models.ConversationContext, resp *CommunicatorResponse, risk models.RiskLevel) bool {
	if !o.cfg.BackgroundEnabled || o.tasks == nil {
		return false
	}
	if o.tasks.RunningCountFor(conv.UserID) >= o.cfg.MaxBackgroundTasks {
		slog.Debug("flow.Orchestrator.shouldScheduleBackground: task cap reached", "userID", conv.UserID)
		return false
	}
	if conv.State == models.StatePendingAnalysis {
		return true
	}

	cooldownOver := func(d time.Duration) bool {
		return conv.LastAnalysisAt.IsZero() || time.Since(conv.LastAnalysisAt) > d
	}
	if conv.UserTurnCount() < o.cfg.EarlyTurnThreshold {
		return cooldownOver(o.cfg.ShortCooldown)
	}
	cooldown := o.cfg.LongCooldown
	// Elevated risk or a deteriorating emotional trend shortens the gap.
	if risk.Ordinal() >= models.RiskMedium.Ordinal() || tone.NegativeTrend(conv.History) >= 0.6 {
		cooldown = o.cfg.ShortCooldown
	}
	if !cooldownOver(cooldown) {
		return false
	}
	switch {
	case resp.SuggestedState == models.StateAnalysisNeeded:
		return true
	case strings.EqualFold(resp.Engagement, "low"):
		return true
	case len(resp.RiskFactors) > 0:
		return true
	case conv.State == models.StateGatheringInfo:
		return true
	case conv.Guidance == nil:
		return true
	}
	return false
}

// scheduleBackgroundAnalysis snapshots the conversation and hands it to the
// task manager. The snapshot isolates the running analysis from further
// mutation of the live context.
func (o *Orchestrator) scheduleBackgroundAnalysis(conv *models.ConversationContext, reason string) {
	if o.tasks == nil {
		return
	}
	if o.tasks.RunningCountFor(conv.UserID) >= o.cfg.MaxBackgroundTasks {
		slog.Debug("flow.Orchestrator.scheduleBackgroundAnalysis: task cap reached, skipping",
			"userID", conv.UserID, "reason", reason)
		return
	}

	snapshot, err := snapshotConversation(conv)
	if err != nil {
		slog.Error("flow.Orchestrator.scheduleBackgroundAnalysis: snapshot failed", "userID", conv.UserID, "error", err)
		return
	}

	taskID := o.tasks.Schedule(models.TaskTypeAnalysis, conv.UserID, func(ctx context.Context) (any, error) {
		return o.analyst.Analyze(ctx, snapshot)
	})
	conv.AddPendingTask(taskID)
	slog.Info("flow.Orchestrator.scheduleBackgroundAnalysis: scheduled",
		"userID", conv.UserID, "taskID", taskID, "reason", reason)
}

// appendCommunicatorTurn records a delivered reply in history. The reported
// emotional tone is validated against the tone whitelist before persisting.
func (o *Orchestrator) appendCommunicatorTurn(conv *models.ConversationContext, resp *CommunicatorResponse, risk models.RiskLevel) {
	conv.AppendMessage(models.HistoryMessage{
		Text:          resp.Text,
		Origin:        models.OriginCommunicator,
		DetectedRisk:  risk,
		EmotionalTone: tone.Normalize(resp.EmotionalTone),
		RiskFactors:   resp.RiskFactors,
	})
}

// appendCommunicatorTurnWithTransition records a delivered reply that also
// carries the turn's state transition.
func (o *Orchestrator) appendCommunicatorTurnWithTransition(conv *models.ConversationContext, resp *CommunicatorResponse, risk models.RiskLevel, t *models.StateTransition) {
	conv.AppendMessage(models.HistoryMessage{
		Text:          resp.Text,
		Origin:        models.OriginCommunicator,
		DetectedRisk:  risk,
		EmotionalTone: tone.Normalize(resp.EmotionalTone),
		RiskFactors:   resp.RiskFactors,
		Transition:    t,
	})
}

// recordTransition appends a bare transition marker so that history always
// reflects the current state.
func (o *Orchestrator) recordTransition(conv *models.ConversationContext, t *models.StateTransition) {
	conv.AppendMessage(models.HistoryMessage{
		Origin:     models.OriginAnalysis,
		Transition: t,
	})
}

// safetyInstruction builds the steering message for the reply that follows a
// critical-risk analysis.
func safetyInstruction(analysis *AnalysisResponse) string {
	var b strings.Builder
	b.WriteString("The person may be at serious risk. Respond with warmth and care, encourage reaching out to a crisis line or a trusted person, and do not leave them alone with the feeling.")
	if len(analysis.SafetyRecommendations) > 0 {
		b.WriteString(" Work in these safety recommendations: ")
		b.WriteString(strings.Join(analysis.SafetyRecommendations, "; "))
		b.WriteString(".")
	}
	return b.String()
}

// concernInstruction is the milder variant used after a high-risk analysis.
func concernInstruction(analysis *AnalysisResponse) string {
	var b strings.Builder
	b.WriteString("An elevated level of distress was just assessed. Acknowledge it gently, keep a steady and caring tone, and start guiding the person toward the plan above.")
	if len(analysis.SafetyRecommendations) > 0 {
		b.WriteString(" Keep these safety recommendations in mind: ")
		b.WriteString(strings.Join(analysis.SafetyRecommendations, "; "))
		b.WriteString(".")
	}
	return b.String()
}

// snapshotConversation deep-copies a conversation via its JSON form.
func snapshotConversation(conv *models.ConversationContext) (*models.ConversationContext, error) {
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot conversation: %w", err)
	}
	var snapshot models.ConversationContext
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to restore conversation snapshot: %w", err)
	}
	return &snapshot, nil
}
