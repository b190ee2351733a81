// Package flow implements the CareFlow conversation orchestration core: the
// state machine, risk assessment, role clients, and the message pipeline.
package flow

import (
	"log/slog"

	"github.com/BridgeWell/CareFlow/internal/models"
)

// riskForcedStates maps risk levels to the state they force, overriding any
// role-suggested target. MEDIUM and LOW force nothing.
var riskForcedStates = map[models.RiskLevel]models.ConversationState{
	models.RiskCritical: models.StateDeepAnalysis,
	models.RiskHigh:     models.StatePendingAnalysis,
}

// legalSuccessors lists the ordinary transitions out of each state.
// ERROR_RECOVERY is handled separately: it is reachable from every state and
// can reach every state.
var legalSuccessors = map[models.ConversationState][]models.ConversationState{
	models.StateInitial: {
		models.StateGatheringInfo,
		models.StateAnalysisNeeded,
		models.StateSessionClosing,
	},
	models.StateGatheringInfo: {
		models.StateGatheringInfo,
		models.StateAnalysisNeeded,
		models.StatePendingAnalysis,
		models.StateGuidanceDelivery,
		models.StateSessionClosing,
	},
	models.StateAnalysisNeeded: {
		models.StatePendingAnalysis,
		models.StateDeepAnalysis,
		models.StateGatheringInfo,
	},
	models.StatePendingAnalysis: {
		models.StateDeepAnalysis,
		models.StateGuidanceDelivery,
		models.StateGatheringInfo,
	},
	models.StateDeepAnalysis: {
		models.StateGuidanceDelivery,
		models.StatePendingAnalysis,
		models.StateSessionClosing,
	},
	models.StateGuidanceDelivery: {
		models.StateGuidanceDelivery,
		models.StateGatheringInfo,
		models.StateAnalysisNeeded,
		models.StateSessionClosing,
	},
	// SESSION_CLOSING is terminal except through ERROR_RECOVERY.
	models.StateSessionClosing: {},
	models.StateErrorRecovery: {
		models.StateInitial,
		models.StateGatheringInfo,
		models.StateAnalysisNeeded,
		models.StatePendingAnalysis,
		models.StateDeepAnalysis,
		models.StateGuidanceDelivery,
		models.StateSessionClosing,
	},
}

// ForcedStateFor returns the state forced by the given risk level, if any.
func ForcedStateFor(risk models.RiskLevel) (models.ConversationState, bool) {
	s, ok := riskForcedStates[risk]
	return s, ok
}

// AttemptTransition decides whether moving the conversation to the suggested
// state is legal, applying the risk-forced override first. On success it
// mutates the context's state and risk and returns the transition record; an
// illegal move returns nil and leaves the context unchanged. This function
// never calls the generation service.
func AttemptTransition(conv *models.ConversationContext, suggested models.ConversationState, reason string, risk models.RiskLevel) *models.StateTransition {
	target := suggested
	forced := false
	if forcedState, ok := riskForcedStates[risk]; ok {
		target = forcedState
		forced = true
	}

	if target == conv.State {
		// Nothing to transition; an elevated risk posture is still recorded.
		if forced {
			conv.Risk = risk
		}
		return nil
	}

	legal := target == models.StateErrorRecovery || forced || isLegalSuccessor(conv.State, target)
	if !legal {
		slog.Debug("flow.AttemptTransition: illegal transition rejected",
			"userID", conv.UserID, "from", conv.State, "to", target, "risk", risk)
		return nil
	}

	transition := &models.StateTransition{
		From:         conv.State,
		To:           target,
		Reason:       reason,
		Risk:         risk,
		ForcedByRisk: forced,
	}
	conv.State = target
	conv.Risk = risk
	slog.Info("flow.AttemptTransition: state transition",
		"userID", conv.UserID, "from", transition.From, "to", transition.To, "risk", risk, "forced", forced)
	return transition
}

func isLegalSuccessor(from, to models.ConversationState) bool {
	for _, s := range legalSuccessors[from] {
		if s == to {
			return true
		}
	}
	return false
}
