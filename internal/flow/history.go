package flow

import "github.com/BridgeWell/CareFlow/internal/models"

// FindLast returns the last history entry matching the predicate, or nil.
func FindLast(history []models.HistoryMessage, match func(models.HistoryMessage) bool) *models.HistoryMessage {
	for i := len(history) - 1; i >= 0; i-- {
		if match(history[i]) {
			return &history[i]
		}
	}
	return nil
}

// IndexOfLast returns the index of the last matching entry, or -1.
func IndexOfLast(history []models.HistoryMessage, match func(models.HistoryMessage) bool) int {
	for i := len(history) - 1; i >= 0; i-- {
		if match(history[i]) {
			return i
		}
	}
	return -1
}

// LastTransition returns the most recent transition recorded in history, or
// nil when none has happened yet.
func LastTransition(history []models.HistoryMessage) *models.StateTransition {
	entry := FindLast(history, func(m models.HistoryMessage) bool {
		return m.Transition != nil
	})
	if entry == nil {
		return nil
	}
	return entry.Transition
}

// LastTransitionTo returns the most recent transition whose target is the
// given state, or nil.
func LastTransitionTo(history []models.HistoryMessage, state models.ConversationState) *models.HistoryMessage {
	return FindLast(history, func(m models.HistoryMessage) bool {
		return m.Transition != nil && m.Transition.To == state
	})
}

// AnalysisAfter reports whether an analysis turn was appended strictly after
// the given index.
func AnalysisAfter(history []models.HistoryMessage, idx int) *models.HistoryMessage {
	for i := idx + 1; i < len(history); i++ {
		if history[i].IsAnalysisTurn() {
			return &history[i]
		}
	}
	return nil
}
