package flow

import (
	"strings"

	"github.com/BridgeWell/CareFlow/internal/models"
)

// RiskConfig tunes local risk assessment. Zero values fall back to the
// defaults from DefaultRiskConfig.
type RiskConfig struct {
	// CriticalKeywords are substrings that mark a message as CRITICAL
	// regardless of what the generation service reported.
	CriticalKeywords []string
	// ScanWindow is how many recent user messages the keyword scan covers.
	ScanWindow int
	// FactorThreshold is the number of risk factors, accumulated across the
	// scan window plus the current report, at which the assessed level is
	// raised to at least HIGH.
	FactorThreshold int
	// DampingStep caps how many levels the risk may drop in a single turn.
	DampingStep int
}

// DefaultRiskConfig returns the assessment defaults used in production.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		CriticalKeywords: []string{
			"want to die",
			"kill myself",
			"end my life",
			"suicide",
			"no reason to live",
			"hurt myself",
			"better off without me",
		},
		ScanWindow:      3,
		FactorThreshold: 3,
		DampingStep:     1,
	}
}

func (c RiskConfig) withDefaults() RiskConfig {
	d := DefaultRiskConfig()
	if len(c.CriticalKeywords) == 0 {
		c.CriticalKeywords = d.CriticalKeywords
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = d.ScanWindow
	}
	if c.FactorThreshold <= 0 {
		c.FactorThreshold = d.FactorThreshold
	}
	if c.DampingStep <= 0 {
		c.DampingStep = d.DampingStep
	}
	return c
}

// AssessRisk combines the model-suggested level with local signals. Keyword
// hits in recent user messages escalate straight to CRITICAL, an accumulation
// of risk factors across the scan window raises the floor to HIGH, and the
// damping rule prevents the level from dropping more than DampingStep below
// the current level in one turn. Escalation is never damped.
func AssessRisk(conv *models.ConversationContext, suggested models.RiskLevel, riskFactors []string, cfg RiskConfig) models.RiskLevel {
	cfg = cfg.withDefaults()

	if scanForKeywords(conv.History, cfg.CriticalKeywords, cfg.ScanWindow) {
		return models.RiskCritical
	}

	assessed := suggested
	accumulated := len(riskFactors) + countRecentRiskFactors(conv.History, cfg.ScanWindow)
	if accumulated >= cfg.FactorThreshold && assessed.Ordinal() < models.RiskHigh.Ordinal() {
		assessed = models.RiskHigh
	}

	floor := conv.Risk.Ordinal() - cfg.DampingStep
	if assessed.Ordinal() < floor {
		assessed = models.RiskFromOrdinal(floor)
	}
	return assessed
}

// countRecentRiskFactors sums the risk factors recorded on the last window
// turns of any origin.
func countRecentRiskFactors(history []models.HistoryMessage, window int) int {
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	total := 0
	for _, m := range history[start:] {
		total += len(m.RiskFactors)
	}
	return total
}

// scanForKeywords checks the last window user messages for any of the given
// substrings, case-insensitively.
func scanForKeywords(history []models.HistoryMessage, keywords []string, window int) bool {
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < window; i-- {
		if history[i].Origin != models.OriginUser {
			continue
		}
		seen++
		text := strings.ToLower(history[i].Text)
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	return false
}
