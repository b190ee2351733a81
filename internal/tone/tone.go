// Package tone provides a fixed whitelist of emotional tone tags, validation
// of model-reported tones, and EMA-based trend smoothing over a conversation.
package tone

import (
	"strings"

	"github.com/BridgeWell/CareFlow/internal/models"
)

// AllTags is the hard-coded set of recognized emotional tone tags.
var AllTags = map[string]bool{
	"calm":        true,
	"hopeful":     true,
	"anxious":     true,
	"sad":         true,
	"angry":       true,
	"overwhelmed": true,
	"numb":        true,
	"frustrated":  true,
	"ashamed":     true,
	"lonely":      true,
	"relieved":    true,
}

// negativeTags marks the tones that count toward a deteriorating trend.
var negativeTags = map[string]bool{
	"anxious":     true,
	"sad":         true,
	"angry":       true,
	"overwhelmed": true,
	"numb":        true,
	"frustrated":  true,
	"ashamed":     true,
	"lonely":      true,
}

// EMA weight for the most recent observation.
const alpha = 0.3

// Normalize sanitizes a model-reported tone tag. Unknown or empty tags map
// to the empty string so they are never persisted.
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if AllTags[tag] {
		return tag
	}
	return ""
}

// Dominant returns the most frequent recognized tone among the last window
// annotated turns, or "" when none are annotated.
func Dominant(history []models.HistoryMessage, window int) string {
	counts := map[string]int{}
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < window; i-- {
		tag := Normalize(history[i].EmotionalTone)
		if tag == "" {
			continue
		}
		seen++
		counts[tag]++
	}

	best, bestCount := "", 0
	for tag, n := range counts {
		if n > bestCount {
			best, bestCount = tag, n
		}
	}
	return best
}

// NegativeTrend computes an exponentially smoothed share of negative tones
// over the annotated turns, oldest first. Values close to 1 mean the recent
// tones are consistently negative; conversations with no annotated tones
// score 0.
func NegativeTrend(history []models.HistoryMessage) float64 {
	score := 0.0
	annotated := false
	for _, m := range history {
		tag := Normalize(m.EmotionalTone)
		if tag == "" {
			continue
		}
		observation := 0.0
		if negativeTags[tag] {
			observation = 1.0
		}
		if !annotated {
			score = observation
			annotated = true
			continue
		}
		score = alpha*observation + (1-alpha)*score
	}
	return score
}
