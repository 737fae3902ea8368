package tasks

import (
	"fmt"
	"strings"

	"julesq/internal/domain/classify"
)

const (
	// DefaultMinConfidence is the classification floor below which no state
	// transition is attempted.
	DefaultMinConfidence = 0.6
	// DefaultMaxAgeMinutes is the staleness cutoff for a triggering comment.
	DefaultMaxAgeMinutes = 120.0
)

// Thresholds gate which classifications are allowed to drive transitions.
type Thresholds struct {
	MinConfidence float64
	MaxAgeMinutes float64
}

// Normalize fills non-positive fields with the defaults.
func (t Thresholds) Normalize() Thresholds {
	if t.MinConfidence <= 0 {
		t.MinConfidence = DefaultMinConfidence
	}
	if t.MaxAgeMinutes <= 0 {
		t.MaxAgeMinutes = DefaultMaxAgeMinutes
	}
	return t
}

// ShouldFlagForRetry reports whether a classification warrants the
// Active -> Queued transition.
func ShouldFlagForRetry(analysis classify.Analysis, thresholds Thresholds) bool {
	thresholds = thresholds.Normalize()
	return analysis.Classification == classify.ClassificationTaskLimit &&
		analysis.Confidence >= thresholds.MinConfidence &&
		analysis.AgeMinutes <= thresholds.MaxAgeMinutes
}

// ShouldAcknowledgeWorking reports whether a classification confirms the
// assistant picked the item up (terminal no-op transition).
func ShouldAcknowledgeWorking(analysis classify.Analysis, thresholds Thresholds) bool {
	thresholds = thresholds.Normalize()
	return analysis.Classification == classify.ClassificationWorking &&
		analysis.Confidence >= thresholds.MinConfidence &&
		analysis.AgeMinutes <= thresholds.MaxAgeMinutes
}

// IsAssistantBot reports whether a commenter login belongs to the assistant.
func IsAssistantBot(login string, botLogin string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(login))
	if trimmed == "" {
		return false
	}

	bot := strings.ToLower(strings.TrimSpace(botLogin))
	if bot == "" {
		bot = "jules"
	}

	if trimmed == bot || trimmed == bot+"[bot]" {
		return true
	}
	return strings.HasPrefix(trimmed, bot+"-")
}

// ParseRepoRef splits an "owner/name" ref.
func ParseRepoRef(repoRef string) (owner string, name string, err error) {
	trimmed := strings.TrimSpace(repoRef)
	if trimmed == "" {
		return "", "", ErrRepoRefRequired
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepoRef, repoRef)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// FormatRepoRef renders an "owner/name" ref.
func FormatRepoRef(owner string, name string) string {
	return owner + "/" + name
}
