package classify

import (
	"strings"
	"time"
)

// Classification is the heuristic verdict over one assistant comment.
type Classification string

const (
	ClassificationTaskLimit Classification = "task_limit"
	ClassificationWorking   Classification = "working"
	ClassificationUnknown   Classification = "unknown"
)

// Analysis is the full classifier output for one comment.
type Analysis struct {
	Classification  Classification
	Confidence      float64
	PatternsMatched []string
	AgeMinutes      float64
}

// Matcher holds the two ordered pattern sets. Zero value is unusable; use
// NewMatcher or the package-level Classify with the built-in defaults.
type Matcher struct {
	taskLimit []string
	working   []string
}

var defaultTaskLimitPatterns = []string{
	"concurrent task limit",
	"task limit reached",
	"maximum number of concurrent tasks",
	"too many active tasks",
	"reached your task limit",
	"at capacity",
	"cannot start another task",
	"limit for concurrent tasks",
}

var defaultWorkingPatterns = []string{
	"i'm working on",
	"i am working on",
	"i'll start working",
	"started working",
	"starting work on",
	"work is underway",
	"i've begun",
	"beginning work",
	"plan approved",
	"picking this up",
}

// NewMatcher builds a matcher from explicit pattern sets. Empty slices fall
// back to the built-in defaults so a partial profile override stays usable.
func NewMatcher(taskLimit []string, working []string) Matcher {
	m := Matcher{
		taskLimit: normalizePatterns(taskLimit),
		working:   normalizePatterns(working),
	}
	if len(m.taskLimit) == 0 {
		m.taskLimit = defaultTaskLimitPatterns
	}
	if len(m.working) == 0 {
		m.working = defaultWorkingPatterns
	}
	return m
}

// Classify runs the default matcher. Pure: identical input yields identical
// output, no side effects.
func Classify(body string, createdAt time.Time, now time.Time) Analysis {
	return NewMatcher(nil, nil).Classify(body, createdAt, now)
}

// Classify turns a comment body plus timestamps into a classification.
//
// Task-limit matches score min(1.0, 0.4*n + 0.4). Working matches score
// min(1.0, 0.3*n + 0.5) and are considered only while the current best
// confidence is below 0.8, so any task-limit match (always >= 0.8) wins when
// both sets match.
func (m Matcher) Classify(body string, createdAt time.Time, now time.Time) Analysis {
	analysis := Analysis{
		Classification:  ClassificationUnknown,
		Confidence:      0,
		PatternsMatched: []string{},
		AgeMinutes:      ageMinutes(createdAt, now),
	}

	text := strings.ToLower(strings.TrimSpace(body))
	if text == "" {
		return analysis
	}

	taskLimitMatches := matchPatterns(text, m.taskLimit)
	if len(taskLimitMatches) > 0 {
		analysis.Classification = ClassificationTaskLimit
		analysis.Confidence = capConfidence(0.4*float64(len(taskLimitMatches)) + 0.4)
		analysis.PatternsMatched = taskLimitMatches
	}

	if analysis.Confidence < 0.8 {
		workingMatches := matchPatterns(text, m.working)
		if len(workingMatches) > 0 {
			confidence := capConfidence(0.3*float64(len(workingMatches)) + 0.5)
			if confidence > analysis.Confidence {
				analysis.Classification = ClassificationWorking
				analysis.Confidence = confidence
				analysis.PatternsMatched = workingMatches
			}
		}
	}

	return analysis
}

func matchPatterns(text string, patterns []string) []string {
	matched := make([]string, 0, 2)
	for _, pattern := range patterns {
		if strings.Contains(text, pattern) {
			matched = append(matched, pattern)
		}
	}
	return matched
}

func capConfidence(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

func ageMinutes(createdAt time.Time, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	minutes := now.Sub(createdAt).Minutes()
	if minutes < 0 {
		return 0
	}
	return minutes
}

func normalizePatterns(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		if pattern == "" {
			continue
		}
		out = append(out, pattern)
	}
	return out
}
