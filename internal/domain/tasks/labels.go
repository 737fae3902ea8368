package tasks

import "strings"

// Labels is the external tag vocabulary for the retry state machine. The
// active and queued labels are mutually exclusive on a tracked issue; the
// human-override label fences the item off from automation entirely.
type Labels struct {
	Active        string
	Queued        string
	HumanOverride string
}

// DefaultLabels returns the assistant's stock label names.
func DefaultLabels() Labels {
	return Labels{
		Active:        "jules",
		Queued:        "jules-queue",
		HumanOverride: "human",
	}
}

// Normalize fills empty fields from the defaults.
func (l Labels) Normalize() Labels {
	defaults := DefaultLabels()
	if strings.TrimSpace(l.Active) == "" {
		l.Active = defaults.Active
	}
	if strings.TrimSpace(l.Queued) == "" {
		l.Queued = defaults.Queued
	}
	if strings.TrimSpace(l.HumanOverride) == "" {
		l.HumanOverride = defaults.HumanOverride
	}
	return l
}

// HasLabel reports whether name appears in labels, case-insensitively.
func HasLabel(labels []string, name string) bool {
	for _, label := range labels {
		if strings.EqualFold(strings.TrimSpace(label), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
