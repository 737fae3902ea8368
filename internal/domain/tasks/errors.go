package tasks

import "errors"

var (
	ErrRepoRefRequired = errors.New("repo ref is required")
	ErrInvalidRepoRef  = errors.New("invalid repo ref")
	ErrInvalidIssue    = errors.New("issue number must be positive")

	ErrActiveLabelMissing = errors.New("active label is no longer present")
	ErrHumanOverride      = errors.New("human override label is present")
	ErrNotQueued          = errors.New("work item is not queued")
)
