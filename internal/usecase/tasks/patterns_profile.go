package tasks

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"julesq/internal/domain/classify"
	"julesq/internal/errs"
)

type patternsProfile struct {
	TaskLimit []string `toml:"task_limit"`
	Working   []string `toml:"working"`
}

// LoadPatternsProfile reads an optional TOML pattern override file. An empty
// path yields the built-in defaults.
func LoadPatternsProfile(path string) (classify.Matcher, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return classify.NewMatcher(nil, nil), nil
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return classify.Matcher{}, errs.Wrapf(err, "read patterns file %q", trimmed)
	}

	var profile patternsProfile
	if err := toml.Unmarshal(raw, &profile); err != nil {
		return classify.Matcher{}, errs.Wrapf(err, "parse patterns file %q", trimmed)
	}

	return classify.NewMatcher(profile.TaskLimit, profile.Working), nil
}
