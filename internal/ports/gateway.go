package ports

import (
	"context"
	"errors"
	"time"
)

var ErrIssueGone = errors.New("issue not found on external tracker")

// AuthScope selects how a Gateway call authenticates against the external
// authority: an installation-scoped token when InstallationID is set, a stored
// user token otherwise. Exactly one of the two should be populated.
type AuthScope struct {
	InstallationID *int64
	UserToken      string
}

// InstallationScope builds an installation-token scope.
func InstallationScope(installationID int64) AuthScope {
	return AuthScope{InstallationID: &installationID}
}

// UserScope builds a user-token scope.
func UserScope(token string) AuthScope {
	return AuthScope{UserToken: token}
}

type Issue struct {
	ID     int64
	Number int
	Title  string
	State  string
	Labels []string
}

type IssueComment struct {
	ID          int64
	AuthorLogin string
	Body        string
	CreatedAt   time.Time
}

type ExternalAccount struct {
	Login string
	Type  string
}

type ExternalInstallation struct {
	ID                  int64
	Account             *ExternalAccount
	TargetType          string
	RepositorySelection string
	Permissions         map[string]string
	Events              []string
	SuspendedAt         *time.Time
	SuspendedBy         string
}

type ExternalRepository struct {
	ID          int64
	Name        string
	FullName    string
	Owner       string
	Private     bool
	HTMLURL     string
	Description string
}

// Gateway is the outbound contract against the external issue tracker and
// installation authority. Implementations own HTTP concerns (timeouts,
// retry-after handling); callers see plain errors.
type Gateway interface {
	GetIssue(ctx context.Context, scope AuthScope, owner string, repo string, number int) (Issue, error)
	GetIssueComments(ctx context.Context, scope AuthScope, owner string, repo string, number int) ([]IssueComment, error)

	AddLabel(ctx context.Context, scope AuthScope, owner string, repo string, number int, label string) error
	// RemoveLabel is idempotent: removing an absent label is not an error.
	RemoveLabel(ctx context.Context, scope AuthScope, owner string, repo string, number int, label string) error
	// SwapLabels removes one label and adds another as a best-effort pair of
	// calls; it fails if either call fails.
	SwapLabels(ctx context.Context, scope AuthScope, owner string, repo string, number int, remove string, add string) error

	AddReaction(ctx context.Context, scope AuthScope, owner string, repo string, commentID int64, reaction string) error
	CreateQuotedReply(ctx context.Context, scope AuthScope, owner string, repo string, number int, quoted string, reply string) error

	ListInstallations(ctx context.Context) ([]ExternalInstallation, error)
	ListInstallationRepositories(ctx context.Context, installationID int64) ([]ExternalRepository, error)
}
