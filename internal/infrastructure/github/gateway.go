package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"julesq/internal/errs"
	"julesq/internal/ports"
)

// Config carries the external-authority credentials. The app transport signs
// JWTs for app-level calls; installation transports exchange them for scoped
// tokens on demand.
type Config struct {
	AppID          int64
	PrivateKeyPath string
	APIBaseURL     string
}

// Gateway implements ports.Gateway on top of the GitHub REST API.
type Gateway struct {
	cfg       Config
	transport http.RoundTripper
}

var _ ports.Gateway = (*Gateway)(nil)

func NewGateway(cfg Config) *Gateway {
	return &Gateway{
		cfg:       cfg,
		transport: http.DefaultTransport,
	}
}

func (g *Gateway) newClient(httpClient *http.Client) (*gh.Client, error) {
	client := gh.NewClient(httpClient)
	if base := strings.TrimSpace(g.cfg.APIBaseURL); base != "" {
		enterprise, err := client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, errs.Wrap(err, "set api base url")
		}
		return enterprise, nil
	}
	return client, nil
}

// clientFor resolves an authorization scope into an authenticated client:
// installation token when the scope names an installation, stored user token
// otherwise.
func (g *Gateway) clientFor(ctx context.Context, scope ports.AuthScope) (*gh.Client, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	if scope.InstallationID != nil {
		itr, err := ghinstallation.NewKeyFromFile(g.transport, g.cfg.AppID, *scope.InstallationID, g.cfg.PrivateKeyPath)
		if err != nil {
			return nil, errs.Wrap(err, "build installation transport")
		}
		if base := strings.TrimSpace(g.cfg.APIBaseURL); base != "" {
			itr.BaseURL = strings.TrimSuffix(base, "/")
		}
		return g.newClient(&http.Client{Transport: itr})
	}

	if token := strings.TrimSpace(scope.UserToken); token != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		return g.newClient(oauth2.NewClient(ctx, source))
	}

	return nil, errors.New("auth scope requires installation id or user token")
}

// appClient authenticates as the app itself (JWT), for installation-level
// authority calls.
func (g *Gateway) appClient() (*gh.Client, error) {
	atr, err := ghinstallation.NewAppsTransportKeyFromFile(g.transport, g.cfg.AppID, g.cfg.PrivateKeyPath)
	if err != nil {
		return nil, errs.Wrap(err, "build app transport")
	}
	if base := strings.TrimSpace(g.cfg.APIBaseURL); base != "" {
		atr.BaseURL = strings.TrimSuffix(base, "/")
	}
	return g.newClient(&http.Client{Transport: atr})
}

func (g *Gateway) GetIssue(ctx context.Context, scope ports.AuthScope, owner string, repo string, number int) (ports.Issue, error) {
	client, err := g.clientFor(ctx, scope)
	if err != nil {
		return ports.Issue{}, err
	}

	issue, resp, err := client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ports.Issue{}, ports.ErrIssueGone
		}
		return ports.Issue{}, errs.Wrapf(err, "get issue %s/%s#%d", owner, repo, number)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.GetName())
	}

	return ports.Issue{
		ID:     issue.GetID(),
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		State:  issue.GetState(),
		Labels: labels,
	}, nil
}

func (g *Gateway) GetIssueComments(ctx context.Context, scope ports.AuthScope, owner string, repo string, number int) ([]ports.IssueComment, error) {
	client, err := g.clientFor(ctx, scope)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var out []ports.IssueComment
	for {
		comments, resp, err := client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, errs.Wrapf(err, "list comments %s/%s#%d", owner, repo, number)
		}
		for _, comment := range comments {
			out = append(out, ports.IssueComment{
				ID:          comment.GetID(),
				AuthorLogin: comment.GetUser().GetLogin(),
				Body:        comment.GetBody(),
				CreatedAt:   comment.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *Gateway) AddLabel(ctx context.Context, scope ports.AuthScope, owner string, repo string, number int, label string) error {
	client, err := g.clientFor(ctx, scope)
	if err != nil {
		return err
	}

	if _, _, err := client.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{label}); err != nil {
		return errs.Wrapf(err, "add label %q to %s/%s#%d", label, owner, repo, number)
	}
	return nil
}

func (g *Gateway) RemoveLabel(ctx context.Context, scope ports.AuthScope, owner string, repo string, number int, label string) error {
	client, err := g.clientFor(ctx, scope)
	if err != nil {
		return err
	}

	resp, err := client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
	if err != nil {
		// Absent label: removal is idempotent.
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return errs.Wrapf(err, "remove label %q from %s/%s#%d", label, owner, repo, number)
	}
	return nil
}

func (g *Gateway) SwapLabels(ctx context.Context, scope ports.AuthScope, owner string, repo string, number int, remove string, add string) error {
	if err := g.RemoveLabel(ctx, scope, owner, repo, number, remove); err != nil {
		return errs.Wrap(err, "swap labels: remove")
	}
	if err := g.AddLabel(ctx, scope, owner, repo, number, add); err != nil {
		return errs.Wrap(err, "swap labels: add")
	}
	return nil
}

func (g *Gateway) AddReaction(ctx context.Context, scope ports.AuthScope, owner string, repo string, commentID int64, reaction string) error {
	client, err := g.clientFor(ctx, scope)
	if err != nil {
		return err
	}

	if _, _, err := client.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, reaction); err != nil {
		return errs.Wrapf(err, "add reaction %q to comment %d", reaction, commentID)
	}
	return nil
}

func (g *Gateway) CreateQuotedReply(ctx context.Context, scope ports.AuthScope, owner string, repo string, number int, quoted string, reply string) error {
	client, err := g.clientFor(ctx, scope)
	if err != nil {
		return err
	}

	body := quoteLines(quoted)
	if body != "" {
		body += "\n\n"
	}
	body += reply

	comment := &gh.IssueComment{Body: gh.String(body)}
	if _, _, err := client.Issues.CreateComment(ctx, owner, repo, number, comment); err != nil {
		return errs.Wrapf(err, "create reply on %s/%s#%d", owner, repo, number)
	}
	return nil
}

func (g *Gateway) ListInstallations(ctx context.Context) ([]ports.ExternalInstallation, error) {
	client, err := g.appClient()
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var out []ports.ExternalInstallation
	for {
		installations, resp, err := client.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return nil, errs.Wrap(err, "list installations")
		}
		for _, inst := range installations {
			out = append(out, mapInstallation(inst))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *Gateway) ListInstallationRepositories(ctx context.Context, installationID int64) ([]ports.ExternalRepository, error) {
	client, err := g.clientFor(ctx, ports.InstallationScope(installationID))
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var out []ports.ExternalRepository
	for {
		repos, resp, err := client.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, errs.Wrapf(err, "list repositories of installation %d", installationID)
		}
		for _, repo := range repos.Repositories {
			out = append(out, ports.ExternalRepository{
				ID:          repo.GetID(),
				Name:        repo.GetName(),
				FullName:    repo.GetFullName(),
				Owner:       repo.GetOwner().GetLogin(),
				Private:     repo.GetPrivate(),
				HTMLURL:     repo.GetHTMLURL(),
				Description: repo.GetDescription(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func mapInstallation(inst *gh.Installation) ports.ExternalInstallation {
	mapped := ports.ExternalInstallation{
		ID:                  inst.GetID(),
		TargetType:          inst.GetTargetType(),
		RepositorySelection: inst.GetRepositorySelection(),
		Permissions:         permissionsMap(inst.GetPermissions()),
		Events:              inst.Events,
		SuspendedBy:         inst.GetSuspendedBy().GetLogin(),
	}
	if account := inst.GetAccount(); account != nil {
		mapped.Account = &ports.ExternalAccount{
			Login: account.GetLogin(),
			Type:  account.GetType(),
		}
	}
	if suspended := inst.GetSuspendedAt(); !suspended.IsZero() {
		t := suspended.Time
		mapped.SuspendedAt = &t
	}
	return mapped
}

// permissionsMap flattens the API permission struct into name -> level via its
// JSON form; the mirror stores it serialized and never interprets fields.
func permissionsMap(perms *gh.InstallationPermissions) map[string]string {
	if perms == nil {
		return map[string]string{}
	}

	raw, err := json.Marshal(perms)
	if err != nil {
		return map[string]string{}
	}

	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]string{}
	}
	return out
}

func quoteLines(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
