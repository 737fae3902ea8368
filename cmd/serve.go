package cmd

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"julesq/internal/bootstrap"
	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
	"julesq/internal/ports"
	"julesq/internal/usecase/installations"
	"julesq/internal/usecase/tasks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook receiver and trigger endpoints",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, taskSvc *tasks.Service, instSvc *installations.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		addr = strings.TrimSpace(addr)
		if addr == "" {
			addr = app.Config.Serve.Addr
		}

		server := &http.Server{
			Addr: addr,
			Handler: newServeHandler(taskSvc, instSvc, serveConfig{
				WebhookSecret:    app.Config.Serve.WebhookSecret,
				RetryConcurrency: app.Config.Retry.Concurrency,
				ReconcileWorkers: app.Config.Reconcile.Concurrency,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		logging.Info(ctx, "webhook server started", slog.String("addr", addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "webhook server failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "serve webhooks")
		}
		return nil
	}),
}

type serveConfig struct {
	WebhookSecret    string
	RetryConcurrency int
	ReconcileWorkers int
}

type commentProcessor interface {
	ProcessComment(context.Context, tasks.ProcessCommentInput) (tasks.ProcessCommentResult, error)
	RunRetryBatch(context.Context, int) (tasks.BatchStats, error)
}

type installationMirror interface {
	ApplyLifecycleEvent(context.Context, string, ports.ExternalInstallation) error
	ApplyRepositoriesEvent(context.Context, int64, []ports.ExternalRepository, []ports.ExternalRepository) error
	ReconcileAll(context.Context, int) ([]installations.ReconcileOutcome, error)
}

type serveHTTPHandler struct {
	tasks         commentProcessor
	installations installationMirror
	cfg           serveConfig
}

// webhookPayload covers the fields consumed from issue_comment,
// installation and installation_repositories events.
type webhookPayload struct {
	Action  string `json:"action"`
	Comment *struct {
		ID        int64     `json:"id"`
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"created_at"`
		User      *struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"user"`
	} `json:"comment"`
	Issue *struct {
		ID     int64 `json:"id"`
		Number int   `json:"number"`
	} `json:"issue"`
	Repository *struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    *struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Installation *struct {
		ID      int64 `json:"id"`
		Account *struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"account"`
		TargetType          string            `json:"target_type"`
		RepositorySelection string            `json:"repository_selection"`
		Permissions         map[string]string `json:"permissions"`
		Events              []string          `json:"events"`
		SuspendedAt         *time.Time        `json:"suspended_at"`
	} `json:"installation"`
	RepositoriesAdded   []webhookRepository `json:"repositories_added"`
	RepositoriesRemoved []webhookRepository `json:"repositories_removed"`
}

type webhookRepository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

type webhookAck struct {
	Status string `json:"status"`
	Action string `json:"action,omitempty"`
}

type serveErrorResponse struct {
	Error string `json:"error"`
}

func newServeHandler(taskSvc commentProcessor, instSvc installationMirror, cfg serveConfig) http.Handler {
	h := &serveHTTPHandler{
		tasks:         taskSvc,
		installations: instSvc,
		cfg:           cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/webhooks/github", h.handleWebhook)
	r.Post("/triggers/retry", h.handleRetryTrigger)
	r.Post("/triggers/reconcile", h.handleReconcileTrigger)
	return r
}

func (h *serveHTTPHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeServeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}
	if err := validateWebhookSignature(h.cfg.WebhookSecret, r.Header.Get("X-Hub-Signature-256"), payload); err != nil {
		writeServeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		writeServeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	switch strings.TrimSpace(r.Header.Get("X-GitHub-Event")) {
	case "issue_comment":
		h.handleIssueComment(w, r, event)
	case "installation":
		h.handleInstallation(w, r, event)
	case "installation_repositories":
		h.handleInstallationRepositories(w, r, event)
	default:
		writeServeJSON(w, http.StatusOK, webhookAck{Status: "ignored"})
	}
}

func (h *serveHTTPHandler) handleIssueComment(w http.ResponseWriter, r *http.Request, event webhookPayload) {
	if event.Action != "created" {
		writeServeJSON(w, http.StatusOK, webhookAck{Status: "ignored"})
		return
	}
	if event.Comment == nil || event.Comment.User == nil || event.Issue == nil ||
		event.Repository == nil || event.Repository.Owner == nil {
		writeServeError(w, http.StatusBadRequest, "incomplete issue_comment payload")
		return
	}

	input := tasks.ProcessCommentInput{
		RepoOwner:        event.Repository.Owner.Login,
		RepoName:         event.Repository.Name,
		RepoID:           event.Repository.ID,
		IssueID:          event.Issue.ID,
		IssueNumber:      event.Issue.Number,
		CommentID:        event.Comment.ID,
		CommentAuthor:    event.Comment.User.Login,
		CommentBody:      event.Comment.Body,
		CommentCreatedAt: event.Comment.CreatedAt,
	}
	if event.Installation != nil {
		installationID := event.Installation.ID
		input.InstallationID = &installationID
	}

	result, err := h.tasks.ProcessComment(r.Context(), input)
	if err != nil {
		writeServeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeServeJSON(w, http.StatusOK, webhookAck{Status: "processed", Action: string(result.Action)})
}

func (h *serveHTTPHandler) handleInstallation(w http.ResponseWriter, r *http.Request, event webhookPayload) {
	if event.Installation == nil {
		writeServeError(w, http.StatusBadRequest, "incomplete installation payload")
		return
	}

	ext := ports.ExternalInstallation{
		ID:                  event.Installation.ID,
		TargetType:          event.Installation.TargetType,
		RepositorySelection: event.Installation.RepositorySelection,
		Permissions:         event.Installation.Permissions,
		Events:              event.Installation.Events,
		SuspendedAt:         event.Installation.SuspendedAt,
	}
	if event.Installation.Account != nil {
		ext.Account = &ports.ExternalAccount{
			Login: event.Installation.Account.Login,
			Type:  event.Installation.Account.Type,
		}
	}

	if err := h.installations.ApplyLifecycleEvent(r.Context(), event.Action, ext); err != nil {
		writeServeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeServeJSON(w, http.StatusOK, webhookAck{Status: "processed", Action: event.Action})
}

func (h *serveHTTPHandler) handleInstallationRepositories(w http.ResponseWriter, r *http.Request, event webhookPayload) {
	if event.Installation == nil {
		writeServeError(w, http.StatusBadRequest, "incomplete installation_repositories payload")
		return
	}

	added := make([]ports.ExternalRepository, 0, len(event.RepositoriesAdded))
	for _, repo := range event.RepositoriesAdded {
		added = append(added, externalRepoFromWebhook(repo))
	}
	removed := make([]ports.ExternalRepository, 0, len(event.RepositoriesRemoved))
	for _, repo := range event.RepositoriesRemoved {
		removed = append(removed, externalRepoFromWebhook(repo))
	}

	if err := h.installations.ApplyRepositoriesEvent(r.Context(), event.Installation.ID, added, removed); err != nil {
		writeServeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeServeJSON(w, http.StatusOK, webhookAck{Status: "processed", Action: event.Action})
}

func externalRepoFromWebhook(repo webhookRepository) ports.ExternalRepository {
	owner := ""
	name := repo.Name
	if parts := strings.SplitN(repo.FullName, "/", 2); len(parts) == 2 {
		owner = parts[0]
		if name == "" {
			name = parts[1]
		}
	}
	return ports.ExternalRepository{
		ID:       repo.ID,
		Name:     name,
		FullName: repo.FullName,
		Owner:    owner,
		Private:  repo.Private,
	}
}

func (h *serveHTTPHandler) handleRetryTrigger(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tasks.RunRetryBatch(r.Context(), h.cfg.RetryConcurrency)
	if err != nil {
		writeServeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeServeJSON(w, http.StatusOK, stats)
}

func (h *serveHTTPHandler) handleReconcileTrigger(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.installations.ReconcileAll(r.Context(), h.cfg.ReconcileWorkers)
	if err != nil {
		writeServeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
		}
	}
	writeServeJSON(w, http.StatusOK, map[string]int{
		"total":     len(outcomes),
		"succeeded": succeeded,
		"failed":    len(outcomes) - succeeded,
	})
}

func validateWebhookSignature(secret string, signatureHeader string, payload []byte) error {
	normalizedSecret := strings.TrimSpace(secret)
	if normalizedSecret == "" {
		return nil
	}

	signature := strings.TrimSpace(signatureHeader)
	if signature == "" {
		return errors.New("missing X-Hub-Signature-256")
	}

	const prefix = "sha256="
	if len(signature) <= len(prefix) || !strings.EqualFold(signature[:len(prefix)], prefix) {
		return errors.New("invalid X-Hub-Signature-256 format")
	}

	decoded, err := hex.DecodeString(strings.TrimSpace(signature[len(prefix):]))
	if err != nil {
		return errors.New("invalid X-Hub-Signature-256 digest")
	}

	mac := hmac.New(sha256.New, []byte(normalizedSecret))
	if _, err := mac.Write(payload); err != nil {
		return errs.Wrap(err, "compute webhook signature")
	}

	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return errors.New("invalid X-Hub-Signature-256")
	}
	return nil
}

func writeServeError(w http.ResponseWriter, status int, message string) {
	writeServeJSON(w, status, serveErrorResponse{Error: message})
}

func writeServeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
}
