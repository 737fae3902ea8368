package cmd

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"julesq/internal/ports"
	"julesq/internal/usecase/installations"
	"julesq/internal/usecase/tasks"
)

type stubTaskService struct {
	processCalled bool
	processInput  tasks.ProcessCommentInput
	processResult tasks.ProcessCommentResult
	processErr    error

	batchCalled      bool
	batchConcurrency int
	batchStats       tasks.BatchStats
}

func (s *stubTaskService) ProcessComment(_ context.Context, input tasks.ProcessCommentInput) (tasks.ProcessCommentResult, error) {
	s.processCalled = true
	s.processInput = input
	if s.processErr != nil {
		return tasks.ProcessCommentResult{}, s.processErr
	}
	return s.processResult, nil
}

func (s *stubTaskService) RunRetryBatch(_ context.Context, concurrency int) (tasks.BatchStats, error) {
	s.batchCalled = true
	s.batchConcurrency = concurrency
	return s.batchStats, nil
}

type stubInstallationService struct {
	lifecycleCalled bool
	lifecycleAction string
	lifecycleExt    ports.ExternalInstallation

	reposCalled  bool
	reposID      int64
	reposAdded   []ports.ExternalRepository
	reposRemoved []ports.ExternalRepository

	reconcileOutcomes []installations.ReconcileOutcome
}

func (s *stubInstallationService) ApplyLifecycleEvent(_ context.Context, action string, ext ports.ExternalInstallation) error {
	s.lifecycleCalled = true
	s.lifecycleAction = action
	s.lifecycleExt = ext
	return nil
}

func (s *stubInstallationService) ApplyRepositoriesEvent(_ context.Context, installationID int64, added []ports.ExternalRepository, removed []ports.ExternalRepository) error {
	s.reposCalled = true
	s.reposID = installationID
	s.reposAdded = added
	s.reposRemoved = removed
	return nil
}

func (s *stubInstallationService) ReconcileAll(_ context.Context, _ int) ([]installations.ReconcileOutcome, error) {
	return s.reconcileOutcomes, nil
}

func TestServeWebhookIssueCommentProcessed(t *testing.T) {
	t.Parallel()

	payload := `{
		"action": "created",
		"comment": {"id": 55, "body": "You are at your concurrent task limit.", "created_at": "2026-08-30T10:00:00Z", "user": {"login": "jules[bot]", "type": "Bot"}},
		"issue": {"id": 9100, "number": 91},
		"repository": {"id": 7, "name": "hello", "full_name": "octocat/hello", "owner": {"login": "octocat"}},
		"installation": {"id": 321}
	}`
	secret := "local-dev-secret"
	taskSvc := &stubTaskService{
		processResult: tasks.ProcessCommentResult{Action: tasks.ActionTaskLimit},
	}
	handler := newServeHandler(taskSvc, &stubInstallationService{}, serveConfig{WebhookSecret: secret})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", testWebhookSignature(secret, []byte(payload)))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", resp.Code, http.StatusOK, resp.Body.String())
	}
	if !taskSvc.processCalled {
		t.Fatal("ProcessComment called = false, want true")
	}
	if taskSvc.processInput.RepoOwner != "octocat" || taskSvc.processInput.RepoName != "hello" {
		t.Fatalf("repo = %s/%s, want octocat/hello", taskSvc.processInput.RepoOwner, taskSvc.processInput.RepoName)
	}
	if taskSvc.processInput.CommentID != 55 || taskSvc.processInput.IssueNumber != 91 {
		t.Fatalf("comment/issue = %d/%d, want 55/91", taskSvc.processInput.CommentID, taskSvc.processInput.IssueNumber)
	}
	if taskSvc.processInput.InstallationID == nil || *taskSvc.processInput.InstallationID != 321 {
		t.Fatalf("installation id = %v, want 321", taskSvc.processInput.InstallationID)
	}

	body := decodeServeJSONBody(t, resp.Body.Bytes())
	if body["action"] != "task_limit" {
		t.Fatalf("response action = %#v, want task_limit", body["action"])
	}
}

func TestServeWebhookSignatureFail(t *testing.T) {
	t.Parallel()

	taskSvc := &stubTaskService{}
	handler := newServeHandler(taskSvc, &stubInstallationService{}, serveConfig{WebhookSecret: "local-dev-secret"})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(`{}`))
	req.Header.Set("X-GitHub-Event", "issue_comment")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d; body=%s", resp.Code, http.StatusUnauthorized, resp.Body.String())
	}
	if taskSvc.processCalled {
		t.Fatal("ProcessComment called = true, want false")
	}
}

func TestServeWebhookEditedCommentIgnored(t *testing.T) {
	t.Parallel()

	taskSvc := &stubTaskService{}
	handler := newServeHandler(taskSvc, &stubInstallationService{}, serveConfig{})

	payload := `{"action": "edited"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "issue_comment")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusOK)
	}
	if taskSvc.processCalled {
		t.Fatal("ProcessComment called = true, want false")
	}
	body := decodeServeJSONBody(t, resp.Body.Bytes())
	if body["status"] != "ignored" {
		t.Fatalf("status = %#v, want ignored", body["status"])
	}
}

func TestServeWebhookInstallationLifecycle(t *testing.T) {
	t.Parallel()

	instSvc := &stubInstallationService{}
	handler := newServeHandler(&stubTaskService{}, instSvc, serveConfig{})

	payload := `{
		"action": "deleted",
		"installation": {"id": 4242, "account": {"login": "octocat", "type": "User"}, "target_type": "User"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "installation")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", resp.Code, http.StatusOK, resp.Body.String())
	}
	if !instSvc.lifecycleCalled {
		t.Fatal("ApplyLifecycleEvent called = false, want true")
	}
	if instSvc.lifecycleAction != "deleted" || instSvc.lifecycleExt.ID != 4242 {
		t.Fatalf("lifecycle = %s/%d, want deleted/4242", instSvc.lifecycleAction, instSvc.lifecycleExt.ID)
	}
	if instSvc.lifecycleExt.Account == nil || instSvc.lifecycleExt.Account.Login != "octocat" {
		t.Fatalf("account = %+v, want octocat", instSvc.lifecycleExt.Account)
	}
}

func TestServeWebhookInstallationRepositories(t *testing.T) {
	t.Parallel()

	instSvc := &stubInstallationService{}
	handler := newServeHandler(&stubTaskService{}, instSvc, serveConfig{})

	payload := `{
		"action": "added",
		"installation": {"id": 4242},
		"repositories_added": [{"id": 1, "name": "hello", "full_name": "octocat/hello"}],
		"repositories_removed": [{"id": 2, "full_name": "octocat/bye"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "installation_repositories")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", resp.Code, http.StatusOK, resp.Body.String())
	}
	if !instSvc.reposCalled || instSvc.reposID != 4242 {
		t.Fatalf("repositories event = called %v id %d, want true/4242", instSvc.reposCalled, instSvc.reposID)
	}
	if len(instSvc.reposAdded) != 1 || instSvc.reposAdded[0].Owner != "octocat" || instSvc.reposAdded[0].Name != "hello" {
		t.Fatalf("added = %+v, want octocat/hello", instSvc.reposAdded)
	}
	if len(instSvc.reposRemoved) != 1 || instSvc.reposRemoved[0].ID != 2 || instSvc.reposRemoved[0].Name != "bye" {
		t.Fatalf("removed = %+v, want repo 2 (bye)", instSvc.reposRemoved)
	}
}

func TestServeRetryTrigger(t *testing.T) {
	t.Parallel()

	taskSvc := &stubTaskService{
		batchStats: tasks.BatchStats{Attempted: 4, Successful: 3, Failed: 1},
	}
	handler := newServeHandler(taskSvc, &stubInstallationService{}, serveConfig{RetryConcurrency: 7})

	req := httptest.NewRequest(http.MethodPost, "/triggers/retry", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", resp.Code, http.StatusOK, resp.Body.String())
	}
	if !taskSvc.batchCalled || taskSvc.batchConcurrency != 7 {
		t.Fatalf("batch = called %v concurrency %d, want true/7", taskSvc.batchCalled, taskSvc.batchConcurrency)
	}
}

func TestServeReconcileTrigger(t *testing.T) {
	t.Parallel()

	instSvc := &stubInstallationService{
		reconcileOutcomes: []installations.ReconcileOutcome{
			{InstallationID: 1, Success: true},
			{InstallationID: 2, Success: false},
		},
	}
	handler := newServeHandler(&stubTaskService{}, instSvc, serveConfig{ReconcileWorkers: 3})

	req := httptest.NewRequest(http.MethodPost, "/triggers/reconcile", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body=%s", resp.Code, http.StatusOK, resp.Body.String())
	}
	body := decodeServeJSONBody(t, resp.Body.Bytes())
	if body["total"] != float64(2) || body["succeeded"] != float64(1) {
		t.Fatalf("summary = %#v, want total 2 succeeded 1", body)
	}
}

func testWebhookSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func decodeServeJSONBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal response json: %v; body=%q", err, string(raw))
	}
	return out
}
