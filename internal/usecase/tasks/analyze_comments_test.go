package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"julesq/internal/ports"
)

func TestAnalyzeLatestAssistantCommentNoComments(t *testing.T) {
	svc, gateway, _ := setupService(t)

	gateway.comments[61] = []ports.IssueComment{
		{ID: 1, AuthorLogin: "some-human", Body: "task limit reached", CreatedAt: time.Now().UTC()},
	}

	result, err := svc.AnalyzeLatestAssistantComment(context.Background(), AnalyzeInput{
		RepoOwner: "octocat", RepoName: "hello-world", IssueNumber: 61,
	})
	if err != nil {
		t.Fatalf("AnalyzeLatestAssistantComment() error = %v", err)
	}
	if result.Action != ActionNone {
		t.Fatalf("action = %q, want no_action", result.Action)
	}
}

func TestAnalyzeLatestAssistantCommentTaskLimit(t *testing.T) {
	svc, gateway, _ := setupService(t)
	now := time.Now().UTC()

	gateway.comments[62] = []ports.IssueComment{
		{ID: 1, AuthorLogin: "jules", Body: "starting work on this", CreatedAt: now.Add(-40 * time.Minute)},
		{ID: 2, AuthorLogin: "jules", Body: "You are currently at your concurrent task limit", CreatedAt: now.Add(-5 * time.Minute)},
	}

	result, err := svc.AnalyzeLatestAssistantComment(context.Background(), AnalyzeInput{
		RepoOwner: "octocat", RepoName: "hello-world", IssueNumber: 62,
	})
	if err != nil {
		t.Fatalf("AnalyzeLatestAssistantComment() error = %v", err)
	}
	if result.Action != ActionTaskLimit {
		t.Fatalf("action = %q, want task_limit", result.Action)
	}
	if result.Comment == nil || result.Comment.ID != 2 {
		t.Fatalf("comment = %+v, want latest assistant comment", result.Comment)
	}
	if result.Analysis == nil || result.Analysis.Confidence < 0.8 {
		t.Fatalf("analysis = %+v, want confidence >= 0.8", result.Analysis)
	}
}

func TestAnalyzeLatestAssistantCommentStale(t *testing.T) {
	svc, gateway, _ := setupService(t)
	now := time.Now().UTC()

	gateway.comments[63] = []ports.IssueComment{
		{ID: 1, AuthorLogin: "jules", Body: "task limit reached", CreatedAt: now.Add(-5 * time.Hour)},
	}

	result, err := svc.AnalyzeLatestAssistantComment(context.Background(), AnalyzeInput{
		RepoOwner: "octocat", RepoName: "hello-world", IssueNumber: 63,
	})
	if err != nil {
		t.Fatalf("AnalyzeLatestAssistantComment() error = %v", err)
	}
	if result.Action != ActionNone {
		t.Fatalf("action = %q, want no_action for stale comment", result.Action)
	}
	if result.Analysis == nil {
		t.Fatalf("analysis must accompany the stale verdict")
	}
}

func TestAnalyzeFallsBackToSecondRecentComment(t *testing.T) {
	svc, gateway, _ := setupService(t)
	now := time.Now().UTC()

	gateway.comments[64] = []ports.IssueComment{
		{ID: 1, AuthorLogin: "jules", Body: "task limit reached, queueing", CreatedAt: now.Add(-10 * time.Minute)},
		{ID: 2, AuthorLogin: "jules", Body: "hmm, let me think about this", CreatedAt: now.Add(-2 * time.Minute)},
	}

	result, err := svc.AnalyzeLatestAssistantComment(context.Background(), AnalyzeInput{
		RepoOwner: "octocat", RepoName: "hello-world", IssueNumber: 64,
	})
	if err != nil {
		t.Fatalf("AnalyzeLatestAssistantComment() error = %v", err)
	}
	if result.Action != ActionTaskLimit {
		t.Fatalf("action = %q, want task_limit from second comment", result.Action)
	}
	if result.Comment == nil || result.Comment.ID != 1 {
		t.Fatalf("comment = %+v, want second recent comment", result.Comment)
	}
}

func TestAnalyzeLowConfidenceWithoutFallbackIsUnknown(t *testing.T) {
	svc, gateway, _ := setupService(t)
	now := time.Now().UTC()

	gateway.comments[65] = []ports.IssueComment{
		{ID: 1, AuthorLogin: "jules", Body: "hmm, unclear status", CreatedAt: now.Add(-2 * time.Minute)},
	}

	result, err := svc.AnalyzeLatestAssistantComment(context.Background(), AnalyzeInput{
		RepoOwner: "octocat", RepoName: "hello-world", IssueNumber: 65,
	})
	if err != nil {
		t.Fatalf("AnalyzeLatestAssistantComment() error = %v", err)
	}
	if result.Action != ActionUnknown {
		t.Fatalf("action = %q, want unknown", result.Action)
	}
}

func TestCheckAssistantCommentsDegradesToNoAction(t *testing.T) {
	svc, gateway, _ := setupService(t)
	gateway.commentsErr = errors.New("api down")

	result, err := svc.CheckAssistantComments(context.Background(), AnalyzeInput{
		RepoOwner: "octocat", RepoName: "hello-world", IssueNumber: 66,
	}, 1)
	if err != nil {
		t.Fatalf("CheckAssistantComments() error = %v", err)
	}
	if result.Action != ActionNone {
		t.Fatalf("action = %q, want no_action after exhausted retries", result.Action)
	}
	if result.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", result.RetryCount)
	}
}

func TestCheckAssistantCommentsFirstAttemptSucceeds(t *testing.T) {
	svc, gateway, _ := setupService(t)
	now := time.Now().UTC()

	gateway.comments[67] = []ports.IssueComment{
		{ID: 1, AuthorLogin: "jules", Body: "I'm working on it", CreatedAt: now},
	}

	result, err := svc.CheckAssistantComments(context.Background(), AnalyzeInput{
		RepoOwner: "octocat", RepoName: "hello-world", IssueNumber: 67,
	}, 3)
	if err != nil {
		t.Fatalf("CheckAssistantComments() error = %v", err)
	}
	if result.Action != ActionWorking {
		t.Fatalf("action = %q, want working", result.Action)
	}
	if result.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", result.RetryCount)
	}
}
