package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"julesq/internal/domain/classify"
	domaintasks "julesq/internal/domain/tasks"
	"julesq/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "julesq/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "julesq/internal/infrastructure/persistence/sqlite/uow"
	"julesq/internal/ports"
)

type testCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newTestCache() *testCache {
	return &testCache{data: make(map[string]string)}
}

func (c *testCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// fakeGateway tracks label state per issue number and records every call.
type fakeGateway struct {
	mu       sync.Mutex
	labels   map[int][]string
	comments map[int][]ports.IssueComment
	gone     map[int]bool

	getIssueErr error
	commentsErr error
	swapErrFor  map[int]error

	getIssueCalls int
	swapCalls     int
	reactions     []string
	replies       []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		labels:     make(map[int][]string),
		comments:   make(map[int][]ports.IssueComment),
		gone:       make(map[int]bool),
		swapErrFor: make(map[int]error),
	}
}

func (g *fakeGateway) setLabels(number int, labels ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.labels[number] = labels
}

func (g *fakeGateway) issueLabels(number int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.labels[number]))
	copy(out, g.labels[number])
	return out
}

func (g *fakeGateway) GetIssue(_ context.Context, _ ports.AuthScope, _ string, _ string, number int) (ports.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getIssueCalls++
	if g.getIssueErr != nil {
		return ports.Issue{}, g.getIssueErr
	}
	if g.gone[number] {
		return ports.Issue{}, ports.ErrIssueGone
	}
	labels := make([]string, len(g.labels[number]))
	copy(labels, g.labels[number])
	return ports.Issue{
		ID:     int64(number) * 100,
		Number: number,
		State:  "open",
		Labels: labels,
	}, nil
}

func (g *fakeGateway) GetIssueComments(_ context.Context, _ ports.AuthScope, _ string, _ string, number int) ([]ports.IssueComment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.commentsErr != nil {
		return nil, g.commentsErr
	}
	return g.comments[number], nil
}

func (g *fakeGateway) AddLabel(_ context.Context, _ ports.AuthScope, _ string, _ string, number int, label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.labels[number] = append(g.labels[number], label)
	return nil
}

func (g *fakeGateway) RemoveLabel(_ context.Context, _ ports.AuthScope, _ string, _ string, number int, label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.labels[number][:0]
	for _, l := range g.labels[number] {
		if l != label {
			kept = append(kept, l)
		}
	}
	g.labels[number] = kept
	return nil
}

func (g *fakeGateway) SwapLabels(_ context.Context, _ ports.AuthScope, _ string, _ string, number int, remove string, add string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.swapCalls++
	if err := g.swapErrFor[number]; err != nil {
		return err
	}
	kept := g.labels[number][:0]
	for _, l := range g.labels[number] {
		if l != remove {
			kept = append(kept, l)
		}
	}
	g.labels[number] = append(kept, add)
	return nil
}

func (g *fakeGateway) AddReaction(_ context.Context, _ ports.AuthScope, _ string, _ string, commentID int64, reaction string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, fmt.Sprintf("%d:%s", commentID, reaction))
	return nil
}

func (g *fakeGateway) CreateQuotedReply(_ context.Context, _ ports.AuthScope, _ string, _ string, number int, _ string, reply string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, fmt.Sprintf("%d:%s", number, reply))
	return nil
}

func (g *fakeGateway) ListInstallations(_ context.Context) ([]ports.ExternalInstallation, error) {
	return nil, nil
}

func (g *fakeGateway) ListInstallationRepositories(_ context.Context, _ int64) ([]ports.ExternalRepository, error) {
	return nil, nil
}

func setupService(t *testing.T) (*Service, *fakeGateway, ports.WorkItemRepository) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "queue.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.WorkItem{}, &model.CacheKV{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	repo := sqliterepo.NewWorkItemRepository(db)
	uow := sqliteuow.NewUnitOfWork(db)
	gateway := newFakeGateway()
	svc := NewService(repo, uow, gateway, newTestCache(), Config{
		BotLogin:          "jules",
		FallbackUserToken: "test-token",
		Matcher:           classify.NewMatcher(nil, nil),
	})
	return svc, gateway, repo
}

func trackItem(t *testing.T, svc *Service, repo ports.WorkItemRepository, issueNumber int) ports.WorkItem {
	t.Helper()

	item, err := repo.UpsertWorkItem(context.Background(), ports.WorkItemUpsert{
		RepoID:      1,
		IssueID:     int64(issueNumber) * 100,
		IssueNumber: issueNumber,
		RepoOwner:   "octocat",
		RepoName:    "hello-world",
	}, svc.nowString())
	if err != nil {
		t.Fatalf("UpsertWorkItem() error = %v", err)
	}
	return item
}

func TestServiceDefaults(t *testing.T) {
	svc, _, _ := setupService(t)

	if svc.labels != domaintasks.DefaultLabels() {
		t.Fatalf("labels = %+v, want defaults", svc.labels)
	}
	if svc.thresholds.MinConfidence != domaintasks.DefaultMinConfidence {
		t.Fatalf("min confidence = %v", svc.thresholds.MinConfidence)
	}
}
