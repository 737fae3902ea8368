package tasks

import (
	"context"
	"time"

	"julesq/internal/domain/classify"
	domaintasks "julesq/internal/domain/tasks"
	"julesq/internal/ports"
)

// TransitionOutcome is the success-shaped result of a state transition; skip
// cases (precondition failed) are not errors.
type TransitionOutcome string

const (
	OutcomeSuccess TransitionOutcome = "success"
	OutcomeSkipped TransitionOutcome = "skipped"
)

type TransitionResult struct {
	Outcome TransitionOutcome
	Reason  string
}

func successResult() TransitionResult {
	return TransitionResult{Outcome: OutcomeSuccess}
}

func skippedResult(reason string) TransitionResult {
	return TransitionResult{Outcome: OutcomeSkipped, Reason: reason}
}

// Config tunes the state machine without touching its wiring.
type Config struct {
	Labels     domaintasks.Labels
	Thresholds domaintasks.Thresholds
	BotLogin   string
	// FallbackUserToken authorizes Gateway calls for work items without an
	// owning installation.
	FallbackUserToken string
	Matcher           classify.Matcher
}

// Service drives the retry state machine over work items. One instance per
// process, injected where needed.
type Service struct {
	repo    ports.WorkItemRepository
	uow     ports.UnitOfWork
	gateway ports.Gateway
	cache   ports.Cache

	labels     domaintasks.Labels
	thresholds domaintasks.Thresholds
	botLogin   string
	userToken  string
	matcher    classify.Matcher

	now func() time.Time
}

func NewService(repo ports.WorkItemRepository, uow ports.UnitOfWork, gateway ports.Gateway, cache ports.Cache, cfg Config) *Service {
	return &Service{
		repo:       repo,
		uow:        uow,
		gateway:    gateway,
		cache:      cache,
		labels:     cfg.Labels.Normalize(),
		thresholds: cfg.Thresholds.Normalize(),
		botLogin:   cfg.BotLogin,
		userToken:  cfg.FallbackUserToken,
		matcher:    cfg.Matcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) nowString() string {
	return s.now().Format(time.RFC3339Nano)
}

// scopeFor picks the authorization context for one work item: the owning
// installation when known, the stored user token otherwise.
func (s *Service) scopeFor(item ports.WorkItem) ports.AuthScope {
	if item.InstallationID != nil {
		return ports.InstallationScope(*item.InstallationID)
	}
	return ports.UserScope(s.userToken)
}

func (s *Service) setCacheBestEffort(ctx context.Context, key string, value string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Set(ctx, key, value, 0)
}

func (s *Service) cacheHas(ctx context.Context, key string) bool {
	if s.cache == nil {
		return false
	}
	_, found, err := s.cache.Get(ctx, key)
	return err == nil && found
}
