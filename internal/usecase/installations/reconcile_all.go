package installations

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
)

const DefaultReconcileConcurrency = 5

// ReconcileOutcome is one entry of a bulk reconciliation report.
type ReconcileOutcome struct {
	InstallationID int64
	Success        bool
	View           *InstallationView
	Err            error
}

// ReconcileAll reconciles every active local installation through a bounded
// worker pool. The authoritative list is fetched once and shared; a single
// installation's failure is captured per-entry and never stops the others.
func (s *Service) ReconcileAll(ctx context.Context, concurrency int) ([]ReconcileOutcome, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}
	if s.gateway == nil {
		return nil, errors.New("gateway is required")
	}

	if concurrency <= 0 {
		concurrency = DefaultReconcileConcurrency
	}

	active, err := s.repo.ListActiveInstallations(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "list active installations")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.installations"),
		slog.String("run_id", uuid.NewString()),
	)

	if len(active) == 0 {
		logging.Info(logCtx, "no active installations to reconcile")
		return []ReconcileOutcome{}, nil
	}

	authoritative, err := s.gateway.ListInstallations(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "fetch authoritative installations")
	}

	if concurrency > len(active) {
		concurrency = len(active)
	}

	outcomes := make([]ReconcileOutcome, len(active))

	var (
		mu   sync.Mutex
		next int
		wg   sync.WaitGroup
	)

	pull := func() int {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(active) {
			return -1
		}
		i := next
		next++
		return i
	}

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := pull()
				if i < 0 {
					return
				}
				id := active[i].InstallationID
				view, err := s.reconcileAgainst(ctx, id, authoritative)
				if err != nil {
					outcomes[i] = ReconcileOutcome{InstallationID: id, Err: err}
					logging.Warn(logCtx, "installation reconcile failed",
						slog.Int64("installation_id", id),
						slog.Any("err", errs.Loggable(err)))
					continue
				}
				outcomes[i] = ReconcileOutcome{InstallationID: id, Success: true, View: view}
			}
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
		}
	}
	logging.Info(logCtx, "bulk reconciliation completed",
		slog.Int("total", len(outcomes)),
		slog.Int("succeeded", succeeded),
	)
	return outcomes, nil
}
