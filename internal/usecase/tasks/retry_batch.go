package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"julesq/internal/bootstrap/logging"
	"julesq/internal/errs"
)

const DefaultRetryConcurrency = 5

// BatchStats is the report of one retry batch. Attempted is fixed at batch
// start; every item lands in exactly one of the other three counters.
type BatchStats struct {
	Attempted  int
	Successful int
	Failed     int
	Skipped    int
}

// RunRetryBatch drains the queued backlog once. Items are fetched
// oldest-created-first and handed to a fixed pool of workers pulling from a
// shared cursor; one item's failure never aborts the batch, and failures are
// left for the next scheduled invocation.
func (s *Service) RunRetryBatch(ctx context.Context, concurrency int) (BatchStats, error) {
	if ctx == nil {
		return BatchStats{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return BatchStats{}, errs.Wrap(err, "check context")
	}
	if s.repo == nil {
		return BatchStats{}, errors.New("work item repository is required")
	}

	if concurrency <= 0 {
		concurrency = DefaultRetryConcurrency
	}

	items, err := s.repo.ListFlaggedWorkItems(ctx)
	if err != nil {
		return BatchStats{}, errs.Wrap(err, "list queued work items")
	}

	batchID := uuid.NewString()
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.tasks"),
		slog.String("batch_id", batchID),
	)

	stats := BatchStats{Attempted: len(items)}
	if len(items) == 0 {
		logging.Info(logCtx, "retry batch empty")
		return stats, nil
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	// Arena + index: the item list is materialized once, workers only contend
	// on the next-index pointer and each owns its item end-to-end.
	var (
		mu      sync.Mutex
		next    int
		wg      sync.WaitGroup
		outcome = make([]TransitionOutcome, len(items))
		failed  = make([]bool, len(items))
	)

	pull := func() int {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(items) {
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
				item := items[i]
				result, err := s.Retry(ctx, RetryInput{Item: &item})
				if err != nil {
					failed[i] = true
					logging.Warn(logCtx, "retry failed",
						slog.Uint64("work_item_id", item.WorkItemID),
						slog.Any("err", errs.Loggable(err)))
					continue
				}
				outcome[i] = result.Outcome
			}
		}()
	}
	wg.Wait()

	for i := range items {
		switch {
		case failed[i]:
			stats.Failed++
		case outcome[i] == OutcomeSuccess:
			stats.Successful++
		default:
			stats.Skipped++
		}
	}

	logging.Info(logCtx, "retry batch completed",
		slog.Int("attempted", stats.Attempted),
		slog.Int("successful", stats.Successful),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
	)
	return stats, nil
}
