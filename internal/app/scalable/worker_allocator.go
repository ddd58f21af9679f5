package scalable

import (
	"context"
	"fmt"

	"github.com/dkeye/voicemesh/internal/app/allocator"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

// DefaultWorkerBudget is the budget ceiling of one media worker.
const DefaultWorkerBudget = 1000

// WorkerAllocator keeps the per worker ledger of committed budget as store counters.
type WorkerAllocator struct {
	budget int64
}

func NewWorkerAllocator(workerBudget int64) *WorkerAllocator {
	if workerBudget <= 0 {
		workerBudget = DefaultWorkerBudget
	}
	return &WorkerAllocator{budget: workerBudget}
}

func (a *WorkerAllocator) WorkerBudget() int64 { return a.budget }

// Usage is a snapshot read of the committed budget of a worker.
func (a *WorkerAllocator) Usage(ctx context.Context, tx core.Tx, worker domain.WorkerID) (int64, error) {
	return tx.Counter(ctx, ledgerDir, string(worker))
}

// FindWorker returns the least loaded worker that still fits budget under workerBudget.
// Ties go to the first candidate.
func (a *WorkerAllocator) FindWorker(ctx context.Context, tx core.Tx, workers []domain.WorkerID, workerBudget, budget int64) (domain.WorkerID, bool, error) {
	var (
		best     domain.WorkerID
		bestUsed int64
		found    bool
	)
	for _, w := range workers {
		used, err := a.Usage(ctx, tx, w)
		if err != nil {
			return "", false, err
		}
		if used+budget > workerBudget {
			continue
		}
		if !found || used < bestUsed {
			best, bestUsed, found = w, used, true
		}
	}
	return best, found, nil
}

// AllocWorker charges budget to a worker. The ledger read conflicts with any concurrent
// allocation on the same worker, so two transactions can not both push it past the ceiling.
func (a *WorkerAllocator) AllocWorker(ctx context.Context, tx core.Tx, worker domain.WorkerID, budget int64) error {
	used, err := tx.WatchCounter(ctx, ledgerDir, string(worker))
	if err != nil {
		return err
	}
	if used+budget > a.budget {
		return fmt.Errorf("%w: %s has %d of %d, asked %d", ErrWorkerOverBudget, worker, used, a.budget, budget)
	}
	tx.Add(ledgerDir, string(worker), budget)
	return nil
}

func (a *WorkerAllocator) DeallocWorker(tx core.Tx, worker domain.WorkerID, budget int64) {
	tx.Add(ledgerDir, string(worker), -budget)
}

// Resources builds the allocator view of the given workers.
func (a *WorkerAllocator) Resources(ctx context.Context, tx core.Tx, workers []domain.WorkerID) ([]allocator.Resource, error) {
	out := make([]allocator.Resource, 0, len(workers))
	for _, w := range workers {
		used, err := a.Usage(ctx, tx, w)
		if err != nil {
			return nil, err
		}
		out = append(out, allocator.Resource{
			ID:        string(w),
			Used:      int(used),
			Available: max(int(a.budget-used), 0),
		})
	}
	return out, nil
}
