package orch

import (
	"context"

	"github.com/dkeye/voicemesh/internal/app/scalable"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// WorkerStatus is a worker record with its ledger usage.
type WorkerStatus struct {
	scalable.WorkerRecord
	Used   int64 `json:"used"`
	Budget int64 `json:"budget"`
}

// WorkerReport lists every known worker and the one the next fresh shard would go to.
type WorkerReport struct {
	Workers []WorkerStatus  `json:"workers"`
	Next    domain.WorkerID `json:"next,omitempty"`
}

func (o *Orchestrator) RegisterWorker(ctx context.Context, w scalable.WorkerRecord) error {
	err := o.Store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		return o.Repo.RegisterWorker(tx, w)
	})
	if err == nil {
		log.Info().Str("module", "orch.workers").Str("worker", string(w.ID)).Str("addr", w.Addr).Msg("worker registered")
	}
	return err
}

// DeleteWorker stops placing shards on a worker. Shards living there stay until their
// session ends.
func (o *Orchestrator) DeleteWorker(ctx context.Context, id domain.WorkerID) error {
	err := o.Store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		return o.Repo.MarkWorkerDeleted(ctx, tx, id)
	})
	if err == nil {
		log.Info().Str("module", "orch.workers").Str("worker", string(id)).Msg("worker marked deleted")
	}
	return err
}

func (o *Orchestrator) WorkerReport(ctx context.Context) (*WorkerReport, error) {
	return core.InTx(ctx, o.Store, func(ctx context.Context, tx core.Tx) (*WorkerReport, error) {
		records, err := o.Repo.Workers(ctx, tx)
		if err != nil {
			return nil, err
		}
		r := &WorkerReport{Workers: make([]WorkerStatus, 0, len(records))}
		var active []domain.WorkerID
		for _, rec := range records {
			used, err := o.Workers.Usage(ctx, tx, rec.ID)
			if err != nil {
				return nil, err
			}
			r.Workers = append(r.Workers, WorkerStatus{WorkerRecord: *rec, Used: used, Budget: o.Workers.WorkerBudget()})
			if !rec.Deleted {
				active = append(active, rec.ID)
			}
		}
		next, ok, err := o.Workers.FindWorker(ctx, tx, active, o.Workers.WorkerBudget(), int64(domain.ShardBudget()))
		if err != nil {
			return nil, err
		}
		if ok {
			r.Next = next
		}
		return r, nil
	})
}
