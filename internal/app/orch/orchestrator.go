// Package orch turns client intents into session and shard tasks and drives the
// queue workers that run them.
package orch

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/scalable"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrNotJoined      = errors.New("peer has not joined the conversation")
	ErrStreamNotFound = errors.New("end stream not found")
	ErrStreamState    = errors.New("end stream is not waiting for this message")
)

const (
	sessionKeyPrefix = "session:"
	shardKeyPrefix   = "shard:"
)

type Orchestrator struct {
	Store    core.Store
	Queue    core.WorkQueue
	Outbox   *scalable.Outbox
	Repo     *scalable.Repository
	Shards   *scalable.ShardRepository
	Workers  *scalable.WorkerAllocator
	Mediator *scalable.Mediator
	Registry *app.Registry
	Policy   app.Policy
}

var _ core.Notifier = (*Orchestrator)(nil)

type Deps struct {
	Store        core.Store
	Queue        core.WorkQueue
	Roster       core.Roster
	SDP          core.SDPCodec
	WorkerBudget int64
}

// New wires the scalable repositories and the mediator over d and registers the
// orchestrator as the mediator's notifier.
func New(d Deps) *Orchestrator {
	budget := d.WorkerBudget
	if budget <= 0 {
		budget = scalable.DefaultWorkerBudget
	}
	repo := scalable.NewRepository()
	workers := scalable.NewWorkerAllocator(budget)
	outbox := scalable.NewOutbox(d.Store, d.Queue)
	shards := scalable.NewShardRepository(workers, outbox)
	o := &Orchestrator{
		Store:    d.Store,
		Queue:    d.Queue,
		Outbox:   outbox,
		Repo:     repo,
		Shards:   shards,
		Workers:  workers,
		Registry: app.NewRegistry(),
		Policy:   app.SimplePolicy{},
	}
	o.Mediator = scalable.NewMediator(scalable.MediatorDeps{
		Store:   d.Store,
		Repo:    repo,
		Shards:  shards,
		Workers: workers,
		Roster:  d.Roster,
		SDP:     d.SDP,
	})
	o.Mediator.SetNotifier(o)
	return o
}

// Run feeds queued batches to the mediator and sweeps the outbox until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Str("module", "orch.worker").Msg("queue worker started")
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error { return o.Queue.Run(ctx, o.HandleBatch) })
	p.Go(o.Outbox.Run)
	return p.Wait()
}

// HandleBatch dispatches one queue batch. Payloads that do not decode and batches
// that break the task contract are dropped, every other error redelivers the batch.
func (o *Orchestrator) HandleBatch(ctx context.Context, key string, batch [][]byte) error {
	logger := log.With().Str("module", "orch.worker").Str("key", key).Logger()
	var err error
	switch {
	case strings.HasPrefix(key, sessionKeyPrefix):
		err = o.sessionBatch(ctx, batch, logger)
	case strings.HasPrefix(key, shardKeyPrefix):
		err = o.shardBatch(ctx, batch, logger)
	default:
		logger.Error().Int("size", len(batch)).Msg("unknown queue key, dropping batch")
		return nil
	}
	if scalable.IsContractViolation(err) {
		logger.Error().Err(err).Int("size", len(batch)).Msg("task contract violated, dropping batch")
		return nil
	}
	return err
}

func (o *Orchestrator) sessionBatch(ctx context.Context, batch [][]byte, logger zerolog.Logger) error {
	tasks := make([]domain.SessionTask, 0, len(batch))
	for _, payload := range batch {
		t, err := domain.DecodeSessionTask(payload)
		if err != nil {
			logger.Warn().Err(err).Msg("bad session task dropped")
			continue
		}
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return nil
	}
	return o.Mediator.OnSessionJob(ctx, tasks[0].Cid, tasks)
}

func (o *Orchestrator) shardBatch(ctx context.Context, batch [][]byte, logger zerolog.Logger) error {
	tasks := make([]domain.ShardTask, 0, len(batch))
	for _, payload := range batch {
		t, err := domain.DecodeShardTask(payload)
		if err != nil {
			logger.Warn().Err(err).Msg("bad shard task dropped")
			continue
		}
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return nil
	}
	return o.Mediator.OnShardJob(ctx, tasks[0].Target(), tasks)
}
