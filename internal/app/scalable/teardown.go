package scalable

import (
	"context"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

// teardown stops a shard. The first transaction marks it deleted so queued tasks become
// no-ops, then the router is closed and finally the budget goes back to the worker.
// The budget was charged when the shard was opened, so it is released even for a shard
// that never started.
func (m *Mediator) teardown(ctx context.Context, stop domain.StopTask) error {
	key := stop.ShardKey
	logger := m.shardLogger(key)

	info, err := core.InTx(ctx, m.store, func(ctx context.Context, tx core.Tx) (ShardInfo, error) {
		info, err := m.repo.ShardInfo(ctx, tx, key)
		if err != nil {
			return ShardInfo{}, err
		}
		changed := make(map[domain.PeerID]bool)
		producers, err := m.repo.Producers(ctx, tx, key)
		if err != nil {
			return ShardInfo{}, err
		}
		for _, p := range producers {
			if _, err := m.repo.CompleteEndStream(ctx, tx, key.Cid, p.Pid, p.EndStream); err != nil {
				return ShardInfo{}, err
			}
			member, err := m.repo.HasPeer(ctx, tx, key.Cid, domain.CollectionMain, p.Pid)
			if err != nil {
				return ShardInfo{}, err
			}
			if !member {
				if _, err := m.repo.RemovePeer(ctx, tx, key.Cid, domain.CollectionProducer, p.Pid); err != nil {
					return ShardInfo{}, err
				}
			}
			changed[p.Pid] = true
		}
		consumers, err := m.repo.Consumers(ctx, tx, key)
		if err != nil {
			return ShardInfo{}, err
		}
		for _, c := range consumers {
			if _, err := m.repo.CompleteEndStream(ctx, tx, key.Cid, c.Pid, c.EndStream); err != nil {
				return ShardInfo{}, err
			}
			changed[c.Pid] = true
		}
		m.repo.ClearShardRecords(tx, key)
		info.Deleted = true
		if err := m.repo.SetShardInfo(tx, key, info); err != nil {
			return ShardInfo{}, err
		}
		m.notifyAfterCommit(tx, key.Cid, changed)
		return info, nil
	})
	if err != nil {
		return err
	}

	if info.Worker != "" {
		if err := m.closeRouter(ctx, key, info); err != nil {
			return err
		}
	}

	return m.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		info, err := m.repo.ShardInfo(ctx, tx, key)
		if err != nil {
			return err
		}
		if !info.Released {
			worker := stop.Worker
			if worker == "" {
				worker = info.Worker
			}
			if worker != "" && stop.Budget > 0 {
				m.workers.DeallocWorker(tx, worker, int64(stop.Budget))
			}
			info.Released = true
			tx.AfterCommit(func(context.Context) {
				logger.Info().Str("worker", string(worker)).Int("budget", stop.Budget).Msg("shard released")
			})
		}
		info.Worker = ""
		return m.repo.SetShardInfo(tx, key, info)
	})
}

func (m *Mediator) closeRouter(ctx context.Context, key domain.ShardKey, info ShardInfo) error {
	w, ok := m.roster.Worker(info.Worker)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, info.Worker)
	}
	id := info.Router
	if id == "" {
		ri, err := w.CreateRouter(ctx, core.CreateRouterRequest{Codecs: m.codecs, RepeatKey: routerKey(key)})
		if err != nil {
			return fmt.Errorf("create router: %w", err)
		}
		if ri.Closed {
			return nil
		}
		id = ri.ID
	}
	if err := w.CloseRouter(ctx, id); err != nil {
		return fmt.Errorf("close router: %w", err)
	}
	return nil
}
