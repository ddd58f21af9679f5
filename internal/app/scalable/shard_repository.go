package scalable

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dkeye/voicemesh/internal/app/allocator"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// ShardRepository owns the session of each conversation and the shard topology of
// each session. Every method runs inside the caller's transaction.
type ShardRepository struct {
	workers *WorkerAllocator
	outbox  *Outbox
}

func NewShardRepository(workers *WorkerAllocator, outbox *Outbox) *ShardRepository {
	return &ShardRepository{workers: workers, outbox: outbox}
}

func (s *ShardRepository) GetSession(ctx context.Context, tx core.Tx, cid domain.ConversationID) (domain.SessionID, bool, error) {
	raw, ok, err := tx.Get(ctx, metaDir(cid), keySession)
	if err != nil || !ok {
		return "", false, err
	}
	return domain.SessionID(raw), true, nil
}

func (s *ShardRepository) CreateSession(ctx context.Context, tx core.Tx, cid domain.ConversationID) (domain.SessionID, error) {
	cur, ok, err := s.GetSession(ctx, tx, cid)
	if err != nil {
		return "", err
	}
	if ok {
		return "", fmt.Errorf("%w: %s has %s", ErrSessionExists, cid, cur)
	}
	session := domain.NewSessionID()
	tx.Set(metaDir(cid), keySession, []byte(session))
	if err := s.saveShardMode(tx, cid, session, domain.NewShardMode()); err != nil {
		return "", err
	}
	log.Info().Str("module", "scalable.shards").Str("cid", string(cid)).Str("session", string(session)).Msg("session created")
	return session, nil
}

// DestroySession stops every shard of the session and forgets its topology.
func (s *ShardRepository) DestroySession(ctx context.Context, tx core.Tx, cid domain.ConversationID, session domain.SessionID) error {
	cur, ok, err := s.GetSession(ctx, tx, cid)
	if err != nil {
		return err
	}
	if !ok || cur != session {
		return fmt.Errorf("%w: %s has %q, got %q", ErrSessionMismatch, cid, cur, session)
	}
	mode, err := s.GetShardMode(ctx, tx, cid, session)
	if err != nil {
		return err
	}
	for _, id := range mode.ShardIDs() {
		sh := mode.Region.Shards[id]
		stop := domain.StopTask{
			ShardKey: domain.ShardKey{Cid: cid, Session: session, Shard: id},
			Worker:   sh.Worker,
			Budget:   sh.AllocatedBudget,
		}
		if err := PushShardTask(tx, s.outbox, stop); err != nil {
			return err
		}
	}
	tx.Clear(modeDir(cid, session), keyMode)
	tx.Clear(metaDir(cid), keySession)
	log.Info().Str("module", "scalable.shards").Str("cid", string(cid)).Str("session", string(session)).
		Int("shards", len(mode.Region.Shards)).Msg("session destroyed")
	return nil
}

// GetShardMode returns the topology of a session, empty when none was stored.
func (s *ShardRepository) GetShardMode(ctx context.Context, tx core.Tx, cid domain.ConversationID, session domain.SessionID) (*domain.ShardMode, error) {
	mode, err := getJSON[domain.ShardMode](ctx, tx, modeDir(cid, session), keyMode)
	if err != nil {
		return nil, err
	}
	if mode == nil {
		return domain.NewShardMode(), nil
	}
	mode.Normalize()
	return mode, nil
}

func (s *ShardRepository) saveShardMode(tx core.Tx, cid domain.ConversationID, session domain.SessionID, mode *domain.ShardMode) error {
	return setJSON(tx, modeDir(cid, session), keyMode, mode)
}

// UpdateSharding reconciles the topology of a session with peer intents. Removals are
// applied first, so a peer both removed and added comes back with a fresh state.
// The desired state of added and updated peers is diffed against the stored topology,
// which makes a replayed call a no-op.
func (s *ShardRepository) UpdateSharding(
	ctx context.Context,
	tx core.Tx,
	cid domain.ConversationID,
	session domain.SessionID,
	workers []domain.WorkerID,
	removePeers []domain.PeerID,
	addPeers []domain.PeerState,
	updatePeers []domain.PeerState,
) error {
	mode, err := s.GetShardMode(ctx, tx, cid, session)
	if err != nil {
		return err
	}
	key := func(id domain.ShardID) domain.ShardKey {
		return domain.ShardKey{Cid: cid, Session: session, Shard: id}
	}

	intents := slices.Concat(addPeers, updatePeers)
	leaving := make(map[domain.PeerID]bool, len(removePeers))
	var removedConsumers, removedProducers []domain.PeerID
	for _, pid := range removePeers {
		leaving[pid] = true
		delete(mode.Region.Waiting, pid)
		if _, ok := mode.ShardOf(pid); ok {
			removedConsumers = append(removedConsumers, pid)
		}
		if _, ok := mode.Region.Producers[pid]; ok {
			removedProducers = append(removedProducers, pid)
		}
	}
	for _, ps := range intents {
		if leaving[ps.Pid] {
			continue
		}
		if !ps.Consumer {
			delete(mode.Region.Waiting, ps.Pid)
		}
		if _, ok := mode.ShardOf(ps.Pid); ok && !ps.Consumer {
			removedConsumers = append(removedConsumers, ps.Pid)
		}
		if mode.Region.Producers[ps.Pid] && !ps.Producer {
			removedProducers = append(removedProducers, ps.Pid)
		}
	}

	for _, pid := range removedConsumers {
		for _, id := range mode.ShardIDs() {
			sh := mode.Region.Shards[id]
			if !sh.Consumers[pid] {
				continue
			}
			delete(sh.Consumers, pid)
			sh.UsedBudget = max(sh.UsedBudget-domain.ConsumerBudget(), 0)
			if err := PushShardTask(tx, s.outbox, domain.RemoveConsumerTask{ShardKey: key(id), Pid: pid}); err != nil {
				return err
			}
		}
	}
	for _, pid := range removedProducers {
		if leaving[pid] {
			delete(mode.Region.Producers, pid)
		} else {
			mode.Region.Producers[pid] = false
		}
		for _, id := range mode.ShardIDs() {
			if err := PushShardTask(tx, s.outbox, domain.RemoveProducerTask{ShardKey: key(id), Pid: pid}); err != nil {
				return err
			}
		}
	}
	if err := s.saveShardMode(tx, cid, session, mode); err != nil {
		return err
	}

	addedConsumers := mode.WaitingConsumers()
	var addedProducers []domain.PeerID
	for _, ps := range intents {
		if _, ok := mode.ShardOf(ps.Pid); !ok && ps.Consumer {
			addedConsumers = append(addedConsumers, ps.Pid)
		}
		if !mode.Region.Producers[ps.Pid] && ps.Producer {
			addedProducers = append(addedProducers, ps.Pid)
		}
	}

	for _, pid := range addedConsumers {
		if _, ok := mode.ShardOf(pid); ok {
			delete(mode.Region.Waiting, pid)
			continue
		}
		err := s.addConsumer(ctx, tx, cid, session, mode, workers, pid)
		switch {
		case errors.Is(err, ErrNoCapacity):
			log.Warn().Str("module", "scalable.shards").Str("cid", string(cid)).Str("session", string(session)).
				Str("pid", string(pid)).Msg("no capacity, consumer waits for the next update")
			if mode.Region.Waiting == nil {
				mode.Region.Waiting = make(map[domain.PeerID]bool)
			}
			mode.Region.Waiting[pid] = true
		case err != nil:
			return err
		default:
			delete(mode.Region.Waiting, pid)
		}
	}
	if err := s.saveShardMode(tx, cid, session, mode); err != nil {
		return err
	}

	for _, pid := range addedProducers {
		if mode.Region.Producers[pid] {
			continue
		}
		mode.Region.Producers[pid] = true
		for _, id := range mode.ShardIDs() {
			if err := PushShardTask(tx, s.outbox, domain.AddProducerTask{ShardKey: key(id), Pid: pid}); err != nil {
				return err
			}
		}
	}
	return s.saveShardMode(tx, cid, session, mode)
}

// allocatorState views the shards living on usable workers as allocations of the
// worker ledgers. Shards on deleted workers take no new consumers.
func (s *ShardRepository) allocatorState(ctx context.Context, tx core.Tx, mode *domain.ShardMode, workers []domain.WorkerID) (allocator.State, []string, error) {
	resources, err := s.workers.Resources(ctx, tx, workers)
	if err != nil {
		return allocator.State{}, nil, err
	}
	usable := make(map[domain.WorkerID]bool, len(workers))
	for _, w := range workers {
		usable[w] = true
	}
	state := allocator.State{Resources: resources}
	var warm []string
	for _, id := range mode.ShardIDs() {
		sh := mode.Region.Shards[id]
		if !usable[sh.Worker] {
			continue
		}
		state.Allocations = append(state.Allocations, allocator.Allocation{
			ID:        string(id),
			Resource:  string(sh.Worker),
			Used:      sh.UsedBudget,
			Available: max(sh.AllocatedBudget-sh.UsedBudget, 0),
			Limit:     domain.ShardBudget(),
		})
		if sh.ConsumerCount() > 0 {
			warm = append(warm, string(id))
		}
	}
	return state, warm, nil
}

func (s *ShardRepository) addConsumer(
	ctx context.Context,
	tx core.Tx,
	cid domain.ConversationID,
	session domain.SessionID,
	mode *domain.ShardMode,
	workers []domain.WorkerID,
	pid domain.PeerID,
) error {
	state, warm, err := s.allocatorState(ctx, tx, mode, workers)
	if err != nil {
		return err
	}
	res := allocator.Allocator(state, allocator.Request{
		Amount:    domain.ConsumerBudget(),
		Preferred: warm,
		Reserve:   domain.ShardBudget() - domain.ConsumerBudget(),
	})
	if res == nil {
		return fmt.Errorf("%w: %s/%s consumer %s", ErrNoCapacity, cid, session, pid)
	}

	id := domain.ShardID(res.Allocation.ID)
	k := domain.ShardKey{Cid: cid, Session: session, Shard: id}
	total := res.Allocation.Used + res.Allocation.Available

	if res.Kind == allocator.KindExpand {
		sh := mode.Region.Shards[id]
		if grown := total - sh.AllocatedBudget; grown > 0 {
			if err := s.workers.AllocWorker(ctx, tx, sh.Worker, int64(grown)); err != nil {
				return err
			}
			sh.AllocatedBudget = total
		}
		sh.UsedBudget = res.Allocation.Used
		sh.Consumers[pid] = true
		return PushShardTask(tx, s.outbox, domain.AddConsumerTask{ShardKey: k, Pid: pid})
	}

	worker := domain.WorkerID(res.Resource.ID)
	if err := s.workers.AllocWorker(ctx, tx, worker, int64(total)); err != nil {
		return err
	}
	mode.Region.Shards[id] = &domain.ShardState{
		AllocatedBudget: total,
		UsedBudget:      res.Allocation.Used,
		Worker:          worker,
		Consumers:       map[domain.PeerID]bool{pid: true},
	}
	log.Info().Str("module", "scalable.shards").Str("cid", string(cid)).Str("session", string(session)).
		Str("shard", string(id)).Str("worker", string(worker)).Int("budget", total).Msg("shard opened")

	tasks := []domain.ShardTask{
		domain.StartTask{ShardKey: k, Worker: worker},
		domain.AddConsumerTask{ShardKey: k, Pid: pid},
	}
	for _, producer := range mode.ActiveProducers() {
		tasks = append(tasks, domain.AddProducerTask{ShardKey: k, Pid: producer})
	}
	for _, t := range tasks {
		if err := PushShardTask(tx, s.outbox, t); err != nil {
			return err
		}
	}
	return nil
}
