package scalable

import (
	"context"
	"fmt"
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoWorkers = []domain.WorkerID{"w1", "w2"}

func (f *fixture) session(t *testing.T, cid domain.ConversationID) domain.SessionID {
	t.Helper()
	var session domain.SessionID
	f.tx(t, func(ctx context.Context, tx core.Tx) (err error) {
		session, err = f.shards.CreateSession(ctx, tx, cid)
		return err
	})
	f.queue.take()
	return session
}

func (f *fixture) update(t *testing.T, cid domain.ConversationID, session domain.SessionID, remove []domain.PeerID, add, update []domain.PeerState) {
	t.Helper()
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.shards.UpdateSharding(ctx, tx, cid, session, twoWorkers, remove, add, update)
	})
}

func (f *fixture) mode(t *testing.T, cid domain.ConversationID, session domain.SessionID) *domain.ShardMode {
	t.Helper()
	var mode *domain.ShardMode
	f.tx(t, func(ctx context.Context, tx core.Tx) (err error) {
		mode, err = f.shards.GetShardMode(ctx, tx, cid, session)
		return err
	})
	return mode
}

func (f *fixture) usage(t *testing.T, w domain.WorkerID) int64 {
	t.Helper()
	var used int64
	f.tx(t, func(ctx context.Context, tx core.Tx) (err error) {
		used, err = f.workers.Usage(ctx, tx, w)
		return err
	})
	return used
}

func listeners(from, to int) []domain.PeerState {
	var out []domain.PeerState
	for i := from; i < to; i++ {
		out = append(out, domain.StateForRole(domain.PeerID(fmt.Sprintf("p%03d", i)), domain.RoleListener))
	}
	return out
}

func countTasks(tasks []domain.ShardTask, typ domain.ShardTaskType) int {
	n := 0
	for _, t := range tasks {
		if t.Type() == typ {
			n++
		}
	}
	return n
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.session(t, "c1")

	err := f.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		_, err := f.shards.CreateSession(ctx, tx, "c1")
		return err
	})
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.True(t, IsContractViolation(err))

	f.update(t, "c1", session, nil, listeners(0, 15), nil)
	mode := f.mode(t, "c1", session)
	require.Len(t, mode.Region.Shards, 2)
	f.queue.take()

	err = f.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		return f.shards.DestroySession(ctx, tx, "c1", "stale")
	})
	assert.ErrorIs(t, err, ErrSessionMismatch)

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.shards.DestroySession(ctx, tx, "c1", session)
	})
	tasks := f.queue.shardTasks(t)
	require.Len(t, tasks, 2)
	for id, sh := range mode.Region.Shards {
		require.Len(t, tasks[id], 1)
		stop, ok := tasks[id][0].(domain.StopTask)
		require.True(t, ok)
		assert.Equal(t, sh.Worker, stop.Worker)
		assert.Equal(t, domain.ShardBudget(), stop.Budget)
	}

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		_, ok, err := f.shards.GetSession(ctx, tx, "c1")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	assert.Empty(t, f.mode(t, "c1", session).Region.Shards)
}

func TestUpdateShardingGrowsShards(t *testing.T) {
	f := newFixture(t)
	session := f.session(t, "c1")

	f.update(t, "c1", session, nil, listeners(0, 100), nil)

	mode := f.mode(t, "c1", session)
	require.Len(t, mode.Region.Shards, 10)
	total := 0
	workers := make(map[domain.WorkerID]int)
	for _, sh := range mode.Region.Shards {
		n := sh.ConsumerCount()
		assert.Equal(t, domain.ShardConsumers, n)
		assert.Equal(t, domain.ShardBudget(), sh.AllocatedBudget)
		assert.Equal(t, n*domain.ConsumerBudget(), sh.UsedBudget)
		total += n
		workers[sh.Worker]++
	}
	assert.Equal(t, 100, total)
	assert.Equal(t, map[domain.WorkerID]int{"w1": 5, "w2": 5}, workers, "new shards spread over workers")
	assert.Equal(t, int64(5*domain.ShardBudget()), f.usage(t, "w1"))
	assert.Equal(t, int64(5*domain.ShardBudget()), f.usage(t, "w2"))

	tasks := f.queue.shardTasks(t)
	require.Len(t, tasks, 10)
	for _, list := range tasks {
		require.NotEmpty(t, list)
		assert.Equal(t, domain.TaskStart, list[0].Type(), "start goes first")
		assert.Equal(t, domain.ShardConsumers, countTasks(list, domain.TaskAddConsumer))
	}

	f.update(t, "c1", session, nil, listeners(0, 100), nil)
	assert.Empty(t, f.queue.shardTasks(t), "replay is a no-op")
}

func TestUpdateShardingProducers(t *testing.T) {
	f := newFixture(t)
	session := f.session(t, "c1")
	speaker := domain.StateForRole("p000", domain.RoleSpeaker)

	peers := append([]domain.PeerState{speaker}, listeners(1, 15)...)
	f.update(t, "c1", session, nil, peers, nil)
	mode := f.mode(t, "c1", session)
	require.Len(t, mode.Region.Shards, 2)
	assert.Equal(t, []domain.PeerID{"p000"}, mode.ActiveProducers())
	for _, list := range f.queue.shardTasks(t) {
		assert.Equal(t, 1, countTasks(list, domain.TaskAddProducer), "producers fan out to every shard")
	}

	// fill the second shard, the next consumer opens a third one
	f.update(t, "c1", session, nil, listeners(15, 21), nil)
	tasks := f.queue.shardTasks(t)
	mode = f.mode(t, "c1", session)
	require.Len(t, mode.Region.Shards, 3)
	opened, ok := mode.ShardOf("p020")
	require.True(t, ok)
	require.Len(t, tasks[opened], 3)
	assert.Equal(t, domain.TaskStart, tasks[opened][0].Type())
	assert.Equal(t, domain.TaskAddConsumer, tasks[opened][1].Type())
	assert.Equal(t, domain.AddProducerTask{
		ShardKey: domain.ShardKey{Cid: "c1", Session: session, Shard: opened},
		Pid:      "p000",
	}, tasks[opened][2], "a new shard is backfilled with live producers")

	// speaker becomes listener
	f.update(t, "c1", session, nil, nil, []domain.PeerState{domain.StateForRole("p000", domain.RoleListener)})
	mode = f.mode(t, "c1", session)
	assert.Empty(t, mode.ActiveProducers())
	assert.Contains(t, mode.Region.Producers, domain.PeerID("p000"))
	tasks = f.queue.shardTasks(t)
	require.Len(t, tasks, 3)
	for _, list := range tasks {
		assert.Equal(t, []domain.ShardTaskType{domain.TaskRemoveProducer}, taskTypes(list))
	}

	// and back
	f.update(t, "c1", session, nil, nil, []domain.PeerState{speaker})
	tasks = f.queue.shardTasks(t)
	require.Len(t, tasks, 3)
	for _, list := range tasks {
		assert.Equal(t, []domain.ShardTaskType{domain.TaskAddProducer}, taskTypes(list))
	}
}

func taskTypes(tasks []domain.ShardTask) []domain.ShardTaskType {
	out := make([]domain.ShardTaskType, len(tasks))
	for i, t := range tasks {
		out[i] = t.Type()
	}
	return out
}

func TestUpdateShardingRemovals(t *testing.T) {
	f := newFixture(t)
	session := f.session(t, "c1")
	f.update(t, "c1", session, nil, append(listeners(0, 3), domain.StateForRole("s", domain.RoleSpeaker)), nil)
	f.queue.take()

	f.update(t, "c1", session, []domain.PeerID{"p001", "s"}, nil, nil)
	mode := f.mode(t, "c1", session)
	require.Len(t, mode.Region.Shards, 1)
	for id, sh := range mode.Region.Shards {
		assert.Equal(t, 2, sh.ConsumerCount())
		assert.Equal(t, 2*domain.ConsumerBudget(), sh.UsedBudget)
		assert.Equal(t, domain.ShardBudget(), sh.AllocatedBudget, "the reservation is kept")

		tasks := f.queue.shardTasks(t)
		assert.Equal(t, []domain.ShardTaskType{
			domain.TaskRemoveConsumer, domain.TaskRemoveConsumer, domain.TaskRemoveProducer,
		}, taskTypes(tasks[id]))
	}
	assert.NotContains(t, mode.Region.Producers, domain.PeerID("s"), "leaving peers are forgotten")

	f.update(t, "c1", session, []domain.PeerID{"p001", "s"}, nil, nil)
	assert.Empty(t, f.queue.shardTasks(t), "replay is a no-op")

	// a peer removed and added in one call comes back with its new state
	f.update(t, "c1", session, []domain.PeerID{"p002"}, []domain.PeerState{domain.StateForRole("p002", domain.RoleSpeaker)}, nil)
	for _, list := range f.queue.shardTasks(t) {
		assert.Equal(t, []domain.ShardTaskType{
			domain.TaskRemoveConsumer, domain.TaskAddConsumer, domain.TaskAddProducer,
		}, taskTypes(list))
	}
}

func TestUpdateShardingSkipsDeletedWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.session(t, "c1")
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.shards.UpdateSharding(ctx, tx, "c1", session, []domain.WorkerID{"w1"}, nil, listeners(0, 1), nil)
	})
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.shards.UpdateSharding(ctx, tx, "c1", session, []domain.WorkerID{"w2"}, nil, listeners(1, 2), nil)
	})
	mode := f.mode(t, "c1", session)
	require.Len(t, mode.Region.Shards, 2, "a shard on a worker out of the list takes no consumers")

	err := f.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		return f.shards.UpdateSharding(ctx, tx, "c1", session, nil, nil, listeners(2, 3), nil)
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"p002"}, f.mode(t, "c1", session).WaitingConsumers())
}

func TestUpdateShardingParksConsumersWithoutCapacity(t *testing.T) {
	f := newFixture(t)
	session := f.session(t, "c1")
	noWorkers := func(add []domain.PeerState, remove []domain.PeerID) {
		t.Helper()
		f.tx(t, func(ctx context.Context, tx core.Tx) error {
			return f.shards.UpdateSharding(ctx, tx, "c1", session, nil, remove, add, nil)
		})
	}

	noWorkers(listeners(0, 3), nil)
	mode := f.mode(t, "c1", session)
	assert.Empty(t, mode.Region.Shards)
	assert.Equal(t, []domain.PeerID{"p000", "p001", "p002"}, mode.WaitingConsumers())
	assert.Empty(t, f.queue.shardTasks(t))

	noWorkers(nil, []domain.PeerID{"p001"})
	assert.Equal(t, []domain.PeerID{"p000", "p002"}, f.mode(t, "c1", session).WaitingConsumers(), "a leaving peer stops waiting")

	// The next update with capacity places the waiting consumers.
	f.update(t, "c1", session, nil, listeners(3, 4), nil)
	mode = f.mode(t, "c1", session)
	assert.Empty(t, mode.WaitingConsumers())
	for _, pid := range []domain.PeerID{"p000", "p002", "p003"} {
		_, ok := mode.ShardOf(pid)
		assert.True(t, ok, pid)
	}
	_, ok := mode.ShardOf("p001")
	assert.False(t, ok)

	tasks := f.queue.shardTasks(t)
	require.Len(t, tasks, 1)
	for _, list := range tasks {
		assert.Equal(t, domain.TaskStart, list[0].Type())
		assert.Equal(t, 3, countTasks(list, domain.TaskAddConsumer))
	}
}
