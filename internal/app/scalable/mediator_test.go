package scalable

import (
	"context"
	"testing"

	"github.com/dkeye/voicemesh/internal/adapters/media"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/mocks"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func (f *fixture) streams(t *testing.T, cid domain.ConversationID, pid domain.PeerID) []*domain.EndStream {
	t.Helper()
	var out []*domain.EndStream
	f.tx(t, func(ctx context.Context, tx core.Tx) (err error) {
		out, err = f.repo.EndStreams(ctx, tx, cid, pid)
		return err
	})
	return out
}

func (f *fixture) stream(t *testing.T, cid domain.ConversationID, pid domain.PeerID, state domain.EndStreamState) *domain.EndStream {
	t.Helper()
	for _, es := range f.streams(t, cid, pid) {
		if es.State == state {
			return es
		}
	}
	t.Fatalf("%s has no %s stream", pid, state)
	return nil
}

// offer does what the signaling layer does with a client offer.
func (f *fixture) offer(t *testing.T, es *domain.EndStream, raw string) {
	t.Helper()
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		es.LocalSDP = raw
		es.Transition(domain.EndStreamWaitOffer)
		if err := f.repo.SetEndStream(tx, es); err != nil {
			return err
		}
		return PushShardTask(tx, f.outbox, domain.OfferTask{ShardKey: es.Target(), Pid: es.Pid, Sid: es.ID, SDP: raw})
	})
}

func (f *fixture) answer(t *testing.T, es *domain.EndStream, raw string) {
	t.Helper()
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		es.LocalSDP = raw
		es.Transition(domain.EndStreamWaitAnswer)
		if err := f.repo.SetEndStream(tx, es); err != nil {
			return err
		}
		return PushShardTask(tx, f.outbox, domain.AnswerTask{ShardKey: es.Target(), Pid: es.Pid, Sid: es.ID, SDP: raw})
	})
}

func (f *fixture) producer(t *testing.T, key domain.ShardKey, pid domain.PeerID) *domain.ShardProducer {
	t.Helper()
	var rec *domain.ShardProducer
	f.tx(t, func(ctx context.Context, tx core.Tx) (err error) {
		rec, err = f.repo.Producer(ctx, tx, key, pid)
		return err
	})
	return rec
}

func (f *fixture) consumer(t *testing.T, key domain.ShardKey, pid domain.PeerID) *domain.ShardConsumer {
	t.Helper()
	var rec *domain.ShardConsumer
	f.tx(t, func(ctx context.Context, tx core.Tx) (err error) {
		rec, err = f.repo.Consumer(ctx, tx, key, pid)
		return err
	})
	return rec
}

func TestMediatorCallLifecycle(t *testing.T) {
	f := newFixture(t)
	w1 := media.NewMemoryWorker("w1", "127.0.0.1", 40000)
	roster := media.NewRoster()
	roster.Add("w1", w1)
	notes := &recordingNotifier{}
	m := f.mediator(roster)
	m.SetNotifier(notes)

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		require.NoError(t, f.repo.RegisterWorker(tx, WorkerRecord{ID: "w1"}))
		require.NoError(t, f.repo.SetCapabilities(tx, "c1", "a", opusCapabilities()))
		return f.repo.SetCapabilities(tx, "c1", "b", opusCapabilities())
	})

	f.pushSession(t,
		domain.SessionTask{Type: domain.SessionAdd, Cid: "c1", Pid: "a", Role: domain.RoleSpeaker},
		domain.SessionTask{Type: domain.SessionAdd, Cid: "c1", Pid: "b", Role: domain.RoleListener},
	)
	f.drain(t, m)

	var session domain.SessionID
	f.tx(t, func(ctx context.Context, tx core.Tx) (err error) {
		session, _, err = f.shards.GetSession(ctx, tx, "c1")
		return err
	})
	require.NotEmpty(t, session)
	mode := f.mode(t, "c1", session)
	require.Len(t, mode.Region.Shards, 1)
	shard := mode.ShardIDs()[0]
	key := domain.ShardKey{Cid: "c1", Session: session, Shard: shard}
	assert.Equal(t, int64(domain.ShardBudget()), f.usage(t, "w1"))
	assert.Equal(t, media.Stats{Routers: 1}, w1.Stats())

	// a offers its microphone
	offer := f.stream(t, "c1", "a", domain.EndStreamNeedOffer)
	assert.Equal(t, domain.EndStreamProducer, offer.Kind)
	f.offer(t, offer, clientSDP("sendonly", "actpass"))
	f.drain(t, m)

	online := f.stream(t, "c1", "a", domain.EndStreamOnline)
	assert.Equal(t, offer.ID, online.ID)
	assert.Contains(t, online.RemoteSDP, "a=recvonly")
	assert.NotEmpty(t, online.RemoteCandidates)
	assert.Len(t, f.streams(t, "c1", "a"), 1, "a does not consume itself")
	assert.Equal(t, media.Stats{Routers: 1, Transports: 2, Producers: 1, Consumers: 1}, w1.Stats())

	incoming := f.stream(t, "c1", "b", domain.EndStreamNeedAnswer)
	assert.Equal(t, domain.EndStreamConsumer, incoming.Kind)
	assert.Contains(t, incoming.RemoteSDP, "a=sendonly")
	assert.Contains(t, incoming.RemoteSDP, "a=msid:a ")

	// b answers
	f.answer(t, incoming, clientSDP("recvonly", "active"))
	f.drain(t, m)
	assert.Equal(t, incoming.ID, f.stream(t, "c1", "b", domain.EndStreamOnline).ID)
	rec := f.consumer(t, key, "b")
	require.NotNil(t, rec)
	assert.True(t, rec.Connected)
	require.Len(t, rec.Edges, 1)
	assert.Equal(t, domain.PeerID("a"), rec.Edges[0].Pid)

	// a becomes a listener, its producer is paused but kept
	f.pushSession(t, domain.SessionTask{Type: domain.SessionRoleChange, Cid: "c1", Pid: "a", Role: domain.RoleListener})
	f.drain(t, m)
	p := f.producer(t, key, "a")
	require.NotNil(t, p)
	assert.False(t, p.Active)
	assert.True(t, p.Paused)
	assert.Equal(t, 1, w1.Stats().Paused)

	// a leaves, b loses its only edge
	f.pushSession(t, domain.SessionTask{Type: domain.SessionRemove, Cid: "c1", Pid: "a"})
	f.drain(t, m)
	assert.Nil(t, f.producer(t, key, "a"))
	assert.Nil(t, f.consumer(t, key, "a"))
	assert.Equal(t, domain.EndStreamCompleted, f.streams(t, "c1", "a")[0].State)
	assert.Equal(t, domain.EndStreamCompleted, f.streams(t, "c1", "b")[0].State)
	rec = f.consumer(t, key, "b")
	require.NotNil(t, rec)
	assert.Empty(t, rec.Edges)
	assert.Nil(t, rec.Transport)

	// b leaves, the session goes away
	f.pushSession(t, domain.SessionTask{Type: domain.SessionRemove, Cid: "c1", Pid: "b"})
	f.drain(t, m)
	assert.Equal(t, media.Stats{}, w1.Stats())
	assert.Equal(t, int64(0), f.usage(t, "w1"))
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		info, err := f.repo.ShardInfo(ctx, tx, key)
		require.NoError(t, err)
		assert.Equal(t, ShardInfo{Router: info.Router, Deleted: true, Released: true}, info)
		_, ok, err := f.shards.GetSession(ctx, tx, "c1")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})

	// late tasks for the torn down shard are dropped
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return PushShardTask(tx, f.outbox, domain.AddConsumerTask{ShardKey: key, Pid: "b"})
	})
	f.drain(t, m)
	assert.Equal(t, media.Stats{}, w1.Stats())

	assert.Positive(t, notes.changed["a"])
	assert.Positive(t, notes.changed["b"])
}

func TestMediatorDropsMalformedOffer(t *testing.T) {
	f := newFixture(t)
	w1 := media.NewMemoryWorker("w1", "127.0.0.1", 40000)
	roster := media.NewRoster()
	roster.Add("w1", w1)
	m := f.mediator(roster)

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.repo.RegisterWorker(tx, WorkerRecord{ID: "w1"})
	})
	f.pushSession(t, domain.SessionTask{Type: domain.SessionAdd, Cid: "c1", Pid: "a", Role: domain.RoleSpeaker})
	f.drain(t, m)

	es := f.stream(t, "c1", "a", domain.EndStreamNeedOffer)
	f.offer(t, es, "not sdp at all")
	f.drain(t, m)

	back := f.stream(t, "c1", "a", domain.EndStreamNeedOffer)
	assert.Equal(t, es.ID, back.ID)
	assert.Equal(t, es.Seq+1, back.Seq)
	assert.Empty(t, back.LocalSDP)
	assert.Equal(t, media.Stats{Routers: 1}, w1.Stats(), "no producer was created")

	// a stale offer for a stream that is not waiting is ignored
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return PushShardTask(tx, f.outbox, domain.OfferTask{ShardKey: es.Target(), Pid: "a", Sid: es.ID, SDP: clientSDP("sendonly", "actpass")})
	})
	f.drain(t, m)
	assert.Equal(t, back.Seq, f.stream(t, "c1", "a", domain.EndStreamNeedOffer).Seq)
	assert.Equal(t, media.Stats{Routers: 1}, w1.Stats())
}

func TestMediatorWaitsForCapabilities(t *testing.T) {
	f := newFixture(t)
	w1 := media.NewMemoryWorker("w1", "127.0.0.1", 40000)
	roster := media.NewRoster()
	roster.Add("w1", w1)
	m := f.mediator(roster)

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.repo.RegisterWorker(tx, WorkerRecord{ID: "w1"})
	})
	f.pushSession(t, domain.SessionTask{Type: domain.SessionAdd, Cid: "c1", Pid: "b", Role: domain.RoleListener})
	f.drain(t, m)

	var key domain.ShardKey
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		session, _, err := f.shards.GetSession(ctx, tx, "c1")
		require.NoError(t, err)
		mode, err := f.shards.GetShardMode(ctx, tx, "c1", session)
		require.NoError(t, err)
		key = domain.ShardKey{Cid: "c1", Session: session, Shard: mode.ShardIDs()[0]}
		return nil
	})
	assert.Nil(t, f.consumer(t, key, "b"), "no capabilities, no consumer")

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		require.NoError(t, f.repo.SetCapabilities(tx, "c1", "b", opusCapabilities()))
		return PushShardTask(tx, f.outbox, domain.AddConsumerTask{ShardKey: key, Pid: "b"})
	})
	f.drain(t, m)
	rec := f.consumer(t, key, "b")
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, opusCapabilities(), rec.Capabilities)
}

func TestOnSessionJobContract(t *testing.T) {
	f := newFixture(t)
	m := f.mediator(media.NewRoster())
	ctx := context.Background()

	// a session left behind by a racing job
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		_, err := f.shards.CreateSession(ctx, tx, "c1")
		return err
	})
	err := m.OnSessionJob(ctx, "c1", []domain.SessionTask{{Type: domain.SessionAdd, Cid: "c1", Pid: "a", Role: domain.RoleListener}})
	require.ErrorIs(t, err, ErrSessionExists)
	assert.True(t, IsContractViolation(err))

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		n, err := f.repo.PeerCount(ctx, tx, "c1", domain.CollectionMain)
		require.NoError(t, err)
		assert.Zero(t, n, "the failed job left nothing behind")
		return nil
	})
}

func TestOnSessionJobRejoin(t *testing.T) {
	f := newFixture(t)
	m := f.mediator(media.NewRoster())
	ctx := context.Background()
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.repo.RegisterWorker(tx, WorkerRecord{ID: "w1"})
	})

	require.NoError(t, m.OnSessionJob(ctx, "c1", []domain.SessionTask{
		{Type: domain.SessionAdd, Cid: "c1", Pid: "a", Role: domain.RoleListener},
		{Type: domain.SessionAdd, Cid: "c1", Pid: "b", Role: domain.RoleListener},
	}))
	f.queue.take()

	require.NoError(t, m.OnSessionJob(ctx, "c1", []domain.SessionTask{
		{Type: domain.SessionRemove, Cid: "c1", Pid: "a"},
		{Type: domain.SessionAdd, Cid: "c1", Pid: "a", Role: domain.RoleSpeaker},
		{Type: domain.SessionRoleChange, Cid: "c1", Pid: "z", Role: domain.RoleSpeaker},
	}))
	tasks := f.queue.shardTasks(t)
	require.Len(t, tasks, 1)
	for _, list := range tasks {
		assert.Equal(t, []domain.ShardTaskType{
			domain.TaskRemoveConsumer, domain.TaskAddConsumer, domain.TaskAddProducer,
		}, taskTypes(list), "z is not a member and is ignored")
	}
}

func TestStopPreemptsBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	roster := mocks.NewMockRoster(ctrl)
	f := newFixture(t)
	m := f.mediator(roster)
	ctx := context.Background()
	key := domain.ShardKey{Cid: "c1", Session: "s1", Shard: "sh1"}

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		require.NoError(t, f.repo.SetCapabilities(tx, "c1", "p1", opusCapabilities()))
		return f.workers.AllocWorker(ctx, tx, "w1", int64(domain.ShardBudget()))
	})

	// the shard never started, so no media call may happen
	err := m.OnShardJob(ctx, key, []domain.ShardTask{
		domain.StartTask{ShardKey: key, Worker: "w1"},
		domain.AddConsumerTask{ShardKey: key, Pid: "p1"},
		domain.StopTask{ShardKey: key, Worker: "w1", Budget: domain.ShardBudget()},
	})
	require.NoError(t, err)
	assert.Nil(t, f.consumer(t, key, "p1"))
	assert.Equal(t, int64(0), f.usage(t, "w1"))

	// redelivery releases nothing twice
	require.NoError(t, m.OnShardJob(ctx, key, []domain.ShardTask{
		domain.StopTask{ShardKey: key, Worker: "w1", Budget: domain.ShardBudget()},
	}))
	assert.Equal(t, int64(0), f.usage(t, "w1"))

	require.NoError(t, m.OnShardJob(ctx, key, []domain.ShardTask{domain.AddConsumerTask{ShardKey: key, Pid: "p1"}}))
	assert.Nil(t, f.consumer(t, key, "p1"), "deleted shards ignore late tasks")
}

func TestStopClosesStartedShard(t *testing.T) {
	ctrl := gomock.NewController(t)
	roster := mocks.NewMockRoster(ctrl)
	worker := mocks.NewMockMediaWorker(ctrl)
	f := newFixture(t)
	m := f.mediator(roster)
	ctx := context.Background()
	key := domain.ShardKey{Cid: "c1", Session: "s1", Shard: "sh1"}

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		require.NoError(t, f.repo.SetShardInfo(tx, key, ShardInfo{Worker: "w1", Router: "r1"}))
		require.NoError(t, f.repo.SetConsumer(tx, key, &domain.ShardConsumer{ID: "c", Pid: "p1"}))
		return f.workers.AllocWorker(ctx, tx, "w1", int64(domain.ShardBudget()))
	})

	roster.EXPECT().Worker(domain.WorkerID("w1")).Return(worker, true)
	worker.EXPECT().CloseRouter(gomock.Any(), "r1").Return(nil)

	err := m.OnShardJob(ctx, key, []domain.ShardTask{
		domain.AddProducerTask{ShardKey: key, Pid: "p2"},
		domain.StopTask{ShardKey: key, Worker: "w1", Budget: domain.ShardBudget()},
		domain.AddConsumerTask{ShardKey: key, Pid: "p3"},
	})
	require.NoError(t, err)
	assert.Nil(t, f.consumer(t, key, "p1"))
	assert.Nil(t, f.producer(t, key, "p2"))
	assert.Equal(t, int64(0), f.usage(t, "w1"))
}

func TestShardJobErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	roster := mocks.NewMockRoster(ctrl)
	f := newFixture(t)
	m := f.mediator(roster)
	ctx := context.Background()
	key := domain.ShardKey{Cid: "c1", Session: "s1", Shard: "sh1"}

	err := m.OnShardJob(ctx, key, []domain.ShardTask{domain.AddProducerTask{ShardKey: key, Pid: "p1"}})
	require.ErrorIs(t, err, ErrMissingStart)
	assert.True(t, IsContractViolation(err))
	assert.Nil(t, f.producer(t, key, "p1"), "nothing was planned")

	roster.EXPECT().Worker(domain.WorkerID("w1")).Return(nil, false)
	err = m.OnShardJob(ctx, key, []domain.ShardTask{domain.StartTask{ShardKey: key, Worker: "w1"}})
	require.ErrorIs(t, err, ErrWorkerNotFound)
	assert.False(t, IsContractViolation(err))
}
