package scalable

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerCollections(t *testing.T) {
	f := newFixture(t)
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		added, err := f.repo.AddPeer(ctx, tx, "c1", domain.CollectionMain, "b")
		require.NoError(t, err)
		assert.True(t, added)
		added, err = f.repo.AddPeer(ctx, tx, "c1", domain.CollectionMain, "b")
		require.NoError(t, err)
		assert.False(t, added, "already a member")
		_, err = f.repo.AddPeer(ctx, tx, "c1", domain.CollectionMain, "a")
		require.NoError(t, err)
		_, err = f.repo.AddPeer(ctx, tx, "c1", domain.CollectionSpeaker, "a")
		return err
	})

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		n, err := f.repo.PeerCount(ctx, tx, "c1", domain.CollectionMain)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		peers, err := f.repo.Peers(ctx, tx, "c1", domain.CollectionMain)
		require.NoError(t, err)
		assert.Equal(t, []domain.PeerID{"a", "b"}, peers)

		removed, err := f.repo.RemovePeer(ctx, tx, "c1", domain.CollectionMain, "z")
		require.NoError(t, err)
		assert.False(t, removed)
		removed, err = f.repo.RemovePeer(ctx, tx, "c1", domain.CollectionMain, "a")
		require.NoError(t, err)
		assert.True(t, removed)

		n, err = f.repo.PeerCount(ctx, tx, "c1", domain.CollectionMain)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "counter reads include pending deltas")
		ok, err := f.repo.HasPeer(ctx, tx, "c1", domain.CollectionSpeaker, "a")
		require.NoError(t, err)
		assert.True(t, ok, "collections are independent")
		return nil
	})
}

func TestConcurrentJoinsActivateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var started atomic.Int32

	join := func(from, to int) {
		var wg sync.WaitGroup
		for i := from; i < to; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := f.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
					pid := domain.PeerID(fmt.Sprintf("p%03d", i))
					if _, err := f.repo.AddPeer(ctx, tx, "c1", domain.CollectionSpeaker, pid); err != nil {
						return err
					}
					first, err := f.repo.Activate(ctx, tx, "c1")
					if err != nil {
						return err
					}
					if first {
						tx.AfterCommit(func(context.Context) { started.Add(1) })
					}
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	}

	join(0, 100)
	assert.Equal(t, int32(1), started.Load())
	assert.LessOrEqual(t, f.store.Retries(), int64(99), "only the activation flag contends")

	retries := f.store.Retries()
	join(100, 200)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, retries, f.store.Retries(), "joins of a live conversation never conflict")

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		n, err := f.repo.PeerCount(ctx, tx, "c1", domain.CollectionSpeaker)
		require.NoError(t, err)
		assert.Equal(t, int64(200), n)
		return nil
	})
}

func TestWorkerRegistry(t *testing.T) {
	f := newFixture(t)
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		require.NoError(t, f.repo.RegisterWorker(tx, WorkerRecord{ID: "w2", Addr: "10.0.0.2:7000"}))
		return f.repo.RegisterWorker(tx, WorkerRecord{ID: "w1", Addr: "10.0.0.1:7000"})
	})
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.repo.MarkWorkerDeleted(ctx, tx, "w1")
	})

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		active, err := f.repo.ActiveWorkers(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []domain.WorkerID{"w2"}, active)

		all, err := f.repo.Workers(ctx, tx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, all[0].Deleted)

		assert.ErrorIs(t, f.repo.MarkWorkerDeleted(ctx, tx, "w9"), ErrWorkerNotFound)
		return nil
	})

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.repo.RegisterWorker(tx, WorkerRecord{ID: "w1", Addr: "10.0.0.1:7000", Deleted: true})
	})
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		active, err := f.repo.ActiveWorkers(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []domain.WorkerID{"w1", "w2"}, active, "registering revives a worker")
		return nil
	})
}

func TestEndStreamCompletion(t *testing.T) {
	f := newFixture(t)
	key := domain.ShardKey{Cid: "c1", Session: "s1", Shard: "sh1"}
	es := domain.NewEndStream(domain.EndStreamProducer, key, "a", domain.EndStreamNeedOffer)
	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		return f.repo.SetEndStream(tx, es)
	})

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		done, err := f.repo.CompleteEndStream(ctx, tx, "c1", "a", es.ID)
		require.NoError(t, err)
		assert.True(t, done)
		done, err = f.repo.CompleteEndStream(ctx, tx, "c1", "a", es.ID)
		require.NoError(t, err)
		assert.False(t, done, "already completed")
		done, err = f.repo.CompleteEndStream(ctx, tx, "c1", "a", "")
		require.NoError(t, err)
		assert.False(t, done)
		return nil
	})

	f.tx(t, func(ctx context.Context, tx core.Tx) error {
		got, err := f.repo.EndStream(ctx, tx, "c1", "a", es.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.EndStreamCompleted, got.State)
		assert.Equal(t, 2, got.Seq)

		streams, err := f.repo.EndStreams(ctx, tx, "c1", "a")
		require.NoError(t, err)
		require.Len(t, streams, 1, "completed streams are kept")
		assert.Equal(t, es.ID, streams[0].ID)
		return nil
	})
}
