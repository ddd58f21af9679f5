package scalable

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/voicemesh/internal/adapters/kv"
	"github.com/dkeye/voicemesh/internal/adapters/sdp"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// recordingQueue keeps pushed payloads until a test takes them.
type recordingQueue struct {
	mu      sync.Mutex
	keys    []string
	pending map[string][][]byte
	// down makes Push fail while set.
	down error
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{pending: make(map[string][][]byte)}
}

func (q *recordingQueue) Push(_ context.Context, key string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down != nil {
		return q.down
	}
	if _, ok := q.pending[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.pending[key] = append(q.pending[key], payload)
	return nil
}

func (q *recordingQueue) setDown(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.down = err
}

func (q *recordingQueue) Run(ctx context.Context, _ core.BatchHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

// take returns the pending batches in first push order and empties the queue.
func (q *recordingQueue) take() ([]string, map[string][][]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys, pending := q.keys, q.pending
	q.keys, q.pending = nil, make(map[string][][]byte)
	return keys, pending
}

// shardTasks takes the pending shard tasks grouped by shard.
func (q *recordingQueue) shardTasks(t *testing.T) map[domain.ShardID][]domain.ShardTask {
	t.Helper()
	keys, pending := q.take()
	out := make(map[domain.ShardID][]domain.ShardTask)
	for _, key := range keys {
		for _, payload := range pending[key] {
			task, err := domain.DecodeShardTask(payload)
			require.NoError(t, err)
			out[task.Target().Shard] = append(out[task.Target().Shard], task)
		}
	}
	return out
}

type recordingNotifier struct {
	mu      sync.Mutex
	changed map[domain.PeerID]int
	started []domain.ConversationID
}

func (n *recordingNotifier) PeerChanged(_ domain.ConversationID, pid domain.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.changed == nil {
		n.changed = make(map[domain.PeerID]int)
	}
	n.changed[pid]++
}

func (n *recordingNotifier) ConversationStarted(cid domain.ConversationID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, cid)
}

type fixture struct {
	store   *kv.MemoryStore
	queue   *recordingQueue
	outbox  *Outbox
	repo    *Repository
	workers *WorkerAllocator
	shards  *ShardRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   kv.NewMemoryStore(),
		queue:   newRecordingQueue(),
		repo:    NewRepository(),
		workers: NewWorkerAllocator(DefaultWorkerBudget),
	}
	f.outbox = NewOutbox(f.store, f.queue)
	f.shards = NewShardRepository(f.workers, f.outbox)
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func (f *fixture) mediator(roster core.Roster) *Mediator {
	return NewMediator(MediatorDeps{
		Store:   f.store,
		Repo:    f.repo,
		Shards:  f.shards,
		Workers: f.workers,
		Roster:  roster,
		SDP:     sdp.Codec{},
	})
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, tx core.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.Transact(context.Background(), fn))
}

func (f *fixture) pushSession(t *testing.T, tasks ...domain.SessionTask) {
	t.Helper()
	for _, task := range tasks {
		payload, err := domain.EncodeSessionTask(task)
		require.NoError(t, err)
		require.NoError(t, f.queue.Push(context.Background(), domain.SessionQueueKey(task.Cid), payload))
	}
}

// drain hands queued batches to the mediator until nothing is left.
func (f *fixture) drain(t *testing.T, m *Mediator) {
	t.Helper()
	ctx := context.Background()
	for range 50 {
		keys, pending := f.queue.take()
		if len(keys) == 0 {
			return
		}
		for _, key := range keys {
			if strings.HasPrefix(key, "session:") {
				var tasks []domain.SessionTask
				for _, payload := range pending[key] {
					task, err := domain.DecodeSessionTask(payload)
					require.NoError(t, err)
					tasks = append(tasks, task)
				}
				require.NoError(t, m.OnSessionJob(ctx, tasks[0].Cid, tasks), key)
				continue
			}
			var tasks []domain.ShardTask
			for _, payload := range pending[key] {
				task, err := domain.DecodeShardTask(payload)
				require.NoError(t, err)
				tasks = append(tasks, task)
			}
			require.NoError(t, m.OnShardJob(ctx, tasks[0].Target(), tasks), key)
		}
	}
	t.Fatal("queue did not drain")
}

func opusCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	}}
}

// clientSDP is a minimal browser description with one audio section.
func clientSDP(direction, setup string) string {
	lines := []string{
		"v=0",
		"o=- 4611731400430051336 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"a=group:BUNDLE 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=ice-ufrag:abcd",
		"a=ice-pwd:aaaaaaaaaaaaaaaaaaaaaaaa",
		"a=fingerprint:sha-256 AA:BB:CC:DD",
		"a=setup:" + setup,
		"a=mid:0",
		"a=" + direction,
		"a=rtcp-mux",
		"a=rtpmap:111 opus/48000/2",
		"a=fmtp:111 minptime=10;useinbandfec=1",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}
