// Package scalable shards live calls across media workers. All state lives in a
// core.Store; everything that talks to media workers runs outside transactions.
package scalable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

const (
	workersDir = "workers"
	ledgerDir  = "ledger"

	keyActive  = "active"
	keySession = "session"
	keyMode    = "mode"
	keyInfo    = "info"
)

func convDir(cid domain.ConversationID) string { return "conv/" + string(cid) }

func peersDir(cid domain.ConversationID, c domain.Collection) string {
	return convDir(cid) + "/peers/" + string(c)
}
func countDir(cid domain.ConversationID) string { return convDir(cid) + "/count" }
func metaDir(cid domain.ConversationID) string  { return convDir(cid) + "/meta" }
func capsDir(cid domain.ConversationID) string  { return convDir(cid) + "/caps" }

func streamsDir(cid domain.ConversationID, pid domain.PeerID) string {
	return convDir(cid) + "/streams/" + string(pid)
}

func modeDir(cid domain.ConversationID, session domain.SessionID) string {
	return "session/" + string(cid) + "/" + string(session)
}

func shardDir(k domain.ShardKey) string {
	return "shard/" + string(k.Cid) + "/" + string(k.Session) + "/" + string(k.Shard)
}
func producersDir(k domain.ShardKey) string { return shardDir(k) + "/producers" }
func consumersDir(k domain.ShardKey) string { return shardDir(k) + "/consumers" }

func getJSON[T any](ctx context.Context, tx core.Tx, dir, key string) (*T, error) {
	raw, ok, err := tx.Get(ctx, dir, key)
	if err != nil || !ok {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", dir, key, err)
	}
	return v, nil
}

func setJSON(tx core.Tx, dir, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", dir, key, err)
	}
	tx.Set(dir, key, raw)
	return nil
}

func listJSON[T any](ctx context.Context, tx core.Tx, dir string) ([]*T, error) {
	entries, err := tx.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(entries))
	for _, e := range entries {
		v := new(T)
		if err := json.Unmarshal(e.Value, v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", dir, e.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// WorkerRecord is a media worker known to the cluster.
type WorkerRecord struct {
	ID      domain.WorkerID `json:"id"`
	Addr    string          `json:"addr"`
	Deleted bool            `json:"deleted"`
}

// ShardInfo is the media side state of one shard.
type ShardInfo struct {
	Worker   domain.WorkerID `json:"worker,omitempty"`
	Router   string          `json:"router,omitempty"`
	Deleted  bool            `json:"deleted"`
	Released bool            `json:"released"`
}

// Repository holds the transactional accessors of peers, workers and shard records.
type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

// AddPeer puts pid into a membership collection. It reports false when pid was
// already a member.
func (r *Repository) AddPeer(ctx context.Context, tx core.Tx, cid domain.ConversationID, c domain.Collection, pid domain.PeerID) (bool, error) {
	_, ok, err := tx.Get(ctx, peersDir(cid, c), string(pid))
	if err != nil || ok {
		return false, err
	}
	tx.Set(peersDir(cid, c), string(pid), []byte("1"))
	tx.Add(countDir(cid), string(c), 1)
	return true, nil
}

// RemovePeer takes pid out of a collection. It reports false when pid was not a member.
func (r *Repository) RemovePeer(ctx context.Context, tx core.Tx, cid domain.ConversationID, c domain.Collection, pid domain.PeerID) (bool, error) {
	_, ok, err := tx.Get(ctx, peersDir(cid, c), string(pid))
	if err != nil || !ok {
		return false, err
	}
	tx.Clear(peersDir(cid, c), string(pid))
	tx.Add(countDir(cid), string(c), -1)
	return true, nil
}

func (r *Repository) HasPeer(ctx context.Context, tx core.Tx, cid domain.ConversationID, c domain.Collection, pid domain.PeerID) (bool, error) {
	_, ok, err := tx.Get(ctx, peersDir(cid, c), string(pid))
	return ok, err
}

// PeerCount is a snapshot read of a collection size.
func (r *Repository) PeerCount(ctx context.Context, tx core.Tx, cid domain.ConversationID, c domain.Collection) (int64, error) {
	return tx.Counter(ctx, countDir(cid), string(c))
}

func (r *Repository) Peers(ctx context.Context, tx core.Tx, cid domain.ConversationID, c domain.Collection) ([]domain.PeerID, error) {
	entries, err := tx.List(ctx, peersDir(cid, c))
	if err != nil {
		return nil, err
	}
	out := make([]domain.PeerID, len(entries))
	for i, e := range entries {
		out[i] = domain.PeerID(e.Key)
	}
	return out, nil
}

// Activate flags the conversation as live and reports whether it was not before.
func (r *Repository) Activate(ctx context.Context, tx core.Tx, cid domain.ConversationID) (bool, error) {
	_, ok, err := tx.Get(ctx, metaDir(cid), keyActive)
	if err != nil || ok {
		return false, err
	}
	tx.Set(metaDir(cid), keyActive, []byte("1"))
	return true, nil
}

func (r *Repository) Deactivate(tx core.Tx, cid domain.ConversationID) {
	tx.Clear(metaDir(cid), keyActive)
}

func (r *Repository) SetCapabilities(tx core.Tx, cid domain.ConversationID, pid domain.PeerID, caps domain.RtpCapabilities) error {
	return setJSON(tx, capsDir(cid), string(pid), caps)
}

// Capabilities returns nil when the peer has not reported any yet.
func (r *Repository) Capabilities(ctx context.Context, tx core.Tx, cid domain.ConversationID, pid domain.PeerID) (*domain.RtpCapabilities, error) {
	return getJSON[domain.RtpCapabilities](ctx, tx, capsDir(cid), string(pid))
}

func (r *Repository) ClearCapabilities(tx core.Tx, cid domain.ConversationID, pid domain.PeerID) {
	tx.Clear(capsDir(cid), string(pid))
}

func (r *Repository) RegisterWorker(tx core.Tx, w WorkerRecord) error {
	w.Deleted = false
	return setJSON(tx, workersDir, string(w.ID), w)
}

func (r *Repository) MarkWorkerDeleted(ctx context.Context, tx core.Tx, id domain.WorkerID) error {
	w, err := getJSON[WorkerRecord](ctx, tx, workersDir, string(id))
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	w.Deleted = true
	return setJSON(tx, workersDir, string(id), w)
}

func (r *Repository) Workers(ctx context.Context, tx core.Tx) ([]*WorkerRecord, error) {
	return listJSON[WorkerRecord](ctx, tx, workersDir)
}

// ActiveWorkers returns the ids of workers not marked deleted, ordered by id.
func (r *Repository) ActiveWorkers(ctx context.Context, tx core.Tx) ([]domain.WorkerID, error) {
	ws, err := r.Workers(ctx, tx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkerID, 0, len(ws))
	for _, w := range ws {
		if !w.Deleted {
			out = append(out, w.ID)
		}
	}
	return out, nil
}

func (r *Repository) ShardInfo(ctx context.Context, tx core.Tx, k domain.ShardKey) (ShardInfo, error) {
	info, err := getJSON[ShardInfo](ctx, tx, shardDir(k), keyInfo)
	if err != nil || info == nil {
		return ShardInfo{}, err
	}
	return *info, nil
}

func (r *Repository) SetShardInfo(tx core.Tx, k domain.ShardKey, info ShardInfo) error {
	return setJSON(tx, shardDir(k), keyInfo, info)
}

func (r *Repository) Producer(ctx context.Context, tx core.Tx, k domain.ShardKey, pid domain.PeerID) (*domain.ShardProducer, error) {
	return getJSON[domain.ShardProducer](ctx, tx, producersDir(k), string(pid))
}

func (r *Repository) Producers(ctx context.Context, tx core.Tx, k domain.ShardKey) ([]*domain.ShardProducer, error) {
	return listJSON[domain.ShardProducer](ctx, tx, producersDir(k))
}

func (r *Repository) SetProducer(tx core.Tx, k domain.ShardKey, p *domain.ShardProducer) error {
	return setJSON(tx, producersDir(k), string(p.Pid), p)
}

func (r *Repository) ClearProducer(tx core.Tx, k domain.ShardKey, pid domain.PeerID) {
	tx.Clear(producersDir(k), string(pid))
}

func (r *Repository) Consumer(ctx context.Context, tx core.Tx, k domain.ShardKey, pid domain.PeerID) (*domain.ShardConsumer, error) {
	return getJSON[domain.ShardConsumer](ctx, tx, consumersDir(k), string(pid))
}

func (r *Repository) Consumers(ctx context.Context, tx core.Tx, k domain.ShardKey) ([]*domain.ShardConsumer, error) {
	return listJSON[domain.ShardConsumer](ctx, tx, consumersDir(k))
}

func (r *Repository) SetConsumer(tx core.Tx, k domain.ShardKey, c *domain.ShardConsumer) error {
	return setJSON(tx, consumersDir(k), string(c.Pid), c)
}

func (r *Repository) ClearConsumer(tx core.Tx, k domain.ShardKey, pid domain.PeerID) {
	tx.Clear(consumersDir(k), string(pid))
}

// ClearShardRecords drops every producer and consumer record of a shard.
func (r *Repository) ClearShardRecords(tx core.Tx, k domain.ShardKey) {
	tx.ClearDir(producersDir(k))
	tx.ClearDir(consumersDir(k))
}

func (r *Repository) EndStream(ctx context.Context, tx core.Tx, cid domain.ConversationID, pid domain.PeerID, sid domain.EndStreamID) (*domain.EndStream, error) {
	return getJSON[domain.EndStream](ctx, tx, streamsDir(cid, pid), string(sid))
}

func (r *Repository) EndStreams(ctx context.Context, tx core.Tx, cid domain.ConversationID, pid domain.PeerID) ([]*domain.EndStream, error) {
	return listJSON[domain.EndStream](ctx, tx, streamsDir(cid, pid))
}

func (r *Repository) SetEndStream(tx core.Tx, e *domain.EndStream) error {
	return setJSON(tx, streamsDir(e.Cid, e.Pid), string(e.ID), e)
}

// CompleteEndStream moves a stream to completed unless it already is.
func (r *Repository) CompleteEndStream(ctx context.Context, tx core.Tx, cid domain.ConversationID, pid domain.PeerID, sid domain.EndStreamID) (bool, error) {
	if sid == "" {
		return false, nil
	}
	e, err := r.EndStream(ctx, tx, cid, pid, sid)
	if err != nil || e == nil || e.State == domain.EndStreamCompleted {
		return false, err
	}
	e.Transition(domain.EndStreamCompleted)
	return true, r.SetEndStream(tx, e)
}
