package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/scalable"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

const notifyTimeout = 5 * time.Second

// StreamsMessage is pushed to a client whenever one of its end streams changed.
type StreamsMessage struct {
	Type    string                `json:"type"`
	Cid     domain.ConversationID `json:"cid"`
	Streams []*domain.EndStream   `json:"streams"`
}

// Offer hands the client offer of a producer stream to its shard.
func (o *Orchestrator) Offer(ctx context.Context, cid domain.ConversationID, pid domain.PeerID, sid domain.EndStreamID, sdp string) error {
	return o.negotiate(ctx, cid, pid, sid, domain.EndStreamProducer, domain.EndStreamNeedOffer, domain.EndStreamWaitOffer,
		func(es *domain.EndStream) domain.ShardTask {
			return domain.OfferTask{ShardKey: es.Target(), Pid: pid, Sid: sid, SDP: sdp}
		}, sdp)
}

// Answer hands the client answer of a consumer stream to its shard.
func (o *Orchestrator) Answer(ctx context.Context, cid domain.ConversationID, pid domain.PeerID, sid domain.EndStreamID, sdp string) error {
	return o.negotiate(ctx, cid, pid, sid, domain.EndStreamConsumer, domain.EndStreamNeedAnswer, domain.EndStreamWaitAnswer,
		func(es *domain.EndStream) domain.ShardTask {
			return domain.AnswerTask{ShardKey: es.Target(), Pid: pid, Sid: sid, SDP: sdp}
		}, sdp)
}

func (o *Orchestrator) negotiate(
	ctx context.Context,
	cid domain.ConversationID,
	pid domain.PeerID,
	sid domain.EndStreamID,
	kind domain.EndStreamKind,
	from, to domain.EndStreamState,
	task func(es *domain.EndStream) domain.ShardTask,
	sdp string,
) error {
	return o.Store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		es, err := o.Repo.EndStream(ctx, tx, cid, pid, sid)
		if err != nil {
			return err
		}
		if es == nil {
			return fmt.Errorf("%w: %s", ErrStreamNotFound, sid)
		}
		if es.Kind != kind || es.State != from {
			return fmt.Errorf("%w: %s %s is %s", ErrStreamState, es.Kind, sid, es.State)
		}
		es.LocalSDP = sdp
		es.Transition(to)
		if err := o.Repo.SetEndStream(tx, es); err != nil {
			return err
		}
		tx.AfterCommit(func(context.Context) { o.PeerChanged(cid, pid) })
		return scalable.PushShardTask(tx, o.Outbox, task(es))
	})
}

func (o *Orchestrator) EndStreams(ctx context.Context, cid domain.ConversationID, pid domain.PeerID) ([]*domain.EndStream, error) {
	return core.InTx(ctx, o.Store, func(ctx context.Context, tx core.Tx) ([]*domain.EndStream, error) {
		return o.Repo.EndStreams(ctx, tx, cid, pid)
	})
}

// PeerChanged sends pid a snapshot of its end streams if it is connected here.
func (o *Orchestrator) PeerChanged(cid domain.ConversationID, pid domain.PeerID) {
	conn, ok := o.Registry.Conn(pid)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	streams, err := o.EndStreams(ctx, cid, pid)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.notify").Str("cid", string(cid)).Str("pid", string(pid)).Msg("load end streams")
		return
	}
	o.send(pid, conn, StreamsMessage{Type: "streams", Cid: cid, Streams: streams})
}

func (o *Orchestrator) ConversationStarted(cid domain.ConversationID) {
	log.Info().Str("module", "orch.notify").Str("cid", string(cid)).Msg("conversation started")
	msg := struct {
		Type string                `json:"type"`
		Cid  domain.ConversationID `json:"cid"`
	}{"conversation_started", cid}
	for _, snap := range o.Registry.PeersOf(cid) {
		o.send(snap.Pid, snap.Conn, msg)
	}
}

func (o *Orchestrator) send(pid domain.PeerID, conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.notify").Msg("marshal frame")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "orch.notify").Str("pid", string(pid)).Msg("frame refused")
		if o.Policy == nil {
			return
		}
		switch o.Policy.OnBackPressure(pid, conn) {
		case app.KickPeer:
			o.Kick(pid)
		case app.DropFrame, app.NoAction:
		}
	}
}

// Kick drops the signaling connection of pid. The connection handler leaves the call.
func (o *Orchestrator) Kick(pid domain.PeerID) {
	if conn, ok := o.Registry.Conn(pid); ok {
		conn.Close()
	}
	o.Registry.Cancel(pid)
}
