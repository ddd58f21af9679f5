package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type sdpMessage struct {
	Sid domain.EndStreamID `json:"sid"`
	SDP string             `json:"sdp"`
}

type negotiateFunc func(ctx context.Context, cid domain.ConversationID, pid domain.PeerID, sid domain.EndStreamID, sdp string) error

func (ctl *SignalWSController) handleOffer(ctx context.Context, pid domain.PeerID, conn *WsSignalConn, data []byte) {
	if !ctl.Limiter.Allow(pid) {
		ctl.sendError(conn, "rate_limited")
		return
	}
	ctl.negotiate(ctx, pid, conn, data, "offer", ctl.Orch.Offer)
}

func (ctl *SignalWSController) handleAnswer(ctx context.Context, pid domain.PeerID, conn *WsSignalConn, data []byte) {
	ctl.negotiate(ctx, pid, conn, data, "answer", ctl.Orch.Answer)
}

func (ctl *SignalWSController) negotiate(
	ctx context.Context,
	pid domain.PeerID,
	conn *WsSignalConn,
	data []byte,
	kind string,
	fn negotiateFunc,
) {
	var msg sdpMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Sid == "" || msg.SDP == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	cid, ok := ctl.Orch.Registry.ConversationOf(pid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}

	err := fn(ctx, cid, pid, msg.Sid, msg.SDP)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrStreamNotFound), errors.Is(err, orch.ErrStreamState):
		log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Str("sid", string(msg.Sid)).Msg(kind)
		ctl.sendError(conn, "stale_stream")
	default:
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Str("sid", string(msg.Sid)).Msg(kind)
		ctl.sendError(conn, kind+"_failed")
	}
}
