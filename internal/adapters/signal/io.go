package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.PingPeriod > 0 {
		t := time.NewTicker(ctl.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump serves client messages. When it ends the peer leaves its call unless a newer
// connection took over.
func (ctl *SignalWSController) readPump(ctx context.Context, pid domain.PeerID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("readPump closing")
		c.Close()
		cid, joined := ctl.Orch.Registry.ConversationOf(pid)
		if !ctl.Orch.Registry.Unbind(pid, c) {
			return
		}
		ctl.Limiter.Forget(pid)
		if !joined {
			return
		}
		leaveCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := ctl.Orch.Leave(leaveCtx, cid, pid); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("leave on disconnect")
		}
	}()

	if ctl.PingPeriod > 0 {
		wait := ctl.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, pid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, pid domain.PeerID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, pid, c, data)
	case "leave":
		ctl.handleLeave(ctx, pid, c)
	case "role":
		ctl.handleRole(ctx, pid, c, data)
	case "capabilities":
		ctl.handleCapabilities(ctx, pid, c, data)
	case "offer":
		ctl.handleOffer(ctx, pid, c, data)
	case "answer":
		ctl.handleAnswer(ctx, pid, c, data)
	case "streams":
		ctl.handleStreams(pid, c)
	case "ping":
		ctl.handlePing(c)
	case "whoami":
		ctl.handleWhoAmI(pid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": code,
	})
}
