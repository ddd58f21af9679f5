package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	pid domain.PeerID,
	conn *WsSignalConn,
	data []byte,
) {
	if !ctl.Limiter.Allow(pid) {
		ctl.sendError(conn, "rate_limited")
		return
	}

	var msg struct {
		Cid  domain.ConversationID `json:"cid"`
		Role string                `json:"role"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Cid == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if msg.Role == "" {
		msg.Role = string(domain.RoleListener)
	}
	role, err := domain.ParseRole(msg.Role)
	if err != nil {
		ctl.sendError(conn, "bad_role")
		return
	}

	reg := ctl.Orch.Registry
	if cur, ok := reg.ConversationOf(pid); ok && cur != msg.Cid {
		if err := ctl.Orch.Leave(ctx, cur, pid); err != nil && !errors.Is(err, orch.ErrNotJoined) {
			log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("leave previous conversation")
		}
	}
	if !reg.SetConversation(pid, msg.Cid) {
		return
	}
	if err := ctl.Orch.Join(ctx, msg.Cid, pid, role); err != nil {
		reg.ClearConversation(pid)
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("join")
		ctl.sendError(conn, "join_failed")
		return
	}

	resp := struct {
		Type string                `json:"type"`
		Cid  domain.ConversationID `json:"cid"`
		Role domain.Role           `json:"role"`
	}{
		Type: "joined",
		Cid:  msg.Cid,
		Role: role,
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleLeave(
	ctx context.Context,
	pid domain.PeerID,
	conn *WsSignalConn,
) {
	cid, ok := ctl.Orch.Registry.ConversationOf(pid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}
	ctl.Orch.Registry.ClearConversation(pid)
	if err := ctl.Orch.Leave(ctx, cid, pid); err != nil && !errors.Is(err, orch.ErrNotJoined) {
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("leave")
		ctl.sendError(conn, "leave_failed")
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "left", "cid": cid})
}

func (ctl *SignalWSController) handleRole(
	ctx context.Context,
	pid domain.PeerID,
	conn *WsSignalConn,
	data []byte,
) {
	var msg struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	role, err := domain.ParseRole(msg.Role)
	if err != nil {
		ctl.sendError(conn, "bad_role")
		return
	}
	cid, ok := ctl.Orch.Registry.ConversationOf(pid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}
	if err := ctl.Orch.ChangeRole(ctx, cid, pid, role); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("change role")
		ctl.sendError(conn, "role_failed")
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "role", "role": role})
}

func (ctl *SignalWSController) handleCapabilities(
	ctx context.Context,
	pid domain.PeerID,
	conn *WsSignalConn,
	data []byte,
) {
	var msg struct {
		Capabilities domain.RtpCapabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	cid, ok := ctl.Orch.Registry.ConversationOf(pid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}
	if err := ctl.Orch.SetCapabilities(ctx, cid, pid, msg.Capabilities); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("set capabilities")
		ctl.sendError(conn, "capabilities_failed")
	}
}
