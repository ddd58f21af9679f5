package signal

import "github.com/dkeye/voicemesh/internal/domain"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleWhoAmI(
	pid domain.PeerID,
	conn *WsSignalConn,
) {
	resp := struct {
		Type string                `json:"type"`
		Pid  domain.PeerID         `json:"pid"`
		Cid  domain.ConversationID `json:"cid,omitempty"`
	}{
		Type: "whoami",
		Pid:  pid,
	}
	if cid, ok := ctl.Orch.Registry.ConversationOf(pid); ok {
		resp.Cid = cid
	}
	ctl.sendJSON(conn, resp)
}

// handleStreams resends the end stream snapshot, used by clients after a reload.
func (ctl *SignalWSController) handleStreams(
	pid domain.PeerID,
	conn *WsSignalConn,
) {
	cid, ok := ctl.Orch.Registry.ConversationOf(pid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}
	ctl.Orch.PeerChanged(cid, pid)
}
