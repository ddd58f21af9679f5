package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type peerEntry struct {
	Cid    domain.ConversationID
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry tracks the signaling connection of every peer connected to this process and
// the conversation it joined.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.PeerID]*peerEntry)}
}

// Bind attaches a connection to pid. A previous connection of the same peer is
// canceled and forgotten.
func (r *Registry) Bind(pid domain.PeerID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	old := r.peers[pid]
	r.peers[pid] = &peerEntry{Conn: conn, Cancel: cancel}
	if old != nil {
		r.peers[pid].Cid = old.Cid
	}
	r.mu.Unlock()
	if old != nil && old.Cancel != nil {
		old.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("bound signal")
}

// Unbind forgets pid if conn is still its current connection.
func (r *Registry) Unbind(pid domain.PeerID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[pid]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.peers, pid)
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("unbind signal")
	return true
}

func (r *Registry) Conn(pid domain.PeerID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.peers[pid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) ConversationOf(pid domain.PeerID) (domain.ConversationID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[pid]
	if !ok || e.Cid == "" {
		return "", false
	}
	return e.Cid, true
}

func (r *Registry) SetConversation(pid domain.PeerID, cid domain.ConversationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[pid]
	if !ok {
		return false
	}
	e.Cid = cid
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Str("cid", string(cid)).Msg("updated conversation")
	return true
}

func (r *Registry) ClearConversation(pid domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[pid]; ok {
		e.Cid = ""
	}
}

type PeerSnap struct {
	Pid  domain.PeerID
	Conn core.SignalConnection
}

// PeersOf returns the local peers of a conversation ordered by id.
func (r *Registry) PeersOf(cid domain.ConversationID) []PeerSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerSnap, 0)
	for pid, e := range r.peers {
		if e.Cid == cid {
			out = append(out, PeerSnap{Pid: pid, Conn: e.Conn})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pid < out[j].Pid })
	return out
}

func (r *Registry) Cancel(pid domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.peers[pid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("canceled signal")
	return true
}
