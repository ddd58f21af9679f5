package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/voicemesh/internal/app/scalable"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func roleCollection(r domain.Role) domain.Collection {
	if r == domain.RoleSpeaker {
		return domain.CollectionSpeaker
	}
	return domain.CollectionListener
}

// setRole moves pid into the collection of role and reports whether it was in one before.
func (o *Orchestrator) setRole(ctx context.Context, tx core.Tx, cid domain.ConversationID, pid domain.PeerID, role domain.Role) (bool, error) {
	joined := false
	for _, r := range []domain.Role{domain.RoleSpeaker, domain.RoleListener} {
		var (
			ok  bool
			err error
		)
		if r == role {
			ok, err = o.Repo.AddPeer(ctx, tx, cid, roleCollection(r), pid)
			ok = !ok
		} else {
			ok, err = o.Repo.RemovePeer(ctx, tx, cid, roleCollection(r), pid)
		}
		if err != nil {
			return false, err
		}
		joined = joined || ok
	}
	return joined, nil
}

func (o *Orchestrator) joined(ctx context.Context, tx core.Tx, cid domain.ConversationID, pid domain.PeerID) (bool, error) {
	for _, c := range []domain.Collection{domain.CollectionSpeaker, domain.CollectionListener} {
		ok, err := o.Repo.HasPeer(ctx, tx, cid, c, pid)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Join puts pid into the call of cid with role. Joining again only changes the role.
func (o *Orchestrator) Join(ctx context.Context, cid domain.ConversationID, pid domain.PeerID, role domain.Role) error {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return err
	}
	started, err := core.InTx(ctx, o.Store, func(ctx context.Context, tx core.Tx) (bool, error) {
		if _, err := o.setRole(ctx, tx, cid, pid, role); err != nil {
			return false, err
		}
		started, err := o.Repo.Activate(ctx, tx, cid)
		if err != nil {
			return false, err
		}
		return started, scalable.PushSessionTask(tx, o.Outbox, domain.SessionTask{Type: domain.SessionAdd, Cid: cid, Pid: pid, Role: role})
	})
	if err != nil {
		return fmt.Errorf("join %s: %w", cid, err)
	}
	log.Info().Str("module", "orch").Str("cid", string(cid)).Str("pid", string(pid)).Str("role", string(role)).Msg("peer joined")
	if started {
		o.ConversationStarted(cid)
	}
	return nil
}

func (o *Orchestrator) Leave(ctx context.Context, cid domain.ConversationID, pid domain.PeerID) error {
	err := o.Store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		left := false
		for _, c := range []domain.Collection{domain.CollectionSpeaker, domain.CollectionListener} {
			ok, err := o.Repo.RemovePeer(ctx, tx, cid, c, pid)
			if err != nil {
				return err
			}
			left = left || ok
		}
		if !left {
			return ErrNotJoined
		}
		o.Repo.ClearCapabilities(tx, cid, pid)
		return scalable.PushSessionTask(tx, o.Outbox, domain.SessionTask{Type: domain.SessionRemove, Cid: cid, Pid: pid})
	})
	if err != nil {
		return fmt.Errorf("leave %s: %w", cid, err)
	}
	log.Info().Str("module", "orch").Str("cid", string(cid)).Str("pid", string(pid)).Msg("peer left")
	return nil
}

func (o *Orchestrator) ChangeRole(ctx context.Context, cid domain.ConversationID, pid domain.PeerID, role domain.Role) error {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return err
	}
	err := o.Store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		ok, err := o.joined(ctx, tx, cid, pid)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotJoined
		}
		if _, err := o.setRole(ctx, tx, cid, pid, role); err != nil {
			return err
		}
		return scalable.PushSessionTask(tx, o.Outbox, domain.SessionTask{Type: domain.SessionRoleChange, Cid: cid, Pid: pid, Role: role})
	})
	if err != nil {
		return fmt.Errorf("change role in %s: %w", cid, err)
	}
	log.Info().Str("module", "orch").Str("cid", string(cid)).Str("pid", string(pid)).Str("role", string(role)).Msg("role changed")
	return nil
}

// SetCapabilities stores what pid can receive. A peer that is already sharded gets its
// consumer created by its shard.
func (o *Orchestrator) SetCapabilities(ctx context.Context, cid domain.ConversationID, pid domain.PeerID, caps domain.RtpCapabilities) error {
	return o.Store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		if err := o.Repo.SetCapabilities(tx, cid, pid, caps); err != nil {
			return err
		}
		session, ok, err := o.Shards.GetSession(ctx, tx, cid)
		if err != nil || !ok {
			return err
		}
		mode, err := o.Shards.GetShardMode(ctx, tx, cid, session)
		if err != nil {
			return err
		}
		shard, ok := mode.ShardOf(pid)
		if !ok {
			return nil
		}
		key := domain.ShardKey{Cid: cid, Session: session, Shard: shard}
		return scalable.PushShardTask(tx, o.Outbox, domain.AddConsumerTask{ShardKey: key, Pid: pid})
	})
}

// Topology is the inspection view of one conversation.
type Topology struct {
	Cid     domain.ConversationID                 `json:"cid"`
	Session domain.SessionID                      `json:"session,omitempty"`
	Peers   map[domain.Collection][]domain.PeerID `json:"peers"`
	Region  *domain.ShardRegion                   `json:"region,omitempty"`
	Shards  map[domain.ShardID]scalable.ShardInfo `json:"shards,omitempty"`
	Streams map[domain.PeerID][]*domain.EndStream `json:"streams,omitempty"`
}

func (o *Orchestrator) Topology(ctx context.Context, cid domain.ConversationID) (*Topology, error) {
	return core.InTx(ctx, o.Store, func(ctx context.Context, tx core.Tx) (*Topology, error) {
		t := &Topology{Cid: cid, Peers: make(map[domain.Collection][]domain.PeerID)}
		for _, c := range []domain.Collection{domain.CollectionMain, domain.CollectionSpeaker, domain.CollectionListener, domain.CollectionProducer} {
			peers, err := o.Repo.Peers(ctx, tx, cid, c)
			if err != nil {
				return nil, err
			}
			t.Peers[c] = peers
		}
		streams := make(map[domain.PeerID][]*domain.EndStream)
		for _, pid := range t.Peers[domain.CollectionMain] {
			es, err := o.Repo.EndStreams(ctx, tx, cid, pid)
			if err != nil {
				return nil, err
			}
			if len(es) > 0 {
				streams[pid] = es
			}
		}
		t.Streams = streams

		session, ok, err := o.Shards.GetSession(ctx, tx, cid)
		if err != nil || !ok {
			return t, err
		}
		mode, err := o.Shards.GetShardMode(ctx, tx, cid, session)
		if err != nil {
			return nil, err
		}
		t.Session = session
		t.Region = &mode.Region
		t.Shards = make(map[domain.ShardID]scalable.ShardInfo, len(mode.Region.Shards))
		for _, id := range mode.ShardIDs() {
			info, err := o.Repo.ShardInfo(ctx, tx, domain.ShardKey{Cid: cid, Session: session, Shard: id})
			if err != nil {
				return nil, err
			}
			t.Shards[id] = info
		}
		return t, nil
	})
}
