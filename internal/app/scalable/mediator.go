package scalable

import (
	"context"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRouterCodecs are the media codecs every shard router is created with.
var DefaultRouterCodecs = []webrtc.RTPCodecCapability{
	{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
	{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
}

type nopNotifier struct{}

func (nopNotifier) PeerChanged(domain.ConversationID, domain.PeerID) {}
func (nopNotifier) ConversationStarted(domain.ConversationID)       {}

// Mediator drains session and shard task batches. Media worker calls never run
// inside a store transaction.
type Mediator struct {
	store   core.Store
	repo    *Repository
	shards  *ShardRepository
	workers *WorkerAllocator
	roster  core.Roster
	sdp     core.SDPCodec
	codecs  []webrtc.RTPCodecCapability

	notifier core.Notifier
	logger   zerolog.Logger
}

type MediatorDeps struct {
	Store   core.Store
	Repo    *Repository
	Shards  *ShardRepository
	Workers *WorkerAllocator
	Roster  core.Roster
	SDP     core.SDPCodec
	Codecs  []webrtc.RTPCodecCapability
}

func NewMediator(d MediatorDeps) *Mediator {
	codecs := d.Codecs
	if len(codecs) == 0 {
		codecs = DefaultRouterCodecs
	}
	return &Mediator{
		store:    d.Store,
		repo:     d.Repo,
		shards:   d.Shards,
		workers:  d.Workers,
		roster:   d.Roster,
		sdp:      d.SDP,
		codecs:   codecs,
		notifier: nopNotifier{},
		logger:   log.With().Str("module", "scalable.mediator").Logger(),
	}
}

// SetNotifier must be called before the mediator handles any batch.
func (m *Mediator) SetNotifier(n core.Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	m.notifier = n
}

// OnSessionJob applies a batch of membership events of one conversation. Batches of the
// same conversation must not run concurrently.
func (m *Mediator) OnSessionJob(ctx context.Context, cid domain.ConversationID, tasks []domain.SessionTask) error {
	return m.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		before, err := m.repo.PeerCount(ctx, tx, cid, domain.CollectionMain)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			switch t.Type {
			case domain.SessionAdd:
				_, err = m.repo.AddPeer(ctx, tx, cid, domain.CollectionMain, t.Pid)
			case domain.SessionRemove:
				_, err = m.repo.RemovePeer(ctx, tx, cid, domain.CollectionMain, t.Pid)
			}
			if err != nil {
				return err
			}
		}
		after, err := m.repo.PeerCount(ctx, tx, cid, domain.CollectionMain)
		if err != nil {
			return err
		}

		session, _, err := m.shards.GetSession(ctx, tx, cid)
		if err != nil {
			return err
		}
		switch {
		case before == 0 && after > 0:
			if session, err = m.shards.CreateSession(ctx, tx, cid); err != nil {
				return err
			}
		case before > 0 && after == 0:
			if err := m.shards.DestroySession(ctx, tx, cid, session); err != nil {
				return err
			}
			m.repo.Deactivate(tx, cid)
			return nil
		case after == 0:
			return nil
		}

		collapsed := domain.CollapseSessionTasks(tasks)
		add, err := m.members(ctx, tx, cid, collapsed.Add)
		if err != nil {
			return err
		}
		update, err := m.members(ctx, tx, cid, collapsed.Update)
		if err != nil {
			return err
		}
		for _, pid := range collapsed.Remove {
			if role, ok := rejoined(tasks, pid); ok {
				add = append(add, domain.StateForRole(pid, role))
			}
		}
		workers, err := m.repo.ActiveWorkers(ctx, tx)
		if err != nil {
			return err
		}
		return m.shards.UpdateSharding(ctx, tx, cid, session, workers, collapsed.Remove, add, update)
	})
}

// members drops the states of peers that are not in the main collection.
func (m *Mediator) members(ctx context.Context, tx core.Tx, cid domain.ConversationID, states []domain.PeerState) ([]domain.PeerState, error) {
	out := states[:0:0]
	for _, ps := range states {
		ok, err := m.repo.HasPeer(ctx, tx, cid, domain.CollectionMain, ps.Pid)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ps)
		}
	}
	return out, nil
}

// rejoined reports the role of a peer that was added again after its last removal in
// the same batch.
func rejoined(tasks []domain.SessionTask, pid domain.PeerID) (domain.Role, bool) {
	var (
		role  domain.Role
		added bool
	)
	for _, t := range tasks {
		if t.Pid != pid {
			continue
		}
		switch t.Type {
		case domain.SessionRemove:
			added = false
		case domain.SessionAdd:
			role, added = t.Role, true
		case domain.SessionRoleChange:
			role = t.Role
		}
	}
	return role, added
}
