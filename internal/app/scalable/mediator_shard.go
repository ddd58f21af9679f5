package scalable

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

var errRouterClosed = errors.New("shard router already closed")

func routerKey(k domain.ShardKey) string                  { return "router:" + string(k.Shard) }
func producerTransportKey(sid domain.EndStreamID) string  { return "transport:" + string(sid) }
func producerKey(sid domain.EndStreamID) string           { return "producer:" + string(sid) }
func consumerTransportKey(c *domain.ShardConsumer) string { return "transport:" + c.ID }
func consumerKey(c *domain.ShardConsumer, producerID string) string {
	return "consumer:" + c.ID + "/" + producerID
}

type producerOffer struct {
	pid   domain.PeerID
	sid   domain.EndStreamID
	offer core.ProducerOffer
}

type consumerAnswer struct {
	pid    domain.PeerID
	sid    domain.EndStreamID
	answer core.ConsumerAnswer
}

// shardPlan is what the plan transaction decided, the input of the media calls.
type shardPlan struct {
	key       domain.ShardKey
	worker    domain.WorkerID
	router    string
	producers []*domain.ShardProducer
	consumers []*domain.ShardConsumer
	retired   []*domain.ShardProducer
	offers    []producerOffer
	answers   []consumerAnswer
	reoffer   map[domain.PeerID]bool
}

func (p *shardPlan) producer(pid domain.PeerID) *domain.ShardProducer {
	for _, rec := range p.producers {
		if rec.Pid == pid {
			return rec
		}
	}
	return nil
}

func (p *shardPlan) consumer(pid domain.PeerID) *domain.ShardConsumer {
	for _, rec := range p.consumers {
		if rec.Pid == pid {
			return rec
		}
	}
	return nil
}

type producerResult struct {
	pid        domain.PeerID
	sid        domain.EndStreamID
	transport  domain.TransportInfo
	producerID string
	kind       string
	parameters webrtc.RTPParameters
	paused     bool
	muted      bool
	answer     string
}

type pauseResult struct {
	pid        domain.PeerID
	producerID string
	paused     bool
}

type consumerResult struct {
	pid       domain.PeerID
	id        string
	transport domain.TransportInfo
	edges     []domain.ConsumerEdge
}

type shardResult struct {
	router    string
	producers []producerResult
	pauses    []pauseResult
	consumers []consumerResult
	connected []consumerAnswer
}

// OnShardJob runs one batch of a shard. A stop task anywhere in the batch turns it
// into a teardown.
func (m *Mediator) OnShardJob(ctx context.Context, key domain.ShardKey, tasks []domain.ShardTask) error {
	for _, t := range tasks {
		if stop, ok := t.(domain.StopTask); ok {
			return m.teardown(ctx, stop)
		}
	}
	logger := m.shardLogger(key)

	plan, err := core.InTx(ctx, m.store, func(ctx context.Context, tx core.Tx) (*shardPlan, error) {
		return m.plan(ctx, tx, key, tasks, logger)
	})
	if err != nil || plan == nil {
		return err
	}
	res, err := m.execute(ctx, plan)
	if err != nil {
		return err
	}
	return m.store.Transact(ctx, func(ctx context.Context, tx core.Tx) error {
		return m.commit(ctx, tx, plan, res, logger)
	})
}

func (m *Mediator) shardLogger(k domain.ShardKey) zerolog.Logger {
	return m.logger.With().
		Str("cid", string(k.Cid)).
		Str("session", string(k.Session)).
		Str("shard", string(k.Shard)).
		Logger()
}

func (m *Mediator) notifyAfterCommit(tx core.Tx, cid domain.ConversationID, pids map[domain.PeerID]bool) {
	if len(pids) == 0 {
		return
	}
	sorted := slices.Sorted(maps.Keys(pids))
	tx.AfterCommit(func(context.Context) {
		for _, pid := range sorted {
			m.notifier.PeerChanged(cid, pid)
		}
	})
}

func (m *Mediator) plan(ctx context.Context, tx core.Tx, key domain.ShardKey, tasks []domain.ShardTask, logger zerolog.Logger) (*shardPlan, error) {
	info, err := m.repo.ShardInfo(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if info.Deleted {
		logger.Info().Int("tasks", len(tasks)).Msg("shard deleted, dropping stale tasks")
		return nil, nil
	}
	if info.Worker == "" {
		i := slices.IndexFunc(tasks, func(t domain.ShardTask) bool { return t.Type() == domain.TaskStart })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingStart, key.QueueKey())
		}
		info.Worker = tasks[i].(domain.StartTask).Worker
		if err := m.repo.SetShardInfo(tx, key, info); err != nil {
			return nil, err
		}
	}

	p := &shardPlan{
		key:     key,
		worker:  info.Worker,
		router:  info.Router,
		reoffer: make(map[domain.PeerID]bool),
	}
	changed := make(map[domain.PeerID]bool)
	offers := make(map[domain.PeerID]producerOffer)
	answers := make(map[domain.PeerID]consumerAnswer)

	for _, t := range tasks {
		var err error
		switch t := t.(type) {
		case domain.StartTask:
		case domain.AddProducerTask:
			err = m.planAddProducer(ctx, tx, key, t.Pid, changed)
		case domain.RemoveProducerTask:
			err = m.planRemoveProducer(ctx, tx, p, t.Pid, changed)
		case domain.AddConsumerTask:
			err = m.planAddConsumer(ctx, tx, key, t.Pid, logger)
		case domain.RemoveConsumerTask:
			err = m.planRemoveConsumer(ctx, tx, key, t.Pid, changed)
		case domain.OfferTask:
			var o *producerOffer
			if o, err = m.planOffer(ctx, tx, t, changed, logger); o != nil {
				offers[o.pid] = *o
			}
		case domain.AnswerTask:
			var a *consumerAnswer
			if a, err = m.planAnswer(ctx, tx, t, changed, logger); a != nil {
				answers[a.pid] = *a
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if p.producers, err = m.repo.Producers(ctx, tx, key); err != nil {
		return nil, err
	}
	if p.consumers, err = m.repo.Consumers(ctx, tx, key); err != nil {
		return nil, err
	}
	for _, pid := range slices.Sorted(maps.Keys(offers)) {
		if rec := p.producer(pid); rec != nil && rec.EndStream == offers[pid].sid {
			p.offers = append(p.offers, offers[pid])
		}
	}
	for _, pid := range slices.Sorted(maps.Keys(answers)) {
		if rec := p.consumer(pid); rec != nil && rec.EndStream == answers[pid].sid && rec.Transport != nil {
			p.answers = append(p.answers, answers[pid])
		}
	}
	m.notifyAfterCommit(tx, key.Cid, changed)
	return p, nil
}

func (m *Mediator) planAddProducer(ctx context.Context, tx core.Tx, key domain.ShardKey, pid domain.PeerID, changed map[domain.PeerID]bool) error {
	rec, err := m.repo.Producer(ctx, tx, key, pid)
	if err != nil {
		return err
	}
	if rec != nil {
		es, err := m.repo.EndStream(ctx, tx, key.Cid, pid, rec.EndStream)
		if err != nil {
			return err
		}
		if es != nil && es.State != domain.EndStreamCompleted {
			rec.Active = true
			return m.repo.SetProducer(tx, key, rec)
		}
	}
	es := domain.NewEndStream(domain.EndStreamProducer, key, pid, domain.EndStreamNeedOffer)
	if err := m.repo.SetEndStream(tx, es); err != nil {
		return err
	}
	changed[pid] = true
	return m.repo.SetProducer(tx, key, &domain.ShardProducer{Pid: pid, Active: true, EndStream: es.ID})
}

// planRemoveProducer pauses the producer of a peer that is still in the call and
// retires the one of a peer that left.
func (m *Mediator) planRemoveProducer(ctx context.Context, tx core.Tx, p *shardPlan, pid domain.PeerID, changed map[domain.PeerID]bool) error {
	key := p.key
	rec, err := m.repo.Producer(ctx, tx, key, pid)
	if err != nil || rec == nil {
		return err
	}
	member, err := m.repo.HasPeer(ctx, tx, key.Cid, domain.CollectionMain, pid)
	if err != nil {
		return err
	}
	if member {
		rec.Active = false
		return m.repo.SetProducer(tx, key, rec)
	}

	m.repo.ClearProducer(tx, key, pid)
	if _, err := m.repo.CompleteEndStream(ctx, tx, key.Cid, pid, rec.EndStream); err != nil {
		return err
	}
	if _, err := m.repo.RemovePeer(ctx, tx, key.Cid, domain.CollectionProducer, pid); err != nil {
		return err
	}
	changed[pid] = true
	if rec.ProducerID == "" {
		return nil
	}
	p.retired = append(p.retired, rec)

	consumers, err := m.repo.Consumers(ctx, tx, key)
	if err != nil {
		return err
	}
	for _, c := range consumers {
		if !c.HasProducer(rec.ProducerID) {
			continue
		}
		c.Edges = slices.DeleteFunc(c.Edges, func(e domain.ConsumerEdge) bool { return e.ProducerID == rec.ProducerID })
		if len(c.Edges) == 0 {
			// The next edge starts a new negotiation on a new transport.
			if _, err := m.repo.CompleteEndStream(ctx, tx, key.Cid, c.Pid, c.EndStream); err != nil {
				return err
			}
			c.ID = uuid.NewString()
			c.Transport = nil
			c.Connected = false
			c.EndStream = ""
			delete(p.reoffer, c.Pid)
			changed[c.Pid] = true
		} else {
			p.reoffer[c.Pid] = true
		}
		if err := m.repo.SetConsumer(tx, key, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mediator) planAddConsumer(ctx context.Context, tx core.Tx, key domain.ShardKey, pid domain.PeerID, logger zerolog.Logger) error {
	rec, err := m.repo.Consumer(ctx, tx, key, pid)
	if err != nil || rec != nil {
		return err
	}
	caps, err := m.repo.Capabilities(ctx, tx, key.Cid, pid)
	if err != nil {
		return err
	}
	if caps == nil {
		logger.Debug().Str("pid", string(pid)).Msg("consumer has no capabilities yet, skipping")
		return nil
	}
	return m.repo.SetConsumer(tx, key, &domain.ShardConsumer{
		ID:           uuid.NewString(),
		Pid:          pid,
		Capabilities: *caps,
	})
}

func (m *Mediator) planRemoveConsumer(ctx context.Context, tx core.Tx, key domain.ShardKey, pid domain.PeerID, changed map[domain.PeerID]bool) error {
	rec, err := m.repo.Consumer(ctx, tx, key, pid)
	if err != nil || rec == nil {
		return err
	}
	m.repo.ClearConsumer(tx, key, pid)
	if _, err := m.repo.CompleteEndStream(ctx, tx, key.Cid, pid, rec.EndStream); err != nil {
		return err
	}
	changed[pid] = true
	return nil
}

// planOffer parses the client offer of a producer stream. A malformed offer sends the
// stream back to need-offer instead of failing the batch.
func (m *Mediator) planOffer(ctx context.Context, tx core.Tx, t domain.OfferTask, changed map[domain.PeerID]bool, logger zerolog.Logger) (*producerOffer, error) {
	es, err := m.repo.EndStream(ctx, tx, t.Cid, t.Pid, t.Sid)
	if err != nil {
		return nil, err
	}
	if es == nil || es.Kind != domain.EndStreamProducer || es.Shard != t.Shard ||
		es.State != domain.EndStreamWaitOffer || es.LocalSDP != t.SDP {
		logger.Info().Str("pid", string(t.Pid)).Str("sid", string(t.Sid)).Msg("stale offer dropped")
		return nil, nil
	}
	offer, err := m.sdp.ParseOffer(t.SDP)
	if err != nil {
		logger.Warn().Str("pid", string(t.Pid)).Str("sid", string(t.Sid)).Err(err).Msg("malformed offer dropped")
		es.LocalSDP = ""
		es.Transition(domain.EndStreamNeedOffer)
		changed[t.Pid] = true
		return nil, m.repo.SetEndStream(tx, es)
	}
	return &producerOffer{pid: t.Pid, sid: t.Sid, offer: offer}, nil
}

func (m *Mediator) planAnswer(ctx context.Context, tx core.Tx, t domain.AnswerTask, changed map[domain.PeerID]bool, logger zerolog.Logger) (*consumerAnswer, error) {
	es, err := m.repo.EndStream(ctx, tx, t.Cid, t.Pid, t.Sid)
	if err != nil {
		return nil, err
	}
	if es == nil || es.Kind != domain.EndStreamConsumer || es.Shard != t.Shard ||
		es.State != domain.EndStreamWaitAnswer || es.LocalSDP != t.SDP {
		logger.Info().Str("pid", string(t.Pid)).Str("sid", string(t.Sid)).Msg("stale answer dropped")
		return nil, nil
	}
	answer, err := m.sdp.ParseAnswer(t.SDP)
	if err != nil {
		logger.Warn().Str("pid", string(t.Pid)).Str("sid", string(t.Sid)).Err(err).Msg("malformed answer dropped")
		es.LocalSDP = ""
		es.Transition(domain.EndStreamNeedAnswer)
		changed[t.Pid] = true
		return nil, m.repo.SetEndStream(tx, es)
	}
	return &consumerAnswer{pid: t.Pid, sid: t.Sid, answer: answer}, nil
}

// execute performs the media calls of a plan. Phases run in order, calls inside a
// phase run concurrently. Every create call carries a repeat key, so a redelivered
// batch gets the objects created by the failed run.
func (m *Mediator) execute(ctx context.Context, p *shardPlan) (*shardResult, error) {
	w, ok := m.roster.Worker(p.worker)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, p.worker)
	}
	r := &shardResult{router: p.router}
	if r.router == "" {
		info, err := w.CreateRouter(ctx, core.CreateRouterRequest{Codecs: m.codecs, RepeatKey: routerKey(p.key)})
		if err != nil {
			return nil, fmt.Errorf("create router: %w", err)
		}
		if info.Closed {
			return nil, fmt.Errorf("%w: %s", errRouterClosed, info.ID)
		}
		r.router = info.ID
	}

	r.producers = make([]producerResult, len(p.offers))
	fan := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, o := range p.offers {
		fan.Go(func(ctx context.Context) error {
			res, err := m.createProducer(ctx, w, r.router, p.producer(o.pid), o)
			r.producers[i] = res
			return err
		})
	}
	if err := fan.Wait(); err != nil {
		return nil, err
	}

	// desired pause state and producer id of every producer after this batch
	type live struct {
		producerID string
		paused     bool
	}
	state := make(map[domain.PeerID]live)
	var pauses []pauseResult
	for _, rec := range p.producers {
		if rec.ProducerID != "" {
			state[rec.Pid] = live{producerID: rec.ProducerID, paused: rec.WantsPaused()}
			if rec.WantsPaused() != rec.Paused {
				pauses = append(pauses, pauseResult{pid: rec.Pid, producerID: rec.ProducerID, paused: rec.WantsPaused()})
			}
		}
	}
	for _, res := range r.producers {
		state[res.pid] = live{producerID: res.producerID, paused: res.paused}
	}
	for _, rec := range p.retired {
		if !rec.Paused {
			pauses = append(pauses, pauseResult{pid: rec.Pid, producerID: rec.ProducerID, paused: true})
		}
	}
	fan = pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, op := range pauses {
		fan.Go(func(ctx context.Context) error {
			if op.paused {
				return w.PauseProducer(ctx, op.producerID)
			}
			return w.ResumeProducer(ctx, op.producerID)
		})
	}
	if err := fan.Wait(); err != nil {
		return nil, err
	}
	r.pauses = pauses

	sources := slices.Sorted(maps.Keys(state))
	r.consumers = make([]consumerResult, len(p.consumers))
	fan = pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, c := range p.consumers {
		var missing []domain.PeerID
		for _, pid := range sources {
			s := state[pid]
			if pid != c.Pid && !s.paused && !c.HasProducer(s.producerID) {
				missing = append(missing, pid)
			}
		}
		if len(missing) == 0 {
			continue
		}
		fan.Go(func(ctx context.Context) error {
			res := consumerResult{pid: c.Pid, id: c.ID}
			if c.Transport != nil {
				res.transport = *c.Transport
			} else {
				t, err := w.CreateWebRtcTransport(ctx, core.CreateTransportRequest{RouterID: r.router, RepeatKey: consumerTransportKey(c)})
				if err != nil {
					return fmt.Errorf("create consumer transport: %w", err)
				}
				res.transport = t
			}
			for _, pid := range missing {
				producerID := state[pid].producerID
				info, err := w.CreateConsumer(ctx, core.CreateConsumerRequest{
					TransportID:  res.transport.ID,
					ProducerID:   producerID,
					Capabilities: c.Capabilities,
					RepeatKey:    consumerKey(c, producerID),
				})
				if err != nil {
					return fmt.Errorf("create consumer: %w", err)
				}
				res.edges = append(res.edges, domain.ConsumerEdge{
					ConsumerID: info.ID,
					Pid:        pid,
					ProducerID: producerID,
					Kind:       info.Kind,
					Parameters: info.Parameters,
				})
			}
			r.consumers[i] = res
			return nil
		})
	}
	if err := fan.Wait(); err != nil {
		return nil, err
	}

	fan = pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, a := range p.answers {
		c := p.consumer(a.pid)
		if c.Connected {
			continue
		}
		fan.Go(func(ctx context.Context) error {
			return w.ConnectWebRtcTransport(ctx, core.ConnectTransportRequest{
				TransportID:    c.Transport.ID,
				DTLSParameters: a.answer.DTLS,
			})
		})
	}
	if err := fan.Wait(); err != nil {
		return nil, err
	}
	r.connected = p.answers
	return r, nil
}

func (m *Mediator) createProducer(ctx context.Context, w core.MediaWorker, router string, rec *domain.ShardProducer, o producerOffer) (producerResult, error) {
	res := producerResult{pid: o.pid, sid: o.sid, kind: o.offer.Kind, parameters: o.offer.Parameters}
	t, err := w.CreateWebRtcTransport(ctx, core.CreateTransportRequest{RouterID: router, RepeatKey: producerTransportKey(o.sid)})
	if err != nil {
		return res, fmt.Errorf("create producer transport: %w", err)
	}
	res.transport = t
	if err := w.ConnectWebRtcTransport(ctx, core.ConnectTransportRequest{TransportID: t.ID, DTLSParameters: o.offer.DTLS}); err != nil {
		return res, fmt.Errorf("connect producer transport: %w", err)
	}
	res.muted = o.offer.Paused
	res.paused = res.muted || !rec.Active
	info, err := w.CreateProducer(ctx, core.CreateProducerRequest{
		TransportID: t.ID,
		Kind:        o.offer.Kind,
		Parameters:  o.offer.Parameters,
		Paused:      res.paused,
		RepeatKey:   producerKey(o.sid),
	})
	if err != nil {
		return res, fmt.Errorf("create producer: %w", err)
	}
	res.producerID = info.ID
	if res.answer, err = m.sdp.Answer(t, o.offer); err != nil {
		return res, fmt.Errorf("build answer: %w", err)
	}
	return res, nil
}

// commit records what execute created. Records changed or removed meanwhile keep the
// newer state, their media objects are picked up again by later batches.
func (m *Mediator) commit(ctx context.Context, tx core.Tx, p *shardPlan, r *shardResult, logger zerolog.Logger) error {
	key := p.key
	info, err := m.repo.ShardInfo(ctx, tx, key)
	if err != nil {
		return err
	}
	if info.Deleted {
		logger.Info().Msg("shard deleted during execute, discarding results")
		return nil
	}
	if info.Router != r.router {
		info.Router = r.router
		if err := m.repo.SetShardInfo(tx, key, info); err != nil {
			return err
		}
	}

	changed := make(map[domain.PeerID]bool)
	reoffer := maps.Clone(p.reoffer)

	for _, res := range r.producers {
		rec, err := m.repo.Producer(ctx, tx, key, res.pid)
		if err != nil {
			return err
		}
		if rec == nil || rec.EndStream != res.sid {
			continue
		}
		t := res.transport
		rec.Transport = &t
		rec.ProducerID = res.producerID
		rec.Kind = res.kind
		rec.Parameters = &res.parameters
		rec.Paused = res.paused
		rec.Muted = res.muted
		if err := m.repo.SetProducer(tx, key, rec); err != nil {
			return err
		}
		es, err := m.repo.EndStream(ctx, tx, key.Cid, res.pid, res.sid)
		if err != nil {
			return err
		}
		if es != nil && es.State == domain.EndStreamWaitOffer {
			es.RemoteSDP = res.answer
			es.RemoteCandidates = t.ICECandidates
			es.Transition(domain.EndStreamOnline)
			if err := m.repo.SetEndStream(tx, es); err != nil {
				return err
			}
		}
		if _, err := m.repo.AddPeer(ctx, tx, key.Cid, domain.CollectionProducer, res.pid); err != nil {
			return err
		}
		changed[res.pid] = true
	}

	for _, res := range r.pauses {
		rec, err := m.repo.Producer(ctx, tx, key, res.pid)
		if err != nil {
			return err
		}
		if rec == nil || rec.ProducerID != res.producerID {
			continue
		}
		rec.Paused = res.paused
		if err := m.repo.SetProducer(tx, key, rec); err != nil {
			return err
		}
	}

	for _, res := range r.consumers {
		if res.id == "" {
			continue
		}
		rec, err := m.repo.Consumer(ctx, tx, key, res.pid)
		if err != nil {
			return err
		}
		if rec == nil || rec.ID != res.id {
			continue
		}
		if rec.Transport == nil {
			t := res.transport
			rec.Transport = &t
		}
		for _, e := range res.edges {
			if !rec.HasProducer(e.ProducerID) {
				rec.Edges = append(rec.Edges, e)
				reoffer[rec.Pid] = true
			}
		}
		if err := m.repo.SetConsumer(tx, key, rec); err != nil {
			return err
		}
	}

	for _, a := range r.connected {
		rec, err := m.repo.Consumer(ctx, tx, key, a.pid)
		if err != nil {
			return err
		}
		if rec == nil || rec.EndStream != a.sid {
			continue
		}
		rec.Connected = true
		if err := m.repo.SetConsumer(tx, key, rec); err != nil {
			return err
		}
		es, err := m.repo.EndStream(ctx, tx, key.Cid, a.pid, a.sid)
		if err != nil {
			return err
		}
		if es != nil && es.State == domain.EndStreamWaitAnswer {
			es.Transition(domain.EndStreamOnline)
			if err := m.repo.SetEndStream(tx, es); err != nil {
				return err
			}
		}
		changed[a.pid] = true
	}

	for _, pid := range slices.Sorted(maps.Keys(reoffer)) {
		ok, err := m.offerConsumer(ctx, tx, key, pid)
		if err != nil {
			return err
		}
		if ok {
			changed[pid] = true
		}
	}
	m.notifyAfterCommit(tx, key.Cid, changed)
	return nil
}

// offerConsumer writes the server offer carrying every edge of a consumer. The first
// offer opens the consumer stream, later ones renegotiate it.
func (m *Mediator) offerConsumer(ctx context.Context, tx core.Tx, key domain.ShardKey, pid domain.PeerID) (bool, error) {
	rec, err := m.repo.Consumer(ctx, tx, key, pid)
	if err != nil || rec == nil || rec.Transport == nil || len(rec.Edges) == 0 {
		return false, err
	}
	offer, err := m.sdp.Offer(*rec.Transport, rec.Edges)
	if err != nil {
		return false, fmt.Errorf("build consumer offer: %w", err)
	}

	var es *domain.EndStream
	if rec.EndStream != "" {
		if es, err = m.repo.EndStream(ctx, tx, key.Cid, pid, rec.EndStream); err != nil {
			return false, err
		}
	}
	if es == nil || es.State == domain.EndStreamCompleted {
		es = domain.NewEndStream(domain.EndStreamConsumer, key, pid, domain.EndStreamNeedAnswer)
		rec.EndStream = es.ID
		if err := m.repo.SetConsumer(tx, key, rec); err != nil {
			return false, err
		}
	} else {
		es.Transition(domain.EndStreamNeedAnswer)
	}
	es.LocalSDP = ""
	es.RemoteSDP = offer
	es.RemoteCandidates = rec.Transport.ICECandidates
	return true, m.repo.SetEndStream(tx, es)
}
