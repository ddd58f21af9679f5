package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrRouterNotFound    = errors.New("router not found")
	ErrRouterClosed      = errors.New("router closed")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
)

type memRouter struct {
	codecs []webrtc.RTPCodecCapability
	closed bool
}

type memTransport struct {
	router    string
	info      domain.TransportInfo
	connected bool
}

type memProducer struct {
	transport  string
	kind       string
	parameters webrtc.RTPParameters
	paused     bool
}

// Stats counts the live objects of a MemoryWorker.
type Stats struct {
	Routers    int
	Transports int
	Producers  int
	Consumers  int
	Paused     int
}

// MemoryWorker is a media worker that only keeps bookkeeping. It honors repeat
// keys the way a real worker does.
type MemoryWorker struct {
	id     domain.WorkerID
	host   string
	port   uint16
	logger zerolog.Logger

	mu         sync.Mutex
	repeat     map[string]string
	routers    map[string]*memRouter
	transports map[string]*memTransport
	producers  map[string]*memProducer
	consumers  map[string]core.ConsumerInfo
}

var _ core.MediaWorker = (*MemoryWorker)(nil)

func NewMemoryWorker(id domain.WorkerID, host string, port uint16) *MemoryWorker {
	return &MemoryWorker{
		id:         id,
		host:       host,
		port:       port,
		logger:     log.With().Str("module", "media.memworker").Str("worker", string(id)).Logger(),
		repeat:     make(map[string]string),
		routers:    make(map[string]*memRouter),
		transports: make(map[string]*memTransport),
		producers:  make(map[string]*memProducer),
		consumers:  make(map[string]core.ConsumerInfo),
	}
}

// remembered returns the object created before under the same repeat key.
func (w *MemoryWorker) remembered(kind, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	id, ok := w.repeat[kind+"/"+key]
	return id, ok
}

func (w *MemoryWorker) remember(kind, key, id string) {
	if key != "" {
		w.repeat[kind+"/"+key] = id
	}
}

func (w *MemoryWorker) CreateRouter(_ context.Context, req core.CreateRouterRequest) (core.RouterInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.remembered("router", req.RepeatKey); ok {
		return core.RouterInfo{ID: id, Closed: w.routers[id].closed}, nil
	}
	id := uuid.NewString()
	w.routers[id] = &memRouter{codecs: req.Codecs}
	w.remember("router", req.RepeatKey, id)
	w.logger.Debug().Str("router", id).Msg("router created")
	return core.RouterInfo{ID: id}, nil
}

func (w *MemoryWorker) CloseRouter(_ context.Context, routerID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.routers[routerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRouterNotFound, routerID)
	}
	if r.closed {
		return nil
	}
	r.closed = true
	for tid, t := range w.transports {
		if t.router != routerID {
			continue
		}
		for pid, p := range w.producers {
			if p.transport == tid {
				delete(w.producers, pid)
			}
		}
		for cid := range w.consumers {
			if strings.HasPrefix(cid, tid+":") {
				delete(w.consumers, cid)
			}
		}
		delete(w.transports, tid)
	}
	w.logger.Debug().Str("router", routerID).Msg("router closed")
	return nil
}

func (w *MemoryWorker) CreateWebRtcTransport(_ context.Context, req core.CreateTransportRequest) (domain.TransportInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.remembered("transport", req.RepeatKey); ok {
		if t, ok := w.transports[id]; ok {
			return t.info, nil
		}
	}
	r, ok := w.routers[req.RouterID]
	if !ok {
		return domain.TransportInfo{}, fmt.Errorf("%w: %s", ErrRouterNotFound, req.RouterID)
	}
	if r.closed {
		return domain.TransportInfo{}, fmt.Errorf("%w: %s", ErrRouterClosed, req.RouterID)
	}
	id := uuid.NewString()
	info := domain.TransportInfo{
		ID: id,
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: randomHex(4),
			Password:         randomHex(12),
			ICELite:          true,
		},
		ICECandidates: []domain.IceCandidate{{
			Foundation: "udpcandidate",
			Priority:   1076302079,
			IP:         w.host,
			Protocol:   "udp",
			Port:       w.port,
			Type:       "host",
		}},
		DTLSParameters: webrtc.DTLSParameters{
			Role: webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{{
				Algorithm: "sha-256",
				Value:     fingerprint(),
			}},
		},
	}
	w.transports[id] = &memTransport{router: req.RouterID, info: info}
	w.remember("transport", req.RepeatKey, id)
	return info, nil
}

func (w *MemoryWorker) ConnectWebRtcTransport(_ context.Context, req core.ConnectTransportRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.transports[req.TransportID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransportNotFound, req.TransportID)
	}
	t.connected = true
	return nil
}

func (w *MemoryWorker) CreateProducer(_ context.Context, req core.CreateProducerRequest) (core.ProducerInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.remembered("producer", req.RepeatKey); ok {
		return core.ProducerInfo{ID: id}, nil
	}
	if _, ok := w.transports[req.TransportID]; !ok {
		return core.ProducerInfo{}, fmt.Errorf("%w: %s", ErrTransportNotFound, req.TransportID)
	}
	id := uuid.NewString()
	w.producers[id] = &memProducer{
		transport:  req.TransportID,
		kind:       req.Kind,
		parameters: req.Parameters,
		paused:     req.Paused,
	}
	w.remember("producer", req.RepeatKey, id)
	return core.ProducerInfo{ID: id}, nil
}

func (w *MemoryWorker) setPaused(producerID string, paused bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.producers[producerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProducerNotFound, producerID)
	}
	p.paused = paused
	return nil
}

func (w *MemoryWorker) PauseProducer(_ context.Context, producerID string) error {
	return w.setPaused(producerID, true)
}

func (w *MemoryWorker) ResumeProducer(_ context.Context, producerID string) error {
	return w.setPaused(producerID, false)
}

func (w *MemoryWorker) CreateConsumer(_ context.Context, req core.CreateConsumerRequest) (core.ConsumerInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.remembered("consumer", req.RepeatKey); ok {
		if c, ok := w.consumers[id]; ok {
			return c, nil
		}
	}
	if _, ok := w.transports[req.TransportID]; !ok {
		return core.ConsumerInfo{}, fmt.Errorf("%w: %s", ErrTransportNotFound, req.TransportID)
	}
	p, ok := w.producers[req.ProducerID]
	if !ok {
		return core.ConsumerInfo{}, fmt.Errorf("%w: %s", ErrProducerNotFound, req.ProducerID)
	}
	info := core.ConsumerInfo{
		ID:         req.TransportID + ":" + uuid.NewString(),
		Kind:       p.kind,
		Parameters: consumerParameters(p.parameters, req.Capabilities),
	}
	w.consumers[info.ID] = info
	w.remember("consumer", req.RepeatKey, info.ID)
	return info, nil
}

// Stats returns a snapshot of the live object counts.
func (w *MemoryWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{Transports: len(w.transports), Producers: len(w.producers), Consumers: len(w.consumers)}
	for _, r := range w.routers {
		if !r.closed {
			s.Routers++
		}
	}
	for _, p := range w.producers {
		if p.paused {
			s.Paused++
		}
	}
	return s
}

// consumerParameters keeps the producer codecs the consumer can receive.
func consumerParameters(p webrtc.RTPParameters, caps domain.RtpCapabilities) webrtc.RTPParameters {
	out := webrtc.RTPParameters{HeaderExtensions: p.HeaderExtensions}
	for _, c := range p.Codecs {
		for _, cc := range caps.Codecs {
			if strings.EqualFold(c.MimeType, cc.MimeType) && c.ClockRate == cc.ClockRate {
				out.Codecs = append(out.Codecs, c)
				break
			}
		}
	}
	if len(out.Codecs) == 0 {
		out.Codecs = p.Codecs
	}
	return out
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func fingerprint() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{c}))
	}
	return strings.Join(parts, ":")
}
