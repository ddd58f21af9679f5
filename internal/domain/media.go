package domain

import "github.com/pion/webrtc/v4"

// IceCandidate is a server side ICE candidate handed to clients.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// TransportInfo describes a WebRTC transport living on a media worker.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []IceCandidate        `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// RtpCapabilities are the receive capabilities a peer reported.
type RtpCapabilities struct {
	Codecs           []webrtc.RTPCodecCapability           `json:"codecs"`
	HeaderExtensions []webrtc.RTPHeaderExtensionCapability `json:"headerExtensions,omitempty"`
}

// ShardProducer is the per shard record of a producing peer.
// Active is the desired state, Paused mirrors the media server producer and Muted is
// set when the client offered the stream inactive.
type ShardProducer struct {
	Pid        PeerID                `json:"pid"`
	Active     bool                  `json:"active"`
	Paused     bool                  `json:"paused"`
	Muted      bool                  `json:"muted,omitempty"`
	Transport  *TransportInfo        `json:"transport,omitempty"`
	ProducerID string                `json:"producerId,omitempty"`
	Kind       string                `json:"kind,omitempty"`
	Parameters *webrtc.RTPParameters `json:"parameters,omitempty"`
	EndStream  EndStreamID           `json:"endStream"`
}

// ConsumerEdge wires one consumer to one producer.
type ConsumerEdge struct {
	ConsumerID string               `json:"consumerId"`
	Pid        PeerID               `json:"pid"`
	ProducerID string               `json:"producerId"`
	Kind       string               `json:"kind"`
	Parameters webrtc.RTPParameters `json:"parameters"`
}

// ShardConsumer is the per shard record of a consuming peer.
// ID scopes the repeat keys of the media objects created for it.
type ShardConsumer struct {
	ID           string          `json:"id"`
	Pid          PeerID          `json:"pid"`
	Capabilities RtpCapabilities `json:"capabilities"`
	Transport    *TransportInfo  `json:"transport,omitempty"`
	Connected    bool            `json:"connected"`
	Edges        []ConsumerEdge  `json:"edges"`
	EndStream    EndStreamID     `json:"endStream,omitempty"`
}

// HasProducer reports whether the consumer already receives the given producer.
func (c *ShardConsumer) HasProducer(producerID string) bool {
	for _, e := range c.Edges {
		if e.ProducerID == producerID {
			return true
		}
	}
	return false
}

type EndStreamState string

const (
	EndStreamNeedOffer  EndStreamState = "need-offer"
	EndStreamWaitOffer  EndStreamState = "wait-offer"
	EndStreamNeedAnswer EndStreamState = "need-answer"
	EndStreamWaitAnswer EndStreamState = "wait-answer"
	EndStreamOnline     EndStreamState = "online"
	EndStreamCompleted  EndStreamState = "completed"
)

type EndStreamKind string

const (
	EndStreamProducer EndStreamKind = "producer"
	EndStreamConsumer EndStreamKind = "consumer"
)

// EndStream is the negotiation state exposed to a client.
// LocalSDP is the client side description, RemoteSDP the server side one.
type EndStream struct {
	ID               EndStreamID    `json:"id"`
	Kind             EndStreamKind  `json:"kind"`
	Cid              ConversationID `json:"cid"`
	Pid              PeerID         `json:"pid"`
	Session          SessionID      `json:"session"`
	Shard            ShardID        `json:"shard"`
	State            EndStreamState `json:"state"`
	Seq              int            `json:"seq"`
	LocalSDP         string         `json:"localSdp,omitempty"`
	RemoteSDP        string         `json:"remoteSdp,omitempty"`
	RemoteCandidates []IceCandidate `json:"remoteCandidates,omitempty"`
}

// Transition moves the stream to state and bumps the sequence number.
func (e *EndStream) Transition(state EndStreamState) {
	e.State = state
	e.Seq++
}

// WantsPaused reports the pause state the media producer should have.
func (p *ShardProducer) WantsPaused() bool {
	return !p.Active || p.Muted
}

// NewEndStream returns a fresh stream of a peer on a shard.
func NewEndStream(kind EndStreamKind, k ShardKey, pid PeerID, state EndStreamState) *EndStream {
	return &EndStream{
		ID:      NewEndStreamID(),
		Kind:    kind,
		Cid:     k.Cid,
		Pid:     pid,
		Session: k.Session,
		Shard:   k.Shard,
		State:   state,
		Seq:     1,
	}
}

// Target returns the shard the stream belongs to.
func (e *EndStream) Target() ShardKey {
	return ShardKey{Cid: e.Cid, Session: e.Session, Shard: e.Shard}
}
