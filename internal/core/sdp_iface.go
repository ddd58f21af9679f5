package core

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ProducerOffer is what a client offered to send.
type ProducerOffer struct {
	Kind       string
	Parameters webrtc.RTPParameters
	DTLS       webrtc.DTLSParameters
	Paused     bool
}

// ConsumerAnswer is a client answer to a server offer.
type ConsumerAnswer struct {
	DTLS webrtc.DTLSParameters
}

// SDPCodec converts between SDP text and media descriptions.
type SDPCodec interface {
	ParseOffer(raw string) (ProducerOffer, error)
	ParseAnswer(raw string) (ConsumerAnswer, error)
	// Answer builds the server answer to a producer offer.
	Answer(t domain.TransportInfo, offer ProducerOffer) (string, error)
	// Offer builds the server offer carrying the given consumer edges.
	Offer(t domain.TransportInfo, edges []domain.ConsumerEdge) (string, error)
}
