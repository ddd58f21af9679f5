package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

//go:generate mockgen -destination=mocks/media_mock.go -package=mocks github.com/dkeye/voicemesh/internal/core MediaWorker,Roster

type CreateRouterRequest struct {
	Codecs    []webrtc.RTPCodecCapability `json:"codecs"`
	RepeatKey string                      `json:"repeatKey"`
}

// RouterInfo is returned by CreateRouter. Closed is set when the repeat key belongs
// to a router that was already closed.
type RouterInfo struct {
	ID     string `json:"id"`
	Closed bool   `json:"closed"`
}

type CreateTransportRequest struct {
	RouterID  string `json:"routerId"`
	RepeatKey string `json:"repeatKey"`
}

type ConnectTransportRequest struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type CreateProducerRequest struct {
	TransportID string               `json:"transportId"`
	Kind        string               `json:"kind"`
	Parameters  webrtc.RTPParameters `json:"parameters"`
	Paused      bool                 `json:"paused"`
	RepeatKey   string               `json:"repeatKey"`
}

type ProducerInfo struct {
	ID string `json:"id"`
}

type CreateConsumerRequest struct {
	TransportID  string                 `json:"transportId"`
	ProducerID   string                 `json:"producerId"`
	Capabilities domain.RtpCapabilities `json:"capabilities"`
	RepeatKey    string                 `json:"repeatKey"`
}

type ConsumerInfo struct {
	ID         string               `json:"id"`
	Kind       string               `json:"kind"`
	Parameters webrtc.RTPParameters `json:"parameters"`
}

// MediaWorker is the RPC surface of one media server.
// Create calls with the same repeat key return the object created first.
type MediaWorker interface {
	CreateRouter(ctx context.Context, req CreateRouterRequest) (RouterInfo, error)
	CloseRouter(ctx context.Context, routerID string) error
	CreateWebRtcTransport(ctx context.Context, req CreateTransportRequest) (domain.TransportInfo, error)
	ConnectWebRtcTransport(ctx context.Context, req ConnectTransportRequest) error
	CreateProducer(ctx context.Context, req CreateProducerRequest) (ProducerInfo, error)
	PauseProducer(ctx context.Context, producerID string) error
	ResumeProducer(ctx context.Context, producerID string) error
	CreateConsumer(ctx context.Context, req CreateConsumerRequest) (ConsumerInfo, error)
}

// Roster resolves live media workers.
type Roster interface {
	Worker(id domain.WorkerID) (MediaWorker, bool)
}
