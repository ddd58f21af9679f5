package media

import (
	"context"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a core.MediaWorker backed by a remote worker.
type Client struct {
	conn *grpc.ClientConn
}

var _ core.MediaWorker = (*Client)(nil)

// Dial connects to a worker. The connection is established lazily.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create media client for %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		return fmt.Errorf("media %s: %w", method, err)
	}
	return nil
}

func (c *Client) CreateRouter(ctx context.Context, req core.CreateRouterRequest) (core.RouterInfo, error) {
	var res core.RouterInfo
	err := c.invoke(ctx, "CreateRouter", &req, &res)
	return res, err
}

func (c *Client) CloseRouter(ctx context.Context, routerID string) error {
	return c.invoke(ctx, "CloseRouter", &idRequest{ID: routerID}, &empty{})
}

func (c *Client) CreateWebRtcTransport(ctx context.Context, req core.CreateTransportRequest) (domain.TransportInfo, error) {
	var res domain.TransportInfo
	err := c.invoke(ctx, "CreateWebRtcTransport", &req, &res)
	return res, err
}

func (c *Client) ConnectWebRtcTransport(ctx context.Context, req core.ConnectTransportRequest) error {
	return c.invoke(ctx, "ConnectWebRtcTransport", &req, &empty{})
}

func (c *Client) CreateProducer(ctx context.Context, req core.CreateProducerRequest) (core.ProducerInfo, error) {
	var res core.ProducerInfo
	err := c.invoke(ctx, "CreateProducer", &req, &res)
	return res, err
}

func (c *Client) PauseProducer(ctx context.Context, producerID string) error {
	return c.invoke(ctx, "PauseProducer", &idRequest{ID: producerID}, &empty{})
}

func (c *Client) ResumeProducer(ctx context.Context, producerID string) error {
	return c.invoke(ctx, "ResumeProducer", &idRequest{ID: producerID}, &empty{})
}

func (c *Client) CreateConsumer(ctx context.Context, req core.CreateConsumerRequest) (core.ConsumerInfo, error) {
	var res core.ConsumerInfo
	err := c.invoke(ctx, "CreateConsumer", &req, &res)
	return res, err
}
