package media

import (
	"context"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"google.golang.org/grpc"
)

const serviceName = "voicemesh.media.v1.MediaWorker"

type idRequest struct {
	ID string `json:"id"`
}

type empty struct{}

// unary builds a method descriptor that decodes Req and dispatches to the worker.
func unary[Req, Resp any](name string, call func(w core.MediaWorker, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(core.MediaWorker), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(core.MediaWorker), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is registered by hand, the messages are JSON encoded.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*core.MediaWorker)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateRouter", func(w core.MediaWorker, ctx context.Context, req *core.CreateRouterRequest) (*core.RouterInfo, error) {
			res, err := w.CreateRouter(ctx, *req)
			return &res, err
		}),
		unary("CloseRouter", func(w core.MediaWorker, ctx context.Context, req *idRequest) (*empty, error) {
			return &empty{}, w.CloseRouter(ctx, req.ID)
		}),
		unary("CreateWebRtcTransport", func(w core.MediaWorker, ctx context.Context, req *core.CreateTransportRequest) (*domain.TransportInfo, error) {
			res, err := w.CreateWebRtcTransport(ctx, *req)
			return &res, err
		}),
		unary("ConnectWebRtcTransport", func(w core.MediaWorker, ctx context.Context, req *core.ConnectTransportRequest) (*empty, error) {
			return &empty{}, w.ConnectWebRtcTransport(ctx, *req)
		}),
		unary("CreateProducer", func(w core.MediaWorker, ctx context.Context, req *core.CreateProducerRequest) (*core.ProducerInfo, error) {
			res, err := w.CreateProducer(ctx, *req)
			return &res, err
		}),
		unary("PauseProducer", func(w core.MediaWorker, ctx context.Context, req *idRequest) (*empty, error) {
			return &empty{}, w.PauseProducer(ctx, req.ID)
		}),
		unary("ResumeProducer", func(w core.MediaWorker, ctx context.Context, req *idRequest) (*empty, error) {
			return &empty{}, w.ResumeProducer(ctx, req.ID)
		}),
		unary("CreateConsumer", func(w core.MediaWorker, ctx context.Context, req *core.CreateConsumerRequest) (*core.ConsumerInfo, error) {
			res, err := w.CreateConsumer(ctx, *req)
			return &res, err
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "media.proto",
}

// RegisterMediaWorkerServer exposes w on s.
func RegisterMediaWorkerServer(s grpc.ServiceRegistrar, w core.MediaWorker) {
	s.RegisterService(&ServiceDesc, w)
}
