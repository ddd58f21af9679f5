// Command mediastub serves an in-memory media worker over gRPC. It negotiates real
// SDP but moves no media, so the server can be run end to end without an SFU.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/dkeye/voicemesh/internal/adapters/media"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	id := os.Getenv("MEDIASTUB_ID")
	if id == "" {
		id = "stub"
	}
	host := os.Getenv("MEDIASTUB_HOST")
	if host == "" {
		host = "127.0.0.1"
	}

	lis, err := net.Listen("tcp", cfg.Media.StubAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Media.StubAddr).Msg("failed to listen")
	}

	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    time.Minute,
			Timeout: 20 * time.Second,
		}),
	)
	media.RegisterMediaWorkerServer(srv, media.NewMemoryWorker(domain.WorkerID(id), host, 40000))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(media.ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		log.Info().Str("addr", lis.Addr().String()).Str("worker", id).Msg("media stub listening")
		if err := srv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("serve")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	hs.Shutdown()
	srv.GracefulStop()
}
