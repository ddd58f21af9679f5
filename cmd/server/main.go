package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicemesh/internal/adapters/http"
	"github.com/dkeye/voicemesh/internal/adapters/kv"
	"github.com/dkeye/voicemesh/internal/adapters/media"
	"github.com/dkeye/voicemesh/internal/adapters/queue"
	"github.com/dkeye/voicemesh/internal/adapters/sdp"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/app/scalable"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var rdb *redis.Client
	if cfg.Store.Backend == "redis" || cfg.Queue.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Store.RedisAddr).Msg("failed to connect to redis")
		}
		defer rdb.Close()
	}

	store, err := openStore(ctx, cfg.Store, rdb)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open store")
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	opts := queue.Options{
		Concurrency:  cfg.Queue.Concurrency,
		BatchSize:    cfg.Queue.BatchSize,
		RetryBackoff: cfg.Queue.RetryBackoff,
	}
	var q core.WorkQueue = queue.NewMemoryQueue(opts)
	if cfg.Queue.Backend == "redis" {
		q = queue.NewRedisQueue(rdb, opts)
	}

	roster := media.NewRoster()
	defer roster.Close()

	o := orch.New(orch.Deps{
		Store:        store,
		Queue:        q,
		Roster:       roster,
		SDP:          sdp.Codec{},
		WorkerBudget: cfg.Sharding.WorkerBudget,
	})

	for _, w := range cfg.Media.Workers {
		client, err := media.Dial(w.Addr)
		if err != nil {
			log.Fatal().Err(err).Str("worker", w.ID).Msg("failed to dial media worker")
		}
		roster.Add(domain.WorkerID(w.ID), client)
		if err := o.RegisterWorker(ctx, scalable.WorkerRecord{ID: domain.WorkerID(w.ID), Addr: w.Addr}); err != nil {
			log.Fatal().Err(err).Str("worker", w.ID).Msg("failed to register media worker")
		}
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := o.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("queue worker stopped")
			cancel()
		}
	}()

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Voicemesh server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-workerDone
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg config.StoreConfig, rdb *redis.Client) (core.Store, error) {
	switch cfg.Backend {
	case "redis":
		return kv.NewRedisStoreWithClient(rdb), nil
	case "postgres":
		return kv.NewSQLStore(ctx, kv.DialectPostgres, cfg.DSN)
	case "sqlite":
		return kv.NewSQLStore(ctx, kv.DialectSQLite, cfg.DSN)
	default:
		return kv.NewMemoryStore(), nil
	}
}
