package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"visualbatch/internal/archive"
	"visualbatch/internal/bootstrap"
	"visualbatch/internal/generation"
	"visualbatch/internal/http/handlers"
	httpapi "visualbatch/internal/http/httpapi"
	"visualbatch/internal/infra"
	"visualbatch/internal/middleware"
	"visualbatch/internal/realtime"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise runtime")
	}
	defer rt.Close()

	streams := realtime.NewStreams(logger)
	rooms := realtime.NewRooms(logger, middleware.OriginAllowed(cfg.CORSOrigins))
	local := realtime.NewBroadcaster(streams, rooms)
	if rt.Bus != nil {
		if err := rt.Bus.StartForwarder(ctx, local); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe to redis events")
		}
	}

	builder, err := archive.NewBuilder(rt.Store, cfg.ArchiveDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare archive dir")
	}

	svc := generation.NewService(rt.Generations, rt.Queue, logger)
	app := handlers.NewApp(svc, builder, streams, rooms, rt.Store, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       rt.StaticDir,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	workerDone := make(chan struct{})
	if cfg.WorkerEmbedded {
		worker := rt.NewWorker(rt.EventSink(local))
		go func() {
			defer close(workerDone)
			if err := worker.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("embedded worker stopped")
			}
		}()
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info().Str("addr", server.Addr()).Bool("embedded_worker", cfg.WorkerEmbedded).Msg("api listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("worker did not stop before shutdown deadline")
	}
	logger.Info().Msg("server stopped")
}
