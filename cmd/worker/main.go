package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"visualbatch/internal/bootstrap"
	"visualbatch/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: STORE_DRIVER=memory cannot be shared with the api; use postgres or WORKER_EMBEDDED")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialise runtime")
	}
	defer rt.Close()

	if rt.Bus == nil {
		logger.Warn().Msg("worker: REDIS_ADDR not set; progress events will not reach api clients")
	}

	worker := rt.NewWorker(rt.EventSink(nil))
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")
	if err := worker.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker stopped")
}
