// Package bootstrap assembles the collaborators shared by the API and worker
// binaries from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"visualbatch/internal/adapter/repo"
	"visualbatch/internal/domain"
	"visualbatch/internal/infra"
	"visualbatch/internal/infra/credentials"
	"visualbatch/internal/pipeline"
	"visualbatch/internal/providers/genai"
	"visualbatch/internal/providers/image"
	"visualbatch/internal/providers/qwen"
	"visualbatch/internal/queue"
	"visualbatch/internal/realtime"
	"visualbatch/internal/storage"
)

type Runtime struct {
	Config      *infra.Config
	Logger      infra.Logger
	Generations domain.GenerationRepository
	Queue       queue.Queue
	Store       storage.BlobStore
	Generator   image.Generator
	// StaticDir is set when blobs live on local disk and must be served by the API.
	StaticDir string
	Bus       *realtime.RedisBus

	closers []func()
}

// Open connects persistence, blob storage, the image provider and, when
// configured, the Redis event bus.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	if err := rt.openPersistence(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.openStorage(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if cfg.RedisAddr != "" {
		bus, err := realtime.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Bus = bus
		rt.closers = append(rt.closers, func() { _ = bus.Close() })
	}
	return rt, nil
}

func (rt *Runtime) queueOptions() queue.Options {
	return queue.Options{
		MaxAttempts: rt.Config.JobMaxAttempts,
		BaseBackoff: rt.Config.JobBackoffBase,
		MaxBackoff:  rt.Config.JobBackoffMax,
		StaleAfter:  rt.Config.JobStaleAfter,
	}
}

func (rt *Runtime) openPersistence(ctx context.Context) error {
	cfg := rt.Config
	var tokens *credentials.Store

	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		rt.Logger.Warn().Msg("using in-memory store; generations and jobs are lost on restart")
		rt.Generations = repo.NewMemoryGenerationRepository()
		rt.Queue = queue.NewMemoryQueue(rt.queueOptions())
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, pool.Close)
		if err := infra.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		runner := infra.NewSQLRunner(pool, rt.Logger)
		rt.Generations = repo.NewGenerationRepository(runner)
		rt.Queue = queue.NewPGQueue(runner, rt.queueOptions())
		tokens = credentials.NewStore(runner)
	}

	generator, err := rt.openGenerators(ctx, tokens)
	if err != nil {
		return err
	}
	rt.Generator = image.NewRateLimited(generator, cfg.ProviderRatePerMinute)
	return nil
}

// apiKey prefers the environment and falls back to a key stored with
// cmd/geminikey.
func (rt *Runtime) apiKey(ctx context.Context, tokens *credentials.Store, env, provider string) string {
	if env != "" || tokens == nil {
		return env
	}
	stored, err := tokens.Token(ctx, provider)
	if err != nil {
		rt.Logger.Warn().Err(err).Str("provider", provider).Msg("failed to load stored api key")
	}
	return stored
}

func (rt *Runtime) openGenerators(ctx context.Context, tokens *credentials.Store) (image.Generator, error) {
	cfg := rt.Config
	gemini, err := genai.NewClient(genai.Options{
		APIKey:  rt.apiKey(ctx, tokens, cfg.GeminiAPIKey, credentials.ProviderGemini),
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &rt.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if !gemini.HasCredentials() {
		rt.Logger.Warn().Msg("no gemini api key configured; generating synthetic images")
	}
	geminiGen := image.NewGeminiGenerator(gemini)
	router := image.NewRouter(geminiGen).Handle("gemini", geminiGen)

	if key := rt.apiKey(ctx, tokens, cfg.QwenAPIKey, credentials.ProviderQwen); key != "" {
		qc, err := qwen.NewClient(qwen.Options{
			APIKey:  key,
			BaseURL: cfg.QwenBaseURL,
			Model:   cfg.QwenModel,
			Logger:  &rt.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("qwen client: %w", err)
		}
		router.Handle("qwen", image.NewQwenGenerator(qc))
		rt.Logger.Info().Str("model", qc.Model()).Msg("qwen provider enabled for qwen-* model hints")
	}
	return router, nil
}

func (rt *Runtime) openStorage(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.StorageDriver {
	case infra.StorageDriverGCS:
		store, err := storage.NewGCSStore(ctx, storage.GCSConfig{
			Bucket:          cfg.GCSBucket,
			PublicBaseURL:   cfg.GCSPublicBaseURL,
			CredentialsFile: cfg.GCSCredentialFile,
		})
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		rt.Store = store
	default:
		if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
			return fmt.Errorf("ensure storage path: %w", err)
		}
		store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return err
		}
		rt.Store = store
		rt.StaticDir = store.BasePath()
	}
	return nil
}

// EventSink is where workers publish progress events: the Redis bus when
// present so every API instance sees them, local otherwise.
func (rt *Runtime) EventSink(local realtime.Emitter) realtime.Emitter {
	if rt.Bus != nil {
		return rt.Bus
	}
	if local == nil {
		return realtime.Discard
	}
	return local
}

func (rt *Runtime) NewWorker(emitter realtime.Emitter) *pipeline.Worker {
	cfg := rt.Config
	processor := pipeline.NewProcessor(rt.Generations, rt.Generator, rt.Store, emitter, pipeline.ProcessorOptions{
		ProviderTimeout: cfg.ProviderTimeout,
		Logger:          rt.Logger,
	})
	return pipeline.NewWorker(rt.Queue, processor, pipeline.WorkerOptions{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		Logger:       rt.Logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
