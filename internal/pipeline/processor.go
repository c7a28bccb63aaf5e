// Package pipeline runs generation jobs: the sequential per-visual processor
// and the pool of workers that claim jobs from the queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"visualbatch/internal/domain"
	"visualbatch/internal/infra"
	"visualbatch/internal/providers/image"
	"visualbatch/internal/queue"
	"visualbatch/internal/realtime"
	"visualbatch/internal/storage"
)

const defaultProviderTimeout = 2 * time.Minute

// ProgressFunc receives the job progress after every processed visual.
type ProgressFunc func(ctx context.Context, percent int) error

// Processor generates the visuals of one job, strictly one at a time in index
// order. Provider failures are recorded on the visual and the loop moves on;
// every other failure aborts the job so the queue can retry it.
type Processor struct {
	repo            domain.GenerationRepository
	generator       image.Generator
	store           storage.BlobStore
	emitter         realtime.Emitter
	logger          infra.Logger
	providerTimeout time.Duration
	now             func() time.Time
}

type ProcessorOptions struct {
	ProviderTimeout time.Duration
	Logger          infra.Logger
	Now             func() time.Time
}

func NewProcessor(repo domain.GenerationRepository, generator image.Generator, store storage.BlobStore, emitter realtime.Emitter, opts ProcessorOptions) *Processor {
	if emitter == nil {
		emitter = realtime.Discard
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		repo:            repo,
		generator:       generator,
		store:           store,
		emitter:         emitter,
		logger:          infra.Component(opts.Logger, "processor"),
		providerTimeout: opts.ProviderTimeout,
		now:             opts.Now,
	}
}

// Process runs job to completion. A nil return means the generation reached a
// terminal status; an error is always a job-level failure.
func (p *Processor) Process(ctx context.Context, job *queue.Job, progress ProgressFunc) error {
	log := p.logger.With().Str("job_id", job.ID).Str("generation_id", job.GenerationID).Int("attempt", job.Attempts).Logger()

	gen, err := p.repo.Get(ctx, job.GenerationID)
	if err != nil {
		return domain.Infrastructure("load generation", err)
	}
	if gen.Status != domain.StatusProcessing {
		log.Warn().Str("status", string(gen.Status)).Msg("generation is not processing; skipping job")
		return nil
	}
	if err := p.store.Ping(ctx); err != nil {
		return domain.Infrastructure("blob store unreachable", err)
	}

	modelHint := job.Payload.ModelHint
	if modelHint == "" {
		modelHint = gen.ModelHint
	}
	targets := targetIndices(job.Payload.Indices, len(gen.Visuals))
	startedAt := p.now()
	if gen.StartedAt != nil {
		startedAt = *gen.StartedAt
	}

	log.Info().Int("targets", len(targets)).Int("total", gen.Total()).Msg("processing generation")

	for k, idx := range targets {
		if err := ctx.Err(); err != nil {
			return domain.Infrastructure("processing interrupted", err)
		}
		if gen.Visuals[idx].Status.Terminal() {
			continue
		}
		if err := p.processVisual(ctx, gen, idx, job, modelHint); err != nil {
			return err
		}

		percent := domain.Percent(k+1, len(targets))
		if progress != nil {
			if err := progress(ctx, percent); err != nil {
				log.Warn().Err(err).Int("progress", percent).Msg("job progress update failed")
			}
		}
		completed, _ := gen.Tally()
		p.emit(ctx, gen.ID, realtime.EventGenerationProgress, realtime.GenerationProgress{
			ProgressPercent: gen.Progress,
			Completed:       completed,
			Total:           gen.Total(),
			ElapsedSeconds:  p.now().Sub(startedAt).Seconds(),
		})
	}

	return p.finish(ctx, gen, log)
}

func (p *Processor) processVisual(ctx context.Context, gen *domain.Generation, idx int, job *queue.Job, modelHint string) error {
	visual := &gen.Visuals[idx]
	log := p.logger.With().Str("generation_id", gen.ID).Int("index", idx).Str("type", visual.Type).Logger()

	visual.Status = domain.StatusProcessing
	visual.Error = ""
	if err := p.save(ctx, gen); err != nil {
		return err
	}
	p.emit(ctx, gen.ID, realtime.EventVisualProcessing, realtime.VisualProcessing{Type: visual.Type, Index: idx})

	result, genErr := p.generate(ctx, image.Request{
		Prompt:      visual.Prompt,
		AspectRatio: gen.AspectRatio,
		Resolution:  gen.Resolution,
		ModelHint:   modelHint,
		RequestID:   job.ID + "-" + strconv.Itoa(idx),
	})
	if genErr != nil {
		if ctx.Err() != nil {
			return domain.Infrastructure("processing interrupted", ctx.Err())
		}
		if errors.Is(genErr, domain.ErrInfrastructure) {
			return genErr
		}
		visual.Status = domain.StatusFailed
		visual.Error = domain.ErrorMessage(genErr)
		if err := p.save(ctx, gen); err != nil {
			return err
		}
		log.Warn().Err(genErr).Msg("visual generation failed")
		p.emit(ctx, gen.ID, realtime.EventVisualFailed, realtime.VisualFailed{Type: visual.Type, Index: idx, Error: visual.Error})
		return nil
	}

	key := storage.VisualKey(gen.ID, idx, visual.Type, result.MimeType)
	url, err := p.store.Store(ctx, key, result.Data, result.MimeType)
	if err != nil {
		return domain.Infrastructure("store visual", err)
	}
	generatedAt := p.now().UTC()
	visual.Status = domain.StatusCompleted
	visual.ImageURL = url
	visual.MimeType = result.MimeType
	visual.GeneratedAt = &generatedAt
	if err := p.save(ctx, gen); err != nil {
		return err
	}
	log.Debug().Str("url", url).Msg("visual completed")
	p.emit(ctx, gen.ID, realtime.EventVisualCompleted, realtime.VisualCompleted{
		Type:        visual.Type,
		Index:       idx,
		ImageURL:    url,
		GeneratedAt: visual.GeneratedAt,
		Status:      visual.Status,
	})
	return nil
}

// generate calls the provider under the per-call deadline. A missing result
// counts as a provider failure. Local throttling happens before the deadline
// starts, so waiting for quota never fails a visual.
func (p *Processor) generate(ctx context.Context, req image.Request) (*image.Result, error) {
	if pacer, ok := p.generator.(image.Pacer); ok {
		paced, err := pacer.Pace(ctx)
		if err != nil {
			return nil, domain.Infrastructure("wait for provider quota", err)
		}
		ctx = paced
	}
	callCtx, cancel := context.WithTimeout(ctx, p.providerTimeout)
	defer cancel()

	result, err := p.generator.Generate(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: timed out after %s", domain.ErrProviderFailure, p.providerTimeout)
		}
		return nil, err
	}
	if result == nil || len(result.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrProviderFailure)
	}
	if result.MimeType == "" {
		result.MimeType = "image/png"
	}
	return result, nil
}

func (p *Processor) finish(ctx context.Context, gen *domain.Generation, log infra.Logger) error {
	completedAt := p.now().UTC()
	gen.Status = domain.AggregateStatus(gen.Visuals)
	gen.CompletedAt = &completedAt
	gen.Error = ""
	if gen.Status == domain.StatusFailed {
		gen.Error = "all visuals failed"
	}
	if err := p.save(ctx, gen); err != nil {
		return err
	}
	completed, failed := gen.Tally()
	log.Info().Str("status", string(gen.Status)).Int("completed", completed).Int("failed", failed).Msg("generation finished")
	p.emitComplete(ctx, gen)
	return nil
}

// Abandon marks the generation FAILED after its job exhausted every attempt.
// Visuals keep whatever state was last persisted.
func (p *Processor) Abandon(ctx context.Context, job *queue.Job, cause error) error {
	gen, err := p.repo.Get(ctx, job.GenerationID)
	if err != nil {
		return fmt.Errorf("load generation: %w", err)
	}
	completedAt := p.now().UTC()
	gen.Status = domain.StatusFailed
	gen.CompletedAt = &completedAt
	gen.Error = domain.ErrorMessage(cause)
	if err := p.repo.Save(ctx, gen); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	p.emitComplete(ctx, gen)
	return nil
}

func (p *Processor) emitComplete(ctx context.Context, gen *domain.Generation) {
	completed, _ := gen.Tally()
	p.emit(ctx, gen.ID, realtime.EventGenerationComplete, realtime.GenerationComplete{
		Status:    gen.Status,
		Completed: completed,
		Total:     gen.Total(),
		Error:     gen.Error,
		Visuals:   gen.Clone().Visuals,
	})
}

func (p *Processor) save(ctx context.Context, gen *domain.Generation) error {
	if err := p.repo.Save(ctx, gen); err != nil {
		return domain.Infrastructure("save generation", err)
	}
	return nil
}

func (p *Processor) emit(ctx context.Context, generationID string, typ realtime.EventType, payload any) {
	ev, err := realtime.NewEvent(generationID, typ, payload)
	if err != nil {
		p.logger.Warn().Err(err).Msg("encode event")
		return
	}
	p.emitter.Emit(ctx, ev)
}

// targetIndices returns the in-range, de-duplicated indices in ascending
// order, or every index when none were requested.
func targetIndices(requested []int, total int) []int {
	if len(requested) == 0 {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	seen := make(map[int]struct{}, len(requested))
	out := make([]int, 0, len(requested))
	for _, idx := range requested {
		if idx < 0 || idx >= total {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
