package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"visualbatch/internal/infra"
	"visualbatch/internal/queue"
)

const (
	jobPollInterval   = 2 * time.Second
	heartbeatInterval = 30 * time.Second
	settleTimeout     = 10 * time.Second
)

// Worker is a pool of claim loops. Different generations run concurrently;
// a single job is only ever handled by one loop.
type Worker struct {
	queue             queue.Queue
	processor         *Processor
	logger            infra.Logger
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

type WorkerOptions struct {
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Logger            infra.Logger
}

func NewWorker(q queue.Queue, processor *Processor, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = jobPollInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = heartbeatInterval
	}
	return &Worker{
		queue:             q,
		processor:         processor,
		logger:            infra.Component(opts.Logger, "worker"),
		concurrency:       opts.Concurrency,
		pollInterval:      opts.PollInterval,
		heartbeatInterval: opts.HeartbeatInterval,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.concurrency).Msg("worker: started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i
		g.Go(func() error {
			return w.loop(ctx, workerID)
		})
	}
	err := g.Wait()
	w.logger.Info().Msg("worker: stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, workerID int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		claimed, err := w.RunOnce(ctx, workerID)
		if err != nil {
			w.logger.Error().Err(err).Int("worker_id", workerID).Msg("worker: failed to claim job")
		}
		if claimed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce claims and handles at most one job. It reports whether a job was
// claimed; the error is only about claiming, job failures are handled here.
func (w *Worker) RunOnce(ctx context.Context, workerID int) (bool, error) {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrNoJob) || errors.Is(err, context.Canceled) {
			return false, nil
		}
		return false, err
	}
	w.handle(ctx, workerID, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, workerID int, job *queue.Job) {
	log := w.logger.With().
		Int("worker_id", workerID).
		Str("job_id", job.ID).
		Str("generation_id", job.GenerationID).
		Int("attempt", job.Attempts).
		Logger()
	log.Info().Msg("worker: picked job")

	var percent atomic.Int64
	stopHeartbeat := w.heartbeat(ctx, job.ID, &percent, log)
	err := w.process(ctx, job, func(ctx context.Context, p int) error {
		percent.Store(int64(p))
		return w.queue.Progress(ctx, job.ID, p)
	})
	stopHeartbeat()

	// The job outcome must be recorded even while shutting down.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err == nil {
		if err := w.queue.Complete(settleCtx, job.ID); err != nil {
			log.Error().Err(err).Msg("worker: complete job failed")
			return
		}
		log.Info().Msg("worker: job completed")
		return
	}

	retrying, failErr := w.queue.Fail(settleCtx, job, err)
	if failErr != nil {
		log.Error().Err(failErr).AnErr("cause", err).Msg("worker: record job failure failed")
		return
	}
	if retrying {
		log.Warn().Err(err).Msg("worker: job failed; retry scheduled")
		return
	}
	log.Error().Err(err).Msg("worker: job exhausted its attempts")
	if abandonErr := w.processor.Abandon(settleCtx, job, err); abandonErr != nil {
		log.Error().Err(abandonErr).Msg("worker: mark generation failed")
	}
}

// process runs the processor and turns a panic into a job failure.
func (w *Worker) process(ctx context.Context, job *queue.Job, progress ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("job_id", job.ID).Bytes("stack", debug.Stack()).Msg("worker: panic while processing job")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, job, progress)
}

// heartbeat keeps the claim fresh while a long provider call is in flight.
func (w *Worker) heartbeat(ctx context.Context, jobID string, percent *atomic.Int64, log infra.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Progress(ctx, jobID, int(percent.Load())); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("worker: heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
