package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is a single-process Queue with the same dedup and retry
// semantics as PGQueue. Jobs do not survive a restart.
type MemoryQueue struct {
	mu   sync.Mutex
	opts Options
	jobs map[string]*memoryJob
	now  func() time.Time
}

type memoryJob struct {
	Job
	heartbeat time.Time
	created   time.Time
	// rerun is set when an enqueue arrives while the job is running.
	rerun *Payload
}

// rearm puts the job back in the queue as a fresh run of p.
func (j *memoryJob) rearm(p Payload, now time.Time) {
	j.Status = StatusQueued
	j.Payload = p
	j.Attempts = 0
	j.Progress = 0
	j.LastError = ""
	j.RunAfter = now
	j.rerun = nil
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{opts: opts.withDefaults(), jobs: make(map[string]*memoryJob), now: time.Now}
}

// WithClock replaces the time source; tests use it to step over backoff delays.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, generationID string, payload Payload) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	id := JobID(generationID)
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if existing, ok := q.jobs[id]; ok {
		switch existing.Status {
		case StatusQueued:
			return id, false, nil
		case StatusRunning:
			rerun := clonePayload(payload)
			existing.rerun = &rerun
			return id, true, nil
		}
	}
	q.jobs[id] = &memoryJob{
		Job: Job{
			ID:           id,
			GenerationID: generationID,
			Status:       StatusQueued,
			Payload:      clonePayload(payload),
			MaxAttempts:  q.opts.MaxAttempts,
			RunAfter:     now,
		},
		created: now,
	}
	return id, true, nil
}

func (q *MemoryQueue) Claim(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	staleCutoff := now.Add(-q.opts.StaleAfter)

	var runnable []*memoryJob
	for _, j := range q.jobs {
		switch {
		case j.Status == StatusQueued && !j.RunAfter.After(now):
			runnable = append(runnable, j)
		case j.Status == StatusRunning && j.heartbeat.Before(staleCutoff):
			runnable = append(runnable, j)
		}
	}
	if len(runnable) == 0 {
		return nil, ErrNoJob
	}
	sort.Slice(runnable, func(a, b int) bool {
		if runnable[a].RunAfter.Equal(runnable[b].RunAfter) {
			return runnable[a].created.Before(runnable[b].created)
		}
		return runnable[a].RunAfter.Before(runnable[b].RunAfter)
	})
	next := runnable[0]
	next.Status = StatusRunning
	next.Attempts++
	next.heartbeat = now
	claimed := next.Job
	claimed.Payload = clonePayload(next.Payload)
	return &claimed, nil
}

func (q *MemoryQueue) Progress(ctx context.Context, jobID string, percent int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusRunning {
		return nil
	}
	if percent > j.Progress {
		j.Progress = percent
	}
	j.heartbeat = q.now()
	return nil
}

func (q *MemoryQueue) Complete(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.rerun != nil {
		j.rearm(*j.rerun, q.now())
		return nil
	}
	j.Status = StatusCompleted
	j.Progress = 100
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[job.ID]
	if !ok {
		return false, ErrJobNotFound
	}
	if j.rerun != nil {
		j.rearm(*j.rerun, q.now())
		return true, nil
	}
	j.LastError = errorText(cause)
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusDead
		return false, nil
	}
	j.Status = StatusQueued
	j.RunAfter = q.now().Add(q.opts.Backoff(j.Attempts))
	return true, nil
}

func (q *MemoryQueue) Lookup(ctx context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := j.Job
	out.Payload = clonePayload(j.Payload)
	return &out, nil
}

func clonePayload(p Payload) Payload {
	if p.Indices != nil {
		p.Indices = append([]int(nil), p.Indices...)
	}
	return p
}

var _ Queue = (*MemoryQueue)(nil)
