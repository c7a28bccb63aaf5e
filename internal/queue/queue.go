// Package queue is the durable, at-least-once work queue that feeds the
// generation workers. Jobs are keyed by a deterministic identifier derived
// from the generation id, so a second enqueue for a generation whose job is
// still queued is absorbed by the queue itself.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status enumerates job states.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusDead      Status = "dead"
)

// ErrNoJob is returned by Claim when nothing is runnable.
var ErrNoJob = errors.New("queue: no job available")

// ErrJobNotFound is returned by Lookup for unknown job ids.
var ErrJobNotFound = errors.New("queue: job not found")

// Payload carries the run parameters that are not part of the generation record.
type Payload struct {
	ModelHint string `json:"model_hint,omitempty"`
	// Indices restricts the run to a subset of visuals; empty means all.
	Indices []int `json:"indices,omitempty"`
}

// Job is one queued unit of work.
type Job struct {
	ID           string    `json:"id"`
	GenerationID string    `json:"generation_id"`
	Status       Status    `json:"status"`
	Payload      Payload   `json:"payload"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	Progress     int       `json:"progress"`
	LastError    string    `json:"last_error,omitempty"`
	RunAfter     time.Time `json:"run_after"`
}

// Exhausted reports whether the job used its last attempt.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// JobID derives the deterministic job key for a generation.
func JobID(generationID string) string {
	return "generation-" + generationID
}

// Queue is implemented by the Postgres and in-memory queues.
type Queue interface {
	// Enqueue inserts or re-arms the job for generationID. enqueued is false
	// when a job for the same key is already queued and absorbs the request.
	// A request for a running job is kept and re-run once that job settles.
	Enqueue(ctx context.Context, generationID string, payload Payload) (jobID string, enqueued bool, err error)
	// Claim marks the next runnable job as running and increments its attempts.
	Claim(ctx context.Context) (*Job, error)
	// Progress records job progress and doubles as a heartbeat.
	Progress(ctx context.Context, jobID string, percent int) error
	// Complete finishes the job, or re-queues it when a re-run was requested
	// while it was running.
	Complete(ctx context.Context, jobID string) error
	// Fail schedules a retry with exponential backoff, or marks the job dead
	// once its attempts are exhausted. A pending re-run replaces both and
	// reports retrying.
	Fail(ctx context.Context, job *Job, cause error) (retrying bool, err error)
	Lookup(ctx context.Context, jobID string) (*Job, error)
}

// Options tune retry behaviour.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// StaleAfter is how long a running job may go without a heartbeat before
	// another worker may reclaim it.
	StaleAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 5 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 15 * time.Minute
	}
	return o
}

// Backoff returns the delay before the retry that follows the given attempt:
// BaseBackoff * 2^(attempt-1), capped at MaxBackoff.
func (o Options) Backoff(attempt int) time.Duration {
	o = o.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.BaseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = o.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return msg
}
