package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"visualbatch/internal/infra"
	"visualbatch/internal/sqlinline"
)

// PGQueue stores jobs in the generation_jobs table. The deterministic job id
// is the primary key, and claims use FOR UPDATE SKIP LOCKED so concurrent
// workers never pick the same job.
type PGQueue struct {
	sql  infra.SQLExecutor
	opts Options
}

// NewPGQueue creates a Postgres-backed queue.
func NewPGQueue(sql infra.SQLExecutor, opts Options) *PGQueue {
	return &PGQueue{sql: sql, opts: opts.withDefaults()}
}

func (q *PGQueue) Enqueue(ctx context.Context, generationID string, payload Payload) (string, bool, error) {
	id := JobID(generationID)
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("encode job payload: %w", err)
	}
	var returned string
	err = q.sql.QueryRow(ctx, sqlinline.QEnqueueGenerationJob, id, generationID, raw, q.opts.MaxAttempts).Scan(&returned)
	if err != nil {
		if infra.IsNoRows(err) {
			return id, false, nil
		}
		return "", false, fmt.Errorf("enqueue job: %w", err)
	}
	return returned, true, nil
}

func (q *PGQueue) Claim(ctx context.Context) (*Job, error) {
	row := q.sql.QueryRow(ctx, sqlinline.QClaimGenerationJob, q.opts.StaleAfter.Milliseconds())
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNoJob
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (q *PGQueue) Progress(ctx context.Context, jobID string, percent int) error {
	if _, err := q.sql.Exec(ctx, sqlinline.QJobProgress, jobID, percent); err != nil {
		return fmt.Errorf("job progress: %w", err)
	}
	return nil
}

func (q *PGQueue) Complete(ctx context.Context, jobID string) error {
	if _, err := q.sql.Exec(ctx, sqlinline.QCompleteJob, jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (q *PGQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	delay := q.opts.Backoff(job.Attempts)
	var status string
	err := q.sql.QueryRow(ctx, sqlinline.QFailJob, job.ID, errorText(cause), delay.Milliseconds(), job.Exhausted()).Scan(&status)
	if err != nil {
		if infra.IsNoRows(err) {
			return false, ErrJobNotFound
		}
		return false, fmt.Errorf("record job failure: %w", err)
	}
	return Status(status) == StatusQueued, nil
}

func (q *PGQueue) Lookup(ctx context.Context, jobID string) (*Job, error) {
	job, err := scanJob(q.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("lookup job: %w", err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job     Job
		status  string
		payload []byte
	)
	if err := row.Scan(&job.ID, &job.GenerationID, &status, &payload, &job.Attempts, &job.MaxAttempts, &job.Progress, &job.LastError, &job.RunAfter); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
	}
	return &job, nil
}

var _ Queue = (*PGQueue)(nil)
