package sqlinline

// QEnqueueGenerationJob inserts the job or re-arms a finished one. A running
// job keeps its current run and stores the payload in rerun_payload, which
// QCompleteJob and QFailJob pick up. A queued job is left untouched and no row
// is returned.
const QEnqueueGenerationJob = `--sql 438e44a7-8dfd-4a78-b7e3-8bd8d4a2d101
insert into generation_jobs (id, generation_id, status, payload, attempts, max_attempts, progress, last_error, run_after)
values ($1::text, $2::uuid, 'queued', $3::jsonb, 0, $4::int, 0, '', now())
on conflict (id) do update set
    status        = case when generation_jobs.status = 'running' then 'running' else 'queued' end,
    payload       = case when generation_jobs.status = 'running' then generation_jobs.payload else excluded.payload end,
    rerun_payload = case when generation_jobs.status = 'running' then excluded.payload end,
    attempts      = case when generation_jobs.status = 'running' then generation_jobs.attempts else 0 end,
    max_attempts  = excluded.max_attempts,
    progress      = case when generation_jobs.status = 'running' then generation_jobs.progress else 0 end,
    last_error    = case when generation_jobs.status = 'running' then generation_jobs.last_error else '' end,
    run_after     = case when generation_jobs.status = 'running' then generation_jobs.run_after else now() end,
    heartbeat_at  = case when generation_jobs.status = 'running' then generation_jobs.heartbeat_at end,
    updated_at    = now()
where generation_jobs.status in ('completed', 'dead', 'running')
returning id;
`

const QClaimGenerationJob = `--sql bebc9123-2a88-47ea-86c1-12491a99d5fb
with next_job as (
    select id
    from generation_jobs
    where (status = 'queued' and run_after <= now())
       or (status = 'running' and heartbeat_at < now() - ($1::bigint * interval '1 millisecond'))
    order by run_after asc
    for update skip locked
    limit 1
)
update generation_jobs j
set status = 'running',
    attempts = j.attempts + 1,
    heartbeat_at = now(),
    updated_at = now()
from next_job
where j.id = next_job.id
returning j.id, j.generation_id::text, j.status, j.payload, j.attempts, j.max_attempts, j.progress, j.last_error, j.run_after;
`

const QJobProgress = `--sql 1b54be34-1bd7-4125-8174-6c982f91ec8b
update generation_jobs
set progress = greatest(progress, $2::int),
    heartbeat_at = now(),
    updated_at = now()
where id = $1::text and status = 'running';
`

const QCompleteJob = `--sql 5ea99a32-8447-4f6b-ab36-6adb2f17c5d3
update generation_jobs
set status        = case when rerun_payload is null then 'completed' else 'queued' end,
    payload       = coalesce(rerun_payload, payload),
    attempts      = case when rerun_payload is null then attempts else 0 end,
    progress      = case when rerun_payload is null then 100 else 0 end,
    last_error    = case when rerun_payload is null then last_error else '' end,
    run_after     = case when rerun_payload is null then run_after else now() end,
    rerun_payload = null,
    heartbeat_at  = null,
    updated_at    = now()
where id = $1::text;
`

// QFailJob schedules a retry after $3 milliseconds, or buries the job when $4
// says its attempts are exhausted. A pending re-run wins over both.
const QFailJob = `--sql 1720f9ad-a2f8-4c3a-b4cc-3ccc4ef8ce16
update generation_jobs
set status        = case
                        when rerun_payload is not null then 'queued'
                        when $4::boolean then 'dead'
                        else 'queued'
                    end,
    payload       = coalesce(rerun_payload, payload),
    attempts      = case when rerun_payload is null then attempts else 0 end,
    last_error    = case when rerun_payload is null then $2::text else '' end,
    run_after     = case
                        when rerun_payload is not null then now()
                        when $4::boolean then run_after
                        else now() + ($3::bigint * interval '1 millisecond')
                    end,
    rerun_payload = null,
    heartbeat_at  = null,
    updated_at    = now()
where id = $1::text
returning status;
`

const QSelectJob = `--sql aa2b6752-cd4b-4b4a-9003-75678ad4d7c0
select id, generation_id::text, status, payload, attempts, max_attempts, progress, last_error, run_after
from generation_jobs
where id = $1::text;
`
