package sqlinline

const QInsertGeneration = `--sql 5e6b36f6-6409-44cc-be0e-7899efc8b675
insert into generations (
    id, owner_id, product_ref, style_ref, collection_ref, product_name, collection_name,
    aspect_ratio, resolution, model_hint, status, visuals, progress_percent, completed_count,
    error_message, started_at, completed_at, created_at, updated_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text,
    $8::text, $9::text, $10::text, $11::text, $12::jsonb, $13::int, $14::int,
    $15::text, $16, $17, $18, $18
);
`

const QSelectGeneration = `--sql cd4f3671-819b-4e0c-8479-8999486b69a2
select
    id::text, owner_id, product_ref, style_ref, collection_ref, product_name, collection_name,
    aspect_ratio, resolution, model_hint, status, visuals, progress_percent, completed_count,
    error_message, started_at, completed_at, created_at, updated_at
from generations
where id = $1::uuid;
`

// QUpdateGeneration rewrites the whole record, visuals array included.
const QUpdateGeneration = `--sql 0e27d096-e996-4749-8470-ffaa0a8b17b0
update generations
set model_hint       = $2::text,
    status           = $3::text,
    visuals          = $4::jsonb,
    progress_percent = $5::int,
    completed_count  = $6::int,
    error_message    = $7::text,
    started_at       = $8,
    completed_at     = $9,
    aspect_ratio     = $10::text,
    resolution       = $11::text,
    updated_at       = $12
where id = $1::uuid;
`
