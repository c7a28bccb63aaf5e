package sqlinline

// Provider API keys stored by cmd/geminikey, read at boot when the env has none.

const QSelectProviderToken = `--sql 3c1f6e2a-94d7-4b0e-a6b8-2d5e7f90c413
select t.token
from integration_tokens t
where t.provider = $1::text
order by t.updated_at desc
limit 1;
`

const QUpsertProviderToken = `--sql b7e24d09-51a3-4c8f-9e62-0f4a8d3c17e5
insert into integration_tokens (id, provider, token, properties)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update
set token      = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
