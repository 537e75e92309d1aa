package sqlinline

// QSelectIntegrationToken ignores rows whose token was blanked out.
const QSelectIntegrationToken = `--sql d5d8da0b-37bf-4651-9874-c3f3737da6b7
select token
from integration_tokens
where provider = $1::text
  and btrim(token) <> ''
limit 1;
`

// QUpsertIntegrationToken merges the new properties into the stored ones.
const QUpsertIntegrationToken = `--sql 77084922-a7b1-4b2a-a316-a98a07cd665f
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`

const QDeleteIntegrationToken = `--sql dc7bac94-6d9f-4b44-9b2f-d341b67c6ef9
delete from integration_tokens
where provider = $1::text;
`
