package sqlinline

const QSelectRegenerationQuota = `--sql 8a1c85d5-ca49-4b36-96bb-4b1bfa7eb90b
select regeneration_count, max_regenerations
from regeneration_quotas
where email = lower($1::text)
limit 1;
`

// QTryConsumeRegeneration advances the counter only while it is below the
// ceiling. No row is returned when the identity is already at its limit.
const QTryConsumeRegeneration = `--sql 128b947d-9e9b-4e5d-be4e-c25e595f3f23
insert into regeneration_quotas (email, regeneration_count, max_regenerations, created_at, updated_at)
values (lower($1::text), 1, $2::int, now(), now())
on conflict (email) do update set
    regeneration_count = regeneration_quotas.regeneration_count + 1,
    updated_at = now()
where regeneration_quotas.regeneration_count < regeneration_quotas.max_regenerations
returning regeneration_count, max_regenerations;
`

const QUpsertRegenerationCeiling = `--sql 4a36a983-5562-4f52-8542-f9a304583e94
insert into regeneration_quotas (email, regeneration_count, max_regenerations, created_at, updated_at)
values (lower($1::text), 0, $2::int, now(), now())
on conflict (email) do update set
    max_regenerations = excluded.max_regenerations,
    updated_at = now()
returning regeneration_count, max_regenerations;
`

const QResetRegenerationCount = `--sql d3985f8b-7e98-4cfb-ad60-d743644b1dc2
update regeneration_quotas
set regeneration_count = 0, updated_at = now()
where email = lower($1::text)
returning regeneration_count, max_regenerations;
`
