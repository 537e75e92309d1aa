package sqlinline

const QSelectHistory = `--sql ca2c0b6b-c305-4b2b-8a81-4271fee670d3
select payload
from generation_history
where history_key = $1::text
limit 1;
`

const QUpsertHistory = `--sql dda34ca3-62ba-4162-b6c1-e5bb2e7addf6
insert into generation_history (history_key, payload, run_count, updated_at)
values ($1::text, $2::jsonb, $3::int, now())
on conflict (history_key) do update set
    payload = excluded.payload,
    run_count = excluded.run_count,
    updated_at = now();
`
