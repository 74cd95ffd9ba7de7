package postgres

const triggerColumns = `
    id, project_id, name, plan_id,
    recurrence_kind, run_hour, run_minute, day_of_week, timezone, cron_expression,
    function_url, function_secret, function_timeout_ms,
    is_active, next_run_at,
    analytics_enabled, analytics_retention_seconds,
    created_at, updated_at`

const queryGetActiveTriggers = `
SELECT` + triggerColumns + `
FROM triggers
WHERE is_active = true
ORDER BY id
LIMIT $1 OFFSET $2
`

const queryGetTriggerByID = `
SELECT` + triggerColumns + `
FROM triggers
WHERE id = $1
`

const queryListTriggers = `
SELECT` + triggerColumns + `
FROM triggers
WHERE project_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryInsertTrigger = `
INSERT INTO triggers (
    id, project_id, name, plan_id,
    recurrence_kind, run_hour, run_minute, day_of_week, timezone, cron_expression,
    function_url, function_secret, function_timeout_ms,
    is_active, next_run_at,
    analytics_enabled, analytics_retention_seconds,
    created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
`

const queryUpdateTrigger = `
UPDATE triggers
SET name = $3,
    recurrence_kind = $4, run_hour = $5, run_minute = $6, day_of_week = $7,
    timezone = $8, cron_expression = $9,
    function_url = $10, function_secret = $11, function_timeout_ms = $12,
    is_active = $13, next_run_at = $14,
    analytics_enabled = $15, analytics_retention_seconds = $16,
    updated_at = $17
WHERE id = $1 AND project_id = $2
`

const queryUpdateTriggerNextRun = `
UPDATE triggers
SET next_run_at = $2
WHERE id = $1
`

const queryDeleteTrigger = `
WITH deleted_attempts AS (
    DELETE FROM invocation_attempts
    WHERE execution_id IN (SELECT id FROM executions WHERE trigger_id = $1)
),
deleted_executions AS (
    DELETE FROM executions WHERE trigger_id = $1
)
DELETE FROM triggers WHERE id = $1 AND project_id = $2
RETURNING id`

const queryInsertExecution = `
INSERT INTO executions (id, trigger_id, project_id, scheduled_at, fired_at, source, status, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryListExecutions = `
SELECT id, trigger_id, project_id, scheduled_at, fired_at, source, status, error_message, created_at
FROM executions
WHERE trigger_id = $1
ORDER BY scheduled_at DESC
LIMIT $2 OFFSET $3
`

const queryGetExecutionStatus = `
SELECT status FROM executions WHERE id = $1
`

const queryUpdateExecutionStatus = `
UPDATE executions
SET status = $1
WHERE id = $2
  AND status NOT IN ('completed', 'failed')
`

const queryMarkExecutionFailed = `
UPDATE executions
SET status = 'failed', error_message = $2
WHERE id = $1
  AND status NOT IN ('completed', 'failed')
`

const queryGetStalePendingExecutions = `
SELECT id, trigger_id, project_id, scheduled_at, fired_at, source, status, error_message, created_at
FROM executions
WHERE status = 'pending'
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryInsertInvocationAttempt = `
INSERT INTO invocation_attempts (id, execution_id, attempt, status_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryGetRunResults = `
SELECT test_case_id, status, title, readable_id
FROM case_results
WHERE run_id = $1
`
