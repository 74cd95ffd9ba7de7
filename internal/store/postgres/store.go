package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/testdeck/testdeck/internal/api"
	"github.com/testdeck/testdeck/internal/dispatcher"
	"github.com/testdeck/testdeck/internal/domain"
	"github.com/testdeck/testdeck/internal/reconciler"
	"github.com/testdeck/testdeck/internal/scheduler"
)

// Pagination bound for the scheduler's active trigger scan.
const activeTriggerBatch = 1000

// Store implements the scheduler, dispatcher, reconciler, and api store
// interfaces using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store. opTimeout bounds every operation;
// zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// GetActiveTriggers returns active triggers for the scheduler tick.
func (s *Store) GetActiveTriggers(ctx context.Context) ([]domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetActiveTriggers, activeTriggerBatch, 0)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// GetTriggerByID returns a trigger by its ID.
func (s *Store) GetTriggerByID(ctx context.Context, triggerID uuid.UUID) (domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetTriggerByID, triggerID)
	return scanTrigger(row)
}

// ListTriggers returns a project's triggers, newest first.
func (s *Store) ListTriggers(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTriggers, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// CreateTrigger inserts a new trigger.
func (s *Store) CreateTrigger(ctx context.Context, trg domain.Trigger) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertTrigger,
		trg.ID,
		trg.ProjectID,
		trg.Name,
		trg.PlanID,
		string(trg.Recurrence.Kind),
		trg.Recurrence.Hour,
		trg.Recurrence.Minute,
		trg.Recurrence.DayOfWeek,
		trg.Recurrence.Timezone,
		trg.Recurrence.CronExpression,
		trg.Function.URL,
		trg.Function.Secret,
		trg.Function.Timeout.Milliseconds(),
		trg.IsActive,
		nullableTime(trg.NextRunAt),
		trg.Analytics.Enabled,
		int64(trg.Analytics.Retention/time.Second),
		trg.CreatedAt,
		trg.UpdatedAt,
	)
	return err
}

// UpdateTrigger overwrites a trigger's mutable fields.
// Returns sql.ErrNoRows if the trigger does not exist in the project.
func (s *Store) UpdateTrigger(ctx context.Context, trg domain.Trigger) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateTrigger,
		trg.ID,
		trg.ProjectID,
		trg.Name,
		string(trg.Recurrence.Kind),
		trg.Recurrence.Hour,
		trg.Recurrence.Minute,
		trg.Recurrence.DayOfWeek,
		trg.Recurrence.Timezone,
		trg.Recurrence.CronExpression,
		trg.Function.URL,
		trg.Function.Secret,
		trg.Function.Timeout.Milliseconds(),
		trg.IsActive,
		nullableTime(trg.NextRunAt),
		trg.Analytics.Enabled,
		int64(trg.Analytics.Retention/time.Second),
		trg.UpdatedAt,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateTriggerNextRun persists the recomputed next occurrence.
func (s *Store) UpdateTriggerNextRun(ctx context.Context, triggerID uuid.UUID, next time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpdateTriggerNextRun, triggerID, next)
	return err
}

// DeleteTrigger removes a trigger with its executions and attempts.
func (s *Store) DeleteTrigger(ctx context.Context, triggerID, projectID uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteTrigger, triggerID, projectID).Scan(&deletedID)
	if err != nil {
		return err
	}
	return nil
}

// InsertExecution inserts a new execution record.
// Returns scheduler.ErrDuplicateExecution if (trigger_id, scheduled_at)
// already exists.
func (s *Store) InsertExecution(ctx context.Context, exec domain.Execution) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertExecution,
		exec.ID,
		exec.TriggerID,
		exec.ProjectID,
		exec.ScheduledAt,
		exec.FiredAt,
		string(exec.Source),
		string(exec.Status),
		exec.ErrorMessage,
		exec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return scheduler.ErrDuplicateExecution
		}
		return err
	}
	return nil
}

// ListExecutions returns a trigger's executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, triggerID uuid.UUID, limit, offset int) ([]domain.Execution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListExecutions, triggerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// UpdateExecutionStatus updates the status of an execution.
// Returns dispatcher.ErrStatusTransitionDenied if the execution is already
// terminal. Uses an atomic UPDATE with the guard in the WHERE clause to
// prevent TOCTOU races.
func (s *Store) UpdateExecutionStatus(ctx context.Context, executionID uuid.UUID, status domain.ExecutionStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateExecutionStatus, string(status), executionID)
	if err != nil {
		return err
	}
	return s.checkGuardedUpdate(ctx, result, executionID)
}

// MarkExecutionFailed sets status=failed with an error message, under the
// same terminal-state guard as UpdateExecutionStatus.
func (s *Store) MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, errorMessage string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryMarkExecutionFailed, executionID, errorMessage)
	if err != nil {
		return err
	}
	return s.checkGuardedUpdate(ctx, result, executionID)
}

// checkGuardedUpdate distinguishes "row missing" from "row terminal" when
// a guarded execution update touched no rows.
func (s *Store) checkGuardedUpdate(ctx context.Context, result sql.Result, executionID uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var currentStatus string
	err = s.db.QueryRowContext(ctx, queryGetExecutionStatus, executionID).Scan(&currentStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return err
	}
	// Row exists but wasn't updated => terminal state
	return dispatcher.ErrStatusTransitionDenied
}

// GetStalePendingExecutions returns executions stuck in pending created
// before the threshold, oldest first.
func (s *Store) GetStalePendingExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Execution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStalePendingExecutions, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// InsertInvocationAttempt inserts a new invocation attempt record.
func (s *Store) InsertInvocationAttempt(ctx context.Context, attempt domain.InvocationAttempt) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertInvocationAttempt,
		attempt.ID,
		attempt.ExecutionID,
		attempt.Attempt,
		attempt.StatusCode,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	return err
}

// GetRunResults returns a run's case results keyed by test case ID.
// An unknown run ID yields an empty map.
func (s *Store) GetRunResults(ctx context.Context, runID uuid.UUID) (map[string]domain.CaseResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetRunResults, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]domain.CaseResult)
	for rows.Next() {
		var caseID, status string
		var result domain.CaseResult

		if err := rows.Scan(&caseID, &status, &result.Title, &result.ReadableID); err != nil {
			return nil, err
		}
		result.Status = domain.CaseStatus(status)
		results[caseID] = result
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var trg domain.Trigger
	var kind string
	var timeoutMs, retentionSeconds int64
	var nextRunAt sql.NullTime

	err := row.Scan(
		&trg.ID,
		&trg.ProjectID,
		&trg.Name,
		&trg.PlanID,
		&kind,
		&trg.Recurrence.Hour,
		&trg.Recurrence.Minute,
		&trg.Recurrence.DayOfWeek,
		&trg.Recurrence.Timezone,
		&trg.Recurrence.CronExpression,
		&trg.Function.URL,
		&trg.Function.Secret,
		&timeoutMs,
		&trg.IsActive,
		&nextRunAt,
		&trg.Analytics.Enabled,
		&retentionSeconds,
		&trg.CreatedAt,
		&trg.UpdatedAt,
	)
	if err != nil {
		return domain.Trigger{}, err
	}

	trg.Recurrence.Kind = domain.RecurrenceKind(kind)
	trg.Function.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if nextRunAt.Valid {
		t := nextRunAt.Time
		trg.NextRunAt = &t
	}
	if trg.Analytics.Enabled {
		trg.Analytics.Type = domain.AnalyticsTypeCount
		trg.Analytics.Window = time.Minute
		trg.Analytics.Retention = time.Duration(retentionSeconds) * time.Second
	}
	return trg, nil
}

func scanTriggers(rows *sql.Rows) ([]domain.Trigger, error) {
	var result []domain.Trigger
	for rows.Next() {
		trg, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, trg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanExecutions(rows *sql.Rows) ([]domain.Execution, error) {
	var result []domain.Execution
	for rows.Next() {
		var exec domain.Execution
		var source, status string

		err := rows.Scan(
			&exec.ID,
			&exec.TriggerID,
			&exec.ProjectID,
			&exec.ScheduledAt,
			&exec.FiredAt,
			&source,
			&status,
			&exec.ErrorMessage,
			&exec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		exec.Source = domain.ExecutionSource(source)
		exec.Status = domain.ExecutionStatus(status)
		result = append(result, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// Compile-time interface assertions
var (
	_ scheduler.Store  = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
