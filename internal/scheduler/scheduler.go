package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/testdeck/testdeck/internal/domain"
	"github.com/testdeck/testdeck/internal/schedule"
)

var ErrDuplicateExecution = errors.New("execution already exists")

type Store interface {
	GetActiveTriggers(ctx context.Context) ([]domain.Trigger, error)
	InsertExecution(ctx context.Context, exec domain.Execution) error
	UpdateTriggerNextRun(ctx context.Context, triggerID uuid.UUID, next time.Time) error
}

// CronParser resolves cron-expression recurrences. Fixed kinds
// (hourly/daily/weekly) are computed directly via schedule.NextOccurrence.
type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// MetricsSink records scheduler metrics. Methods must not block.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, triggersFired int, err error)
}

type Config struct {
	TickInterval time.Duration
}

// Scheduler polls active triggers and fires the ones whose persisted next
// occurrence has been reached. Firing a trigger creates exactly one pending
// execution per (trigger, occurrence) and emits one TriggerEvent; the
// unique constraint on executions makes replays harmless.
type Scheduler struct {
	config  Config
	store   Store
	cron    CronParser
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, cronParser CronParser, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:  config,
		store:   store,
		cron:    cronParser,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) error {
	// Clock is read once per tick; every due/not-due decision in this
	// tick compares against the same instant.
	now := s.clock().UTC()
	start := time.Now()
	fired := 0

	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	triggers, err := s.store.GetActiveTriggers(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TickCompleted(time.Since(start), 0, err)
		}
		return fmt.Errorf("get triggers: %w", err)
	}

	for _, trg := range triggers {
		didFire, err := s.processTrigger(ctx, trg, now)
		if err != nil {
			log.Printf("scheduler: trigger %s error: %v", trg.ID, err)
		}
		if didFire {
			fired++
		}
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(time.Since(start), fired, nil)
	}
	return nil
}

// processTrigger fires the trigger if its next occurrence is due, then
// persists the recomputed occurrence. A trigger with no persisted
// occurrence yet (just created or just reactivated) only gets one computed.
func (s *Scheduler) processTrigger(ctx context.Context, trg domain.Trigger, now time.Time) (bool, error) {
	if trg.NextRunAt == nil {
		next, err := s.NextOccurrence(trg.Recurrence, now)
		if err != nil {
			return false, fmt.Errorf("compute next run: %w", err)
		}
		if err := s.store.UpdateTriggerNextRun(ctx, trg.ID, next); err != nil {
			return false, fmt.Errorf("persist next run: %w", err)
		}
		return false, nil
	}

	if trg.NextRunAt.After(now) {
		return false, nil
	}

	scheduledAt := trg.NextRunAt.UTC().Truncate(time.Minute)
	fired := true
	if err := s.fire(ctx, trg, scheduledAt, now); err != nil {
		log.Printf("scheduler: trigger %s at %s error: %v", trg.ID, scheduledAt.Format(time.RFC3339), err)
		fired = false
	}

	// Recompute from now, not from the fired occurrence: occurrences
	// missed while the service was down are skipped, not replayed.
	next, err := s.NextOccurrence(trg.Recurrence, now)
	if err != nil {
		return fired, fmt.Errorf("compute next run: %w", err)
	}
	if err := s.store.UpdateTriggerNextRun(ctx, trg.ID, next); err != nil {
		return fired, fmt.Errorf("persist next run: %w", err)
	}

	return fired, nil
}

// NextOccurrence resolves the first occurrence strictly after now for any
// recurrence kind, delegating cron expressions to the cron parser.
func (s *Scheduler) NextOccurrence(r domain.Recurrence, now time.Time) (time.Time, error) {
	if r.Kind == domain.RecurrenceCron {
		sched, err := s.cron.Parse(r.CronExpression, r.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", schedule.ErrInvalidRecurrence, err)
		}
		return sched.Next(now), nil
	}
	return schedule.NextOccurrence(r, now)
}

func (s *Scheduler) fire(ctx context.Context, trg domain.Trigger, scheduledAt, now time.Time) error {
	executionID := uuid.New()

	execution := domain.Execution{
		ID:          executionID,
		TriggerID:   trg.ID,
		ProjectID:   trg.ProjectID,
		ScheduledAt: scheduledAt,
		FiredAt:     now,
		Source:      domain.SourceSchedule,
		Status:      domain.ExecutionStatusPending,
		CreatedAt:   now,
	}

	if err := s.store.InsertExecution(ctx, execution); err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			return nil // this occurrence already fired
		}
		return fmt.Errorf("insert execution: %w", err)
	}

	event := domain.TriggerEvent{
		ExecutionID:    executionID,
		TriggerID:      trg.ID,
		ProjectID:      trg.ProjectID,
		ScheduledAt:    scheduledAt,
		FiredAt:        now,
		Source:         domain.SourceSchedule,
		IdempotencyKey: IdempotencyKey(trg.ID, scheduledAt),
		CreatedAt:      now,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		// The execution row exists in pending; the reconciler will
		// re-emit it once it crosses the staleness threshold.
		return fmt.Errorf("emit: %w", err)
	}

	log.Printf("scheduler: fired trigger=%s scheduled_at=%s", trg.ID, scheduledAt.Format(time.RFC3339))
	return nil
}

// IdempotencyKey identifies one (trigger, occurrence) firing.
func IdempotencyKey(triggerID uuid.UUID, scheduledAt time.Time) string {
	data := fmt.Sprintf("%s:%d", triggerID.String(), scheduledAt.Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
