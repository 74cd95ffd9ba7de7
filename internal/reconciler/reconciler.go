// Package reconciler detects and re-emits stuck executions.
//
// An execution is stuck when it has status=pending but its TriggerEvent
// never reached the dispatcher (bus buffer full, crash between insert and
// emit). The reconciler periodically scans for pending executions older
// than a threshold and re-emits them. The dispatcher's terminal-state
// guard makes re-emits of already-processed executions harmless.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/testdeck/testdeck/internal/domain"
)

// Store defines the interface for fetching stuck executions.
type Store interface {
	GetStalePendingExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Execution, error)
}

// EventEmitter defines the interface for emitting trigger events.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// MetricsSink records reconciler metrics. Methods must not block.
type MetricsSink interface {
	StalePendingUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is the age after which a pending execution is considered
	// stuck. Must exceed the dispatcher's maximum retry window.
	Threshold time.Duration

	// BatchSize is the maximum number of stuck executions per cycle.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 15 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler re-emits executions stuck in pending.
type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, emitter EventEmitter) *Reconciler {
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	stuck, err := r.store.GetStalePendingExecutions(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch stale executions: %v", err)
		return
	}

	if r.metrics != nil {
		r.metrics.StalePendingUpdate(len(stuck))
	}

	if len(stuck) == 0 {
		return
	}

	log.Printf("reconciler: found %d stale pending executions", len(stuck))

	emitted := 0
	failed := 0

	for _, exec := range stuck {
		// Check context before each emit to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d executions", emitted+failed, len(stuck))
			return
		}

		event := domain.TriggerEvent{
			ExecutionID: exec.ID,
			TriggerID:   exec.TriggerID,
			ProjectID:   exec.ProjectID,
			ScheduledAt: exec.ScheduledAt,
			FiredAt:     exec.FiredAt,
			Source:      exec.Source,
			CreatedAt:   now,
		}

		if err := r.emitter.Emit(ctx, event); err != nil {
			// Emit failed (buffer full, context cancelled).
			// Log and continue - will retry next cycle.
			log.Printf("reconciler: failed to re-emit execution=%s trigger=%s: %v",
				exec.ID, exec.TriggerID, err)
			failed++
			continue
		}

		log.Printf("reconciler: re-emitted execution=%s trigger=%s scheduled_at=%s (age=%s)",
			exec.ID, exec.TriggerID, exec.ScheduledAt.Format(time.RFC3339),
			now.Sub(exec.CreatedAt).Round(time.Second))
		emitted++
	}

	log.Printf("reconciler: cycle complete, re-emitted=%d, failed=%d", emitted, failed)
}
