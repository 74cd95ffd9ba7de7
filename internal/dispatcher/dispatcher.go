package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/testdeck/testdeck/internal/circuitbreaker"
	"github.com/testdeck/testdeck/internal/domain"
	"github.com/testdeck/testdeck/internal/gateway"
	"github.com/testdeck/testdeck/internal/metrics"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

// ErrStatusTransitionDenied is returned when a status update would regress
// from a terminal state (completed/failed).
var ErrStatusTransitionDenied = errors.New("status transition denied: execution already in terminal state")

type Store interface {
	GetTriggerByID(ctx context.Context, triggerID uuid.UUID) (domain.Trigger, error)
	InsertInvocationAttempt(ctx context.Context, attempt domain.InvocationAttempt) error
	// UpdateExecutionStatus sets the execution status. Implementations MUST
	// reject transitions from terminal states (completed/failed) and return
	// ErrStatusTransitionDenied. This ensures idempotency on replay.
	UpdateExecutionStatus(ctx context.Context, executionID uuid.UUID, status domain.ExecutionStatus) error
	// MarkExecutionFailed sets status=failed with an error message, under
	// the same terminal-state guard.
	MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, errorMessage string) error
}

type FunctionInvoker interface {
	Invoke(ctx context.Context, req gateway.Request) gateway.Result
}

type AnalyticsSink interface {
	Record(ctx context.Context, event domain.TriggerEvent, config domain.AnalyticsConfig)
}

// Breaker short-circuits invocations to a persistently failing endpoint.
type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	InvocationAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	InvocationOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// Dispatcher consumes TriggerEvents and drives each execution through
// queued into a terminal state by invoking the function gateway.
type Dispatcher struct {
	store        Store
	invoker      FunctionInvoker
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	breaker      Breaker       // optional, nil = disabled
	backoff      []time.Duration
	drainTimeout time.Duration
}

func New(store Store, invoker FunctionInvoker) *Dispatcher {
	return &Dispatcher{
		store:        store,
		invoker:      invoker,
		backoff:      defaultBackoff,
		drainTimeout: DefaultDrainTimeout,
	}
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithBreaker attaches a circuit breaker guarding function endpoints.
func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// Run processes events from the channel until context is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case event := <-ch:
			if err := d.Dispatch(ctx, event); err != nil {
				log.Printf("dispatcher: error: %v", err)
			}
		}
	}
}

// DefaultDrainTimeout is the maximum time to wait for buffered events
// during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// drain processes remaining events in the channel buffer after shutdown.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.TriggerEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d events", count)
				return
			}
			if err := d.Dispatch(drainCtx, event); err != nil {
				log.Printf("dispatcher: drain error: %v", err)
			}
			count++
		default:
			// No more buffered events
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d events", count)
			}
			return
		}
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event domain.TriggerEvent) error {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	trg, err := d.store.GetTriggerByID(ctx, event.TriggerID)
	if err != nil {
		return fmt.Errorf("get trigger: %w", err)
	}

	// Analytics counts firings, not successful invocations, so it is
	// written before any delivery attempt.
	d.writeAnalytics(ctx, event, trg)

	// pending -> queued. A terminal execution here means this event is a
	// replay; skip it.
	if err := d.store.UpdateExecutionStatus(ctx, event.ExecutionID, domain.ExecutionStatusQueued); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			log.Printf("dispatcher: trigger=%s execution=%s already terminal, skipping", event.TriggerID, event.ExecutionID)
			return nil
		}
		return fmt.Errorf("mark queued: %w", err)
	}

	if trg.Function.URL == "" {
		log.Printf("dispatcher: trigger=%s has no function URL configured", event.TriggerID)
		return d.fail(ctx, event, "no function URL configured")
	}

	req := gateway.Request{
		URL:     trg.Function.URL,
		Secret:  trg.Function.Secret,
		Timeout: trg.Function.Timeout,
		Payload: gateway.Payload{
			TriggerID:   event.TriggerID.String(),
			ExecutionID: event.ExecutionID.String(),
			PlanID:      trg.PlanID.String(),
			ScheduledAt: event.ScheduledAt.UTC().Format(time.RFC3339),
			FiredAt:     event.FiredAt.UTC().Format(time.RFC3339),
			Source:      string(event.Source),
		},
	}

	var lastResult gateway.Result

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if d.metrics != nil {
				d.metrics.RetryAttempt(lastResult.IsRetryable())
			}

			idx := attempt - 1
			if idx >= len(d.backoff) {
				idx = len(d.backoff) - 1
			}
			backoff := d.backoff[idx]

			log.Printf("dispatcher: trigger=%s attempt=%d backoff=%s", event.TriggerID, attempt, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		if d.breaker != nil {
			if err := d.breaker.Allow(trg.Function.URL); err != nil {
				lastResult = gateway.Result{Error: err}
				log.Printf("dispatcher: trigger=%s attempt=%d skipped: %v", event.TriggerID, attempt, err)
				continue
			}
		}

		attemptID := uuid.New()
		req.AttemptID = attemptID.String()

		startedAt := time.Now().UTC()
		result := d.invoker.Invoke(ctx, req)
		finishedAt := time.Now().UTC()
		lastResult = result

		if d.breaker != nil {
			if result.IsSuccess() {
				d.breaker.RecordSuccess(trg.Function.URL)
			} else {
				d.breaker.RecordFailure(trg.Function.URL)
			}
		}

		if d.metrics != nil {
			statusClass := classifyStatus(result.StatusCode, result.Error)
			d.metrics.InvocationAttemptCompleted(attempt, statusClass, result.Duration)
		}

		attemptRecord := domain.InvocationAttempt{
			ID:          attemptID,
			ExecutionID: event.ExecutionID,
			Attempt:     attempt,
			StatusCode:  result.StatusCode,
			StartedAt:   startedAt,
			FinishedAt:  finishedAt,
		}
		if result.Error != nil {
			attemptRecord.Error = result.Error.Error()
		}

		if err := d.store.InsertInvocationAttempt(ctx, attemptRecord); err != nil {
			log.Printf("dispatcher: failed to record attempt: %v", err)
		}

		if result.IsSuccess() {
			log.Printf("dispatcher: trigger=%s invoked attempt=%d", event.TriggerID, attempt)
			if d.metrics != nil {
				d.metrics.InvocationOutcome("success")
			}
			if err := d.store.UpdateExecutionStatus(ctx, event.ExecutionID, domain.ExecutionStatusCompleted); err != nil {
				if errors.Is(err, ErrStatusTransitionDenied) {
					return nil
				}
				return err
			}
			return nil
		}

		if !result.IsRetryable() {
			log.Printf("dispatcher: trigger=%s non-retryable status=%d", event.TriggerID, result.StatusCode)
			break
		}

		log.Printf("dispatcher: trigger=%s attempt=%d failed status=%d err=%v", event.TriggerID, attempt, result.StatusCode, result.Error)
	}

	log.Printf("dispatcher: trigger=%s failed status=%d err=%v", event.TriggerID, lastResult.StatusCode, lastResult.Error)
	if d.metrics != nil {
		d.metrics.InvocationOutcome("failed")
	}
	return d.fail(ctx, event, failureMessage(lastResult))
}

// fail moves the execution to the failed terminal state with a message.
// A transition denied error means another worker already finished it.
func (d *Dispatcher) fail(ctx context.Context, event domain.TriggerEvent, msg string) error {
	if err := d.store.MarkExecutionFailed(ctx, event.ExecutionID, msg); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			log.Printf("dispatcher: trigger=%s execution=%s already terminal, skipping status update", event.TriggerID, event.ExecutionID)
			return nil
		}
		return err
	}
	return nil
}

func failureMessage(result gateway.Result) string {
	if result.Error != nil {
		return result.Error.Error()
	}
	return fmt.Sprintf("function endpoint returned status %d", result.StatusCode)
}

// writeAnalytics records fire counters as a best-effort side-effect.
// The sink handles errors internally; analytics never affects dispatch
// correctness.
func (d *Dispatcher) writeAnalytics(ctx context.Context, event domain.TriggerEvent, trg domain.Trigger) {
	if d.analytics == nil {
		if trg.Analytics.Enabled {
			log.Printf("dispatcher: trigger=%s analytics enabled but no sink configured", event.TriggerID)
		}
		return
	}
	if !trg.Analytics.Enabled {
		return
	}
	d.analytics.Record(ctx, event, trg.Analytics)
}

// classifyStatus maps a status code and error to a bounded-cardinality
// metrics label.
func classifyStatus(statusCode int, err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return metrics.StatusClassCircuitOpen
	}
	return metrics.ClassifyStatus(statusCode, err)
}
