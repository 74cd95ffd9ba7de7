package channel

import (
	"context"
	"errors"

	"github.com/testdeck/testdeck/internal/domain"
)

// ErrBufferFull is returned when the bus buffer has no room. Callers
// (scheduler, reconciler) treat this as a transient failure; the
// reconciler re-emits stuck executions on a later cycle.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink records bus health. Methods must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*EventBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

// EventBus is a buffered in-memory channel between the scheduler and the
// dispatcher.
type EventBus struct {
	ch      chan domain.TriggerEvent
	metrics MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch: make(chan domain.TriggerEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues the event without blocking. A full buffer returns
// ErrBufferFull so the producer's loop is never stalled by a slow consumer.
func (b *EventBus) Emit(ctx context.Context, event domain.TriggerEvent) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	default:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.TriggerEvent {
	return b.ch
}
