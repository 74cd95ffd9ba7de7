package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal          prometheus.Counter
	tickErrorsTotal     prometheus.Counter
	triggersFiredTotal  prometheus.Counter
	tickDuration        prometheus.Histogram

	// Dispatcher metrics
	invocationAttemptsTotal *prometheus.CounterVec
	invocationOutcomesTotal *prometheus.CounterVec
	invocationDuration      prometheus.Histogram
	retryAttemptsTotal      *prometheus.CounterVec
	eventsInFlight          prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Reconciler metrics
	stalePending prometheus.Gauge

	// Comparison metrics
	comparisonsTotal   prometheus.Counter
	comparisonDuration prometheus.Histogram

	// Leader election metrics
	leaderStatus      prometheus.Gauge
	leaderAcquired    prometheus.Counter
	leaderLostTotal   *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initComparisonMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.triggersFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_scheduler_triggers_fired_total",
		Help: "Total number of triggers fired (executions created).",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "testdeck_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.ticksTotal, "testdeck_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "testdeck_scheduler_tick_errors_total")
	s.register(reg, s.triggersFiredTotal, "testdeck_scheduler_triggers_fired_total")
	s.register(reg, s.tickDuration, "testdeck_scheduler_tick_duration_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.invocationAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_dispatcher_invocation_attempts_total",
		Help: "Total number of function invocation attempts.",
	}, []string{"attempt", "status_class"})

	s.invocationOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_dispatcher_invocation_outcomes_total",
		Help: "Total number of final invocation outcomes per execution.",
	}, []string{"outcome"})

	s.invocationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "testdeck_dispatcher_invocation_duration_seconds",
		Help:    "Function request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_dispatcher_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testdeck_dispatcher_events_in_flight",
		Help: "Number of events currently being processed.",
	})

	s.register(reg, s.invocationAttemptsTotal, "testdeck_dispatcher_invocation_attempts_total")
	s.register(reg, s.invocationOutcomesTotal, "testdeck_dispatcher_invocation_outcomes_total")
	s.register(reg, s.invocationDuration, "testdeck_dispatcher_invocation_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "testdeck_dispatcher_retry_attempts_total")
	s.register(reg, s.eventsInFlight, "testdeck_dispatcher_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testdeck_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testdeck_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "testdeck_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "testdeck_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "testdeck_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.stalePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testdeck_reconciler_stale_pending_executions",
		Help: "Number of stale pending executions found in the last cycle.",
	})

	s.register(reg, s.stalePending, "testdeck_reconciler_stale_pending_executions")
}

func (s *PrometheusSink) initComparisonMetrics(reg prometheus.Registerer) {
	s.comparisonsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_comparisons_total",
		Help: "Total number of run comparisons computed.",
	})
	s.comparisonDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "testdeck_comparison_duration_seconds",
		Help:    "Run comparison latency in seconds (including result loading).",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	s.register(reg, s.comparisonsTotal, "testdeck_comparisons_total")
	s.register(reg, s.comparisonDuration, "testdeck_comparison_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testdeck_leader_status",
		Help: "1 when this instance is the scheduler leader, 0 otherwise.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testdeck_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testdeck_leader_lost_total",
		Help: "Total number of times leadership was lost.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "testdeck_leader_status")
	s.register(reg, s.leaderAcquired, "testdeck_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "testdeck_leader_lost_total")
}

// register attempts to register a collector, logging any errors without
// propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, triggersFired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.triggersFiredTotal.Add(float64(triggersFired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

// Dispatcher metrics implementation

func (s *PrometheusSink) InvocationAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.invocationAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.invocationDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) InvocationOutcome(outcome string) {
	s.invocationOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	s.retryAttemptsTotal.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) StalePendingUpdate(count int) {
	s.stalePending.Set(float64(count))
}

// Comparison metrics implementation

func (s *PrometheusSink) ComparisonComputed(duration time.Duration) {
	s.comparisonsTotal.Inc()
	s.comparisonDuration.Observe(duration.Seconds())
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
