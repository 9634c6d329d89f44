// Package metrics defines the coordinator's prometheus collectors for the
// tailer, matcher, reservation engine, proof pipeline, and sweeper. Only the
// tailer reports through it (via pkg/tailer.Metrics); the Observe methods for
// the other components have no caller in this repository. No single teacher
// file exercises prometheus/client_golang (it sits in the teacher's go.mod
// unused), so the collectors here follow the library's own promauto
// conventions rather than a pack-internal pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the coordinator's components report
// through. It implements pkg/tailer.Metrics directly.
type Registry struct {
	tailerCursor             *prometheus.GaugeVec
	tailerDeepReorgSuspected *prometheus.CounterVec
	tailerBatchApplied       *prometheus.HistogramVec

	matcherCalls        *prometheus.CounterVec
	matcherFillsPerPlan prometheus.Histogram

	reservationFills *prometheus.CounterVec

	pipelineStageDuration *prometheus.HistogramVec
	pipelineFailures      *prometheus.CounterVec

	sweeperCancellations *prometheus.CounterVec
}

// New constructs a Registry and registers every collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose via promhttp.Handler().
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		tailerCursor: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coordinator",
			Subsystem: "tailer",
			Name:      "cursor_next_block",
			Help:      "Next block the tailer has not yet applied, per contract.",
		}, []string{"contract"}),

		tailerDeepReorgSuspected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "tailer",
			Name:      "deep_reorg_suspected_total",
			Help:      "Count of ticks where a re-org deeper than reorg_depth was suspected.",
		}, []string{"contract"}),

		tailerBatchApplied: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coordinator",
			Subsystem: "tailer",
			Name:      "batch_events_applied",
			Help:      "Number of events applied per tailer batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"contract"}),

		matcherCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "matcher",
			Name:      "match_calls_total",
			Help:      "Intent matcher invocations, partitioned by outcome.",
		}, []string{"outcome"}),

		matcherFillsPerPlan: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coordinator",
			Subsystem: "matcher",
			Name:      "fills_per_plan",
			Help:      "Number of fills produced per matched plan.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),

		reservationFills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "reservation",
			Name:      "fills_total",
			Help:      "Reservation engine fill attempts, partitioned by outcome.",
		}, []string{"outcome"}),

		pipelineStageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coordinator",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each proof pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		pipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Proof pipeline failures, partitioned by the coordinator.Kind of the error.",
		}, []string{"kind"}),

		sweeperCancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "sweeper",
			Name:      "cancellations_total",
			Help:      "Expiry sweeper cancel_expired outcomes.",
		}, []string{"outcome"}),
	}
}

// ObserveCursor implements pkg/tailer.Metrics.
func (r *Registry) ObserveCursor(contract string, nextBlock uint64) {
	r.tailerCursor.WithLabelValues(contract).Set(float64(nextBlock))
}

// ObserveDeepReorgSuspected implements pkg/tailer.Metrics.
func (r *Registry) ObserveDeepReorgSuspected(contract string) {
	r.tailerDeepReorgSuspected.WithLabelValues(contract).Inc()
}

// ObserveBatchApplied implements pkg/tailer.Metrics.
func (r *Registry) ObserveBatchApplied(contract string, eventCount int) {
	r.tailerBatchApplied.WithLabelValues(contract).Observe(float64(eventCount))
}

// ObserveMatch records a matcher invocation's outcome ("ok" or
// "insufficient_liquidity") and, on success, how many fills it produced.
func (r *Registry) ObserveMatch(outcome string, fillCount int) {
	r.matcherCalls.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		r.matcherFillsPerPlan.Observe(float64(fillCount))
	}
}

// ObserveReservationFill records a single fill attempt's outcome ("ok" or
// the coordinator.Kind string of its error).
func (r *Registry) ObserveReservationFill(outcome string) {
	r.reservationFills.WithLabelValues(outcome).Inc()
}

// ObservePipelineStage records how long a named pipeline stage took.
func (r *Registry) ObservePipelineStage(stage string, seconds float64) {
	r.pipelineStageDuration.WithLabelValues(stage).Observe(seconds)
}

// ObservePipelineFailure records a pipeline failure's error kind.
func (r *Registry) ObservePipelineFailure(kind string) {
	r.pipelineFailures.WithLabelValues(kind).Inc()
}

// ObserveSweep records a sweeper cancel_expired outcome ("ok",
// "already_terminal", or the coordinator.Kind string of a genuine failure).
func (r *Registry) ObserveSweep(outcome string) {
	r.sweeperCancellations.WithLabelValues(outcome).Inc()
}
