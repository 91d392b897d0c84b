// Package obs wires the ambient logging and metrics stack: a zap logger
// plus the prometheus counters/gauges the handler and scheduler
// increment.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// NewLogger builds the process logger. Production builds use the JSON
// encoder; set dev=true for human-readable console output during local
// runs (mirrors zap.NewDevelopment()).
func NewLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Metrics bundles every counter/gauge the core increments. Open Question
// (c) — the scheduler's exhausted-AS list is observable here only, never
// fed back into class selection.
type Metrics struct {
	ArchiveWriteFailures   prometheus.Counter
	FollowUpDropped        *prometheus.CounterVec
	FollowUpEmitted        prometheus.Counter
	SchedulerAllocated     *prometheus.CounterVec
	SchedulerASCapSkipped  prometheus.Counter
	SchedulerExhaustedAS   prometheus.Gauge
	SplitsApplied          prometheus.Counter
	MergesApplied          prometheus.Counter
	RecommendationsByClass *prometheus.CounterVec
	HandlerQueueDepth      prometheus.Gauge
	UnknownIcmpCodeTotal   prometheus.Counter
	DuplicateSplitsTotal   prometheus.Counter
}

// NewMetrics registers every collector against reg (pass
// prometheus.NewRegistry() in tests to avoid global-registry collisions).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ArchiveWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_archive_write_failures_total",
			Help: "Response-archive writes that failed (best-effort, never fatal).",
		}),
		FollowUpDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_follow_up_dropped_total",
			Help: "Follow-up traces dropped by the thinning policy, by confidence band.",
		}, []string{"band"}),
		FollowUpEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_follow_up_emitted_total",
			Help: "Follow-up traces actually emitted.",
		}),
		SchedulerAllocated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_scheduler_allocated_total",
			Help: "Analysis slots allocated per tick, by priority class.",
		}, []string{"class"}),
		SchedulerASCapSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_scheduler_as_cap_skipped_total",
			Help: "Prefixes suppressed by the per-AS cap in a tick.",
		}),
		SchedulerExhaustedAS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_scheduler_exhausted_as",
			Help: "Count of ASNs that hit their per-tick cap in the last tick (observable only).",
		}),
		SplitsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_splits_applied_total",
			Help: "Nodes split into two children.",
		}),
		MergesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_merges_applied_total",
			Help: "Redundant-neighbor merges applied.",
		}),
		RecommendationsByClass: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_recommendations_total",
			Help: "Split recommendations produced, by priority class.",
		}, []string{"class"}),
		HandlerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_handler_queue_depth",
			Help: "Current depth of the probe-handler's inbound queue.",
		}),
		UnknownIcmpCodeTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_unknown_icmp_code_total",
			Help: "ICMP codes that did not match a known DestUnreachKind, recorded as weirdness.",
		}),
		DuplicateSplitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_duplicate_splits_total",
			Help: "Split entries ignored because their NetIndex repeated within one echo response.",
		}),
	}
}
