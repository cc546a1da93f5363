// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_events_scored_total",
		Help: "Total number of events scored, labelled by category and action.",
	}, []string{"category", "action"})

	ScoringErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_scoring_errors_total",
		Help: "Total number of events rejected before scoring, labelled by category.",
	}, []string{"category"})

	ScoringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_scoring_duration_ms",
		Help:    "End-to-end scoring latency in milliseconds, including Store I/O.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"category"})

	RiskScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_risk_score",
		Help:    "Distribution of aggregate risk scores.",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}, []string{"category"})

	IndicatorsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_indicators_fired_total",
		Help: "Total number of indicators emitted, labelled by source and name.",
	}, []string{"source", "name"})

	DegradedDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_degraded_decisions_total",
		Help: "Decisions made without a readable profile.",
	}, []string{"category"})

	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_store_failures_total",
		Help: "Store calls that failed, labelled by operation.",
	}, []string{"operation"})

	CasePersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_case_persist_failures_total",
		Help: "Detection cases that could not be saved.",
	})

	CasesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_cases_opened_total",
		Help: "Detection cases recorded, labelled by decision.",
	}, []string{"decision"})

	CaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_case_transitions_total",
		Help: "Reviewer status changes, labelled by target status.",
	}, []string{"status"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_notification_failures_total",
		Help: "Notifier calls that failed, labelled by kind.",
	}, []string{"kind"})

	RulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_rules_loaded",
		Help: "Number of compiled rules in the active catalog snapshot.",
	})

	RulesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_rules_rejected_total",
		Help: "Rules skipped at load because of invalid configuration.",
	})

	WorkerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kestrel_worker_queue_depth",
		Help: "Pending events per worker shard.",
	}, []string{"shard"})

	WorkerDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_worker_events_dropped_total",
		Help: "Bus events that could not be decoded or scored.",
	})

	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_bus_messages_dropped_total",
		Help: "Messages the in-process bus discarded because a subscriber was full.",
	}, []string{"topic"})
)
