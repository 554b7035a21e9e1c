// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripwire_events_ingested_total",
		Help: "Total number of trajectory events accepted for storage.",
	})

	RuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripwire_rule_evaluations_total",
		Help: "Total number of rule runs, labelled by rule ID and status (ok, failed).",
	}, []string{"rule_id", "status"})

	FindingsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripwire_findings_total",
		Help: "Total number of findings emitted, labelled by rule ID.",
	}, []string{"rule_id"})

	RuleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tripwire_rule_duration_ms",
		Help:    "Time spent running a single rule over a batch, in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"rule_id"})

	CandidateGroups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripwire_candidate_groups_total",
		Help: "Total number of candidate groups built, labelled by grouping strategy.",
	}, []string{"strategy"})

	DistanceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripwire_distance_lookups_total",
		Help: "Total number of city distance lookups, labelled by backend and result (known, unknown, error).",
	}, []string{"backend", "result"})

	ReportsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripwire_reports_total",
		Help: "Total number of reports produced, labelled by status.",
	}, []string{"status"})

	BusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripwire_bus_messages_total",
		Help: "Total number of bus messages, labelled by topic and result (published, dropped, handled, failed).",
	}, []string{"topic", "result"})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tripwire_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds, labelled by method, route and status.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"method", "route", "status"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripwire_cache_lookups_total",
		Help: "Total number of cache reads, labelled by layer (lru, redis) and result (hit, miss, expired, error).",
	}, []string{"layer", "result"})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripwire_cache_evictions_total",
		Help: "Total number of LRU entries evicted for capacity.",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tripwire_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
)
