// Package observability exposes the service's Prometheus metrics.
// Everything is registered through promauto at init time; the /metrics
// endpoint serves the default registry.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Harvest Metrics ────────────────────────────────────────────────────────

// HarvestsTotal counts settled harvests by outcome.
var HarvestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "harvest",
	Name:      "harvests_total",
	Help:      "Total harvest settlements by outcome.",
}, []string{"outcome"})

// HarvestRacesLost counts harvest clicks that lost the position race.
var HarvestRacesLost = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "harvest",
	Name:      "races_lost_total",
	Help:      "Total harvest clicks that lost the race for a position.",
})

// PositionsAvailable tracks how many tree positions are currently harvestable.
var PositionsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "grove",
	Subsystem: "tree",
	Name:      "positions_available",
	Help:      "Number of tree positions currently available for harvest.",
})

// PositionsRegrown counts positions promoted back to available by the sweep.
var PositionsRegrown = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "tree",
	Name:      "positions_regrown_total",
	Help:      "Total positions regrown to available.",
})

// ─── Quiz Metrics ───────────────────────────────────────────────────────────

// QuizAttemptsTotal counts resolved quiz attempts by result.
var QuizAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "quiz",
	Name:      "attempts_total",
	Help:      "Total quiz attempts by result (correct, incorrect, timeout).",
}, []string{"result"})

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerTransactions counts ledger entries by action type.
var LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Total ledger transactions by action type.",
}, []string{"action"})

// ─── Instance Metrics ───────────────────────────────────────────────────────

// InstancesByStatus tracks instance counts per status.
var InstancesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "grove",
	Subsystem: "instance",
	Name:      "count",
	Help:      "Number of instances per status.",
}, []string{"status"})

// ProvisionsTotal counts provisioning outcomes.
var ProvisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "instance",
	Name:      "provisions_total",
	Help:      "Total provisioning attempts by outcome.",
}, []string{"outcome"})

// BillingCycles counts hourly billing sweeps per instance outcome.
var BillingCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "billing",
	Name:      "charges_total",
	Help:      "Total hourly billing charges by outcome (charged, skipped, stopped).",
}, []string{"outcome"})

// ─── Capacity Metrics ───────────────────────────────────────────────────────

// CapacityCPUUsed tracks CPU cores committed to active instances.
var CapacityCPUUsed = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "grove",
	Subsystem: "capacity",
	Name:      "cpu_used_cores",
	Help:      "CPU cores committed to active instances.",
})

// CapacityMemoryUsedMB tracks memory committed to active instances.
var CapacityMemoryUsedMB = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "grove",
	Subsystem: "capacity",
	Name:      "memory_used_mb",
	Help:      "Memory in MB committed to active instances.",
})

// ─── HTTP Metrics ───────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route and status class.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grove",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total API requests by method, route and status code.",
}, []string{"method", "route", "code"})
