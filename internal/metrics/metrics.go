// Package metrics holds the Prometheus collectors of latentrec.
//
// Collectors register on Registry rather than the global default so tests
// and embedding programs can scrape or discard them independently.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the registry every latentrec collector is registered on.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Scope label values.
const (
	ScopeFull       = "full"
	ScopeRestricted = "restricted"
)

var (
	// Propagations counts completed propagations.
	// Labels: scope (full, restricted)
	Propagations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latentrec",
		Subsystem: "engine",
		Name:      "propagations_total",
		Help:      "Completed two-pass propagations by scope",
	}, []string{"scope"})

	// PropagationFailures counts propagations that returned an error.
	// Labels: code (inference error code)
	PropagationFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latentrec",
		Subsystem: "engine",
		Name:      "propagation_failures_total",
		Help:      "Failed propagations by error code",
	}, []string{"code"})

	// PropagationSeconds measures successful propagations.
	// Labels: scope
	PropagationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "latentrec",
		Subsystem: "engine",
		Name:      "propagation_duration_seconds",
		Help:      "Two-pass propagation duration in seconds by scope",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"scope"})

	// FocusedCliques observes the size of each restricted propagation range.
	FocusedCliques = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "latentrec",
		Subsystem: "engine",
		Name:      "focused_cliques",
		Help:      "Number of cliques in a restricted propagation range",
		Buckets:   prometheus.ExponentialBuckets(4, 2, 12),
	})

	// PoolWaitSeconds measures how long Take blocked.
	PoolWaitSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "latentrec",
		Subsystem: "pool",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for a pooled engine",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// DriverRows counts entity rows processed by the batch drivers.
	// Labels: driver (user_factors, item_factors, hard_assign)
	DriverRows = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latentrec",
		Subsystem: "batch",
		Name:      "rows_total",
		Help:      "Rows processed by batch drivers",
	}, []string{"driver"})

	// DriverRowFailures counts rows a batch driver could not compute.
	// Labels: driver
	DriverRowFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latentrec",
		Subsystem: "batch",
		Name:      "row_failures_total",
		Help:      "Rows a batch driver could not compute",
	}, []string{"driver"})

	// DriverSeconds measures whole driver runs.
	// Labels: driver
	DriverSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "latentrec",
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "Batch driver run duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"driver"})
)
