// Package ptmetrics provides an optional Prometheus-backed implementation
// of the reconstruction engine's Metrics seam. Nothing in ptcov requires
// it: a Decoder built without metrics uses ptengine.NoopMetrics instead.
package ptmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts packet decode and instruction-walk activity. It satisfies
// ptengine.Metrics without importing that package, the same way pterr
// keeps its Packets field untyped to avoid a dependency edge.
type Metrics struct {
	packetsProcessed *prometheus.CounterVec
	walkSteps        prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	coverageEdges    prometheus.Counter
	errors           *prometheus.CounterVec
}

// New builds a Metrics and registers it with reg. Passing
// prometheus.NewRegistry() isolates it for tests; passing
// prometheus.DefaultRegisterer wires it into the process-wide /metrics
// endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptcov",
			Name:      "packets_processed_total",
			Help:      "Intel PT packets decoded, by kind.",
		}, []string{"kind"}),
		walkSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptcov",
			Name:      "walk_steps_total",
			Help:      "Instructions single-stepped by the reconstruction engine.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptcov",
			Name:      "decision_cache_hits_total",
			Help:      "Decision-point cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptcov",
			Name:      "decision_cache_misses_total",
			Help:      "Decision-point cache misses.",
		}),
		coverageEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptcov",
			Name:      "coverage_edges_total",
			Help:      "Coverage edges recorded into the caller's map.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptcov",
			Name:      "errors_total",
			Help:      "Decode/walk errors, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.packetsProcessed,
		m.walkSteps,
		m.cacheHits,
		m.cacheMisses,
		m.coverageEdges,
		m.errors,
	)
	return m
}

func (m *Metrics) PacketProcessed(kind string) { m.packetsProcessed.WithLabelValues(kind).Inc() }
func (m *Metrics) WalkStep()                   { m.walkSteps.Inc() }
func (m *Metrics) CacheHit()                   { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss()                  { m.cacheMisses.Inc() }
func (m *Metrics) CoverageEdge()               { m.coverageEdges.Inc() }
func (m *Metrics) Error(kind string)           { m.errors.WithLabelValues(kind).Inc() }
