package ptengine

// Metrics is the narrow observability seam the engine calls into on its
// hot path. The façade wires an optional Prometheus-backed implementation
// (see ptmetrics); NoopMetrics is the zero-cost default, mirroring how
// common.NoOpLogger is the zero-cost default logger.
type Metrics interface {
	PacketProcessed(kind string)
	WalkStep()
	CacheHit()
	CacheMiss()
	CoverageEdge()
	Error(kind string)
}

type noopMetrics struct{}

func (noopMetrics) PacketProcessed(string) {}
func (noopMetrics) WalkStep()              {}
func (noopMetrics) CacheHit()              {}
func (noopMetrics) CacheMiss()             {}
func (noopMetrics) CoverageEdge()          {}
func (noopMetrics) Error(string)           {}

// NoopMetrics is the default Metrics implementation: every method is a
// no-op.
var NoopMetrics Metrics = noopMetrics{}
