package ptmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PacketProcessed("Tip")
	m.PacketProcessed("Tip")
	m.WalkStep()
	m.CacheHit()
	m.CacheMiss()
	m.CoverageEdge()
	m.Error("malformed packet")

	require.Equal(t, float64(2), counterValue(t, m.packetsProcessed.WithLabelValues("Tip")))
	require.Equal(t, float64(1), counterValue(t, m.walkSteps))
	require.Equal(t, float64(1), counterValue(t, m.cacheHits))
	require.Equal(t, float64(1), counterValue(t, m.cacheMisses))
	require.Equal(t, float64(1), counterValue(t, m.coverageEdges))
	require.Equal(t, float64(1), counterValue(t, m.errors.WithLabelValues("malformed packet")))
}
