package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryCountersStartAtZero(t *testing.T) {
	r := New()
	require.Equal(t, uint64(0), r.ShmpRetries.Get())
	require.Equal(t, uint64(0), r.S0MacMismatch.Get())
}

func TestSetRDNodesTotalUpdatesGauge(t *testing.T) {
	r := New()
	r.SetRDNodesTotal(7)
	require.Equal(t, float64(7), r.RDNodesTotal.Get())
}

func TestWritePrometheusIncludesRegisteredMetrics(t *testing.T) {
	r := New()
	r.ShmpRetries.Inc()
	r.SetRDNodesTotal(3)

	var buf bytes.Buffer
	r.WritePrometheus(&buf)

	out := buf.String()
	require.Contains(t, out, "shmp_retries_total")
	require.Contains(t, out, "rd_nodes_total")
}

func TestTwoRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ShmpRetries.Inc()
	require.Equal(t, uint64(1), a.ShmpRetries.Get())
	require.Equal(t, uint64(0), b.ShmpRetries.Get())
}
