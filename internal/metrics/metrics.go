// Package metrics wraps VictoriaMetrics/metrics in a small typed registry
// instead of touching the library's process-global default set directly,
// so subsystem constructors can be handed an isolated Registry in tests.
package metrics

import (
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Registry holds every counter/gauge this gateway exports. A fresh
// Registry wraps a fresh *metrics.Set so concurrent tests don't trip over
// the package-level default set.
type Registry struct {
	set *metrics.Set

	ShmpRetries       *metrics.Counter
	ShmpRxQueueDrops  *metrics.Counter
	ShmpFramingErrors *metrics.Counter
	S0MacMismatch     *metrics.Counter
	S0NonceUnknown    *metrics.Counter
	S0NonceReplay     *metrics.Counter
	S0NonceTimeout    *metrics.Counter
	ZipSendLatencyMs  *metrics.Histogram
	ZipSendFailures   *metrics.Counter
	RDNodesTotal      *metrics.Gauge

	rdNodesTotal atomic.Int64
}

// New builds a Registry backed by its own metrics.Set.
func New() *Registry {
	s := metrics.NewSet()
	r := &Registry{set: s}
	r.ShmpRetries = s.NewCounter("shmp_retries_total")
	r.ShmpRxQueueDrops = s.NewCounter("shmp_rxqueue_drops_total")
	r.ShmpFramingErrors = s.NewCounter("shmp_framing_errors_total")
	r.S0MacMismatch = s.NewCounter(`s0_failures_total{kind="mac_mismatch"}`)
	r.S0NonceUnknown = s.NewCounter(`s0_failures_total{kind="nonce_unknown"}`)
	r.S0NonceReplay = s.NewCounter(`s0_failures_total{kind="nonce_replay"}`)
	r.S0NonceTimeout = s.NewCounter(`s0_failures_total{kind="nonce_timeout"}`)
	r.ZipSendLatencyMs = s.NewHistogram("zip_send_latency_ms")
	r.ZipSendFailures = s.NewCounter("zip_send_failures_total")
	r.RDNodesTotal = s.GetOrCreateGauge("rd_nodes_total", func() float64 {
		return float64(r.rdNodesTotal.Load())
	})
	return r
}

// SetRDNodesTotal updates the live node-count gauge; called by the
// Resource Directory whenever a node is allocated or freed.
func (r *Registry) SetRDNodesTotal(n int) {
	r.rdNodesTotal.Store(int64(n))
}

// WritePrometheus renders the registry in Prometheus exposition format,
// the shape served over the admin HTTP listener's /metrics route.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}
