// Package metrics exports engine counters and gauges in Prometheus text
// format.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Metrics tracks adaptive-loop execution statistics. Counters are safe for
// concurrent use via atomic ops; the per-dimension CI gauges use a mutex
// since they're updated as a group once per round.
type Metrics struct {
	CacheHits   int64
	CacheMisses int64

	GeneratorCalls   int64
	GeneratorFailures int64

	NeedsIdentified int64
	NeedsFulfilled  int64
	NeedsFailed     int64

	mu            sync.RWMutex
	ciByDimension map[string]float64
}

// New creates an empty Metrics instance.
func New() *Metrics {
	return &Metrics{ciByDimension: make(map[string]float64)}
}

// RecordCacheHit increments the cache-hit counter.
func (m *Metrics) RecordCacheHit() { atomic.AddInt64(&m.CacheHits, 1) }

// RecordCacheMiss increments the cache-miss counter.
func (m *Metrics) RecordCacheMiss() { atomic.AddInt64(&m.CacheMisses, 1) }

// RecordGeneratorCall increments the generator-call counter, and the
// generator-failure counter too when ok is false.
func (m *Metrics) RecordGeneratorCall(ok bool) {
	atomic.AddInt64(&m.GeneratorCalls, 1)
	if !ok {
		atomic.AddInt64(&m.GeneratorFailures, 1)
	}
}

// RecordNeedsIdentified adds n to the needs-identified counter.
func (m *Metrics) RecordNeedsIdentified(n int) {
	atomic.AddInt64(&m.NeedsIdentified, int64(n))
}

// RecordNeedFulfilled increments the needs-fulfilled counter, or the
// needs-failed counter when ok is false.
func (m *Metrics) RecordNeedFulfilled(ok bool) {
	if ok {
		atomic.AddInt64(&m.NeedsFulfilled, 1)
	} else {
		atomic.AddInt64(&m.NeedsFailed, 1)
	}
}

// SetCI records the current max-CI95 for a dimension (writing, revised,
// feedback), overwriting any prior value for that dimension.
func (m *Metrics) SetCI(dimension string, ci float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ciByDimension[dimension] = ci
}

func (m *Metrics) ciSnapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.ciByDimension))
	for k, v := range m.ciByDimension {
		out[k] = v
	}
	return out
}

// PrometheusExporter exports metrics in Prometheus text format.
type PrometheusExporter struct {
	metrics *Metrics
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(m *Metrics) *PrometheusExporter {
	return &PrometheusExporter{metrics: m}
}

// Export returns metrics in Prometheus text format.
func (e *PrometheusExporter) Export() string {
	var b strings.Builder

	cacheHits := atomic.LoadInt64(&e.metrics.CacheHits)
	cacheMisses := atomic.LoadInt64(&e.metrics.CacheMisses)
	genCalls := atomic.LoadInt64(&e.metrics.GeneratorCalls)
	genFailures := atomic.LoadInt64(&e.metrics.GeneratorFailures)
	needsIdentified := atomic.LoadInt64(&e.metrics.NeedsIdentified)
	needsFulfilled := atomic.LoadInt64(&e.metrics.NeedsFulfilled)
	needsFailed := atomic.LoadInt64(&e.metrics.NeedsFailed)

	fmt.Fprintf(&b, "wbench_cache_requests_total{result=\"hit\"} %d\n", cacheHits)
	fmt.Fprintf(&b, "wbench_cache_requests_total{result=\"miss\"} %d\n", cacheMisses)

	fmt.Fprintf(&b, "wbench_generator_calls_total %d\n", genCalls)
	fmt.Fprintf(&b, "wbench_generator_failures_total %d\n", genFailures)

	fmt.Fprintf(&b, "wbench_needs_identified_total %d\n", needsIdentified)
	fmt.Fprintf(&b, "wbench_needs_fulfilled_total{result=\"ok\"} %d\n", needsFulfilled)
	fmt.Fprintf(&b, "wbench_needs_fulfilled_total{result=\"failed\"} %d\n", needsFailed)

	for dim, ci := range e.metrics.ciSnapshot() {
		fmt.Fprintf(&b, "wbench_rating_ci95{dimension=%q} %s\n", dim, formatFloat(ci))
	}

	return b.String()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, e.Export())
	})
}

// formatFloat formats a float64 for Prometheus (removes trailing zeros).
func formatFloat(f float64) string {
	if f == 0.0 {
		return "0"
	}
	s := fmt.Sprintf("%.4f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
