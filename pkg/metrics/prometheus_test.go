package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrometheusExporterExport(t *testing.T) {
	m := New()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordGeneratorCall(true)
	m.RecordGeneratorCall(false)
	m.RecordNeedsIdentified(10)
	m.RecordNeedFulfilled(true)
	m.RecordNeedFulfilled(false)
	m.SetCI("writing", 42.5)

	output := NewPrometheusExporter(m).Export()

	for _, want := range []string{
		`wbench_cache_requests_total{result="hit"} 2`,
		`wbench_cache_requests_total{result="miss"} 1`,
		"wbench_generator_calls_total 2",
		"wbench_generator_failures_total 1",
		"wbench_needs_identified_total 10",
		`wbench_needs_fulfilled_total{result="ok"} 1`,
		`wbench_needs_fulfilled_total{result="failed"} 1`,
		`wbench_rating_ci95{dimension="writing"} 42.5`,
	} {
		assert.True(t, strings.Contains(output, want), "missing line %q in:\n%s", want, output)
	}
}

func TestPrometheusExporterHandler(t *testing.T) {
	m := New()
	m.RecordCacheHit()

	handler := NewPrometheusExporter(m).Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `wbench_cache_requests_total{result="hit"} 1`)
}

func TestMetricsConcurrentUse(t *testing.T) {
	m := New()
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				m.RecordCacheHit()
				m.RecordGeneratorCall(j%2 == 0)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	assert.EqualValues(t, 400, m.CacheHits)
	assert.EqualValues(t, 400, m.GeneratorCalls)
}
