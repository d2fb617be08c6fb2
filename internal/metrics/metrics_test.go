package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type countingMetrics struct {
	NoOpMetrics
	geocodes map[string]int
	pruned   int
}

func (c *countingMetrics) RecordGeocode(source, status string) {
	c.geocodes[source+":"+status]++
}

func (c *countingMetrics) RecordTracksPruned(count int) { c.pruned += count }

func TestNoOpMetricsAndDelegates(t *testing.T) {
	m := &NoOpMetrics{}
	m.RecordHTTPRequest("GET", "/x", 200, time.Millisecond)
	m.RecordMessageProcessed("chan", "ok")
	m.RecordGeocode("local", "hit")
	m.RecordTracksPruned(3)
	m.RecordSourceRun("relay", time.Millisecond)
	m.SetDBConnectionsActive(1)
	m.RecordDBQuery("exec", "ok")

	RecordHTTPRequest("GET", "/x", 200, time.Millisecond)
	RecordMessageProcessed("chan", "ok")
	RecordGeocode("cache", "hit")
	RecordTracksPruned(1)
	RecordSourceRun("relay", time.Millisecond)
	SetDBConnectionsActive(2)
	RecordDBQuery("query", "ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from no-op handler, got %d", rec.Code)
	}
}

func TestSetReplacesGlobal(t *testing.T) {
	c := &countingMetrics{geocodes: map[string]int{}}
	Set(c)
	defer Set(nil)

	RecordGeocode("photon", "hit")
	RecordGeocode("photon", "hit")
	RecordTracksPruned(4)

	if c.geocodes["photon:hit"] != 2 {
		t.Errorf("expected 2 photon hits, got %d", c.geocodes["photon:hit"])
	}
	if c.pruned != 4 {
		t.Errorf("expected 4 pruned, got %d", c.pruned)
	}
}
