package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_CounterIsShared(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("x_total", "x", `a="1"`).Inc()
	c.Counter("x_total", "x", `a="1"`).Add(2)
	if got := c.Counter("x_total", "x", `a="1"`).Value(); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := c.Counter("x_total", "x", `a="2"`).Value(); got != 0 {
		t.Fatalf("labels must select a separate series, got %d", got)
	}
}

func TestCollector_RenderSortedFamilies(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "B", Label("outcome", "timeout")).Inc()
	c.Counter("b_total", "B", Label("outcome", "ok")).Add(2)
	c.Counter("a_total", "A", "").Inc()
	c.Gauge("g", "G", "").Set(7)

	var sb strings.Builder
	c.WriteTo(&sb)
	out := sb.String()

	if strings.Count(out, "# TYPE b_total counter") != 1 {
		t.Errorf("family header should be written once:\n%s", out)
	}
	ia := strings.Index(out, "a_total 1")
	iok := strings.Index(out, `b_total{outcome="ok"} 2`)
	ito := strings.Index(out, `b_total{outcome="timeout"} 1`)
	if ia < 0 || iok < 0 || ito < 0 || !(ia < iok && iok < ito) {
		t.Errorf("unexpected order or missing series:\n%s", out)
	}
	if !strings.Contains(out, "g 7") {
		t.Errorf("missing gauge:\n%s", out)
	}
}

func TestHistogram_Buckets(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat_seconds", "L", "", []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(0.7)
	h.Observe(3)

	var sb strings.Builder
	c.WriteTo(&sb)
	out := sb.String()
	for _, want := range []string{
		`lat_seconds_bucket{le="0.5"} 1`,
		`lat_seconds_bucket{le="1"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		`lat_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHandler_ContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMetricsCollector().Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "chataide_uptime_seconds") {
		t.Fatal("missing uptime gauge")
	}
}

func TestHelpers_UseGlobalCollector(t *testing.T) {
	before := Collector.Counter("chataide_backend_attempts_total", "", Label("outcome", "malformed")).Value()
	BackendAttempt("malformed")
	after := Collector.Counter("chataide_backend_attempts_total", "", Label("outcome", "malformed")).Value()
	if after != before+1 {
		t.Fatalf("expected counter to advance by one, got %d -> %d", before, after)
	}
}

func TestHistogram_LeavesCallerBucketsAlone(t *testing.T) {
	bounds := []float64{4, 1, 2}
	h := NewMetricsCollector().Histogram("attempt_seconds", "A", Label("port", "5001"), bounds)
	if bounds[0] != 4 {
		t.Fatalf("bounds were sorted in place: %v", bounds)
	}
	h.Observe(1.5)
	hits, total, sum := h.snapshot()
	if total != 1 || sum != 1.5 {
		t.Fatalf("unexpected totals %d %v", total, sum)
	}
	if hits[0] != 0 || hits[1] != 1 || hits[2] != 1 {
		t.Fatalf("unexpected cumulative hits %v for bounds %v", hits, h.le)
	}
	if h.key() != `attempt_seconds{port="5001"}` {
		t.Fatalf("unexpected series key %s", h.key())
	}
}
