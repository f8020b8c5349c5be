// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for chataide. It renders the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// desc identifies one series: a metric family name plus a rendered label set.
type desc struct {
	name   string
	help   string
	labels string
}

func (d desc) key() string { return series(d.name, d.labels) }

func (d desc) less(o desc) bool {
	if d.name != o.name {
		return d.name < o.name
	}
	return d.labels < o.labels
}

// Counter only goes up: scans, attempts, insertions, failures.
type Counter struct {
	desc
	n atomic.Int64
}

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(n int64)  { c.n.Add(n) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge tracks a level, e.g. reply service requests in flight.
type Gauge struct {
	desc
	n atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.n.Store(v) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

// Histogram counts latencies into cumulative buckets with upper bounds le.
type Histogram struct {
	desc
	le []float64 // sorted ascending

	mu    sync.Mutex
	hits  []int64 // hits[i] counts observations <= le[i]
	total int64
	sum   float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.sum += v
	for i, bound := range h.le {
		if v <= bound {
			h.hits[i]++
		}
	}
}

// snapshot copies the bucket counts so rendering does not hold the lock.
func (h *Histogram) snapshot() (hits []int64, total int64, sum float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.hits...), h.total, h.sum
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	d := desc{name: name, help: help, labels: labels}
	if v, ok := c.counters.Load(d.key()); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(d.key(), &Counter{desc: d})
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	d := desc{name: name, help: help, labels: labels}
	if v, ok := c.gauges.Load(d.key()); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(d.key(), &Gauge{desc: d})
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given bucket bounds.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	d := desc{name: name, help: help, labels: labels}
	if v, ok := c.histograms.Load(d.key()); ok {
		return v.(*Histogram)
	}
	le := append([]float64(nil), buckets...)
	sort.Float64s(le)
	h := &Histogram{desc: d, le: le, hits: make([]int64, len(le))}
	actual, _ := c.histograms.LoadOrStore(d.key(), h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

// WriteTo renders every metric, grouped by family and sorted by name and
// labels so the output is stable between scrapes.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP chataide_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE chataide_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "chataide_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	var counters []*Counter
	c.counters.Range(func(_, v any) bool { counters = append(counters, v.(*Counter)); return true })
	sort.Slice(counters, func(i, j int) bool { return counters[i].less(counters[j].desc) })
	last := ""
	for _, ctr := range counters {
		last = family(&sb, last, ctr.desc, "counter")
		fmt.Fprintf(&sb, "%s %d\n", ctr.key(), ctr.Value())
	}

	var gauges []*Gauge
	c.gauges.Range(func(_, v any) bool { gauges = append(gauges, v.(*Gauge)); return true })
	sort.Slice(gauges, func(i, j int) bool { return gauges[i].less(gauges[j].desc) })
	last = ""
	for _, g := range gauges {
		last = family(&sb, last, g.desc, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", g.key(), g.Value())
	}

	var hists []*Histogram
	c.histograms.Range(func(_, v any) bool { hists = append(hists, v.(*Histogram)); return true })
	sort.Slice(hists, func(i, j int) bool { return hists[i].less(hists[j].desc) })
	last = ""
	for _, h := range hists {
		last = family(&sb, last, h.desc, "histogram")
		hits, total, sum := h.snapshot()
		prefix := h.name + "_bucket{"
		if h.labels != "" {
			prefix += h.labels + ","
		}
		for i, bound := range h.le {
			if math.IsInf(bound, 1) {
				continue
			}
			fmt.Fprintf(&sb, "%sle=\"%g\"} %d\n", prefix, bound, hits[i])
		}
		fmt.Fprintf(&sb, "%sle=\"+Inf\"} %d\n", prefix, total)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), total)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), sum)
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// family writes the HELP and TYPE header when d starts a new family.
func family(sb *strings.Builder, last string, d desc, kind string) string {
	if d.name != last {
		fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, kind)
	}
	return d.name
}

// Label formats a single name="value" label pair.
func Label(name, value string) string {
	return fmt.Sprintf("%s=%q", name, value)
}

// --- Pre-defined metrics used across the application ---

var (
	ExtractionFallbacks = Collector.Counter("chataide_extraction_fallbacks_total", "Scans that fell back to the generic chain", "")
	LLMRequestsTotal    = Collector.Counter("chataide_llm_requests_total", "Total LLM API requests made by the reply service", "")
	LLMFailures         = Collector.Counter("chataide_llm_failures_total", "LLM requests that failed and were answered with static replies", "")
	ServiceInFlight     = Collector.Gauge("chataide_service_inflight_requests", "Reply service requests currently being handled", "")

	LLMLatency = Collector.Histogram("chataide_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 4, 8, 16})
	BackendLatency = Collector.Histogram("chataide_backend_attempt_seconds", "Reply backend attempt latency in seconds", "",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4})
)

// Scan counts a scan by result: ok, empty or error.
func Scan(result string) {
	Collector.Counter("chataide_scans_total", "Conversation scans by result", Label("result", result)).Inc()
}

// BackendAttempt counts one reply backend attempt by outcome.
func BackendAttempt(outcome string) {
	Collector.Counter("chataide_backend_attempts_total", "Reply backend attempts by outcome", Label("outcome", outcome)).Inc()
}

// ReplySource counts where a reply set came from: remote or fallback.
func ReplySource(source string) {
	Collector.Counter("chataide_reply_sets_total", "Reply sets by source", Label("source", source)).Inc()
}

// Injection counts an insert by result and winning strategy.
func Injection(result, strategy string) {
	Collector.Counter("chataide_injections_total", "Reply insertions by result and strategy",
		Label("result", result)+","+Label("strategy", strategy)).Inc()
}

// ServiceRequest counts reply service responses by HTTP status code.
func ServiceRequest(status int) {
	Collector.Counter("chataide_service_requests_total", "Reply service responses by status", Label("code", fmt.Sprint(status))).Inc()
}

// ProviderFailure counts a failed chat call of one provider in the failover chain.
func ProviderFailure(provider string) {
	Collector.Counter("chataide_provider_failures_total", "Failed LLM calls by provider", Label("provider", provider)).Inc()
}
