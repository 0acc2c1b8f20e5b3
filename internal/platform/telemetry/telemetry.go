// Package telemetry keeps service metrics in process memory and serves
// them in Prometheus text exposition format. HTTP timing and payload
// sizes are tracked as histograms; form domain operations and resolver
// cache activity land in counters and gauges.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// TelemetryConfig identifies the service and switches metric recording.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool // nil means enabled
}

func (c *TelemetryConfig) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "clinform-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr returns a pointer to b, for the optional config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// ---------------------------------------------------------------------------
// Histograms
// ---------------------------------------------------------------------------

// histogram counts observations against ascending le bounds. Bucket
// counts are stored per bound; the exposition path converts them to the
// cumulative form Prometheus expects. A value above every bound still
// counts toward total and sum, which is where +Inf comes from.
type histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	total  int64
	sum    float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{
		bounds: bounds,
		counts: make([]int64, len(bounds)),
	}
}

// Observe records one value.
func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	h.total++
	h.sum += v
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.counts) {
		h.counts[i]++
	}
	h.mu.Unlock()
}

// Count returns how many values have been observed.
func (h *histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Sum returns the running sum of observed values.
func (h *histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// export snapshots the cumulative bucket counts, total and sum in one
// critical section.
func (h *histogram) export() (cum []int64, total int64, sum float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum = make([]int64, len(h.counts))
	var run int64
	for i, c := range h.counts {
		run += c
		cum[i] = run
	}
	return cum, h.total, h.sum
}

func (h *histogram) cumulativeBuckets() []int64 {
	cum, _, _ := h.export()
	return cum
}

// histogramSet lazily creates named histograms.
type histogramSet struct {
	mu    sync.Mutex
	items map[string]*histogram
}

func newHistogramSet() *histogramSet {
	return &histogramSet{items: make(map[string]*histogram)}
}

func (s *histogramSet) obtain(name string, bounds []float64) *histogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.items[name]
	if !ok {
		h = newHistogram(bounds)
		s.items[name] = h
	}
	return h
}

func (s *histogramSet) get(name string) *histogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[name]
}

func (s *histogramSet) snapshot() map[string]*histogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

// LabelsKey joins the per-route histogram labels into a map key. Exported
// so tests can look up the same series the middleware records.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// ---------------------------------------------------------------------------
// Counters and gauges
// ---------------------------------------------------------------------------

// intStore is a mutex-guarded map of int64 series. Counters and gauges
// differ only in whether callers add or set, so both ride on it.
type intStore struct {
	mu   sync.Mutex
	vals map[string]int64
}

func newIntStore() *intStore {
	return &intStore{vals: make(map[string]int64)}
}

func (s *intStore) add(key string, delta int64) {
	s.mu.Lock()
	s.vals[key] += delta
	s.mu.Unlock()
}

func (s *intStore) set(key string, v int64) {
	s.mu.Lock()
	s.vals[key] = v
	s.mu.Unlock()
}

func (s *intStore) get(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[key]
}

func (s *intStore) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]int64, len(s.vals))
	for k, v := range s.vals {
		cp[k] = v
	}
	return cp
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// defaultDurationBuckets holds the le bounds, in seconds, for request
// duration histograms.
var defaultDurationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// defaultSizeBuckets holds the le bounds, in bytes, for payload size
// histograms.
var defaultSizeBuckets = []float64{100, 1000, 10000, 100000, 1000000, 10000000}

// TelemetryProvider owns all metric state for one process.
type TelemetryProvider struct {
	cfg TelemetryConfig

	plain    *histogramSet // keyed by metric name
	labeled  *histogramSet // keyed by metric name + "|" + LabelsKey
	counters *intStore
	gauges   *intStore

	closeOnce sync.Once
	done      chan struct{}
}

// NewTelemetryProvider builds a provider with the config defaults filled in.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	return &TelemetryProvider{
		cfg:      cfg,
		plain:    newHistogramSet(),
		labeled:  newHistogramSet(),
		counters: newIntStore(),
		gauges:   newIntStore(),
		done:     make(chan struct{}),
	}
}

// Shutdown releases the provider. Safe to call more than once.
func (tp *TelemetryProvider) Shutdown(_ context.Context) error {
	tp.closeOnce.Do(func() {
		close(tp.done)
	})
	return nil
}

// Resource returns the service identity attributes for log enrichment.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// GetHistogram returns the named histogram, or nil if nothing has been
// recorded under that name.
func (tp *TelemetryProvider) GetHistogram(name string) *histogram {
	return tp.plain.get(name)
}

// GetLabeledHistogram returns one labeled series of the named histogram,
// or nil.
func (tp *TelemetryProvider) GetLabeledHistogram(name, key string) *histogram {
	return tp.labeled.get(name + "|" + key)
}

// GetGauge returns the current value of the named gauge.
func (tp *TelemetryProvider) GetGauge(name string) int64 {
	return tp.gauges.get(name)
}

// GetCounter returns the current value of the counter series identified
// by name and its domain and operation labels.
func (tp *TelemetryProvider) GetCounter(name, domain, operation string) int64 {
	return tp.counters.get(name + "|" + domain + "|" + operation)
}

// FormOperationCounter bumps form.operation.count for one domain
// operation. Services call it once per create, activate, submit and so on.
func (tp *TelemetryProvider) FormOperationCounter(domain, operation string) {
	tp.counters.add("form.operation.count|"+domain+"|"+operation, 1)
}

// CacheHit records a resolver cache hit.
func (tp *TelemetryProvider) CacheHit() {
	tp.gauges.add("cache.resolver.hits", 1)
}

// CacheMiss records a resolver cache miss.
func (tp *TelemetryProvider) CacheMiss() {
	tp.gauges.add("cache.resolver.misses", 1)
}

// HealthMetricsRecorder updates the slow-moving health gauges.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

// HealthMetrics returns a recorder for pool and configuration gauges.
func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

// SetDBPoolActive sets db.pool.active_connections.
func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.gauges.set("db.pool.active_connections", n)
}

// SetDBPoolIdle sets db.pool.idle_connections.
func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.gauges.set("db.pool.idle_connections", n)
}

// SetActiveConfigurations sets form.configurations.active.
func (h *HealthMetricsRecorder) SetActiveConfigurations(n int64) {
	h.tp.gauges.set("form.configurations.active", n)
}

// ---------------------------------------------------------------------------
// HTTP middleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records duration, size and in-flight gauges for every
// request passing through the Echo server.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.gauges.add("http.server.active_requests", 1)
			defer tp.gauges.add("http.server.active_requests", -1)

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start).Seconds()

			req := c.Request()
			// Label with the route pattern, not the raw path, so
			// /forms/:id collapses into one series.
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := strconv.Itoa(c.Response().Status)

			tp.plain.obtain("http.server.request.duration", defaultDurationBuckets).Observe(elapsed)
			tp.labeled.obtain("http.server.request.duration|"+LabelsKey(req.Method, route, status),
				defaultDurationBuckets).Observe(elapsed)

			if req.ContentLength > 0 {
				tp.plain.obtain("http.server.request.size", defaultSizeBuckets).
					Observe(float64(req.ContentLength))
			}
			if size := c.Response().Size; size > 0 {
				tp.plain.obtain("http.server.response.size", defaultSizeBuckets).
					Observe(float64(size))
			}

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// PrometheusHandler serves every recorded metric in text exposition
// format. Families appear even when empty so scrapers see a stable shape.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeFamilyHeader(&b, "http_server_request_duration_seconds",
			"HTTP request latency in seconds.", "histogram")
		for key, h := range tp.labeled.snapshot() {
			metric, rest, ok := strings.Cut(key, "|")
			if !ok || metric != "http.server.request.duration" {
				continue
			}
			parts := strings.SplitN(rest, "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogramSeries(&b, "http_server_request_duration_seconds", labels, h)
		}
		b.WriteByte('\n')

		writeGauge(&b, "http_server_active_requests",
			"In-flight HTTP requests.", tp.gauges.get("http.server.active_requests"))

		writeFamilyHeader(&b, "http_server_request_size_bytes",
			"Request body size in bytes.", "histogram")
		if h := tp.plain.get("http.server.request.size"); h != nil {
			writeHistogramSeries(&b, "http_server_request_size_bytes", "", h)
		}
		b.WriteByte('\n')

		writeFamilyHeader(&b, "http_server_response_size_bytes",
			"Response body size in bytes.", "histogram")
		if h := tp.plain.get("http.server.response.size"); h != nil {
			writeHistogramSeries(&b, "http_server_response_size_bytes", "", h)
		}
		b.WriteByte('\n')

		writeFamilyHeader(&b, "form_operation_count",
			"Form domain operations by domain and operation.", "counter")
		for key, val := range tp.counters.snapshot() {
			name, rest, ok := strings.Cut(key, "|")
			if !ok || name != "form.operation.count" {
				continue
			}
			domain, op, ok := strings.Cut(rest, "|")
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "form_operation_count{domain=%q,operation=%q} %d\n", domain, op, val)
		}
		b.WriteByte('\n')

		for _, g := range []struct {
			prom, name, help string
		}{
			{"resolver_cache_hits", "cache.resolver.hits", "Resolver cache hits since start."},
			{"resolver_cache_misses", "cache.resolver.misses", "Resolver cache misses since start."},
			{"db_pool_active_connections", "db.pool.active_connections", "Connections held by the database pool."},
			{"db_pool_idle_connections", "db.pool.idle_connections", "Idle connections in the database pool."},
			{"form_configurations_active", "form.configurations.active", "Form configurations currently active."},
		} {
			writeGauge(&b, g.prom, g.help, tp.gauges.get(g.name))
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeFamilyHeader(b *strings.Builder, name, help, typ string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func writeGauge(b *strings.Builder, name, help string, v int64) {
	writeFamilyHeader(b, name, help, "gauge")
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

// writeHistogramSeries renders one series. labels may be empty; when set
// it is a comma-joined list of label="value" pairs without braces.
func writeHistogramSeries(b *strings.Builder, name, labels string, h *histogram) {
	cum, total, sum := h.export()

	open := "{"
	suffix := ""
	if labels != "" {
		open = "{" + labels + ","
		suffix = "{" + labels + "}"
	}

	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket%sle=\"%g\"} %d\n", name, open, bound, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket%sle=\"+Inf\"} %d\n", name, open, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, total)
}
