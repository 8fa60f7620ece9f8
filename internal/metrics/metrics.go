package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const namespace = "books"

// Metrics is an in-process registry rendered in the Prometheus text format.
type Metrics struct {
	mu sync.RWMutex

	requests  map[routeKey]*uint64
	latencies map[routeKey]*Histogram
	failures  map[failureKey]*uint64

	feedSubscribers int64

	authEvents map[string]*uint64

	startTime time.Time
}

type routeKey struct {
	endpoint string
	method   string
}

type failureKey struct {
	routeKey
	class int
}

// Histogram tracks a latency distribution in seconds.
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

func NewHistogram() *Histogram {
	return &Histogram{
		buckets:    defaultBuckets,
		bucketVals: make([]uint64, len(defaultBuckets)),
	}
}

// Observe records v; bucket counts are cumulative.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

func New() *Metrics {
	return &Metrics{
		requests:   make(map[routeKey]*uint64),
		latencies:  make(map[routeKey]*Histogram),
		failures:   make(map[failureKey]*uint64),
		authEvents: make(map[string]*uint64),
		startTime:  time.Now(),
	}
}

var defaultMetrics = New()

func Default() *Metrics {
	return defaultMetrics
}

func (m *Metrics) counter(table map[routeKey]*uint64, key routeKey) *uint64 {
	m.mu.RLock()
	c, ok := table[key]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = table[key]; !ok {
		c = new(uint64)
		table[key] = c
	}
	return c
}

// RecordRequest records one finished request. Numeric path segments are
// collapsed so /books/get_book/7 and /books/get_book/8 share a series.
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := routeKey{endpoint: normalizeEndpoint(path), method: method}

	atomic.AddUint64(m.counter(m.requests, key), 1)

	m.mu.Lock()
	h, ok := m.latencies[key]
	if !ok {
		h = NewHistogram()
		m.latencies[key] = h
	}
	m.mu.Unlock()
	h.Observe(duration.Seconds())

	if statusCode >= 400 {
		fk := failureKey{routeKey: key, class: statusCode / 100}
		m.mu.Lock()
		c, ok := m.failures[fk]
		if !ok {
			c = new(uint64)
			m.failures[fk] = c
		}
		m.mu.Unlock()
		atomic.AddUint64(c, 1)
	}
}

func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (m *Metrics) IncFeedSubscribers() {
	atomic.AddInt64(&m.feedSubscribers, 1)
}

func (m *Metrics) DecFeedSubscribers() {
	atomic.AddInt64(&m.feedSubscribers, -1)
}

func (m *Metrics) FeedSubscribers() int64 {
	return atomic.LoadInt64(&m.feedSubscribers)
}

// IncAuthEvent counts an auth outcome such as "login_success" or
// "logout_rejected".
func (m *Metrics) IncAuthEvent(event string) {
	m.mu.Lock()
	c, ok := m.authEvents[event]
	if !ok {
		c = new(uint64)
		m.authEvents[event] = c
	}
	m.mu.Unlock()
	atomic.AddUint64(c, 1)
}

func (m *Metrics) AuthEvents(event string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.authEvents[event]; ok {
		return atomic.LoadUint64(c)
	}
	return 0
}

func sortedRouteKeys[V any](table map[routeKey]V) []routeKey {
	keys := make([]routeKey, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].endpoint != keys[j].endpoint {
			return keys[i].endpoint < keys[j].endpoint
		}
		return keys[i].method < keys[j].method
	})
	return keys
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", namespace, name, kind)
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		writeHeader(&sb, "uptime_seconds", "Time since the server started", "gauge")
		fmt.Fprintf(&sb, "%s_uptime_seconds %f\n\n", namespace, time.Since(m.startTime).Seconds())

		writeHeader(&sb, "feed_subscribers", "Open update feed connections", "gauge")
		fmt.Fprintf(&sb, "%s_feed_subscribers %d\n\n", namespace, m.FeedSubscribers())

		m.mu.RLock()
		defer m.mu.RUnlock()

		if len(m.requests) > 0 {
			writeHeader(&sb, "http_requests_total", "Total HTTP requests", "counter")
			for _, k := range sortedRouteKeys(m.requests) {
				fmt.Fprintf(&sb, "%s_http_requests_total{endpoint=%q,method=%q} %d\n",
					namespace, k.endpoint, k.method, atomic.LoadUint64(m.requests[k]))
			}
			sb.WriteString("\n")
		}

		if len(m.latencies) > 0 {
			writeHeader(&sb, "http_request_duration_seconds", "HTTP request latency", "histogram")
			for _, k := range sortedRouteKeys(m.latencies) {
				h := m.latencies[k]
				h.mu.Lock()
				for i, bucket := range h.buckets {
					fmt.Fprintf(&sb, "%s_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"%g\"} %d\n",
						namespace, k.endpoint, k.method, bucket, h.bucketVals[i])
				}
				fmt.Fprintf(&sb, "%s_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"+Inf\"} %d\n",
					namespace, k.endpoint, k.method, h.count)
				fmt.Fprintf(&sb, "%s_http_request_duration_seconds_sum{endpoint=%q,method=%q} %f\n",
					namespace, k.endpoint, k.method, h.sum)
				fmt.Fprintf(&sb, "%s_http_request_duration_seconds_count{endpoint=%q,method=%q} %d\n",
					namespace, k.endpoint, k.method, h.count)
				h.mu.Unlock()
			}
			sb.WriteString("\n")
		}

		if len(m.failures) > 0 {
			writeHeader(&sb, "http_errors_total", "HTTP errors by status class", "counter")
			keys := make([]failureKey, 0, len(m.failures))
			for k := range m.failures {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				a, b := keys[i], keys[j]
				if a.endpoint != b.endpoint {
					return a.endpoint < b.endpoint
				}
				if a.method != b.method {
					return a.method < b.method
				}
				return a.class < b.class
			})
			for _, k := range keys {
				fmt.Fprintf(&sb, "%s_http_errors_total{endpoint=%q,method=%q,status_class=\"%dxx\"} %d\n",
					namespace, k.endpoint, k.method, k.class, atomic.LoadUint64(m.failures[k]))
			}
			sb.WriteString("\n")
		}

		if len(m.authEvents) > 0 {
			writeHeader(&sb, "auth_events_total", "Authentication outcomes", "counter")
			events := make([]string, 0, len(m.authEvents))
			for e := range m.authEvents {
				events = append(events, e)
			}
			sort.Strings(events)
			for _, e := range events {
				fmt.Fprintf(&sb, "%s_auth_events_total{event=%q} %d\n", namespace, e, atomic.LoadUint64(m.authEvents[e]))
			}
		}

		w.Write([]byte(sb.String()))
	}
}

// Middleware records the status and latency of every request.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			m.RecordRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap and Hijack let the websocket upgrader take over the connection.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.status = http.StatusSwitchingProtocols
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
