package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Allocation engine metrics.
var (
	allocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_allocations_total",
			Help: "Allocation attempts by policy decision and outcome.",
		},
		[]string{"decision", "outcome"},
	)

	allocationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intake_allocation_duration_seconds",
		Help:    "Time spent inside the allocation transaction.",
		Buckets: prometheus.DefBuckets,
	})

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_notifications_total",
			Help: "Notification dispatches by kind and result.",
		},
		[]string{"kind", "result"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intake_ready",
		Help: "1 when the service reports ready.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			allocationsTotal, allocationDuration, notificationsTotal, readyGauge,
		)
	})
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAllocation records one allocation attempt.
func ObserveAllocation(decision, outcome string, elapsed time.Duration) {
	allocationsTotal.WithLabelValues(decision, outcome).Inc()
	allocationDuration.Observe(elapsed.Seconds())
}

// ObserveNotification records one notification dispatch.
func ObserveNotification(kind, result string) {
	notificationsTotal.WithLabelValues(kind, result).Inc()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument wraps a handler with in-flight, count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	// /v1/cases/{id}[/allocate|/reassign|/allocations]
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "cases" {
		switch len(parts) {
		case 3:
			parts[2] = ":id"
		case 4:
			switch parts[3] {
			case "allocate", "reassign", "allocations":
				parts[2] = ":id"
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

// statusWriter remembers the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack supports the websocket upgrade behind the instrumentation wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.code = http.StatusSwitchingProtocols
	return h.Hijack()
}
