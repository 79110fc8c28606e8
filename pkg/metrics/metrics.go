// Package metrics exposes Prometheus collectors for the HTTP boundary
// and the per-device media pipeline, and a chi-compatible middleware
// that records request counts and latency partitioned by route group
// and status code.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const service = "bambu_lan_gateway"

var defaultLatencyBuckets = []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000}

// Metrics holds every collector the gateway registers. One instance is
// shared process-wide; Registry returns the prometheus.Registerer to
// mount on the /metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	mqttReportsTotal    *prometheus.CounterVec
	mqttReconnectsTotal *prometheus.CounterVec
	commandsTotal       *prometheus.CounterVec
	rtspSessionsTotal   *prometheus.CounterVec
	segmentsWritten     *prometheus.CounterVec
	wsSubscribers       *prometheus.GaugeVec
}

// New creates and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests processed, partitioned by route group and status code.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_milliseconds",
			Help:        "HTTP response latency, partitioned by route group.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     defaultLatencyBuckets,
		}, []string{"route"}),
		mqttReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mqtt_reports_total",
			Help:        "MQTT status reports received, partitioned by device.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"device"}),
		mqttReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mqtt_reconnects_total",
			Help:        "MQTT session reconnect attempts, partitioned by device.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"device"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "commands_total",
			Help:        "Printer commands accepted or rejected, partitioned by device and outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"device", "outcome"}),
		rtspSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rtsp_sessions_total",
			Help:        "RTSP session attempts, partitioned by device and outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"device", "outcome"}),
		segmentsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cmaf_segments_written_total",
			Help:        "CMAF segments finalized, partitioned by device.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"device"}),
		wsSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "cmaf_ws_subscribers",
			Help:        "Currently connected CMAF WebSocket subscribers, partitioned by device.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"device"}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpLatency,
		m.mqttReportsTotal, m.mqttReconnectsTotal,
		m.commandsTotal, m.rtspSessionsTotal,
		m.segmentsWritten, m.wsSubscribers,
	)
	return m
}

// Registry returns the underlying registry for mounting a /metrics
// handler via promhttp.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveMQTTReport increments the report counter for a device.
func (m *Metrics) ObserveMQTTReport(device string) {
	m.mqttReportsTotal.WithLabelValues(device).Inc()
}

// ObserveMQTTReconnect increments the reconnect counter for a device.
func (m *Metrics) ObserveMQTTReconnect(device string) {
	m.mqttReconnectsTotal.WithLabelValues(device).Inc()
}

// ObserveCommand records a command's outcome ("accepted", "rejected",
// "rate_limited") for a device.
func (m *Metrics) ObserveCommand(device, outcome string) {
	m.commandsTotal.WithLabelValues(device, outcome).Inc()
}

// ObserveRTSPSession records an RTSP session ending, either "ok" (clean
// cancellation) or "error".
func (m *Metrics) ObserveRTSPSession(device, outcome string) {
	m.rtspSessionsTotal.WithLabelValues(device, outcome).Inc()
}

// ObserveSegmentWritten increments the finalized-segment counter for a
// device.
func (m *Metrics) ObserveSegmentWritten(device string) {
	m.segmentsWritten.WithLabelValues(device).Inc()
}

// SetWSSubscribers reports the current subscriber count for a device's
// CMAF WebSocket fan-out.
func (m *Metrics) SetWSSubscribers(device string, count int) {
	m.wsSubscribers.WithLabelValues(device).Set(float64(count))
}

// Middleware returns a chi-compatible middleware recording request
// counts and latency under the given route-group label (e.g. "state",
// "playlist", "segment", "command", "ws").
func (m *Metrics) Middleware(routeGroup string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := strconv.Itoa(ww.Status())
			m.httpRequests.WithLabelValues(routeGroup, code).Inc()
			m.httpLatency.WithLabelValues(routeGroup).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}
