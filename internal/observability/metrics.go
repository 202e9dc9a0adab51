package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver and then do nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	upstreamCalls      *prometheus.CounterVec
	tokenRefreshes     *prometheus.CounterVec
	malformedFragments prometheus.Counter
	bufferTruncations  prometheus.Counter
	activeStreams      prometheus.Gauge
}

// NewMetrics creates and registers the gateway metrics together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aq2api_requests_total",
				Help: "Chat requests by client format, response mode and status.",
			},
			[]string{"format", "mode", "status"},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aq2api_upstream_calls_total",
				Help: "Upstream chat attempts by status; 0 means no response.",
			},
			[]string{"status"},
		),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aq2api_token_refreshes_total",
				Help: "Access token refresh attempts by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		malformedFragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aq2api_malformed_fragments_total",
			Help: "Balanced upstream records dropped because they did not decode.",
		}),
		bufferTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aq2api_stream_buffer_truncations_total",
			Help: "Stream buffer overflows that discarded the oldest bytes.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aq2api_active_streams",
			Help: "Streaming responses currently in flight.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.upstreamCalls,
		m.tokenRefreshes,
		m.malformedFragments,
		m.bufferTruncations,
		m.activeStreams,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest counts a finished chat request.
func (m *Metrics) ObserveRequest(format string, streaming bool, status int) {
	if m == nil {
		return
	}
	mode := "buffered"
	if streaming {
		mode = "stream"
	}
	m.requests.WithLabelValues(format, mode, strconv.Itoa(status)).Inc()
}

// ObserveUpstream counts one upstream attempt.
func (m *Metrics) ObserveUpstream(status int) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveRefresh counts one refresh attempt against source.
func (m *Metrics) ObserveRefresh(source string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.tokenRefreshes.WithLabelValues(source, outcome).Inc()
}

// ObserveReassembly adds the malformed and truncation counts of one response.
func (m *Metrics) ObserveReassembly(malformed, truncations int) {
	if m == nil {
		return
	}
	m.malformedFragments.Add(float64(malformed))
	m.bufferTruncations.Add(float64(truncations))
}

// StreamStarted marks a streaming response as in flight and returns the
// function that ends it.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}
