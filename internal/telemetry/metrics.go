// Package telemetry holds the Prometheus collectors for the ingestion path.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	trackRequests *prometheus.CounterVec
	pixelEvents   *prometheus.CounterVec
	geoLookups    *prometheus.CounterVec
	batchFlushes  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		trackRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepulse_track_requests_total",
			Help: "Tracking submissions by outcome.",
		}, []string{"outcome"}),
		pixelEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepulse_pixel_events_total",
			Help: "Pixel submissions by outcome.",
		}, []string{"outcome"}),
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepulse_geo_lookups_total",
			Help: "Geolocation chain steps by source and outcome.",
		}, []string{"source", "outcome"}),
		batchFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepulse_batch_flushes_total",
			Help: "Pixel queue batch writes by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.trackRequests, m.pixelEvents, m.geoLookups, m.batchFlushes,
	)
	return m
}

func (m *Metrics) TrackRequest(outcome string) {
	if m == nil {
		return
	}
	m.trackRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PixelEvent(outcome string) {
	if m == nil {
		return
	}
	m.pixelEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PixelEvents(outcome string, n int) {
	if m == nil {
		return
	}
	m.pixelEvents.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) GeoLookup(source, outcome string) {
	if m == nil {
		return
	}
	m.geoLookups.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) BatchFlush(outcome string) {
	if m == nil {
		return
	}
	m.batchFlushes.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
