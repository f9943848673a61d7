package vision

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the tracking pipeline.
type Metrics struct {
	registry               *prometheus.Registry
	framesTotal            prometheus.Counter
	detectionsTotal        prometheus.Counter
	detectionFailuresTotal prometheus.Counter
	invalidRegionsTotal    prometheus.Counter
	readingsAcceptedTotal  prometheus.Counter
	tracksCreatedTotal     prometheus.Counter
	tracksDeletedTotal     prometheus.Counter
	liveTracks             prometheus.Gauge
	confirmedTracks        prometheus.Gauge
	frameSeconds           prometheus.Histogram
}

// NewMetrics creates and registers the pipeline's Prometheus metrics on a
// private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platewatch_frames_total",
			Help: "Total number of frames processed through the pipeline",
		}),
		detectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platewatch_detections_total",
			Help: "Total number of detections passing the confidence threshold",
		}),
		detectionFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platewatch_detection_failures_total",
			Help: "Total number of frames where the detector returned an error",
		}),
		invalidRegionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platewatch_invalid_regions_total",
			Help: "Total number of detections discarded for degenerate crop regions",
		}),
		readingsAcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platewatch_readings_accepted_total",
			Help: "Total number of recognition readings accepted as a track's new best",
		}),
		tracksCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platewatch_tracks_created_total",
			Help: "Total number of tentative tracks created",
		}),
		tracksDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platewatch_tracks_deleted_total",
			Help: "Total number of tracks removed after ageing out",
		}),
		liveTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platewatch_live_tracks",
			Help: "Number of live (tentative or confirmed) tracks",
		}),
		confirmedTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platewatch_confirmed_tracks",
			Help: "Number of confirmed tracks",
		}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platewatch_frame_seconds",
			Help:    "Wall-clock time per frame pipeline step",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	registry.MustRegister(
		m.framesTotal,
		m.detectionsTotal,
		m.detectionFailuresTotal,
		m.invalidRegionsTotal,
		m.readingsAcceptedTotal,
		m.tracksCreatedTotal,
		m.tracksDeletedTotal,
		m.liveTracks,
		m.confirmedTracks,
		m.frameSeconds,
	)
	return m
}

// Handler returns an http.Handler serving the pipeline metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
