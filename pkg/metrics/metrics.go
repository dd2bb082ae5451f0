// Package metrics provides Prometheus metrics for sampling runs. Runs are
// batch jobs, so the registry is exported as a node-exporter textfile
// rather than served over HTTP.
package metrics

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for runs.
const (
	OutcomeSuccess    = "success"
	OutcomeInvalid    = "invalid"
	OutcomeDegenerate = "degenerate"
	OutcomeError      = "error"
)

// Manager owns the sampling metrics and their registry. A nil or
// disabled Manager ignores every call.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         *prometheus.Registry

	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	channelDuration  prometheus.Histogram
	pixelsSelected   prometheus.Counter
	recordsByDwell   *prometheus.CounterVec
	lastSparsity     prometheus.Gauge
	lastImagePixels  prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
}

// NewManager creates a metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "sparsescan",
		subsystem:        "sampling",
		histogramBuckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		enabled:          true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry = prometheus.NewRegistry()
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Sampling runs by image modality and outcome",
	}, []string{"modality", "outcome"})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a complete sampling run",
		Buckets:   m.histogramBuckets,
	})

	m.channelDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "channel_duration_seconds",
		Help:      "Wall time of saliency and selection for one channel",
		Buckets:   m.histogramBuckets,
	})

	m.pixelsSelected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pixels_selected_total",
		Help:      "Pixels selected for re-scanning across all runs",
	})

	m.recordsByDwell = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_by_dwell_time_total",
		Help:      "Selected pixels by assigned dwell time",
	}, []string{"dwell_time"})

	m.lastSparsity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_sparsity_percent",
		Help:      "Sparsity percentage of the most recent run",
	})

	m.lastImagePixels = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_image_pixels",
		Help:      "Pixel count of the most recent reference image",
	})

	m.lastRunTimestamp = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the most recent run finished",
	})
}

func (m *Manager) active() bool { return m != nil && m.enabled }

// RecordRun records the outcome and duration of one run.
func (m *Manager) RecordRun(modality, outcome string, d time.Duration) {
	if !m.active() {
		return
	}
	m.runs.WithLabelValues(modality, outcome).Inc()
	m.runDuration.Observe(d.Seconds())
	m.lastRunTimestamp.SetToCurrentTime()
}

// RecordChannel records the duration of one channel's selection pass.
func (m *Manager) RecordChannel(d time.Duration) {
	if !m.active() {
		return
	}
	m.channelDuration.Observe(d.Seconds())
}

// RecordSelection records a produced feature set; assigned holds the
// dwell time of every record.
func (m *Manager) RecordSelection(sparsity float64, imagePixels int, assigned []float64) {
	if !m.active() {
		return
	}
	m.lastSparsity.Set(sparsity)
	m.lastImagePixels.Set(float64(imagePixels))
	m.pixelsSelected.Add(float64(len(assigned)))
	for _, dt := range assigned {
		m.recordsByDwell.WithLabelValues(strconv.FormatFloat(dt, 'g', -1, 64)).Inc()
	}
}

// Registry returns the registry the metrics live on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current metric values in the text exposition
// format, atomically replacing path.
func (m *Manager) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "unable to write metrics to %s", path)
	}
	return nil
}
