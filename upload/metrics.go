package upload

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for multipart uploads.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// partsUploaded counts successful upload-part calls
	partsUploaded prometheus.Counter

	// partsFailed counts failed upload-part calls
	partsFailed prometheus.Counter

	bytesUploaded prometheus.Counter

	// partsInFlight is the number of dispatched upload-part calls without a result yet
	partsInFlight prometheus.Gauge

	partDuration *prometheus.HistogramVec

	// uploads counts finished Upload calls by result (completed, failed)
	uploads *prometheus.CounterVec
}

// NewMetrics creates the upload metrics. They still need to be registered, see Register.
func NewMetrics() *Metrics {
	return &Metrics{
		partsUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "multipart",
				Subsystem: "upload",
				Name:      "parts_uploaded_total",
				Help:      "Number of parts uploaded successfully.",
			},
		),

		partsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "multipart",
				Subsystem: "upload",
				Name:      "parts_failed_total",
				Help:      "Number of part uploads that failed.",
			},
		),

		bytesUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "multipart",
				Subsystem: "upload",
				Name:      "bytes_uploaded_total",
				Help:      "Bytes of successfully uploaded parts.",
			},
		),

		partsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "multipart",
				Subsystem: "upload",
				Name:      "parts_in_flight",
				Help:      "Part uploads dispatched and not finished yet.",
			},
		),

		partDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "multipart",
				Subsystem: "upload",
				Name:      "part_duration_seconds",
				Help:      "Duration of upload-part calls.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"result"},
		),

		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "multipart",
				Subsystem: "upload",
				Name:      "uploads_total",
				Help:      "Finished upload attempts by result.",
			},
			[]string{"result"},
		),
	}
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.partsUploaded,
		m.partsFailed,
		m.bytesUploaded,
		m.partsInFlight,
		m.partDuration,
		m.uploads,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) partDispatched() {
	if m == nil {
		return
	}
	m.partsInFlight.Inc()
}

func (m *Metrics) partFinished(size int64, took time.Duration, err error) {
	if m == nil {
		return
	}

	m.partsInFlight.Dec()
	if err != nil {
		m.partsFailed.Inc()
		m.partDuration.WithLabelValues("failed").Observe(took.Seconds())
		return
	}
	m.partsUploaded.Inc()
	m.bytesUploaded.Add(float64(size))
	m.partDuration.WithLabelValues("uploaded").Observe(took.Seconds())
}

func (m *Metrics) uploadFinished(err error) {
	if m == nil {
		return
	}

	result := "completed"
	if err != nil {
		result = "failed"
	}
	m.uploads.WithLabelValues(result).Inc()
}
