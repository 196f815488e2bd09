package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes batch pipeline metrics.
type Collector struct {
	itemsTotal      *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	inflightTasks   prometheus.Gauge
	phaseDuration   *prometheus.HistogramVec
	uploadAttempts  prometheus.Counter
	conversionsKept prometheus.Counter
}

// New creates and registers the collector. Call once per process.
func New() *Collector {
	c := &Collector{
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packmule_items_total",
				Help: "Per-phase item outcomes",
			},
			[]string{"phase", "outcome"},
		),
		uploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "packmule_upload_bytes_total",
				Help: "Total bytes uploaded to remote storage",
			},
		),
		inflightTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "packmule_inflight_archive_tasks",
				Help: "Archive tasks currently running",
			},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packmule_phase_duration_seconds",
				Help:    "Time spent per item per phase",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"phase"},
		),
		uploadAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "packmule_upload_attempts_total",
				Help: "Upload attempts including retries",
			},
		),
		conversionsKept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "packmule_conversions_degraded_total",
				Help: "Link conversions that gave up and kept the original reference",
			},
		),
	}

	prometheus.MustRegister(c.itemsTotal)
	prometheus.MustRegister(c.uploadBytes)
	prometheus.MustRegister(c.inflightTasks)
	prometheus.MustRegister(c.phaseDuration)
	prometheus.MustRegister(c.uploadAttempts)
	prometheus.MustRegister(c.conversionsKept)

	return c
}

// IncOutcome counts one item outcome for a phase.
func (c *Collector) IncOutcome(phase, outcome string) {
	c.itemsTotal.WithLabelValues(phase, outcome).Inc()
}

// AddUploadBytes adds to the uploaded byte total.
func (c *Collector) AddUploadBytes(bytes int64) {
	c.uploadBytes.Add(float64(bytes))
}

// ArchiveTaskStarted marks one archive task in flight.
func (c *Collector) ArchiveTaskStarted() {
	c.inflightTasks.Inc()
}

// ArchiveTaskFinished marks one archive task done.
func (c *Collector) ArchiveTaskFinished() {
	c.inflightTasks.Dec()
}

// ObservePhaseDuration records how long one item spent in a phase.
func (c *Collector) ObservePhaseDuration(phase string, duration time.Duration) {
	c.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// IncUploadAttempt counts one upload attempt (retries included).
func (c *Collector) IncUploadAttempt() {
	c.uploadAttempts.Inc()
}

// IncConversionDegraded counts one conversion that kept the original link.
func (c *Collector) IncConversionDegraded() {
	c.conversionsKept.Inc()
}

// StartServer starts the metrics HTTP server.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
