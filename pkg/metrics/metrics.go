// Package metrics defines the controller's Prometheus collectors and the
// textfile-collector writer that publishes them for node_exporter to
// scrape, since this binary is a one-shot cron job with no server to host
// a /metrics endpoint on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a private registry rather than the global default one, so a
// single cycle's metrics are exactly what gets written to the textfile —
// nothing accumulates across invocations of this process.
var Registry = prometheus.NewRegistry()

var (
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "condor_defrag_cycle_duration_seconds",
			Help:    "Time taken for one defragmentation cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "condor_defrag_cycles_total",
			Help: "Total number of cycles completed, by outcome.",
		},
		[]string{"outcome"},
	)

	MachinesByBucket = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "condor_defrag_machines_by_bucket",
			Help: "Number of machines classified into each bucket this cycle.",
		},
		[]string{"bucket"},
	)

	DrainsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "condor_defrag_drains_started_total",
			Help: "Total number of machines for which a drain was started.",
		},
	)

	DrainsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "condor_defrag_drains_cancelled_total",
			Help: "Total number of machines for which an excess drain was cancelled.",
		},
	)

	JobsKilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "condor_defrag_jobs_killed_total",
			Help: "Total number of preemptable jobs removed to empty a node.",
		},
	)

	ActuationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "condor_defrag_actuation_errors_total",
			Help: "Total number of actuation errors (persistent_set/remove failures) this cycle.",
		},
	)

	MaxDraining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "condor_defrag_max_draining",
			Help: "The concurrency governor's max-draining budget for this cycle.",
		},
	)

	DrainAllowed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "condor_defrag_drain_allowed",
			Help: "Whether new drains were allowed this cycle (1) or inhibited (0).",
		},
	)

	MulticoreJobCounts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "condor_defrag_multicore_jobs",
			Help: "Multicore (RequestCpus>1) job counts observed this cycle, by state.",
		},
		[]string{"state"},
	)

	LastCycleTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "condor_defrag_last_cycle_timestamp_seconds",
			Help: "Unix timestamp of the end of the last completed cycle.",
		},
	)
)

func init() {
	Registry.MustRegister(
		CycleDuration,
		CyclesTotal,
		MachinesByBucket,
		DrainsStarted,
		DrainsCancelled,
		JobsKilled,
		ActuationErrors,
		MaxDraining,
		DrainAllowed,
		MulticoreJobCounts,
		LastCycleTimestamp,
	)
}

// Timer is a small helper for timing a cycle and recording the elapsed
// duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
