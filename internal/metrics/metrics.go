package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printqueue_jobs_submitted_total",
		Help: "Total number of jobs added to the queue",
	})

	JobsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printqueue_jobs_removed_total",
		Help: "Total number of queued jobs removed before printing",
	})

	JobsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printqueue_jobs_dispatched_total",
		Help: "Total number of jobs sent to the printer",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printqueue_jobs_completed_total",
		Help: "Total number of jobs archived as completed",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printqueue_jobs_failed_total",
		Help: "Total number of jobs archived as failed",
	})

	MonitorTickErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printqueue_monitor_tick_errors_total",
		Help: "Monitor ticks that ended in an error, by error kind",
	}, []string{"kind"})

	PersistenceErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printqueue_persistence_errors_total",
		Help: "Snapshot load or save failures",
	})

	ArchiveMirroredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printqueue_archive_mirrored_total",
		Help: "Archived jobs exported to the history database",
	})

	JobPrintDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "printqueue_job_print_duration_seconds",
		Help:    "Time from dispatch to terminal status",
		Buckets: prometheus.ExponentialBuckets(60, 2, 10),
	})

	QueuedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printqueue_queued_jobs",
		Help: "Current number of jobs waiting to print",
	})

	PrintingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printqueue_printing_jobs",
		Help: "Current number of jobs printing (0 or 1)",
	})

	PrinterConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printqueue_printer_connected",
		Help: "1 when the printer is reachable",
	})
)
