package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submission metrics
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docanalyzer_jobs_submitted_total",
		Help: "Total number of analysis jobs accepted by the gateway",
	})

	SubmissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docanalyzer_submissions_rejected_total",
		Help: "Total number of submissions rejected before or during enqueue",
	}, []string{"reason"})

	// Worker metrics
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docanalyzer_jobs_finished_total",
		Help: "Total number of terminal writes performed by workers",
	}, []string{"status"})

	PipelineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docanalyzer_pipeline_failures_total",
		Help: "Total number of failed pipeline stages",
	}, []string{"stage"})

	DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docanalyzer_duplicate_deliveries_total",
		Help: "Total number of deliveries for jobs that were already terminal",
	})

	DeliveriesRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docanalyzer_deliveries_requeued_total",
		Help: "Total number of deliveries handed back to the queue",
	})

	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docanalyzer_job_processing_seconds",
		Help:    "Time spent processing one delivery",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docanalyzer_workers_busy",
		Help: "Number of workers currently processing a job",
	})

	TaskResultsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docanalyzer_task_results_purged_total",
		Help: "Total number of task result records evicted by the retention sweeper",
	})
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
