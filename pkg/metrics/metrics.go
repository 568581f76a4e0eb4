// Package metrics defines the Prometheus collectors exported by the
// orchestrator and the small set of Record/Set helpers callers use instead of
// touching the collectors directly, following the package-level-collector
// plus helper-function shape used across the example pack's metrics
// packages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth reports the current length of a logical queue's ready list
	// or delayed set, labeled by queue name and kind ("ready", "delayed").
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nietest_queue_depth",
		Help: "Current number of messages waiting in a logical queue.",
	}, []string{"queue", "kind"})

	// WorkersBusy reports how many of a pool's workers are currently
	// generating a subtask, labeled by queue name.
	WorkersBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nietest_workers_busy",
		Help: "Number of workers currently processing a subtask.",
	}, []string{"queue"})

	// WorkersTotal reports a pool's configured worker count.
	WorkersTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nietest_workers_total",
		Help: "Configured worker count for a logical queue's pool.",
	}, []string{"queue"})

	// SubtaskDuration records wall-clock time spent driving one subtask
	// through the image API, labeled by terminal status.
	SubtaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nietest_subtask_duration_seconds",
		Help:    "Time spent generating a single subtask, by terminal status.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. 2048s (~34m)
	}, []string{"status"})

	// AdmissionWaitSeconds records how long an admitted task waited before
	// being granted, cancelled, or timing out.
	AdmissionWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nietest_admission_wait_seconds",
		Help:    "Time a task spent waiting for admission, by outcome.",
		Buckets: prometheus.LinearBuckets(30, 60, 10), // 30s .. ~10m, plus overflow bucket
	}, []string{"outcome"})

	// TasksSubmittedTotal counts accepted task submissions.
	TasksSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nietest_tasks_submitted_total",
		Help: "Total number of tasks accepted via POST /api/v1/test/task.",
	})
)

// SetQueueDepth records queueName's current ready/delayed lengths.
func SetQueueDepth(queueName string, ready, delayed int64) {
	QueueDepth.WithLabelValues(queueName, "ready").Set(float64(ready))
	QueueDepth.WithLabelValues(queueName, "delayed").Set(float64(delayed))
}

// SetPoolSize records a pool's configured worker count once at startup.
func SetPoolSize(queueName string, count int) {
	WorkersTotal.WithLabelValues(queueName).Set(float64(count))
}

// SetWorkersBusy records how many of queueName's workers are active.
func SetWorkersBusy(queueName string, busy int) {
	WorkersBusy.WithLabelValues(queueName).Set(float64(busy))
}

// RecordSubtaskDuration records how long a subtask spent generating.
func RecordSubtaskDuration(status string, d time.Duration) {
	SubtaskDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordAdmissionWait records how long a task waited for admission.
func RecordAdmissionWait(outcome string, d time.Duration) {
	AdmissionWaitSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordTaskSubmitted increments the submitted-task counter.
func RecordTaskSubmitted() {
	TasksSubmittedTotal.Inc()
}
