// Package metrics provides Prometheus metrics for the sync daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsync_queue_tasks_total",
			Help: "Total number of queued backend tasks by outcome",
		},
		[]string{"type", "result"},
	)

	queueRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsync_queue_retries_total",
			Help: "Total number of throttled tasks scheduled for retry",
		},
		[]string{"type"},
	)

	queueWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultsync_queue_wait_seconds",
			Help:    "Time spent waiting for a rate limit slot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	metaOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsync_meta_ops_total",
			Help: "Total number of sequential remote metadata operations",
		},
		[]string{"op", "result"},
	)

	syncFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsync_sync_files_total",
			Help: "Total number of files transferred",
		},
		[]string{"direction", "result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func RecordTask(taskType string, success bool) {
	queueTasksTotal.WithLabelValues(taskType, result(success)).Inc()
}

func RecordRetry(taskType string) {
	queueRetriesTotal.WithLabelValues(taskType).Inc()
}

func RecordSlotWait(taskType string, d time.Duration) {
	queueWaitSeconds.WithLabelValues(taskType).Observe(d.Seconds())
}

func RecordMetaOp(op string, success bool) {
	metaOpsTotal.WithLabelValues(op, result(success)).Inc()
}

func RecordTransfer(direction string, success bool) {
	syncFilesTotal.WithLabelValues(direction, result(success)).Inc()
}
