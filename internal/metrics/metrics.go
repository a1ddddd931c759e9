package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpucloud_tasks_submitted_total",
			Help: "Total number of compute/staticpage tasks submitted",
		},
		[]string{"task_type"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpucloud_tasks_processed_total",
			Help: "Total number of tasks processed to a terminal status",
		},
		[]string{"task_type", "status", "worker_id"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpucloud_task_duration_seconds",
			Help:    "Time taken to run a task from dispatch to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~4.5 hours
		},
		[]string{"task_type", "status"},
	)

	// Worker Queue broker metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpucloud_queue_depth",
			Help: "Current number of unclaimed entries in the worker queue",
		},
	)

	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpucloud_workers_active",
			Help: "Number of active worker processes",
		},
	)

	WorkerTasksActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpucloud_worker_tasks_active",
			Help: "Number of tasks currently being processed by worker",
		},
		[]string{"worker_id"},
	)

	// GPU Resource Registry metrics
	GPUUsedMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpucloud_gpu_used_mb",
			Help: "Current GPU VRAM reserved, in megabytes",
		},
	)

	GPUQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpucloud_gpu_queue_depth",
			Help: "Number of tasks waiting for a GPU slice",
		},
	)

	GPUAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpucloud_gpu_acquisitions_total",
			Help: "Total GPU slice acquisition attempts",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpucloud_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gpucloud_api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Resource metrics (for worker host monitoring)
	WorkerCPUUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpucloud_worker_cpu_usage_percent",
			Help: "Current CPU usage percentage of worker host",
		},
		[]string{"worker_id"},
	)

	WorkerMemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpucloud_worker_memory_usage_bytes",
			Help: "Current memory usage of worker host in bytes",
		},
		[]string{"worker_id"},
	)

	// Error metrics
	TaskErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpucloud_task_errors_total",
			Help: "Total number of task execution errors",
		},
		[]string{"task_type", "error_type"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// UpdateQueueDepth updates the worker queue depth gauge
func UpdateQueueDepth(count float64) {
	QueueDepth.Set(count)
}

// RecordTaskSubmission records a task submission metric
func RecordTaskSubmission(taskType string) {
	TasksSubmitted.WithLabelValues(taskType).Inc()
}

// RecordTaskProcessed records a task reaching a terminal status
func RecordTaskProcessed(taskType, status, workerID string, duration float64) {
	TasksProcessed.WithLabelValues(taskType, status, workerID).Inc()
	TaskDuration.WithLabelValues(taskType, status).Observe(duration)
}

// UpdateGPURegistry reports the Admission Controller's current view of the Resource Registry
func UpdateGPURegistry(usedMB, queueDepth float64) {
	GPUUsedMB.Set(usedMB)
	GPUQueueDepth.Set(queueDepth)
}

// RecordGPUAcquisition records the outcome of a try_acquire attempt
func RecordGPUAcquisition(acquired bool) {
	result := "denied"
	if acquired {
		result = "acquired"
	}
	GPUAcquisitions.WithLabelValues(result).Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string) {
	APIRequests.WithLabelValues(method, endpoint, statusCode).Inc()
}

// RecordAPIRequestDuration records the duration of an API request
func RecordAPIRequestDuration(method, endpoint string, duration float64) {
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// UpdateWorkerResourceUsage updates worker host resource usage metrics
func UpdateWorkerResourceUsage(workerID string, cpuPercent, memoryBytes float64) {
	WorkerCPUUsage.WithLabelValues(workerID).Set(cpuPercent)
	WorkerMemoryUsage.WithLabelValues(workerID).Set(memoryBytes)
}

// RecordTaskError records a task error metric
func RecordTaskError(taskType, errorType string) {
	TaskErrors.WithLabelValues(taskType, errorType).Inc()
}

// SetWorkersActive sets the number of active worker processes
func SetWorkersActive(count float64) {
	WorkersActive.Set(count)
}

// SetWorkerTasksActive sets the number of active tasks for a worker
func SetWorkerTasksActive(workerID string, count float64) {
	WorkerTasksActive.WithLabelValues(workerID).Set(count)
}
