package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framescribe_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "framescribe_video_upload_size_bytes",
			Help:    "Size of uploaded or downloaded source videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 10), // 1MB to 512MB
		},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_jobs_created_total",
			Help: "Total number of video jobs created",
		},
		[]string{"mode"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_jobs_completed_total",
			Help: "Total number of finished video jobs",
		},
		[]string{"mode", "status"},
	)

	JobsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "framescribe_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
		[]string{"mode"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framescribe_job_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"mode"},
	)

	// Pipeline Metrics
	FramesSampledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_frames_sampled_total",
			Help: "Total number of frames emitted by the sampler",
		},
		[]string{"mode"},
	)

	FramesDescribedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_frames_described_total",
			Help: "Total number of frame descriptions by outcome",
		},
		[]string{"mode", "status"},
	)

	DescribeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framescribe_describe_duration_seconds",
			Help:    "Vision model latency per frame in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"model"},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framescribe_transcode_duration_seconds",
			Help:    "Source normalization duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"codec"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Storage Metrics
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framescribe_storage_operation_duration_seconds",
			Help:    "Object storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framescribe_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "framescribe_queue_depth",
			Help: "Messages waiting in a remote job queue",
		},
		[]string{"queue"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framescribe_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobStarted records a new job entering processing
func RecordJobStarted(mode string) {
	JobsCreatedTotal.WithLabelValues(mode).Inc()
	JobsInProgress.WithLabelValues(mode).Inc()
}

// RecordJobFinished records the end of a job
func RecordJobFinished(mode, status string, duration float64) {
	JobsInProgress.WithLabelValues(mode).Dec()
	JobsCompletedTotal.WithLabelValues(mode, status).Inc()
	JobDuration.WithLabelValues(mode).Observe(duration)
}

// RecordFramesSampled counts frames emitted for one run
func RecordFramesSampled(mode string, n int) {
	FramesSampledTotal.WithLabelValues(mode).Add(float64(n))
}

// RecordFrameDescribed records one describer call
func RecordFrameDescribed(mode, model string, duration float64, err error) {
	FramesDescribedTotal.WithLabelValues(mode, statusLabel(err)).Inc()
	DescribeDuration.WithLabelValues(model).Observe(duration)
}

// RecordTranscode records a normalization pass
func RecordTranscode(codec string, duration float64) {
	TranscodeDuration.WithLabelValues(codec).Observe(duration)
}

// RecordStorageOperation records an object storage call
func RecordStorageOperation(operation string, duration float64, sizeBytes int64, err error) {
	StorageOperationDuration.WithLabelValues(operation, statusLabel(err)).Observe(duration)
	if err == nil && sizeBytes > 0 {
		VideoUploadSizeBytes.Observe(float64(sizeBytes))
	}
}

// RecordDatabaseOperation records a database call
func RecordDatabaseOperation(operation string, duration float64, err error) {
	DatabaseOperationDuration.WithLabelValues(operation, statusLabel(err)).Observe(duration)
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// SetQueueDepth records the current depth of a queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
