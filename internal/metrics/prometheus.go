package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Segmentation metrics
	SegmentationsTotal   prometheus.Counter
	SegmentationErrors   prometheus.Counter
	SegmentationNoSpeech prometheus.Counter
	SegmentationDuration prometheus.Histogram

	// Audio chunking metrics
	ChunksGenerated *prometheus.CounterVec
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram

	// Scheduler metrics
	TasksSubmitted prometheus.Counter
	TasksFinished  *prometheus.CounterVec
	TasksInFlight  prometheus.Gauge
	QueueLength    prometheus.Gauge
	TaskWaitTime   prometheus.Histogram
	WorkerPanics   prometheus.Counter

	// Inference gate metrics
	GateWaitTime prometheus.Histogram
	GateBusy     prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Segmentation metrics
		SegmentationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_segmentations_total",
			Help: "Total number of recordings segmented",
		}),
		SegmentationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_segmentation_errors_total",
			Help: "Total number of recordings that could not be decoded or cut",
		}),
		SegmentationNoSpeech: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_segmentation_no_speech_total",
			Help: "Total number of recordings without any speech chunk",
		}),
		SegmentationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtd_segmentation_duration_seconds",
			Help:    "Time spent segmenting a recording",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		// Audio chunking metrics
		ChunksGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtd_audio_chunks_generated_total",
			Help: "Total number of audio chunks generated",
		}, []string{"cut"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtd_chunk_duration_seconds",
			Help:    "Duration of generated audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtd_chunk_size_bytes",
			Help:    "Size of generated audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Scheduler metrics
		TasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_tasks_submitted_total",
			Help: "Total number of transcription tasks submitted",
		}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtd_tasks_finished_total",
			Help: "Total number of transcription tasks that reached a terminal state",
		}, []string{"status"}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vtd_tasks_in_flight",
			Help: "Current number of tasks held by the task store",
		}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vtd_task_queue_length",
			Help: "Current number of task ids waiting in the queue",
		}),
		TaskWaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtd_task_wait_seconds",
			Help:    "Time between submission and a worker picking up the task",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		WorkerPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_worker_panics_total",
			Help: "Total number of recovered panics in worker iterations",
		}),

		// Inference gate metrics
		GateWaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtd_gate_wait_seconds",
			Help:    "Time spent waiting for the inference gate",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~60s
		}),
		GateBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vtd_gate_busy",
			Help: "1 while an inference call holds the gate",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtd_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vtd_active_sessions",
			Help: "Current number of active stream sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_sessions_created_total",
			Help: "Total number of stream sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtd_sessions_destroyed_total",
			Help: "Total number of stream sessions destroyed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtd_session_duration_seconds",
			Help:    "Lifetime of stream sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vtd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSegmentation records a finished segmentation run
func (m *Metrics) RecordSegmentation(durationSeconds float64, noSpeech bool) {
	if m == nil {
		return
	}
	m.SegmentationsTotal.Inc()
	if noSpeech {
		m.SegmentationNoSpeech.Inc()
	}
	m.SegmentationDuration.Observe(durationSeconds)
}

// RecordSegmentationError increments the segmentation errors counter
func (m *Metrics) RecordSegmentationError() {
	if m == nil {
		return
	}
	m.SegmentationErrors.Inc()
}

// RecordChunkGenerated records a generated audio chunk
func (m *Metrics) RecordChunkGenerated(durationSeconds float64, sizeBytes int, forced bool) {
	if m == nil {
		return
	}
	cut := "natural"
	if forced {
		cut = "forced"
	}
	m.ChunksGenerated.WithLabelValues(cut).Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTaskSubmitted counts a new task held by the store
func (m *Metrics) RecordTaskSubmitted() {
	if m == nil {
		return
	}
	m.TasksSubmitted.Inc()
	m.TasksInFlight.Inc()
}

// RecordTaskStarted records how long a task waited in the queue
func (m *Metrics) RecordTaskStarted(waitSeconds float64) {
	if m == nil {
		return
	}
	m.TaskWaitTime.Observe(waitSeconds)
}

// RecordTaskFinished counts a task leaving the store with the given terminal status
func (m *Metrics) RecordTaskFinished(status string) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(status).Inc()
	m.TasksInFlight.Dec()
}

// SetQueueLength sets the current queue length
func (m *Metrics) SetQueueLength(length int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(length))
}

// RecordWorkerPanic increments the recovered panics counter
func (m *Metrics) RecordWorkerPanic() {
	if m == nil {
		return
	}
	m.WorkerPanics.Inc()
}

// RecordGateAcquired records the wait for the inference gate and marks it busy
func (m *Metrics) RecordGateAcquired(waitSeconds float64) {
	if m == nil {
		return
	}
	m.GateWaitTime.Observe(waitSeconds)
	m.GateBusy.Set(1)
}

// RecordGateReleased marks the inference gate idle
func (m *Metrics) RecordGateReleased() {
	if m == nil {
		return
	}
	m.GateBusy.Set(0)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
