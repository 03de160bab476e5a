package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcriber
type Metrics struct {
	// VAD metrics
	VADWindowsProcessed prometheus.Counter
	VADVoiceDetected    prometheus.Counter
	VADSpeechEvents     prometheus.Counter

	// Audio chunking metrics
	ChunksGenerated prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram

	// Content filter metrics
	ChunksFiltered  *prometheus.CounterVec
	ResultsFiltered *prometheus.CounterVec

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionCanceled  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionInFlight  prometheus.Gauge
	QueueDepth             prometheus.Gauge

	// Speaker matching metrics
	SpeakerMatches *prometheus.CounterVec

	// Segment metrics
	SegmentsDelivered prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on the given registerer.
// Tests pass a fresh registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// VAD metrics
		VADWindowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_vad_windows_processed_total",
			Help: "Total number of VAD windows processed",
		}),
		VADVoiceDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_vad_voice_detected_total",
			Help: "Total number of VAD windows with voice detected",
		}),
		VADSpeechEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_vad_speech_events_total",
			Help: "Total number of speech start/end events emitted",
		}),

		// Audio chunking metrics
		ChunksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_audio_chunks_generated_total",
			Help: "Total number of audio chunks generated",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_chunk_duration_seconds",
			Help:    "Duration of generated audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_chunk_size_bytes",
			Help:    "Size of generated audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Content filter metrics
		ChunksFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_chunks_filtered_total",
			Help: "Total number of chunks rejected before transcription",
		}, []string{"reason"}),
		ResultsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_results_filtered_total",
			Help: "Total number of transcription results rejected",
		}, []string{"reason"}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_transcription_canceled_total",
			Help: "Total number of canceled transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_transcription_in_flight",
			Help: "Current number of in-flight transcription requests",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_transcription_queue_depth",
			Help: "Current number of chunks waiting for a transcription slot",
		}),

		// Speaker matching metrics
		SpeakerMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_speaker_matches_total",
			Help: "Total number of speaker attribution attempts",
		}, []string{"reason"}),

		// Segment metrics
		SegmentsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_segments_delivered_total",
			Help: "Total number of transcript segments delivered",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordVADWindow increments VAD windows processed and optionally voice detected
func (m *Metrics) RecordVADWindow(hasVoice bool) {
	m.VADWindowsProcessed.Inc()
	if hasVoice {
		m.VADVoiceDetected.Inc()
	}
}

// RecordSpeechEvent increments the speech event counter
func (m *Metrics) RecordSpeechEvent() {
	m.VADSpeechEvents.Inc()
}

// RecordChunkGenerated records a generated audio chunk
func (m *Metrics) RecordChunkGenerated(durationSeconds float64, sizeBytes int) {
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordChunkFiltered records a chunk rejected by the pre-filter
func (m *Metrics) RecordChunkFiltered(reason string) {
	m.ChunksFiltered.WithLabelValues(reason).Inc()
}

// RecordResultFiltered records a transcription result rejected by the post-filter
func (m *Metrics) RecordResultFiltered(reason string) {
	m.ResultsFiltered.WithLabelValues(reason).Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionCanceled increments the canceled counter
func (m *Metrics) RecordTranscriptionCanceled() {
	m.TranscriptionCanceled.Inc()
}

// SetTranscriptionLoad sets the in-flight and queue depth gauges
func (m *Metrics) SetTranscriptionLoad(inFlight, queueDepth int) {
	m.TranscriptionInFlight.Set(float64(inFlight))
	m.QueueDepth.Set(float64(queueDepth))
}

// RecordSpeakerMatch records a speaker attribution by match reason
func (m *Metrics) RecordSpeakerMatch(reason string) {
	m.SpeakerMatches.WithLabelValues(reason).Inc()
}

// RecordSegmentDelivered increments the delivered segments counter
func (m *Metrics) RecordSegmentDelivered() {
	m.SegmentsDelivered.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
