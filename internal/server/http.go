package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/config"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/diarize"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/metrics"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/session"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/transcription"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/vad"
)

// HTTPServer provides HTTP API endpoints for monitoring the transcriber
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	metrics *metrics.Metrics

	session      *session.Session
	detector     *vad.Detector
	orchestrator *transcription.Orchestrator
	client       *transcription.Client
	matcher      *diarize.Matcher

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// Components collects the pipeline pieces the API reports on. The matcher
// and client may be nil when those features are disabled.
type Components struct {
	Session      *session.Session
	Detector     *vad.Detector
	Orchestrator *transcription.Orchestrator
	Client       *transcription.Client
	Matcher      *diarize.Matcher
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, components Components, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:       logger,
		config:       appConfig,
		metrics:      m,
		session:      components.Session,
		detector:     components.Detector,
		orchestrator: components.Orchestrator,
		client:       components.Client,
		matcher:      components.Matcher,
		startTime:    time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoints
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Capture the status code for labeling
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		if h.metrics != nil {
			duration := time.Since(startTime).Seconds()
			h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	sessionStats := h.session.GetStats()
	orchStats := h.orchestrator.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "aurora-transcriber",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"status":           "running",
				"frames_captured":  sessionStats.FramesCaptured,
				"segments_emitted": sessionStats.SegmentsEmitted,
			},
			"transcription": map[string]interface{}{
				"status":      "running",
				"in_flight":   orchStats.InFlight,
				"queue_depth": orchStats.QueueDepth,
				"completed":   orchStats.Completed,
				"failed":      orchStats.Failed,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"capture": map[string]interface{}{
			"sample_rate": h.config.Capture.SampleRate,
			"channels":    h.config.Capture.Channels,
			"bit_depth":   h.config.Capture.BitDepth,
			"frame_size":  h.config.Capture.FrameSize,
		},
		"vad": map[string]interface{}{
			"speech_threshold":     h.config.VAD.SpeechThreshold,
			"silence_threshold":    h.config.VAD.SilenceThreshold,
			"smoothing_factor":     h.config.VAD.SmoothingFactor,
			"window_size":          h.config.VAD.WindowSize,
			"hop_size":             h.config.VAD.HopSize,
			"min_speech_duration":  h.config.VAD.MinSpeechDuration,
			"min_silence_duration": h.config.VAD.MinSilenceDuration,
		},
		"chunking": map[string]interface{}{
			"mode":           h.config.Chunking.Mode,
			"chunk_duration": h.config.Chunking.ChunkDuration,
			"min_duration":   h.config.Chunking.MinDuration,
			"max_duration":   h.config.Chunking.MaxDuration,
		},
		"filter": map[string]interface{}{
			"silence_rms":      h.config.Filter.SilenceRMS,
			"max_silent_ratio": h.config.Filter.MaxSilentRatio,
			"min_confidence":   h.config.Filter.MinConfidence,
			"min_text_length":  h.config.Filter.MinTextLength,
		},
		"transcription": map[string]interface{}{
			"endpoint":          h.config.Transcription.Endpoint,
			"language":          h.config.Transcription.Language,
			"timeout":           h.config.Transcription.Timeout,
			"request_timeout":   h.config.Transcription.RequestTimeout,
			"max_retries":       h.config.Transcription.MaxRetries,
			"max_concurrent":    h.config.Transcription.MaxConcurrent,
			"min_payload_bytes": h.config.Transcription.MinPayloadBytes,
			// Note: API key is intentionally omitted for security
		},
		"diarization": map[string]interface{}{
			"enabled":               h.config.Diarization.Enabled,
			"participant_threshold": h.config.Diarization.ParticipantThreshold,
			"fuzzy_threshold":       h.config.Diarization.FuzzyThreshold,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":        uptime.String(),
		"timestamp":     time.Now().UTC(),
		"session":       h.session.GetStats(),
		"vad":           h.detector.GetStats(),
		"transcription": h.orchestrator.GetStats(),
	}
	if h.matcher != nil {
		stats["diarization"] = h.matcher.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"orchestrator": h.orchestrator.GetStats(),
	}
	if h.client != nil {
		stats["client"] = h.client.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Aurora Meeting Transcriber",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get pipeline statistics",
			"GET /stats/transcription": "Get transcription statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
