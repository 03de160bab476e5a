package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/chunker"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/config"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/diarize"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/filter"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/metrics"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/server"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/session"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/transcription"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "aurora-transcriber"
	serviceVersion    = "1.0.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "-", "PCM-16 audio input: file path or '-' for stdin")
	calibrate := flag.Bool("calibrate", false, "Calibrate VAD thresholds from ambient noise before transcribing")
	flag.Parse()

	// Secrets may live in a .env file next to the binary
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.String("chunking_mode", cfg.Chunking.Mode),
		slog.Float64("chunk_duration", cfg.Chunking.ChunkDuration),
		slog.Float64("speech_threshold", cfg.VAD.SpeechThreshold),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("diarization_enabled", cfg.Diarization.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Open the audio input
	input := os.Stdin
	if *inputPath != "-" {
		file, err := os.Open(*inputPath)
		if err != nil {
			logger.Error("Failed to open audio input", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer file.Close()
		input = file
	}

	frameDuration := time.Duration(cfg.Capture.FrameSize) * time.Second / time.Duration(cfg.Capture.SampleRate)
	source, err := audio.NewReaderSource(input, cfg.Capture.SampleRate, frameDuration)
	if err != nil {
		logger.Error("Failed to create capture source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	capture := audio.NewCaptureContext(source)

	buf, err := audio.NewBuffer(cfg.Capture.SampleRate, cfg.VAD.WindowSize, cfg.VAD.HopSize)
	if err != nil {
		logger.Error("Failed to create audio buffer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Voice activity detector
	detector, err := vad.NewDetector(vad.Config{
		SampleRate:         cfg.Capture.SampleRate,
		SmoothingFactor:    cfg.VAD.SmoothingFactor,
		SpeechThreshold:    cfg.VAD.SpeechThreshold,
		SilenceThreshold:   cfg.VAD.SilenceThreshold,
		MinSpeechDuration:  cfg.VAD.GetMinSpeechDuration(),
		MinSilenceDuration: cfg.VAD.GetMinSilenceDuration(),
	})
	if err != nil {
		logger.Error("Failed to create voice detector", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Chunker
	chunkerCfg := chunker.Config{
		ChunkDuration: cfg.Chunking.GetChunkDuration(),
		MinDuration:   cfg.Chunking.GetMinDuration(),
		MaxDuration:   cfg.Chunking.GetMaxDuration(),
	}
	var chk chunker.Chunker
	if cfg.Chunking.Mode == "smart" {
		chk = chunker.NewSmart(chunkerCfg, detector)
	} else {
		chk = chunker.NewFixed(chunkerCfg)
	}

	// Transcription client and orchestrator
	client, err := transcription.NewClient(transcription.Config{
		Endpoint:   cfg.Transcription.Endpoint,
		APIKey:     cfg.Transcription.APIKey,
		Language:   cfg.Transcription.Language,
		Model:      cfg.Transcription.Model,
		Timeout:    cfg.Transcription.GetTimeoutDuration(),
		MaxRetries: cfg.Transcription.MaxRetries,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	orchestrator := transcription.NewOrchestrator(transcription.OrchestratorConfig{
		MaxConcurrent:   cfg.Transcription.MaxConcurrent,
		RequestTimeout:  cfg.Transcription.GetRequestTimeoutDuration(),
		MinPayloadBytes: cfg.Transcription.MinPayloadBytes,
	}, client, logger)

	// Speaker matching
	var matcher *diarize.Matcher
	if cfg.Diarization.Enabled {
		store, err := diarize.OpenStore(cfg.Diarization.CorrectionsPath)
		if err != nil {
			logger.Error("Failed to open correction store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer store.Close()

		matcher = diarize.NewMatcher(store, logger)
		matcher.ParticipantThreshold = cfg.Diarization.ParticipantThreshold
		matcher.FuzzyThreshold = cfg.Diarization.FuzzyThreshold
		logger.Info("Speaker matching enabled",
			slog.Int("known_corrections", store.Count()),
		)
	}

	// Content filters from configuration
	preFilter := filter.NewPreFilter()
	preFilter.SilenceRMS = cfg.Filter.SilenceRMS
	preFilter.MaxSilentRatio = cfg.Filter.MaxSilentRatio
	postFilter := filter.NewPostFilter()
	postFilter.MinConfidence = cfg.Filter.MinConfidence
	postFilter.MinTextLength = cfg.Filter.MinTextLength

	// Assemble the session
	sess, err := session.New(session.Config{
		Capture:      capture,
		Detector:     detector,
		Chunker:      chk,
		PreFilter:    preFilter,
		PostFilter:   postFilter,
		Orchestrator: orchestrator,
		Matcher:      matcher,
		Metrics:      appMetrics,
		Logger:       logger,
	}, buf)
	if err != nil {
		logger.Error("Failed to create session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Optional ambient-noise calibration before the pipeline starts. The
	// capture reference taken here is held until shutdown so the device is
	// not closed and reopened between calibration and the session.
	if *calibrate {
		calSource, err := capture.Acquire()
		if err != nil {
			logger.Error("Failed to open capture device for calibration", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer capture.Release()

		pumpCtx, pumpCancel := context.WithCancel(context.Background())
		go func() {
			for {
				select {
				case <-pumpCtx.Done():
					return
				case frame, ok := <-calSource.Frames():
					if !ok {
						return
					}
					buf.Append(frame)
				}
			}
		}()

		calCtx, calCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := detector.Calibrate(calCtx, buf, 3*time.Second); err != nil {
			logger.Warn("VAD calibration failed, using configured thresholds",
				slog.String("error", err.Error()))
		} else {
			speech, silence := detector.Thresholds()
			logger.Info("VAD thresholds calibrated",
				slog.Float64("speech", speech),
				slog.Float64("silence", silence),
			)
		}
		calCancel()
		pumpCancel()
	}

	if err := sess.Start(); err != nil {
		logger.Error("Failed to start session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Components{
			Session:      sess,
			Detector:     detector,
			Orchestrator: orchestrator,
			Client:       client,
			Matcher:      matcher,
		}, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Print segments as they arrive
	segmentsDone := make(chan struct{})
	go func() {
		defer close(segmentsDone)
		for segment := range sess.Segments() {
			printSegment(segment)
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Transcription running, waiting for audio...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-sess.SourceDone():
		logger.Info("Audio input exhausted")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sess.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping session", slog.String("error", err.Error()))
	}
	<-segmentsDone

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Final statistics
	stats := sess.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("chunks_processed", stats.ChunksProcessed),
		slog.Uint64("chunks_filtered", stats.ChunksFiltered),
		slog.Uint64("results_filtered", stats.ResultsFiltered),
		slog.Uint64("segments_emitted", stats.SegmentsEmitted),
	)

	logger.Info("Service stopped")
}

// printSegment writes one transcript line to stdout.
func printSegment(segment *transcription.Segment) {
	timestamp := time.Duration(segment.StartMs) * time.Millisecond
	if segment.SpeakerLabel != "" {
		fmt.Printf("[%s] %s: %s\n", timestamp, segment.SpeakerLabel, segment.Text)
		return
	}
	fmt.Printf("[%s] %s\n", timestamp, segment.Text)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
