package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/chunker"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/diarize"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/filter"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/metrics"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/transcription"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/vad"
)

// Config collects the pipeline components a session runs. Capture, Detector,
// Chunker, and Orchestrator are required; Matcher and Metrics are optional.
type Config struct {
	Capture      *audio.CaptureContext
	Detector     *vad.Detector
	Chunker      chunker.Chunker
	PreFilter    *filter.PreFilter
	PostFilter   *filter.PostFilter
	Orchestrator *transcription.Orchestrator
	Matcher      *diarize.Matcher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Stats describes session activity for monitoring.
type Stats struct {
	FramesCaptured   uint64 `json:"frames_captured"`
	ChunksProcessed  uint64 `json:"chunks_processed"`
	ChunksFiltered   uint64 `json:"chunks_filtered"`
	ResultsFiltered  uint64 `json:"results_filtered"`
	SegmentsEmitted  uint64 `json:"segments_emitted"`
	PipelineFailures uint64 `json:"pipeline_failures"`
}

// Session runs one meeting's transcription pipeline. Segments are delivered
// on Segments() ordered by their audio start time: a completed result is
// held back until every earlier-started chunk has resolved.
type Session struct {
	cfg    Config
	logger *slog.Logger

	buf    *audio.Buffer
	source audio.Source

	segments chan *transcription.Segment

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	chunkDone  chan struct{}
	sourceDone chan struct{}
	resultDone chan struct{}

	mu            sync.Mutex
	started       bool
	stopped       bool
	pendingStarts []int64
	held          map[int64]transcription.Result

	framesCaptured   uint64
	chunksProcessed  uint64
	chunksFiltered   uint64
	resultsFiltered  uint64
	segmentsEmitted  uint64
	pipelineFailures uint64
}

// New creates a session from the given components.
func New(cfg Config, buf *audio.Buffer) (*Session, error) {
	if cfg.Capture == nil || cfg.Detector == nil || cfg.Chunker == nil || cfg.Orchestrator == nil {
		return nil, fmt.Errorf("capture, detector, chunker, and orchestrator are required")
	}
	if cfg.PreFilter == nil {
		cfg.PreFilter = filter.NewPreFilter()
	}
	if cfg.PostFilter == nil {
		cfg.PostFilter = filter.NewPostFilter()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		cfg:        cfg,
		logger:     cfg.Logger,
		buf:        buf,
		segments:   make(chan *transcription.Segment, 64),
		pumpDone:   make(chan struct{}),
		chunkDone:  make(chan struct{}),
		sourceDone: make(chan struct{}),
		resultDone: make(chan struct{}),
		held:       make(map[int64]transcription.Result),
	}, nil
}

// Segments returns the ordered transcript stream. Closed after Stop or
// Abort once all outstanding work has resolved.
func (s *Session) Segments() <-chan *transcription.Segment {
	return s.segments
}

// SourceDone is closed when the capture source is exhausted, for example
// when a piped recording reaches EOF. Live microphones never close it.
func (s *Session) SourceDone() <-chan struct{} {
	return s.sourceDone
}

// Start acquires the capture device and launches the pipeline. A capture
// device failure is fatal and leaves the session unstarted.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.mu.Unlock()

	source, err := s.cfg.Capture.Acquire()
	if err != nil {
		s.markUnstarted()
		return fmt.Errorf("failed to start session: %w", err)
	}
	s.source = source

	if err := s.cfg.Detector.Start(s.buf); err != nil {
		s.cfg.Capture.Release()
		s.markUnstarted()
		return fmt.Errorf("failed to start voice detector: %w", err)
	}
	if err := s.cfg.Chunker.Start(s.buf); err != nil {
		s.cfg.Detector.Stop()
		s.cfg.Capture.Release()
		s.markUnstarted()
		return fmt.Errorf("failed to start chunker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel

	go s.pumpLoop(ctx)
	go s.chunkLoop()
	go s.resultLoop()

	s.logger.Info("session started",
		"sample_rate", source.SampleRate())
	return nil
}

// markUnstarted rolls the started flag back after a failed Start, so the
// session can be retried and Stop does not see a half-built pipeline.
func (s *Session) markUnstarted() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// pumpLoop moves captured frames into the shared buffer.
func (s *Session) pumpLoop(ctx context.Context) {
	defer close(s.pumpDone)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.source.Frames():
			if !ok {
				close(s.sourceDone)
				return
			}
			s.buf.Append(frame)
			s.mu.Lock()
			s.framesCaptured++
			s.mu.Unlock()
		}
	}
}

// chunkLoop gates emitted chunks through the pre-filter and submits them.
// It drains both channels fully so buffered chunks survive a chunker stop.
func (s *Session) chunkLoop() {
	defer close(s.chunkDone)

	chunks := s.cfg.Chunker.Chunks()
	errs := s.cfg.Chunker.Errors()
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			s.submitChunk(chunk)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.mu.Lock()
			s.pipelineFailures++
			s.mu.Unlock()
			s.logger.Warn("chunking error", "error", err)
		}
	}
}

// submitChunk runs the pre-filter and hands the chunk to the orchestrator.
// Submitted chunks are tracked so results can be released in audio order.
func (s *Session) submitChunk(chunk *audio.Chunk) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordChunkGenerated(
			float64(chunk.DurationMs())/1000, len(chunk.Payload))
	}

	if ok, reason := s.cfg.PreFilter.ShouldTranscribe(chunk); !ok {
		s.mu.Lock()
		s.chunksFiltered++
		s.mu.Unlock()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordChunkFiltered(reason)
		}
		s.logger.Debug("chunk filtered before transcription",
			"chunk_id", chunk.ID,
			"reason", reason)
		return
	}

	s.mu.Lock()
	s.pendingStarts = append(s.pendingStarts, chunk.StartMs)
	s.chunksProcessed++
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordTranscriptionRequest()
	}
	if err := s.cfg.Orchestrator.Submit(chunk); err != nil {
		s.resolveStart(chunk.StartMs)
		s.mu.Lock()
		s.pipelineFailures++
		s.mu.Unlock()
		s.logger.Warn("chunk submission failed",
			"chunk_id", chunk.ID,
			"error", err)
	}
}

// resultLoop consumes orchestrator results and releases them in order.
func (s *Session) resultLoop() {
	defer close(s.resultDone)
	defer close(s.segments)

	for result := range s.cfg.Orchestrator.Results() {
		s.recordResultMetrics(result)

		s.mu.Lock()
		s.held[result.Chunk.StartMs] = result
		ready := s.drainReadyLocked()
		s.mu.Unlock()

		for _, r := range ready {
			s.deliver(r)
		}
	}

	// Channel closed with results still held means their chunks were
	// canceled without an emitted result; flush what remains in order.
	s.mu.Lock()
	s.pendingStarts = nil
	remaining := make([]transcription.Result, 0, len(s.held))
	for _, r := range s.held {
		remaining = append(remaining, r)
	}
	s.held = make(map[int64]transcription.Result)
	s.mu.Unlock()

	sortResultsByStart(remaining)
	for _, r := range remaining {
		s.deliver(r)
	}
}

// drainReadyLocked pops results whose every predecessor has resolved.
// Caller holds s.mu.
func (s *Session) drainReadyLocked() []transcription.Result {
	var ready []transcription.Result
	for len(s.pendingStarts) > 0 {
		r, ok := s.held[s.pendingStarts[0]]
		if !ok {
			break
		}
		delete(s.held, s.pendingStarts[0])
		s.pendingStarts = s.pendingStarts[1:]
		ready = append(ready, r)
	}
	return ready
}

// resolveStart removes a start time from the pending order after a
// submission error, so later results are not held forever.
func (s *Session) resolveStart(startMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, start := range s.pendingStarts {
		if start == startMs {
			s.pendingStarts = append(s.pendingStarts[:i], s.pendingStarts[i+1:]...)
			return
		}
	}
}

func (s *Session) recordResultMetrics(result transcription.Result) {
	if s.cfg.Metrics == nil {
		return
	}
	switch result.Status {
	case transcription.StatusOK:
		s.cfg.Metrics.RecordTranscriptionSuccess(0)
	case transcription.StatusCanceled:
		s.cfg.Metrics.RecordTranscriptionCanceled()
	case transcription.StatusFailed:
		s.cfg.Metrics.RecordTranscriptionFailure(0)
	}
	stats := s.cfg.Orchestrator.GetStats()
	s.cfg.Metrics.SetTranscriptionLoad(stats.InFlight, stats.QueueDepth)
}

// deliver turns one successful result into a segment. Failed, canceled, and
// rejected results end the chunk's journey here.
func (s *Session) deliver(result transcription.Result) {
	switch result.Status {
	case transcription.StatusOK:
	case transcription.StatusFailed:
		s.mu.Lock()
		s.pipelineFailures++
		s.mu.Unlock()
		s.logger.Warn("chunk transcription failed",
			"chunk_id", result.Chunk.ID,
			"error", result.Err)
		return
	default:
		s.logger.Debug("chunk resolved without text",
			"chunk_id", result.Chunk.ID,
			"status", result.Status.String())
		return
	}

	if ok, reason := s.cfg.PostFilter.Accept(result.Text, result.Confidence, result.HasConfidence); !ok {
		s.mu.Lock()
		s.resultsFiltered++
		s.mu.Unlock()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordResultFiltered(reason)
		}
		s.logger.Debug("transcription result filtered",
			"chunk_id", result.Chunk.ID,
			"reason", reason)
		return
	}

	segment := &transcription.Segment{
		ID:            result.Chunk.ID,
		Text:          result.Text,
		StartMs:       result.Chunk.StartMs,
		EndMs:         result.Chunk.EndMs,
		Confidence:    result.Confidence,
		HasConfidence: result.HasConfidence,
	}
	s.attributeSpeaker(segment)

	s.mu.Lock()
	s.segmentsEmitted++
	s.mu.Unlock()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordSegmentDelivered()
	}

	select {
	case s.segments <- segment:
	default:
		s.logger.Warn("segment channel full, dropping segment",
			"segment_id", segment.ID)
	}
}

// attributeSpeaker resolves a "Name: text" prefix against the roster. The
// attribution is a suggestion; SpeakerID stays unset until confirmed.
func (s *Session) attributeSpeaker(segment *transcription.Segment) {
	if s.cfg.Matcher == nil {
		return
	}
	name, rest, ok := diarize.ExtractSpeakerName(segment.Text)
	if !ok {
		return
	}

	match := s.cfg.Matcher.Match(name)
	segment.Text = rest
	segment.SpeakerLabel = match.Label
	segment.MatchConfidence = match.Confidence
	segment.MatchReason = match.Reason
	if match.SpeakerID != "" {
		id := match.SpeakerID
		segment.SuggestedSpeakerID = &id
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordSpeakerMatch(match.Reason)
	}
}

// Stop shuts the pipeline down gracefully: the chunker flushes its partial
// chunk, in-flight transcriptions get until ctx expires to finish, then any
// stragglers are canceled. The segment channel closes once everything has
// resolved. The capture device is released exactly once.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("session not running")
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("stopping session")

	s.pumpCancel()
	<-s.pumpDone

	// Earlier chunks still buffered in the channel must be submitted
	// before the final flush so audio order is preserved.
	final := s.cfg.Chunker.Stop()
	<-s.chunkDone
	if final != nil {
		s.submitChunk(final)
	}

	if err := s.cfg.Orchestrator.Wait(ctx); err != nil {
		s.logger.Warn("shutdown deadline reached, canceling remaining work",
			"error", err)
		s.cfg.Orchestrator.CancelAll()
	}
	s.cfg.Orchestrator.Close()
	<-s.resultDone

	s.cfg.Detector.Stop()

	if err := s.cfg.Capture.Release(); err != nil {
		return fmt.Errorf("failed to release capture device: %w", err)
	}

	s.logger.Info("session stopped",
		"segments_emitted", s.GetStats().SegmentsEmitted)
	return nil
}

// Abort tears the pipeline down immediately, canceling all outstanding
// transcription work. Queued and in-flight chunks resolve as canceled.
func (s *Session) Abort() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("session not running")
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("aborting session")

	s.pumpCancel()
	<-s.pumpDone

	s.cfg.Chunker.Stop()
	<-s.chunkDone
	s.cfg.Orchestrator.CancelAll()
	s.cfg.Orchestrator.Close()
	<-s.resultDone

	s.cfg.Detector.Stop()
	return s.cfg.Capture.Release()
}

// GetStats returns current session statistics.
func (s *Session) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		FramesCaptured:   s.framesCaptured,
		ChunksProcessed:  s.chunksProcessed,
		ChunksFiltered:   s.chunksFiltered,
		ResultsFiltered:  s.resultsFiltered,
		SegmentsEmitted:  s.segmentsEmitted,
		PipelineFailures: s.pipelineFailures,
	}
}

func sortResultsByStart(results []transcription.Result) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Chunk.StartMs < results[j].Chunk.StartMs
	})
}
