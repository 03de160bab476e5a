package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
)

// Orchestrator defaults.
const (
	DefaultMaxConcurrent   = 4
	DefaultRequestTimeout  = 180 * time.Second
	DefaultMinPayloadBytes = 2048
	resultChannelSize      = 128
)

// Transcriber performs one transcription request. *Client satisfies it; tests
// substitute their own implementations.
type Transcriber interface {
	Transcribe(ctx context.Context, request *Request) (*Response, error)
}

// ResultStatus describes how a chunk's transcription attempt ended.
type ResultStatus int

const (
	// StatusOK means the service returned text.
	StatusOK ResultStatus = iota
	// StatusRejected means the chunk was refused before any request was made.
	StatusRejected
	// StatusCanceled means the request was canceled before completing.
	StatusCanceled
	// StatusFailed means the request ran and failed.
	StatusFailed
)

// String returns the status name for logging.
func (s ResultStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one chunk's trip through the orchestrator.
// Confidence is only meaningful when HasConfidence is true.
type Result struct {
	Chunk         *audio.Chunk
	Text          string
	Confidence    float64
	HasConfidence bool
	Status        ResultStatus
	Err           error
}

// OrchestratorConfig bounds the orchestrator's resource usage.
type OrchestratorConfig struct {
	MaxConcurrent   int
	RequestTimeout  time.Duration
	MinPayloadBytes int
}

// DefaultOrchestratorConfig returns production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrent:   DefaultMaxConcurrent,
		RequestTimeout:  DefaultRequestTimeout,
		MinPayloadBytes: DefaultMinPayloadBytes,
	}
}

// OrchestratorStats describes orchestrator activity for monitoring.
type OrchestratorStats struct {
	Submitted    uint64 `json:"submitted"`
	Completed    uint64 `json:"completed"`
	Rejected     uint64 `json:"rejected"`
	Canceled     uint64 `json:"canceled"`
	Failed       uint64 `json:"failed"`
	InFlight     int    `json:"in_flight"`
	QueueDepth   int    `json:"queue_depth"`
	PeakInFlight int    `json:"peak_in_flight"`
	PeakQueue    int    `json:"peak_queue"`
}

// Orchestrator runs transcription requests with a hard concurrency bound.
// Chunks submitted while all slots are busy wait in a FIFO queue; each
// completion drains exactly one queued chunk, preserving submission order.
// Every in-flight request is registered with its cancel function so that
// CancelAll can abort the whole set during teardown.
type Orchestrator struct {
	config OrchestratorConfig
	client Transcriber
	logger *slog.Logger

	results chan Result

	mu       sync.Mutex
	pending  map[string]context.CancelFunc // chunk ID -> in-flight cancel
	queue    []*audio.Chunk
	wg       sync.WaitGroup
	closed   bool
	canceled bool

	submitted    uint64
	completed    uint64
	rejected     uint64
	canceledN    uint64
	failed       uint64
	peakInFlight int
	peakQueue    int
}

// NewOrchestrator creates an orchestrator around the given transcriber.
func NewOrchestrator(config OrchestratorConfig, client Transcriber, logger *slog.Logger) *Orchestrator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		config:  config,
		client:  client,
		logger:  logger,
		results: make(chan Result, resultChannelSize),
		pending: make(map[string]context.CancelFunc),
	}
}

// Results returns the channel of transcription outcomes. The channel is
// closed by Close after all work has resolved.
func (o *Orchestrator) Results() <-chan Result {
	return o.results
}

// Submit hands a chunk to the orchestrator. Undersized payloads are rejected
// immediately without consuming a slot. When all slots are busy the chunk
// joins the FIFO queue. Submitting after Close or CancelAll is an error.
func (o *Orchestrator) Submit(chunk *audio.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	o.mu.Lock()
	if o.closed || o.canceled {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is shut down")
	}
	o.submitted++

	if len(chunk.Payload) < o.config.MinPayloadBytes {
		o.rejected++
		o.mu.Unlock()
		o.logger.Debug("chunk rejected before submission",
			"chunk_id", chunk.ID,
			"payload_bytes", len(chunk.Payload),
			"min_bytes", o.config.MinPayloadBytes)
		o.emit(Result{
			Chunk:  chunk,
			Status: StatusRejected,
			Err:    fmt.Errorf("payload too small: %d bytes", len(chunk.Payload)),
		})
		return nil
	}

	if len(o.pending) >= o.config.MaxConcurrent {
		o.queue = append(o.queue, chunk)
		if len(o.queue) > o.peakQueue {
			o.peakQueue = len(o.queue)
		}
		depth := len(o.queue)
		o.mu.Unlock()
		o.logger.Debug("chunk queued, all slots busy",
			"chunk_id", chunk.ID,
			"queue_depth", depth)
		return nil
	}

	o.startLocked(chunk)
	o.mu.Unlock()
	return nil
}

// startLocked launches the request goroutine for chunk. Caller holds o.mu.
func (o *Orchestrator) startLocked(chunk *audio.Chunk) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.RequestTimeout)
	o.pending[chunk.ID] = cancel
	if len(o.pending) > o.peakInFlight {
		o.peakInFlight = len(o.pending)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		start := time.Now()
		response, err := o.client.Transcribe(ctx, &Request{
			ChunkID: chunk.ID,
			Audio:   chunk.Payload,
			StartMs: chunk.StartMs,
			EndMs:   chunk.EndMs,
		})

		result := Result{Chunk: chunk}
		switch {
		case err == nil:
			result.Status = StatusOK
			result.Text = response.Text
			if response.Confidence != nil {
				result.Confidence = *response.Confidence
				result.HasConfidence = true
			}
		case ctx.Err() != nil:
			result.Status = StatusCanceled
			result.Err = ctx.Err()
		default:
			result.Status = StatusFailed
			result.Err = err
		}

		o.finish(chunk.ID, result, time.Since(start))
	}()
}

// finish records the outcome, emits the result, and drains exactly one
// queued chunk into the freed slot.
func (o *Orchestrator) finish(chunkID string, result Result, elapsed time.Duration) {
	o.mu.Lock()
	delete(o.pending, chunkID)
	switch result.Status {
	case StatusOK:
		o.completed++
	case StatusCanceled:
		o.canceledN++
	case StatusFailed:
		o.failed++
	}

	// Drain continues after Close so queued chunks still resolve; only
	// CancelAll stops the queue.
	var next *audio.Chunk
	if !o.canceled && len(o.queue) > 0 {
		next = o.queue[0]
		o.queue = o.queue[1:]
		o.startLocked(next)
	}
	o.mu.Unlock()

	switch result.Status {
	case StatusOK:
		o.logger.Debug("transcription completed",
			"chunk_id", chunkID,
			"duration", elapsed,
			"text_length", len(result.Text))
	case StatusCanceled:
		o.logger.Debug("transcription canceled",
			"chunk_id", chunkID,
			"duration", elapsed)
	default:
		o.logger.Warn("transcription failed",
			"chunk_id", chunkID,
			"duration", elapsed,
			"error", result.Err)
	}
	if next != nil {
		o.logger.Debug("dequeued next chunk", "chunk_id", next.ID)
	}

	o.emit(result)
}

// emit delivers the result without blocking the request goroutine forever.
// A full channel indicates the consumer stalled; the result is dropped with
// a warning rather than wedging teardown.
func (o *Orchestrator) emit(result Result) {
	select {
	case o.results <- result:
	default:
		o.logger.Warn("result channel full, dropping result",
			"chunk_id", result.Chunk.ID,
			"status", result.Status.String())
	}
}

// CancelAll aborts every in-flight request and resolves every queued chunk
// as canceled. The orchestrator accepts no further submissions afterwards.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	if o.canceled {
		o.mu.Unlock()
		return
	}
	o.canceled = true

	inFlight := len(o.pending)
	for _, cancel := range o.pending {
		cancel()
	}
	queued := o.queue
	o.queue = nil
	o.canceledN += uint64(len(queued))
	o.mu.Unlock()

	o.logger.Info("canceling all transcription work",
		"in_flight", inFlight,
		"queued", len(queued))

	for _, chunk := range queued {
		o.emit(Result{
			Chunk:  chunk,
			Status: StatusCanceled,
			Err:    context.Canceled,
		})
	}
}

// Wait blocks until every in-flight request has resolved or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting submissions, waits for outstanding requests, and
// closes the results channel. Call CancelAll first to abort instead of
// draining.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.wg.Wait()
	close(o.results)
}

// GetStats returns current orchestrator statistics.
func (o *Orchestrator) GetStats() OrchestratorStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OrchestratorStats{
		Submitted:    o.submitted,
		Completed:    o.completed,
		Rejected:     o.rejected,
		Canceled:     o.canceledN,
		Failed:       o.failed,
		InFlight:     len(o.pending),
		QueueDepth:   len(o.queue),
		PeakInFlight: o.peakInFlight,
		PeakQueue:    o.peakQueue,
	}
}
