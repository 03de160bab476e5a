package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
)

// fakeTranscriber blocks each request until released, so tests control
// exactly when slots free up.
type fakeTranscriber struct {
	started chan string
	release chan struct{}
	err     error

	mu     sync.Mutex
	active int
	peak   int
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{
		started: make(chan string, 64),
		release: make(chan struct{}, 64),
	}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	f.started <- request.ChunkID

	select {
	case <-f.release:
		if f.err != nil {
			return nil, f.err
		}
		return &Response{Text: "text for " + request.ChunkID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTranscriber) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func testChunk(id string, startMs int64) *audio.Chunk {
	return &audio.Chunk{
		ID:      id,
		Payload: make([]byte, 4096),
		StartMs: startMs,
		EndMs:   startMs + 1000,
	}
}

func newTestOrchestrator(fake *fakeTranscriber, maxConcurrent int) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		MaxConcurrent:   maxConcurrent,
		RequestTimeout:  5 * time.Second,
		MinPayloadBytes: 2048,
	}, fake, slog.Default())
}

func collectResult(t *testing.T, o *Orchestrator) Result {
	t.Helper()
	select {
	case result := <-o.Results():
		return result
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for result")
		return Result{}
	}
}

func awaitStart(t *testing.T, fake *fakeTranscriber) string {
	t.Helper()
	select {
	case id := <-fake.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for request to start")
		return ""
	}
}

func TestOrchestratorConcurrencyBound(t *testing.T) {
	fake := newFakeTranscriber()
	o := newTestOrchestrator(fake, 2)

	for i := 0; i < 5; i++ {
		if err := o.Submit(testChunk(fmt.Sprintf("c%d", i), int64(i)*1000)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	awaitStart(t, fake)
	awaitStart(t, fake)

	stats := o.GetStats()
	if stats.InFlight != 2 {
		t.Errorf("Expected 2 in flight, got %d", stats.InFlight)
	}
	if stats.QueueDepth != 3 {
		t.Errorf("Expected 3 queued, got %d", stats.QueueDepth)
	}

	for i := 0; i < 5; i++ {
		fake.release <- struct{}{}
	}
	for i := 0; i < 5; i++ {
		if result := collectResult(t, o); result.Status != StatusOK {
			t.Errorf("Expected StatusOK, got %s", result.Status)
		}
	}

	if peak := fake.peakConcurrency(); peak > 2 {
		t.Errorf("Concurrency bound violated: peak %d", peak)
	}

	stats = o.GetStats()
	if stats.Completed != 5 {
		t.Errorf("Expected 5 completed, got %d", stats.Completed)
	}
	if stats.PeakInFlight != 2 {
		t.Errorf("Expected peak in-flight 2, got %d", stats.PeakInFlight)
	}
}

func TestOrchestratorQueueIsFIFO(t *testing.T) {
	fake := newFakeTranscriber()
	o := newTestOrchestrator(fake, 1)

	for i := 0; i < 4; i++ {
		if err := o.Submit(testChunk(fmt.Sprintf("c%d", i), int64(i)*1000)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	// Each completion frees the single slot for the next queued chunk.
	for i := 0; i < 4; i++ {
		id := awaitStart(t, fake)
		want := fmt.Sprintf("c%d", i)
		if id != want {
			t.Errorf("Expected chunk %s to start, got %s", want, id)
		}
		fake.release <- struct{}{}
		collectResult(t, o)
	}
}

func TestOrchestratorRejectsUndersizedPayload(t *testing.T) {
	fake := newFakeTranscriber()
	o := newTestOrchestrator(fake, 2)

	small := &audio.Chunk{ID: "tiny", Payload: make([]byte, 100)}
	if err := o.Submit(small); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	result := collectResult(t, o)
	if result.Status != StatusRejected {
		t.Errorf("Expected StatusRejected, got %s", result.Status)
	}
	if result.Err == nil {
		t.Errorf("Expected rejection error on result")
	}

	stats := o.GetStats()
	if stats.Rejected != 1 {
		t.Errorf("Expected 1 rejected, got %d", stats.Rejected)
	}
	if stats.InFlight != 0 {
		t.Errorf("Expected rejection to consume no slot, got %d in flight", stats.InFlight)
	}
}

func TestOrchestratorCancelAll(t *testing.T) {
	fake := newFakeTranscriber()
	o := newTestOrchestrator(fake, 1)

	for i := 0; i < 3; i++ {
		if err := o.Submit(testChunk(fmt.Sprintf("c%d", i), int64(i)*1000)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	awaitStart(t, fake)

	o.CancelAll()

	// The in-flight request and both queued chunks all resolve canceled.
	for i := 0; i < 3; i++ {
		if result := collectResult(t, o); result.Status != StatusCanceled {
			t.Errorf("Expected StatusCanceled, got %s", result.Status)
		}
	}

	if err := o.Submit(testChunk("late", 9000)); err == nil {
		t.Errorf("Expected Submit after CancelAll to fail")
	}

	stats := o.GetStats()
	if stats.Canceled != 3 {
		t.Errorf("Expected 3 canceled, got %d", stats.Canceled)
	}
}

func TestOrchestratorCloseDrainsQueue(t *testing.T) {
	fake := newFakeTranscriber()
	o := newTestOrchestrator(fake, 1)

	if err := o.Submit(testChunk("c0", 0)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := o.Submit(testChunk("c1", 1000)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	awaitStart(t, fake)

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()

	// Queued work still runs to completion during the drain.
	fake.release <- struct{}{}
	collectResult(t, o)
	awaitStart(t, fake)
	fake.release <- struct{}{}
	collectResult(t, o)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return after the drain")
	}

	if err := o.Submit(testChunk("late", 9000)); err == nil {
		t.Errorf("Expected Submit after Close to fail")
	}

	if _, open := <-o.Results(); open {
		t.Errorf("Expected results channel closed after Close")
	}
}

func TestOrchestratorFailedRequest(t *testing.T) {
	fake := newFakeTranscriber()
	fake.err = fmt.Errorf("service exploded")
	o := newTestOrchestrator(fake, 1)

	if err := o.Submit(testChunk("c0", 0)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	awaitStart(t, fake)
	fake.release <- struct{}{}

	result := collectResult(t, o)
	if result.Status != StatusFailed {
		t.Errorf("Expected StatusFailed, got %s", result.Status)
	}
	if result.Err == nil {
		t.Errorf("Expected error on failed result")
	}

	if stats := o.GetStats(); stats.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.Failed)
	}
}

func TestOrchestratorWaitTimeout(t *testing.T) {
	fake := newFakeTranscriber()
	o := newTestOrchestrator(fake, 1)

	if err := o.Submit(testChunk("c0", 0)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	awaitStart(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := o.Wait(ctx); err == nil {
		t.Errorf("Expected Wait to time out with a request in flight")
	}

	fake.release <- struct{}{}
	if err := o.Wait(context.Background()); err != nil {
		t.Errorf("Expected Wait to succeed after completion, got %v", err)
	}
}

func TestOrchestratorSubmitNil(t *testing.T) {
	o := newTestOrchestrator(newFakeTranscriber(), 1)
	if err := o.Submit(nil); err == nil {
		t.Errorf("Expected error submitting nil chunk")
	}
}

func TestResultStatusString(t *testing.T) {
	tests := []struct {
		status ResultStatus
		want   string
	}{
		{StatusOK, "ok"},
		{StatusRejected, "rejected"},
		{StatusCanceled, "canceled"},
		{StatusFailed, "failed"},
		{ResultStatus(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Expected '%s', got '%s'", tt.want, got)
		}
	}
}
