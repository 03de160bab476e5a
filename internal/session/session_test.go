package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/chunker"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/diarize"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/transcription"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/vad"
)

const testSampleRate = 16000

// scriptedSource is a capture source fed by the test, with call counting to
// verify the device lifecycle.
type scriptedSource struct {
	frames   chan []int16
	startErr error

	mu     sync.Mutex
	starts int
	closes int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{frames: make(chan []int16, 64)}
}

func (s *scriptedSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	return nil
}

func (s *scriptedSource) Frames() <-chan []int16 { return s.frames }
func (s *scriptedSource) SampleRate() int        { return testSampleRate }

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *scriptedSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// orderScrambler answers every request but holds the earliest chunk longest,
// so completions arrive out of audio order.
type orderScrambler struct {
	text func(startMs int64) string
}

func (f *orderScrambler) Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Response, error) {
	delay := 10 * time.Millisecond
	if req.StartMs == 0 {
		delay = 300 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &transcription.Response{Text: f.text(req.StartMs)}, nil
}

// blockedTranscriber never answers; requests resolve only via cancellation.
type blockedTranscriber struct{}

func (blockedTranscriber) Transcribe(ctx context.Context, req *transcription.Request) (*transcription.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func toneFrame(d time.Duration) []int16 {
	n := int(d.Seconds() * testSampleRate)
	out := make([]int16, n)
	for i := range out {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(testSampleRate))
		out[i] = int16(v * 32767)
	}
	return out
}

type sessionParts struct {
	source  *scriptedSource
	session *Session
}

func buildSession(t *testing.T, client transcription.Transcriber, chunkDuration time.Duration, matcher *diarize.Matcher) sessionParts {
	t.Helper()

	buf, err := audio.NewBuffer(testSampleRate, 512, 256)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	detector, err := vad.NewDetector(vad.Config{SampleRate: testSampleRate})
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	source := newScriptedSource()
	orch := transcription.NewOrchestrator(transcription.OrchestratorConfig{
		MaxConcurrent:  4,
		RequestTimeout: 5 * time.Second,
	}, client, nil)

	sess, err := New(Config{
		Capture:  audio.NewCaptureContext(source),
		Detector: detector,
		Chunker: chunker.NewFixed(chunker.Config{
			ChunkDuration: chunkDuration,
			MaxDuration:   chunkDuration * 10,
			PollInterval:  10 * time.Millisecond,
		}),
		Orchestrator: orch,
		Matcher:      matcher,
	}, buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return sessionParts{source: source, session: sess}
}

func waitForChunks(t *testing.T, sess *Session, n uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for sess.GetStats().ChunksProcessed < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d processed chunks, have %d",
				n, sess.GetStats().ChunksProcessed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func collectSegments(t *testing.T, sess *Session) []*transcription.Segment {
	t.Helper()
	var out []*transcription.Segment
	for {
		select {
		case segment, ok := <-sess.Segments():
			if !ok {
				return out
			}
			out = append(out, segment)
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out waiting for segment channel to close")
		}
	}
}

func TestSessionDeliversSegmentsInAudioOrder(t *testing.T) {
	client := &orderScrambler{text: func(startMs int64) string {
		return fmt.Sprintf("spoken words starting at %d ms", startMs)
	}}
	parts := buildSession(t, client, 200*time.Millisecond, nil)

	if err := parts.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Three chunk boundaries, one at a time so the cuts are deterministic.
	for i := uint64(1); i <= 3; i++ {
		parts.source.frames <- toneFrame(250 * time.Millisecond)
		waitForChunks(t, parts.session, i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := parts.session.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	segments := collectSegments(t, parts.session)
	if len(segments) < 3 {
		t.Fatalf("Expected at least 3 segments, got %d", len(segments))
	}

	// The first chunk finished last, but its segment still comes out first.
	if segments[0].StartMs != 0 {
		t.Errorf("Expected first segment to start at 0ms, got %d", segments[0].StartMs)
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].StartMs <= segments[i-1].StartMs {
			t.Errorf("Segments out of order: %dms after %dms",
				segments[i].StartMs, segments[i-1].StartMs)
		}
	}

	if n := parts.source.closeCount(); n != 1 {
		t.Errorf("Expected capture device closed exactly once, closed %d times", n)
	}
}

func TestSessionStopFlushesPartialChunk(t *testing.T) {
	client := &orderScrambler{text: func(startMs int64) string {
		return "the tail end of the meeting"
	}}
	// A 10s boundary never fires on its own; only Stop's flush produces audio.
	parts := buildSession(t, client, 10*time.Second, nil)

	if err := parts.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	parts.source.frames <- toneFrame(500 * time.Millisecond)
	// Let the pump move the frame into the buffer before stopping.
	deadline := time.Now().Add(time.Second)
	for parts.session.GetStats().FramesCaptured == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Frame never reached the buffer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := parts.session.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	segments := collectSegments(t, parts.session)
	if len(segments) != 1 {
		t.Fatalf("Expected exactly 1 flushed segment, got %d", len(segments))
	}
	if segments[0].StartMs != 0 {
		t.Errorf("Expected flushed segment to start at 0ms, got %d", segments[0].StartMs)
	}
}

func TestSessionAttributesSpeakers(t *testing.T) {
	matcher := diarize.NewMatcher(nil, nil)
	matcher.SetParticipants([]diarize.Speaker{{ID: "a1", Name: "Alice"}})

	client := &orderScrambler{text: func(startMs int64) string {
		return "Alice: the budget looks fine to me"
	}}
	parts := buildSession(t, client, 10*time.Second, matcher)

	if err := parts.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	parts.source.frames <- toneFrame(500 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for parts.session.GetStats().FramesCaptured == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Frame never reached the buffer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := parts.session.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	segments := collectSegments(t, parts.session)
	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}

	segment := segments[0]
	if segment.SpeakerLabel != "Alice" {
		t.Errorf("Expected speaker label 'Alice', got '%s'", segment.SpeakerLabel)
	}
	if segment.SuggestedSpeakerID == nil || *segment.SuggestedSpeakerID != "a1" {
		t.Errorf("Expected suggested speaker a1, got %v", segment.SuggestedSpeakerID)
	}
	if segment.SpeakerID != nil {
		t.Errorf("Expected no confirmed speaker without human review")
	}
	if segment.Text != "the budget looks fine to me" {
		t.Errorf("Expected name prefix stripped from text, got '%s'", segment.Text)
	}
	if segment.MatchReason != "participant" {
		t.Errorf("Expected match reason 'participant', got '%s'", segment.MatchReason)
	}
}

func TestSessionAbortCancelsOutstandingWork(t *testing.T) {
	parts := buildSession(t, blockedTranscriber{}, 200*time.Millisecond, nil)

	if err := parts.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	parts.source.frames <- toneFrame(250 * time.Millisecond)
	waitForChunks(t, parts.session, 1)

	if err := parts.session.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	// Canceled chunks never become segments; the channel just closes.
	segments := collectSegments(t, parts.session)
	if len(segments) != 0 {
		t.Errorf("Expected no segments after abort, got %d", len(segments))
	}
	if n := parts.source.closeCount(); n != 1 {
		t.Errorf("Expected capture device closed exactly once, closed %d times", n)
	}
}

func TestSessionStartFailsOnDeviceError(t *testing.T) {
	parts := buildSession(t, blockedTranscriber{}, time.Second, nil)
	parts.source.startErr = fmt.Errorf("device busy")

	if err := parts.session.Start(); err == nil {
		t.Fatalf("Expected Start to fail when the device cannot open")
	}
	if err := parts.session.Stop(context.Background()); err == nil {
		t.Errorf("Expected Stop of an unstarted pipeline to fail")
	}
}

func TestSessionDoubleStart(t *testing.T) {
	parts := buildSession(t, &orderScrambler{text: func(int64) string { return "irrelevant" }},
		time.Second, nil)

	if err := parts.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := parts.session.Start(); err == nil {
		t.Errorf("Expected second Start to fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := parts.session.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
