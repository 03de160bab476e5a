package chunker

import (
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/vad"
)

// Smart aligns chunk boundaries with detected speech/silence transitions.
// It waits out active speech past the nominal boundary (up to MaxDuration)
// and cuts early once the room has gone quiet, reducing mid-word cuts.
type Smart struct {
	*core
	detector *vad.Detector

	// silence must persist this long before an early cut.
	earlyCutSilence time.Duration

	// set when the current chunk has seen speech; only touched by the
	// boundary loop.
	sawSpeech bool
}

// NewSmart creates a VAD-aware chunker backed by the given detector.
func NewSmart(cfg Config, detector *vad.Detector) *Smart {
	return &Smart{
		core:            newCore(cfg),
		detector:        detector,
		earlyCutSilence: 700 * time.Millisecond,
	}
}

// Start begins VAD-aware chunking over the capture buffer.
func (s *Smart) Start(buf *audio.Buffer) error {
	return s.core.start(buf, s.shouldCut)
}

// Stop halts chunking and returns the flushed final chunk, if any.
func (s *Smart) Stop() *audio.Chunk {
	return s.core.stop()
}

func (s *Smart) shouldCut(buffered time.Duration) bool {
	state := s.detector.State()
	if state.Speaking {
		s.sawSpeech = true
	}

	if buffered < s.cfg.MinDuration {
		return false
	}
	if buffered >= s.cfg.MaxDuration {
		s.sawSpeech = false
		return true
	}

	if buffered >= s.cfg.ChunkDuration {
		// Nominal boundary reached: extend only while speech is in flight.
		if !state.Speaking {
			s.sawSpeech = false
			return true
		}
		return false
	}
	// Before the nominal boundary, cut early once an utterance has ended
	// and the silence has settled, so short remarks reach transcription
	// sooner.
	if s.sawSpeech && !state.Speaking && state.SilenceDuration >= s.earlyCutSilence {
		s.sawSpeech = false
		return true
	}
	return false
}
