package audio

import (
	"github.com/google/uuid"
)

// Chunk is a bounded slice of captured audio handed to the transcription
// service as one unit. Chunks are immutable once emitted by a chunker;
// ownership transfers on hand-off between pipeline stages.
type Chunk struct {
	ID         string  `json:"id"`
	PCM        []int16 `json:"-"`
	Payload    []byte  `json:"-"` // encoded audio (WAV)
	SampleRate int     `json:"sample_rate"`
	StartMs    int64   `json:"start_ms"` // offset from session start
	EndMs      int64   `json:"end_ms"`
}

// NewChunk creates a chunk with a fresh identifier. The payload is filled
// in by the chunker once the samples are encoded.
func NewChunk(pcm []int16, sampleRate int, startMs, endMs int64) *Chunk {
	return &Chunk{
		ID:         uuid.NewString(),
		PCM:        pcm,
		SampleRate: sampleRate,
		StartMs:    startMs,
		EndMs:      endMs,
	}
}

// DurationMs returns the chunk length in milliseconds.
func (c *Chunk) DurationMs() int64 {
	return c.EndMs - c.StartMs
}
