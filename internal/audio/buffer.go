package audio

import (
	"fmt"
	"sync"
	"time"
)

// Buffer accumulates the continuous PCM stream from the capture device and
// exposes it two ways: fixed-size overlapping analysis windows for the VAD,
// and arbitrary sample ranges for chunk extraction. Sample positions are
// absolute offsets from the start of the session so that trimming old audio
// does not invalidate indices held by consumers.
type Buffer struct {
	sampleRate int
	windowSize int // samples per VAD analysis window
	hopSize    int // samples between consecutive window starts

	base int64   // absolute offset of pcm[0]
	pcm  []int16 // retained audio

	totalAppended int64
	lastUpdate    time.Time

	mu sync.RWMutex
}

// Window is one fixed-size slice of samples for VAD analysis.
type Window struct {
	Samples     []int16
	StartSample int64
	Time        time.Time
}

// BufferStats describes the buffer for monitoring.
type BufferStats struct {
	SampleRate      int   `json:"sample_rate"`
	TotalSamples    int64 `json:"total_samples"`
	RetainedSamples int   `json:"retained_samples"`
	TrimmedSamples  int64 `json:"trimmed_samples"`
}

// NewBuffer creates a buffer for the given sample rate and VAD window
// geometry. hopSize must not exceed windowSize.
func NewBuffer(sampleRate, windowSize, hopSize int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if hopSize <= 0 || hopSize > windowSize {
		return nil, fmt.Errorf("hop size must be in (0, %d], got %d", windowSize, hopSize)
	}
	return &Buffer{
		sampleRate: sampleRate,
		windowSize: windowSize,
		hopSize:    hopSize,
		pcm:        make([]int16, 0, sampleRate*2),
		lastUpdate: time.Now(),
	}, nil
}

// Append adds captured samples to the buffer.
func (b *Buffer) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pcm = append(b.pcm, samples...)
	b.totalAppended += int64(len(samples))
	b.lastUpdate = time.Now()
}

// TotalSamples returns the absolute number of samples ever appended.
func (b *Buffer) TotalSamples() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalAppended
}

// Range copies the samples in the absolute interval [from, to). It fails if
// part of the interval has already been trimmed or not yet been captured.
func (b *Buffer) Range(from, to int64) ([]int16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if from < b.base {
		return nil, fmt.Errorf("range start %d already trimmed (base %d)", from, b.base)
	}
	if to > b.totalAppended {
		return nil, fmt.Errorf("range end %d beyond captured audio (%d)", to, b.totalAppended)
	}
	if from >= to {
		return nil, fmt.Errorf("invalid range [%d, %d)", from, to)
	}

	out := make([]int16, to-from)
	copy(out, b.pcm[from-b.base:to-b.base])
	return out, nil
}

// AvailableWindows returns how many complete analysis windows the captured
// audio covers, counted from sample zero.
func (b *Buffer) AvailableWindows() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.totalAppended < int64(b.windowSize) {
		return 0
	}
	return int((b.totalAppended-int64(b.windowSize))/int64(b.hopSize)) + 1
}

// GetWindow extracts analysis window index (windows advance by hopSize).
func (b *Buffer) GetWindow(index int) (*Window, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := int64(index) * int64(b.hopSize)
	end := start + int64(b.windowSize)

	if start < b.base {
		return nil, fmt.Errorf("window %d already trimmed", index)
	}
	if end > b.totalAppended {
		return nil, fmt.Errorf("window %d not yet complete: need %d samples, have %d",
			index, end, b.totalAppended)
	}

	samples := make([]int16, b.windowSize)
	copy(samples, b.pcm[start-b.base:end-b.base])

	return &Window{
		Samples:     samples,
		StartSample: start,
		Time:        b.lastUpdate,
	}, nil
}

// Trim discards audio older than keepSamples, keeping memory bounded during
// long meetings. Consumers holding absolute offsets into trimmed audio will
// get an error from Range/GetWindow.
func (b *Buffer) Trim(keepSamples int) {
	if keepSamples <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// Only trim when there is meaningfully more than the retention target.
	if len(b.pcm) <= keepSamples*2 {
		return
	}
	drop := len(b.pcm) - keepSamples
	copy(b.pcm, b.pcm[drop:])
	b.pcm = b.pcm[:keepSamples]
	b.base += int64(drop)
}

// SampleRate returns the buffer's sample rate.
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// WindowDuration returns the audio time covered by one analysis window.
func (b *Buffer) WindowDuration() time.Duration {
	return time.Duration(b.windowSize) * time.Second / time.Duration(b.sampleRate)
}

// HopDuration returns the audio time between consecutive window starts.
func (b *Buffer) HopDuration() time.Duration {
	return time.Duration(b.hopSize) * time.Second / time.Duration(b.sampleRate)
}

// LastUpdate returns the time of the most recent append.
func (b *Buffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// SamplesToMs converts an absolute sample offset to milliseconds.
func (b *Buffer) SamplesToMs(samples int64) int64 {
	return samples * 1000 / int64(b.sampleRate)
}

// GetStats returns current buffer statistics.
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		SampleRate:      b.sampleRate,
		TotalSamples:    b.totalAppended,
		RetainedSamples: len(b.pcm),
		TrimmedSamples:  b.base,
	}
}
