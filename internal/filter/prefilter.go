package filter

import (
	"math"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
)

// Pre-filter defaults.
const (
	DefaultSilenceRMS     = 0.01
	DefaultMaxSilentRatio = 0.7
	DefaultRMSWindow      = 50 * time.Millisecond
)

// PreFilter rejects chunks that are mostly silence before they reach the
// transcription service.
type PreFilter struct {
	// SilenceRMS is the normalized RMS below which a window counts as silent.
	SilenceRMS float64
	// MaxSilentRatio is the silent-window ratio above which the chunk is rejected.
	MaxSilentRatio float64
	// RMSWindow is the analysis window size.
	RMSWindow time.Duration
}

// NewPreFilter creates a pre-filter with default thresholds.
func NewPreFilter() *PreFilter {
	return &PreFilter{
		SilenceRMS:     DefaultSilenceRMS,
		MaxSilentRatio: DefaultMaxSilentRatio,
		RMSWindow:      DefaultRMSWindow,
	}
}

// ShouldTranscribe decides whether the chunk is worth a transcription call.
// A decode failure fails open: the chunk is forwarded rather than risking
// the loss of real speech.
func (f *PreFilter) ShouldTranscribe(chunk *audio.Chunk) (ok bool, reason string) {
	samples := chunk.PCM
	sampleRate := chunk.SampleRate

	if len(samples) == 0 {
		decoded, rate, err := audio.DecodeWAV(chunk.Payload)
		if err != nil {
			return true, "decode_failed_fail_open"
		}
		samples = decoded
		sampleRate = rate
	}
	if len(samples) == 0 {
		return false, "empty"
	}

	ratio := SilentWindowRatio(samples, sampleRate, f.RMSWindow, f.SilenceRMS)
	if ratio > f.MaxSilentRatio {
		return false, "mostly_silence"
	}
	return true, ""
}

// SilentWindowRatio computes the fraction of fixed-size windows whose
// normalized RMS energy falls below the silence threshold.
func SilentWindowRatio(samples []int16, sampleRate int, window time.Duration, silenceRMS float64) float64 {
	windowSamples := int(window.Seconds() * float64(sampleRate))
	if windowSamples <= 0 {
		windowSamples = len(samples)
	}

	var silent, total int
	for start := 0; start < len(samples); start += windowSamples {
		end := start + windowSamples
		if end > len(samples) {
			end = len(samples)
		}
		total++
		if RMS(samples[start:end]) < silenceRMS {
			silent++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(silent) / float64(total)
}

// RMS computes the root-mean-square energy of the samples, normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
