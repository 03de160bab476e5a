package vad

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
)

// DeriveThresholds computes speech/silence thresholds from raw loudness
// observations of ambient (non-speech) audio. The silence threshold tracks
// the median ambient level with headroom; the speech threshold sits above
// the 90th percentile so that room noise never trips detection.
func DeriveThresholds(levels []float64) (speech, silence float64, err error) {
	if len(levels) == 0 {
		return 0, 0, fmt.Errorf("no calibration samples")
	}

	sorted := make([]float64, len(levels))
	copy(sorted, levels)
	sort.Float64s(sorted)

	median := sorted[len(sorted)/2]
	p90 := sorted[(len(sorted)*9)/10]
	if (len(sorted)*9)/10 >= len(sorted) {
		p90 = sorted[len(sorted)-1]
	}

	silence = median*1.5 + 0.01
	speech = p90 * 2
	if speech < silence+0.03 {
		speech = silence + 0.03
	}
	if speech > 1 {
		speech = 1
	}
	return speech, silence, nil
}

// Calibrate samples ambient audio from the buffer for the given window of
// audio time, derives thresholds, and applies them. It must be called
// before Start, while the room is quiet.
func (d *Detector) Calibrate(ctx context.Context, buf *audio.Buffer, window time.Duration) error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		return fmt.Errorf("cannot calibrate while detector is running")
	}

	needed := int(window / buf.HopDuration())
	if needed < 1 {
		needed = 1
	}

	levels := make([]float64, 0, needed)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for len(levels) < needed {
		select {
		case <-ctx.Done():
			return fmt.Errorf("calibration aborted: %w", ctx.Err())
		case <-ticker.C:
			for len(levels) < needed && d.nextWindowIndex() < buf.AvailableWindows() {
				w, err := buf.GetWindow(d.nextWindowIndex())
				if err != nil {
					d.advanceWindow()
					continue
				}
				levels = append(levels, d.weightedLoudness(w.Samples))
				d.advanceWindow()
			}
		}
	}

	speech, silence, err := DeriveThresholds(levels)
	if err != nil {
		return err
	}
	return d.SetThresholds(speech, silence)
}
