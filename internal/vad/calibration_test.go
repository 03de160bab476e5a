package vad

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
)

func TestDeriveThresholds(t *testing.T) {
	// Quiet room: levels cluster around 0.02 with the odd bump.
	levels := []float64{0.015, 0.018, 0.02, 0.02, 0.021, 0.022, 0.025, 0.03, 0.04, 0.05}

	speech, silence, err := DeriveThresholds(levels)
	if err != nil {
		t.Fatalf("DeriveThresholds failed: %v", err)
	}

	wantSilence := 0.022*1.5 + 0.01
	if math.Abs(silence-wantSilence) > 1e-9 {
		t.Errorf("Expected silence threshold %f, got %f", wantSilence, silence)
	}

	wantSpeech := 0.05 * 2
	if math.Abs(speech-wantSpeech) > 1e-9 {
		t.Errorf("Expected speech threshold %f, got %f", wantSpeech, speech)
	}
}

func TestDeriveThresholdsEnforcesGap(t *testing.T) {
	// Flat near-zero ambience: the doubled p90 would land below the
	// silence threshold, so the minimum gap applies.
	levels := []float64{0.001, 0.001, 0.001, 0.001, 0.001}

	speech, silence, err := DeriveThresholds(levels)
	if err != nil {
		t.Fatalf("DeriveThresholds failed: %v", err)
	}
	if speech < silence+0.03 {
		t.Errorf("Expected at least 0.03 between thresholds, got speech=%f silence=%f", speech, silence)
	}
}

func TestDeriveThresholdsEmpty(t *testing.T) {
	if _, _, err := DeriveThresholds(nil); err == nil {
		t.Errorf("Expected error for no calibration samples")
	}
}

func TestCalibrateFromAmbientAudio(t *testing.T) {
	d := newTestDetector(t)

	buf, err := audio.NewBuffer(testSampleRate, 512, 256)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	// Half a second of faint hum.
	buf.Append(genTone(150, 0.02, testSampleRate/2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Calibrate(ctx, buf, 200*time.Millisecond); err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	speech, silence := d.Thresholds()
	if silence <= 0 || speech <= silence {
		t.Errorf("Calibration produced unusable thresholds: speech=%f silence=%f", speech, silence)
	}
	// The faint hum must sit below the calibrated speech threshold.
	if level := d.weightedLoudness(genTone(150, 0.02, 512)); level >= speech {
		t.Errorf("Ambient level %f not below calibrated speech threshold %f", level, speech)
	}
}

func TestCalibrateWhileRunning(t *testing.T) {
	d := newTestDetector(t)

	buf, err := audio.NewBuffer(testSampleRate, 512, 256)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}

	if err := d.Start(buf); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := d.Calibrate(ctx, buf, 100*time.Millisecond); err == nil {
		t.Errorf("Expected error calibrating a running detector")
	}
}
