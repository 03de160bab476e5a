package vad

import (
	"math"
	"testing"
	"time"
)

const testSampleRate = 16000

// genTone produces one analysis window of a sine at freq with the given
// amplitude (0..1 of full scale).
func genTone(freq float64, amplitude float64, samples int) []int16 {
	out := make([]int16, samples)
	for i := range out {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(testSampleRate))
		out[i] = int16(v * 32767)
	}
	return out
}

func genSilence(samples int) []int16 {
	return make([]int16, samples)
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(Config{
		SampleRate:         testSampleRate,
		SmoothingFactor:    0.8,
		SpeechThreshold:    0.12,
		SilenceThreshold:   0.04,
		MinSpeechDuration:  200 * time.Millisecond,
		MinSilenceDuration: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return d
}

func TestWeightedLoudnessSeparatesSpeechFromSilence(t *testing.T) {
	d := newTestDetector(t)

	voiced := d.weightedLoudness(genTone(800, 0.8, 512))
	quiet := d.weightedLoudness(genSilence(512))

	if voiced <= 0.12 {
		t.Errorf("Expected voiced window above speech threshold, got %f", voiced)
	}
	if quiet >= 0.04 {
		t.Errorf("Expected silent window below silence threshold, got %f", quiet)
	}
}

func TestWeightedLoudnessDiscountsOutOfBand(t *testing.T) {
	d := newTestDetector(t)

	formant := d.weightedLoudness(genTone(800, 0.5, 512))
	hiss := d.weightedLoudness(genTone(6500, 0.5, 512))

	if hiss >= formant {
		t.Errorf("Expected out-of-band tone (%f) to score below formant tone (%f)", hiss, formant)
	}
}

func TestDetectorSpeechStartAfterSustainedLoudness(t *testing.T) {
	d := newTestDetector(t)

	// 32ms windows; speech must persist 200ms after the smoothed level
	// crosses the threshold before the state flips.
	window := genTone(800, 0.8, 512)
	var flippedAt int
	for i := 0; i < 30; i++ {
		state := d.Process(window)
		if state.Speaking {
			flippedAt = i
			break
		}
	}

	if flippedAt == 0 {
		t.Fatalf("Detector never entered speaking state")
	}
	// 200ms / 32ms ~ 7 windows of confirmed speech, plus smoothing ramp-up.
	if flippedAt < 7 {
		t.Errorf("Speaking state entered too early, at window %d", flippedAt)
	}

	select {
	case e := <-d.Events():
		if e.Kind != EventSpeechStart {
			t.Errorf("Expected speech start event, got kind %d", e.Kind)
		}
	default:
		t.Errorf("Expected a speech start event on the channel")
	}
}

func TestDetectorIgnoresShortSpike(t *testing.T) {
	d := newTestDetector(t)

	// Three loud windows (96ms) is below the 200ms speech minimum.
	spike := genTone(800, 0.9, 512)
	for i := 0; i < 3; i++ {
		d.Process(spike)
	}
	for i := 0; i < 30; i++ {
		if state := d.Process(genSilence(512)); state.Speaking {
			t.Fatalf("Short spike flipped the detector into speaking state")
		}
	}

	select {
	case e := <-d.Events():
		t.Errorf("Expected no events for a short spike, got kind %d", e.Kind)
	default:
	}
}

func TestDetectorSpeechEndAfterSustainedSilence(t *testing.T) {
	d := newTestDetector(t)

	voiced := genTone(800, 0.8, 512)
	for i := 0; i < 20; i++ {
		d.Process(voiced)
	}
	if !d.State().Speaking {
		t.Fatalf("Detector did not enter speaking state")
	}
	<-d.Events() // drain the start event

	// Silence must persist 500ms after the level decays below the
	// silence threshold.
	var state State
	var flippedAt int
	for i := 0; i < 60; i++ {
		state = d.Process(genSilence(512))
		if !state.Speaking {
			flippedAt = i
			break
		}
	}
	if state.Speaking {
		t.Fatalf("Detector never left speaking state")
	}
	// 500ms / 32ms ~ 16 windows of confirmed silence, plus level decay.
	if flippedAt < 16 {
		t.Errorf("Speaking state left too early, at window %d", flippedAt)
	}

	select {
	case e := <-d.Events():
		if e.Kind != EventSpeechEnd {
			t.Errorf("Expected speech end event, got kind %d", e.Kind)
		}
		if e.SpeechDuration <= 0 {
			t.Errorf("Expected positive speech duration in end event")
		}
	default:
		t.Errorf("Expected a speech end event on the channel")
	}
}

func TestDetectorLevelSmoothing(t *testing.T) {
	d := newTestDetector(t)

	// One loud window must not move the smoothed level to the raw value.
	raw := d.weightedLoudness(genTone(800, 0.8, 512))
	state := d.Process(genTone(800, 0.8, 512))

	expected := 0.2 * raw
	if math.Abs(state.Level-expected) > 0.001 {
		t.Errorf("Expected smoothed level %f after one window, got %f", expected, state.Level)
	}
}

func TestDetectorSpeechProbability(t *testing.T) {
	d := newTestDetector(t)

	state := d.Process(genSilence(512))
	if state.SpeechProbability != 0 {
		t.Errorf("Expected zero probability for silence, got %f", state.SpeechProbability)
	}

	for i := 0; i < 30; i++ {
		state = d.Process(genTone(800, 0.9, 512))
	}
	if state.SpeechProbability != 1 {
		t.Errorf("Expected probability clamped to 1 for loud speech, got %f", state.SpeechProbability)
	}
}

func TestSetThresholdsValidation(t *testing.T) {
	d := newTestDetector(t)

	if err := d.SetThresholds(0.04, 0.12); err == nil {
		t.Errorf("Expected error when speech threshold is below silence threshold")
	}
	if err := d.SetThresholds(1.5, 0.1); err == nil {
		t.Errorf("Expected error for threshold above 1")
	}
	if err := d.SetThresholds(0.3, 0.1); err != nil {
		t.Errorf("Expected valid thresholds to apply, got %v", err)
	}
	speech, silence := d.Thresholds()
	if speech != 0.3 || silence != 0.1 {
		t.Errorf("Thresholds not applied: speech=%f silence=%f", speech, silence)
	}
}
