package vad

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
)

// Default tuning. Thresholds are levels in [0, 1]; durations are audio time,
// not wall time, so detection is deterministic for a given sample stream.
const (
	DefaultSmoothingFactor    = 0.8
	DefaultSpeechThreshold    = 0.12
	DefaultSilenceThreshold   = 0.04
	DefaultMinSpeechDuration  = 200 * time.Millisecond
	DefaultMinSilenceDuration = 500 * time.Millisecond
	DefaultPollInterval       = 50 * time.Millisecond
)

// Config contains detector configuration.
type Config struct {
	SampleRate         int
	SmoothingFactor    float64
	SpeechThreshold    float64
	SilenceThreshold   float64
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	PollInterval       time.Duration
}

// State is a snapshot of the detector. It is written only by the detector's
// monitoring loop and read-only to consumers.
type State struct {
	Speaking          bool          `json:"speaking"`
	SpeechDuration    time.Duration `json:"speech_duration"`
	SilenceDuration   time.Duration `json:"silence_duration"`
	Level             float64       `json:"level"`
	SpeechProbability float64       `json:"speech_probability"`
}

// EventKind identifies a state transition.
type EventKind int

const (
	EventSpeechStart EventKind = iota
	EventSpeechEnd
)

// Event is a speech state transition emitted on the detector's event channel.
type Event struct {
	Kind           EventKind
	At             time.Time
	SpeechDuration time.Duration // for EventSpeechEnd, the elapsed speech time
	Level          float64
}

// Stats describes detector activity for monitoring.
type Stats struct {
	WindowsProcessed uint64  `json:"windows_processed"`
	VoiceWindows     uint64  `json:"voice_windows"`
	VoicePercentage  float64 `json:"voice_percentage"`
	DroppedEvents    uint64  `json:"dropped_events"`
}

// probe is one Goertzel frequency bin with its perceptual weight.
type probe struct {
	freq   float64
	weight float64
}

// Detector classifies the live audio signal into speaking/silent states.
type Detector struct {
	cfg    Config
	probes []probe

	speechThreshold  float64
	silenceThreshold float64

	state      State
	nextWindow int

	windowsProcessed uint64
	voiceWindows     uint64
	droppedEvents    uint64

	events  chan Event
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	mu sync.RWMutex
}

// NewDetector creates a detector. Zero config fields fall back to defaults.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.SmoothingFactor == 0 {
		cfg.SmoothingFactor = DefaultSmoothingFactor
	}
	if cfg.SmoothingFactor < 0 || cfg.SmoothingFactor >= 1 {
		return nil, fmt.Errorf("smoothing factor must be in [0, 1), got %f", cfg.SmoothingFactor)
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.SpeechThreshold <= cfg.SilenceThreshold {
		return nil, fmt.Errorf("speech threshold (%f) must exceed silence threshold (%f)",
			cfg.SpeechThreshold, cfg.SilenceThreshold)
	}
	if cfg.MinSpeechDuration == 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if cfg.MinSilenceDuration == 0 {
		cfg.MinSilenceDuration = DefaultMinSilenceDuration
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Detector{
		cfg:              cfg,
		probes:           voiceProbes(cfg.SampleRate),
		speechThreshold:  cfg.SpeechThreshold,
		silenceThreshold: cfg.SilenceThreshold,
		events:           make(chan Event, 32),
	}, nil
}

// voiceProbes selects the Goertzel frequency bins and their weights.
// Formant range 300-3400 Hz carries most of the perceptual evidence for
// speech, the fundamental range 85-300 Hz less, everything else little.
func voiceProbes(sampleRate int) []probe {
	bands := []probe{
		{100, 0.6}, {150, 0.6}, {220, 0.6}, // fundamentals
		{300, 1.0}, {500, 1.0}, {800, 1.0}, {1200, 1.0}, // formants
		{1800, 1.0}, {2400, 1.0}, {3000, 1.0}, {3400, 1.0},
		{4200, 0.15}, {5000, 0.15}, {6500, 0.15}, // out of band
	}
	nyquist := float64(sampleRate) / 2
	probes := make([]probe, 0, len(bands))
	for _, b := range bands {
		if b.freq < nyquist {
			probes = append(probes, b)
		}
	}
	return probes
}

// goertzelMagnitude computes the normalized amplitude of one frequency bin.
func goertzelMagnitude(samples []float64, sampleRate int, freq float64) float64 {
	n := len(samples)
	k := math.Round(float64(n) * freq / float64(sampleRate))
	omega := 2 * math.Pi * k / float64(n)
	coeff := 2 * math.Cos(omega)

	var q0, q1, q2 float64
	for _, s := range samples {
		q0 = coeff*q1 - q2 + s
		q2 = q1
		q1 = q0
	}
	mag := math.Sqrt(q1*q1 + q2*q2 - coeff*q1*q2)
	return 2 * mag / float64(n)
}

// weightedLoudness computes the frequency-weighted loudness score in [0, 1].
func (d *Detector) weightedLoudness(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	norm := make([]float64, len(samples))
	for i, s := range samples {
		norm[i] = float64(s) / 32768.0
	}

	var sum, weightSum float64
	for _, p := range d.probes {
		sum += p.weight * goertzelMagnitude(norm, d.cfg.SampleRate, p.freq)
		weightSum += p.weight
	}
	if weightSum == 0 {
		return 0
	}
	loudness := sum / weightSum
	// A full-scale voiced window lands well below 1.0 after band weighting;
	// scale so that conversational speech sits in the upper half of [0, 1].
	loudness *= 4
	if loudness > 1 {
		loudness = 1
	}
	return loudness
}

// Process runs one analysis window through the detector and returns the
// updated state. The window's audio duration drives the hysteresis timing.
func (d *Detector) Process(samples []int16) State {
	raw := d.weightedLoudness(samples)
	windowDur := time.Duration(len(samples)) * time.Second / time.Duration(d.cfg.SampleRate)

	d.mu.Lock()

	f := d.cfg.SmoothingFactor
	d.state.Level = f*d.state.Level + (1-f)*raw

	span := d.speechThreshold - d.silenceThreshold
	prob := (d.state.Level - d.silenceThreshold) / span
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}
	d.state.SpeechProbability = prob

	d.windowsProcessed++

	var event *Event
	if !d.state.Speaking {
		if d.state.Level >= d.speechThreshold {
			d.state.SpeechDuration += windowDur
			if d.state.SpeechDuration >= d.cfg.MinSpeechDuration {
				d.state.Speaking = true
				d.state.SilenceDuration = 0
				event = &Event{Kind: EventSpeechStart, At: time.Now(), Level: d.state.Level}
			}
		} else {
			// A short spike resets; sustained loudness is required.
			d.state.SpeechDuration = 0
			d.state.SilenceDuration += windowDur
		}
	} else {
		d.voiceWindows++
		if d.state.Level <= d.silenceThreshold {
			d.state.SilenceDuration += windowDur
			if d.state.SilenceDuration >= d.cfg.MinSilenceDuration {
				event = &Event{
					Kind:           EventSpeechEnd,
					At:             time.Now(),
					SpeechDuration: d.state.SpeechDuration,
					Level:          d.state.Level,
				}
				d.state.Speaking = false
				d.state.SpeechDuration = 0
				d.state.SilenceDuration = 0
			}
		} else {
			d.state.SilenceDuration = 0
			d.state.SpeechDuration += windowDur
		}
	}

	state := d.state
	d.mu.Unlock()

	if event != nil {
		d.emit(*event)
	}
	return state
}

func (d *Detector) emit(e Event) {
	select {
	case d.events <- e:
	default:
		d.mu.Lock()
		d.droppedEvents++
		d.mu.Unlock()
	}
}

// Start begins the monitoring loop over the capture buffer. The loop is the
// single writer of the detector state.
func (d *Detector) Start(buf *audio.Buffer) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("detector already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.processAvailable(buf)
			}
		}
	}()
	return nil
}

func (d *Detector) processAvailable(buf *audio.Buffer) {
	available := buf.AvailableWindows()
	for d.nextWindowIndex() < available {
		w, err := buf.GetWindow(d.nextWindowIndex())
		if err != nil {
			// Window trimmed away under us; skip forward.
			d.advanceWindow()
			continue
		}
		d.Process(w.Samples)
		d.advanceWindow()
	}
}

func (d *Detector) nextWindowIndex() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nextWindow
}

func (d *Detector) advanceWindow() {
	d.mu.Lock()
	d.nextWindow++
	d.mu.Unlock()
}

// Stop halts the monitoring loop. If the detector is mid-speech, a final
// speech-end event is synthesized with the elapsed duration before the
// event channel is closed.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	d.mu.Lock()
	var final *Event
	if d.state.Speaking {
		final = &Event{
			Kind:           EventSpeechEnd,
			At:             time.Now(),
			SpeechDuration: d.state.SpeechDuration,
			Level:          d.state.Level,
		}
		d.state.Speaking = false
		d.state.SpeechDuration = 0
		d.state.SilenceDuration = 0
	}
	d.mu.Unlock()

	if final != nil {
		d.emit(*final)
	}
	close(d.events)
}

// Events returns the channel of speech state transitions.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// State returns the current detector state snapshot.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetThresholds updates the speech/silence thresholds at runtime.
func (d *Detector) SetThresholds(speech, silence float64) error {
	if speech <= silence {
		return fmt.Errorf("speech threshold (%f) must exceed silence threshold (%f)", speech, silence)
	}
	if silence < 0 || speech > 1 {
		return fmt.Errorf("thresholds must be within [0, 1], got speech=%f silence=%f", speech, silence)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speechThreshold = speech
	d.silenceThreshold = silence
	return nil
}

// Thresholds returns the current speech and silence thresholds.
func (d *Detector) Thresholds() (speech, silence float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.speechThreshold, d.silenceThreshold
}

// GetStats returns current detector statistics.
func (d *Detector) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pct := float64(0)
	if d.windowsProcessed > 0 {
		pct = float64(d.voiceWindows) / float64(d.windowsProcessed) * 100
	}
	return Stats{
		WindowsProcessed: d.windowsProcessed,
		VoiceWindows:     d.voiceWindows,
		VoicePercentage:  pct,
		DroppedEvents:    d.droppedEvents,
	}
}
