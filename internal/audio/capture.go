package audio

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Source delivers PCM-16 frames captured from an audio input device.
// Device selection and permissions are handled by the caller; the pipeline
// only consumes the resulting stream. Start returning an error is fatal to
// the session.
type Source interface {
	Start() error
	Frames() <-chan []int16
	SampleRate() int
	Close() error
}

// ReaderSource adapts a raw little-endian PCM-16 byte stream (a pipe from
// arecord/ffmpeg, a file, a network stream) into fixed-size frames.
type ReaderSource struct {
	r            io.Reader
	sampleRate   int
	frameSamples int

	frames chan []int16
	done   chan struct{}
	once   sync.Once
}

// NewReaderSource wraps r as a capture source emitting one frame per
// frameDuration of audio.
func NewReaderSource(r io.Reader, sampleRate int, frameDuration time.Duration) (*ReaderSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	frameSamples := int(frameDuration.Seconds() * float64(sampleRate))
	if frameSamples <= 0 {
		return nil, fmt.Errorf("frame duration too short: %s", frameDuration)
	}
	return &ReaderSource{
		r:            r,
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		frames:       make(chan []int16, 8),
		done:         make(chan struct{}),
	}, nil
}

// Start begins reading frames in the background. The frame channel is
// closed when the underlying reader is exhausted or the source is closed.
func (s *ReaderSource) Start() error {
	go s.readLoop()
	return nil
}

func (s *ReaderSource) readLoop() {
	defer close(s.frames)

	raw := make([]byte, s.frameSamples*2)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := io.ReadFull(s.r, raw)
		if n >= 2 {
			frame := make([]int16, n/2)
			for i := range frame {
				frame[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
			}
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Frames returns the channel of captured frames.
func (s *ReaderSource) Frames() <-chan []int16 {
	return s.frames
}

// SampleRate returns the stream's sample rate.
func (s *ReaderSource) SampleRate() int {
	return s.sampleRate
}

// Close stops the read loop. Safe to call more than once.
func (s *ReaderSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// CaptureContext is the shared audio-processing context for one session.
// Multiple pipeline components may hold a reference concurrently; the
// device is opened on the first acquire and closed when the last reference
// is released. Only the component that acquired a reference may release it.
type CaptureContext struct {
	source Source

	refs     int
	started  bool
	released bool

	mu sync.Mutex
}

// NewCaptureContext wraps a capture source in a reference-counted context.
func NewCaptureContext(source Source) *CaptureContext {
	return &CaptureContext{source: source}
}

// Acquire takes a reference to the capture device, opening it on first use.
// A device-access failure here is fatal to the session.
func (c *CaptureContext) Acquire() (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, fmt.Errorf("capture context already released")
	}
	if !c.started {
		if err := c.source.Start(); err != nil {
			return nil, fmt.Errorf("failed to open capture device: %w", err)
		}
		c.started = true
	}
	c.refs++
	return c.source, nil
}

// Release drops one reference. The device is closed exactly once, when the
// final reference is released; releasing with no live reference is an error.
func (c *CaptureContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refs <= 0 {
		return fmt.Errorf("release without matching acquire")
	}
	c.refs--
	if c.refs == 0 && !c.released {
		c.released = true
		if err := c.source.Close(); err != nil {
			return fmt.Errorf("failed to close capture device: %w", err)
		}
	}
	return nil
}

// Active reports whether the context still holds live references.
func (c *CaptureContext) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs > 0
}
