package chunker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarcelGaertner1234/aurora-voice-sub001/internal/audio"
)

// Defaults for chunk sizing.
const (
	DefaultChunkDuration = 5 * time.Second
	DefaultMinDuration   = 1 * time.Second
	DefaultMaxDuration   = 15 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond

	// retention keeps this much audio behind the current chunk start so the
	// VAD's overlapping windows stay valid after a trim.
	retention = 2 * time.Second
)

// Chunker slices the capture stream into chunks delivered on Chunks().
// Stop flushes any partially accumulated audio as one final chunk instead
// of discarding it. Encoding errors for a single chunk are reported on
// Errors() and do not halt chunking.
type Chunker interface {
	Start(buf *audio.Buffer) error
	Stop() *audio.Chunk
	ForceEmit()
	Active() bool
	Chunks() <-chan *audio.Chunk
	Errors() <-chan error
}

// Config contains chunk sizing configuration.
type Config struct {
	ChunkDuration time.Duration // fixed boundary interval
	MinDuration   time.Duration // smart: never cut earlier than this
	MaxDuration   time.Duration // smart: always cut by this
	PollInterval  time.Duration
}

func (c *Config) applyDefaults() {
	if c.ChunkDuration == 0 {
		c.ChunkDuration = DefaultChunkDuration
	}
	if c.MinDuration == 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Stats describes chunker activity for monitoring.
type Stats struct {
	ChunksEmitted    uint64        `json:"chunks_emitted"`
	EncodingFailures uint64        `json:"encoding_failures"`
	TotalDuration    time.Duration `json:"total_duration"`
}

// core carries the machinery shared by the fixed and smart variants; the
// variant supplies the boundary decision.
type core struct {
	cfg Config
	buf *audio.Buffer

	startSample int64

	chunks chan *audio.Chunk
	errs   chan error
	force  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	active bool

	chunksEmitted    uint64
	encodingFailures uint64
	totalDuration    time.Duration

	mu sync.Mutex
}

func newCore(cfg Config) *core {
	cfg.applyDefaults()
	return &core{
		cfg:    cfg,
		chunks: make(chan *audio.Chunk, 16),
		errs:   make(chan error, 4),
		force:  make(chan struct{}, 1),
	}
}

// start runs the boundary loop. cut reports whether the buffered audio
// since the current chunk start should be emitted now.
func (c *core) start(buf *audio.Buffer, cut func(buffered time.Duration) bool) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return fmt.Errorf("chunker already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.buf = buf
	c.cancel = cancel
	c.active = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.force:
				if chunk := c.cutChunk(); chunk != nil {
					c.deliver(ctx, chunk)
				}
			case <-ticker.C:
				if cut(c.buffered()) {
					if chunk := c.cutChunk(); chunk != nil {
						c.deliver(ctx, chunk)
					}
				}
			}
		}
	}()
	return nil
}

func (c *core) deliver(ctx context.Context, chunk *audio.Chunk) {
	select {
	case c.chunks <- chunk:
	case <-ctx.Done():
	}
}

// buffered returns the audio time accumulated since the current chunk start.
func (c *core) buffered() time.Duration {
	c.mu.Lock()
	start := c.startSample
	c.mu.Unlock()

	samples := c.buf.TotalSamples() - start
	if samples <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(c.buf.SampleRate())
}

// cutChunk extracts everything since the chunk start, encodes it, and
// advances the boundary. A failed extraction or encode advances the
// boundary anyway so the next cycle proceeds on schedule.
func (c *core) cutChunk() *audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.buf.TotalSamples()
	if end <= c.startSample {
		return nil
	}

	pcm, err := c.buf.Range(c.startSample, end)
	start := c.startSample
	c.startSample = end
	c.buf.Trim(c.buf.SampleRate() * int(retention/time.Second))

	if err != nil {
		c.encodingFailures++
		c.reportError(fmt.Errorf("chunk extraction failed: %w", err))
		return nil
	}

	chunk := audio.NewChunk(pcm, c.buf.SampleRate(), c.buf.SamplesToMs(start), c.buf.SamplesToMs(end))
	payload, err := audio.EncodeWAV(pcm, c.buf.SampleRate())
	if err != nil {
		c.encodingFailures++
		c.reportError(fmt.Errorf("chunk %s encoding failed: %w", chunk.ID, err))
		return nil
	}
	chunk.Payload = payload

	c.chunksEmitted++
	c.totalDuration += time.Duration(chunk.DurationMs()) * time.Millisecond
	return chunk
}

func (c *core) reportError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// stop halts the loop and flushes the remaining audio as the final chunk.
func (c *core) stop() *audio.Chunk {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	final := c.cutChunk()
	close(c.chunks)
	close(c.errs)
	return final
}

// ForceEmit requests an out-of-cycle chunk boundary.
func (c *core) ForceEmit() {
	select {
	case c.force <- struct{}{}:
	default:
	}
}

// Active reports whether the boundary loop is running.
func (c *core) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Chunks returns the channel of emitted chunks.
func (c *core) Chunks() <-chan *audio.Chunk {
	return c.chunks
}

// Errors returns the channel of per-chunk encoding errors.
func (c *core) Errors() <-chan error {
	return c.errs
}

// GetStats returns current chunker statistics.
func (c *core) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ChunksEmitted:    c.chunksEmitted,
		EncodingFailures: c.encodingFailures,
		TotalDuration:    c.totalDuration,
	}
}

// Fixed emits a chunk every ChunkDuration regardless of voice activity.
type Fixed struct {
	*core
}

// NewFixed creates a fixed-interval chunker.
func NewFixed(cfg Config) *Fixed {
	return &Fixed{core: newCore(cfg)}
}

// Start begins fixed-interval chunking over the capture buffer.
func (f *Fixed) Start(buf *audio.Buffer) error {
	return f.core.start(buf, func(buffered time.Duration) bool {
		return buffered >= f.cfg.ChunkDuration
	})
}

// Stop halts chunking and returns the flushed final chunk, if any.
func (f *Fixed) Stop() *audio.Chunk {
	return f.core.stop()
}
