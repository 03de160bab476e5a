package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv overrides transcription.api_key so the key can stay out of the
// config file.
const APIKeyEnv = "AURORA_STT_API_KEY"

// Config represents the complete transcriber configuration
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	VAD           VADConfig           `yaml:"vad"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Filter        FilterConfig        `yaml:"filter"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Diarization   DiarizationConfig   `yaml:"diarization"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CaptureConfig contains audio capture parameters
type CaptureConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
	FrameSize  int `yaml:"frame_size"` // samples per capture frame
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	SpeechThreshold    float64 `yaml:"speech_threshold"`
	SilenceThreshold   float64 `yaml:"silence_threshold"`
	SmoothingFactor    float64 `yaml:"smoothing_factor"`
	WindowSize         int     `yaml:"window_size"` // samples
	HopSize            int     `yaml:"hop_size"`    // samples
	MinSpeechDuration  float64 `yaml:"min_speech_duration"`  // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
}

// ChunkingConfig contains audio chunking configuration
type ChunkingConfig struct {
	Mode          string  `yaml:"mode"` // "fixed" or "smart"
	ChunkDuration float64 `yaml:"chunk_duration"` // seconds
	MinDuration   float64 `yaml:"min_duration"`   // seconds
	MaxDuration   float64 `yaml:"max_duration"`   // seconds
}

// FilterConfig contains content filter configuration
type FilterConfig struct {
	SilenceRMS     float64 `yaml:"silence_rms"`
	MaxSilentRatio float64 `yaml:"max_silent_ratio"`
	MinConfidence  float64 `yaml:"min_confidence"`
	MinTextLength  int     `yaml:"min_text_length"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Language        string `yaml:"language"`
	Model           string `yaml:"model"`
	Timeout         int    `yaml:"timeout"` // seconds, per attempt
	RequestTimeout  int    `yaml:"request_timeout"` // seconds, whole request lifetime
	MaxRetries      int    `yaml:"max_retries"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
	MinPayloadBytes int    `yaml:"min_payload_bytes"`
}

// DiarizationConfig contains speaker matching configuration
type DiarizationConfig struct {
	Enabled              bool    `yaml:"enabled"`
	CorrectionsPath      string  `yaml:"corrections_path"`
	ParticipantThreshold float64 `yaml:"participant_threshold"`
	FuzzyThreshold       float64 `yaml:"fuzzy_threshold"`
}

// HTTPConfig contains monitoring API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. The transcription API key
// may be supplied via AURORA_STT_API_KEY instead of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		config.Transcription.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}

	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("filter config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Diarization.Validate(); err != nil {
		return fmt.Errorf("diarization config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (a *CaptureConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 22050: true, 44100: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 22050, 44100, 48000], got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FrameSize < 64 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 64 and 16384 samples, got %d", a.FrameSize)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.SpeechThreshold <= 0 || v.SpeechThreshold > 1 {
		return fmt.Errorf("speech_threshold must be in (0, 1], got %f", v.SpeechThreshold)
	}

	if v.SilenceThreshold < 0 || v.SilenceThreshold >= v.SpeechThreshold {
		return fmt.Errorf("silence_threshold must be non-negative and below speech_threshold, got %f", v.SilenceThreshold)
	}

	if v.SmoothingFactor < 0 || v.SmoothingFactor >= 1 {
		return fmt.Errorf("smoothing_factor must be between 0 and 1 (exclusive), got %f", v.SmoothingFactor)
	}

	if v.WindowSize < 256 || v.WindowSize > 8192 {
		return fmt.Errorf("window_size must be between 256 and 8192 samples, got %d", v.WindowSize)
	}

	if v.HopSize < 1 || v.HopSize > v.WindowSize {
		return fmt.Errorf("hop_size must be between 1 and window_size, got %d", v.HopSize)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	if v.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", v.MinSilenceDuration)
	}

	return nil
}

// Validate validates chunking configuration
func (c *ChunkingConfig) Validate() error {
	if c.Mode != "fixed" && c.Mode != "smart" {
		return fmt.Errorf("mode must be 'fixed' or 'smart', got '%s'", c.Mode)
	}

	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", c.ChunkDuration)
	}

	if c.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive, got %f", c.MinDuration)
	}

	if c.MaxDuration <= c.ChunkDuration {
		return fmt.Errorf("max_duration (%f) must be greater than chunk_duration (%f)",
			c.MaxDuration, c.ChunkDuration)
	}

	return nil
}

// Validate validates filter configuration
func (f *FilterConfig) Validate() error {
	if f.SilenceRMS <= 0 || f.SilenceRMS >= 1 {
		return fmt.Errorf("silence_rms must be in (0, 1), got %f", f.SilenceRMS)
	}

	if f.MaxSilentRatio <= 0 || f.MaxSilentRatio > 1 {
		return fmt.Errorf("max_silent_ratio must be in (0, 1], got %f", f.MaxSilentRatio)
	}

	if f.MinConfidence < 0 || f.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", f.MinConfidence)
	}

	if f.MinTextLength < 0 {
		return fmt.Errorf("min_text_length cannot be negative, got %d", f.MinTextLength)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set it in the config file or via %s)", APIKeyEnv)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.RequestTimeout < t.Timeout {
		return fmt.Errorf("request_timeout (%d) must be at least timeout (%d)", t.RequestTimeout, t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.MinPayloadBytes < 0 {
		return fmt.Errorf("min_payload_bytes cannot be negative, got %d", t.MinPayloadBytes)
	}

	return nil
}

// Validate validates diarization configuration
func (d *DiarizationConfig) Validate() error {
	if !d.Enabled {
		return nil
	}

	if d.CorrectionsPath == "" {
		return fmt.Errorf("corrections_path cannot be empty when diarization is enabled")
	}

	if d.ParticipantThreshold <= 0 || d.ParticipantThreshold > 1 {
		return fmt.Errorf("participant_threshold must be in (0, 1], got %f", d.ParticipantThreshold)
	}

	if d.FuzzyThreshold <= 0 || d.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be in (0, 1], got %f", d.FuzzyThreshold)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (v *VADConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilenceDuration * float64(time.Second))
}

// GetChunkDuration returns the target chunk duration as a time.Duration
func (c *ChunkingConfig) GetChunkDuration() time.Duration {
	return time.Duration(c.ChunkDuration * float64(time.Second))
}

// GetMinDuration returns the minimum chunk duration as a time.Duration
func (c *ChunkingConfig) GetMinDuration() time.Duration {
	return time.Duration(c.MinDuration * float64(time.Second))
}

// GetMaxDuration returns the maximum chunk duration as a time.Duration
func (c *ChunkingConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDuration * float64(time.Second))
}

// GetTimeoutDuration returns the per-attempt transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRequestTimeoutDuration returns the whole-request timeout as a time.Duration
func (t *TranscriptionConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(t.RequestTimeout) * time.Second
}
