// Package config provides configuration loading and validation for the
// transcriber. It handles YAML-based configuration with per-section struct
// validation and supports overriding the transcription API key from the
// environment.
package config
