// Package vad provides energy-based voice activity detection over the live
// capture buffer. It computes a frequency-weighted loudness score biased
// toward human voice bands, smooths it into an audio level, and applies
// duration hysteresis before flipping between speaking and silent states.
package vad
