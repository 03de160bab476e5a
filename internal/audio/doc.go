// Package audio provides the capture-side primitives of the pipeline:
// PCM frame sources, the shared sample buffer with VAD windowing, the
// immutable audio chunk handed to transcription, and WAV encoding.
package audio
