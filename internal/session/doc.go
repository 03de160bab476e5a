// Package session wires the capture-to-transcript pipeline for one meeting:
// it pumps captured frames into the shared buffer, runs voice detection and
// chunking over it, gates chunks and results through the content filters,
// submits work to the transcription orchestrator, attributes speakers, and
// delivers finished segments in audio order. It also owns the graceful and
// abortive shutdown sequences.
package session
