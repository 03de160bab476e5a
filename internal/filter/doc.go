// Package filter implements content-quality gating around the transcription
// call: a silence pre-filter that stops near-empty chunks from spending a
// network request, and a hallucination post-filter that discards low-quality
// or fabricated transcription results via a pluggable rule classifier.
package filter
