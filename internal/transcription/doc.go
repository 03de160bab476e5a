// Package transcription contains the HTTP client for the external
// speech-to-text service and the orchestrator that bounds concurrent
// requests, queues overflow in FIFO order, and owns per-request
// cancellation and timeouts.
package transcription
