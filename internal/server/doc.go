// Package server exposes the HTTP monitoring API: health, statistics,
// sanitized configuration, and Prometheus metrics.
package server
