// Package server implements the HTTP API. POST /transcribe segments an
// uploaded WAV recording and streams the lifecycle updates of every chunk as
// newline-delimited JSON. The remaining endpoints expose sessions, statistics,
// configuration and Prometheus metrics.
package server
