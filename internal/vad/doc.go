// Package vad provides energy-based voice activity detection over PCM signals.
// It walks the signal in millisecond steps, measures short-term loudness in dBFS
// and reports the non-silent intervals that the chunk planner groups into segments.
package vad
