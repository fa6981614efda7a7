// Package audio handles PCM/WAV decoding and encoding and silence-driven segmentation.
// It turns a continuous recording into independent, duration-bounded WAV chunks by
// grouping the non-silent intervals reported by the vad package.
package audio
