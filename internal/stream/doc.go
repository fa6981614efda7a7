// Package stream provides transcription session management and lifecycle handling.
// A session collects the WAV pushes of one origin, cuts them into chunks,
// submits the chunks with the running transcript as context and assembles
// the transcribed texts in chunk order. Inactive sessions are removed
// automatically based on a configurable timeout.
package stream
