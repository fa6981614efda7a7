// Package transcription defines the speech-to-text engine contract and the
// single-permit gate that serializes access to one engine instance.
//
// The HTTP client posts a WAV chunk as multipart form data together with the
// continuation prompt, and retries rate-limited or failing requests with
// exponential backoff when configured to.
package transcription
