package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrTranscriptionFailed marks every failure reported by an engine call.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Transcript is the text an engine produced for one chunk.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// Engine turns one WAV chunk into text. contextText carries the transcript
// of the preceding chunks and may be empty.
//
// Implementations need not be safe for concurrent use; SharedResource
// guarantees at most one call at a time.
type Engine interface {
	Transcribe(ctx context.Context, audio []byte, contextText string) (Transcript, error)
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, audio []byte, contextText string) (Transcript, error)

// Transcribe calls f.
func (f EngineFunc) Transcribe(ctx context.Context, audio []byte, contextText string) (Transcript, error) {
	return f(ctx, audio, contextText)
}

// StubEngine produces deterministic transcripts without calling any backend.
type StubEngine struct {
	log      *slog.Logger
	language string
}

// NewStubEngine returns an Engine that generates placeholder transcripts.
func NewStubEngine(logger *slog.Logger, language string) *StubEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEngine{
		log:      logger.With("component", "transcription.stub"),
		language: language,
	}
}

// Transcribe implements the Engine interface.
func (e *StubEngine) Transcribe(ctx context.Context, audio []byte, contextText string) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if len(audio) == 0 {
		return Transcript{}, errors.New("empty audio")
	}
	e.log.Debug("stub transcript", "bytes", len(audio), "context_chars", len(contextText))
	return Transcript{
		Text:       fmt.Sprintf("[stub] received %d bytes", len(audio)),
		Confidence: 0.42,
		Language:   e.language,
	}, nil
}
