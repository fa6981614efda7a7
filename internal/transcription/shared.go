package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
)

// SharedResource owns one Engine and admits a single call at a time through
// its Gate. It is injected into the scheduler instead of living in a global.
type SharedResource struct {
	engine Engine
	gate   *Gate
	logger *slog.Logger

	mu        sync.Mutex
	calls     uint64
	failures  uint64
	busyTotal time.Duration
}

// ResourceStats describes the usage of the shared engine.
type ResourceStats struct {
	Calls     uint64        `json:"calls"`
	Failures  uint64        `json:"failures"`
	BusyTotal time.Duration `json:"busy_total"`
	Busy      bool          `json:"busy"`
}

// NewSharedResource wraps engine behind a fresh gate.
func NewSharedResource(engine Engine, logger *slog.Logger, m *metrics.Metrics) *SharedResource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SharedResource{
		engine: engine,
		gate:   NewGate(m),
		logger: logger,
	}
}

// Transcribe waits for the gate, runs the engine and releases the gate.
// Every engine failure, including a panic, is returned wrapped in
// ErrTranscriptionFailed. A cancelled ctx while waiting for the gate is
// returned as is.
func (r *SharedResource) Transcribe(ctx context.Context, audio []byte, contextText string) (Transcript, error) {
	if err := r.gate.Acquire(ctx); err != nil {
		return Transcript{}, err
	}
	defer r.gate.Release()

	start := time.Now()
	result, err := r.call(ctx, audio, contextText)
	elapsed := time.Since(start)

	r.mu.Lock()
	r.calls++
	r.busyTotal += elapsed
	if err != nil {
		r.failures++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Debug("Engine call failed",
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return Transcript{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	return result, nil
}

func (r *SharedResource) call(ctx context.Context, audio []byte, contextText string) (result Transcript, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()
	return r.engine.Transcribe(ctx, audio, contextText)
}

// GetStats returns usage statistics of the engine.
func (r *SharedResource) GetStats() ResourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ResourceStats{
		Calls:     r.calls,
		Failures:  r.failures,
		BusyTotal: r.busyTotal,
		Busy:      r.gate.Busy(),
	}
}
