package transcription

import (
	"context"
	"time"

	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
)

// Gate is a binary semaphore. At most one holder exists at any time and
// waiters are admitted one by one.
type Gate struct {
	permit  chan struct{}
	metrics *metrics.Metrics
}

// NewGate creates an open gate.
func NewGate(m *metrics.Metrics) *Gate {
	return &Gate{
		permit:  make(chan struct{}, 1),
		metrics: m,
	}
}

// Acquire blocks until the permit is taken or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case g.permit <- struct{}{}:
		g.metrics.RecordGateAcquired(time.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the permit. It must only be called by the current holder.
func (g *Gate) Release() {
	g.metrics.RecordGateReleased()
	<-g.permit
}

// Busy reports whether the permit is currently held.
func (g *Gate) Busy() bool {
	return len(g.permit) == 1
}
