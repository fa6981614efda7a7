package transcription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
)

func TestGateAdmitsOneHolder(t *testing.T) {
	gate := NewGate(nil)
	ctx := context.Background()

	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !gate.Busy() {
		t.Error("Expected gate to be busy")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := gate.Acquire(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected second Acquire to time out, got %v", err)
	}

	gate.Release()
	if gate.Busy() {
		t.Error("Expected gate to be idle after Release")
	}
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	gate.Release()
}

func TestSharedResourceSerializesCalls(t *testing.T) {
	var active, maxActive int32
	engine := EngineFunc(func(ctx context.Context, audio []byte, contextText string) (Transcript, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return Transcript{Text: string(audio)}, nil
	})

	resource := NewSharedResource(engine, nil, metrics.NewMetrics(prometheus.NewRegistry()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := resource.Transcribe(context.Background(), []byte("x"), ""); err != nil {
				t.Errorf("Transcribe failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("Expected at most 1 concurrent engine call, got %d", maxActive)
	}
	stats := resource.GetStats()
	if stats.Calls != 16 || stats.Failures != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Busy {
		t.Error("Expected resource to be idle")
	}
}

func TestSharedResourceWrapsFailures(t *testing.T) {
	cause := errors.New("model exploded")
	tests := []struct {
		name   string
		engine Engine
	}{
		{
			name: "error",
			engine: EngineFunc(func(context.Context, []byte, string) (Transcript, error) {
				return Transcript{}, cause
			}),
		},
		{
			name: "panic",
			engine: EngineFunc(func(context.Context, []byte, string) (Transcript, error) {
				panic("boom")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resource := NewSharedResource(tt.engine, nil, nil)
			_, err := resource.Transcribe(context.Background(), []byte("x"), "")
			if !errors.Is(err, ErrTranscriptionFailed) {
				t.Fatalf("Expected ErrTranscriptionFailed, got %v", err)
			}
			if resource.GetStats().Failures != 1 {
				t.Error("Expected failure to be counted")
			}
			// The gate must be free again
			if _, err := resource.Transcribe(context.Background(), []byte("x"), ""); err == nil {
				t.Error("Expected second call to fail the same way")
			}
		})
	}

	resource := NewSharedResource(EngineFunc(func(context.Context, []byte, string) (Transcript, error) {
		return Transcript{}, cause
	}), nil, nil)
	if _, err := resource.Transcribe(context.Background(), nil, ""); !errors.Is(err, cause) {
		t.Errorf("Expected cause to be preserved, got %v", err)
	}
}

func TestSharedResourcePassesContextText(t *testing.T) {
	var got string
	resource := NewSharedResource(EngineFunc(func(ctx context.Context, audio []byte, contextText string) (Transcript, error) {
		got = contextText
		return Transcript{Text: "weiter", Confidence: 0.9}, nil
	}), nil, nil)

	result, err := resource.Transcribe(context.Background(), []byte("wav"), "bisheriger Text")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if got != "bisheriger Text" {
		t.Errorf("Expected context text to reach the engine, got %q", got)
	}
	if result.Text != "weiter" || result.Confidence != 0.9 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestStubEngine(t *testing.T) {
	engine := NewStubEngine(nil, "de")

	result, err := engine.Transcribe(context.Background(), make([]byte, 10), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "[stub] received 10 bytes" || result.Language != "de" {
		t.Errorf("Unexpected result: %+v", result)
	}

	if _, err := engine.Transcribe(context.Background(), nil, ""); err == nil {
		t.Error("Expected error for empty audio")
	}
}
