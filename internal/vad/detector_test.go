package vad

import (
	"math"
	"testing"
	"time"
)

const testRate = 16000

// buildSignal renders alternating loud/quiet spans (in ms) as a mono signal.
// Loud spans are a full-band square wave of the given amplitude.
func buildSignal(amp int32, spans ...int) Signal {
	var samples []int32
	loud := true
	for _, ms := range spans {
		n := ms * testRate / 1000
		for i := 0; i < n; i++ {
			v := int32(0)
			if loud {
				v = amp
				if len(samples)%2 == 1 {
					v = -amp
				}
			}
			samples = append(samples, v)
		}
		loud = !loud
	}
	return Signal{Samples: samples, Channels: 1, SampleRate: testRate, MaxAmplitude: 32768}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func TestDetectNonSilent(t *testing.T) {
	tests := []struct {
		name     string
		signal   Signal
		expected []Interval
	}{
		{
			name:     "two speech spans split by long pause",
			signal:   buildSignal(8000, 1500, 700, 800),
			expected: []Interval{{0, ms(1500)}, {ms(2200), ms(3000)}},
		},
		{
			name:     "short pause does not split",
			signal:   buildSignal(8000, 1400, 400, 300),
			expected: []Interval{{0, ms(2100)}},
		},
		{
			name:     "leading and trailing silence trimmed",
			signal:   buildSignal(8000, 0, 600, 1000, 900),
			expected: []Interval{{ms(600), ms(1600)}},
		},
		{
			name:     "fully silent",
			signal:   buildSignal(8000, 0, 2000),
			expected: nil,
		},
		{
			name:     "shorter than one window",
			signal:   buildSignal(8000, 0, 300),
			expected: []Interval{{0, ms(300)}},
		},
		{
			name:     "empty signal",
			signal:   Signal{Channels: 1, SampleRate: testRate, MaxAmplitude: 32768},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectNonSilent(tt.signal, 500*time.Millisecond, -50)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d intervals %v, got %d %v", len(tt.expected), tt.expected, len(got), got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Interval %d: expected %v, got %v", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestDetectNonSilentIntervalsAreOrderedAndDisjoint(t *testing.T) {
	sig := buildSignal(8000, 200, 900, 50, 600, 1200, 510, 40, 100)
	got := DetectNonSilent(sig, 500*time.Millisecond, -50)
	if len(got) == 0 {
		t.Fatal("Expected non-silent intervals")
	}
	for i, iv := range got {
		if iv.End <= iv.Start {
			t.Errorf("Interval %d is empty or inverted: %v", i, iv)
		}
		if i > 0 && iv.Start < got[i-1].End {
			t.Errorf("Interval %d overlaps previous: %v after %v", i, iv, got[i-1])
		}
	}
}

func TestDetectSilenceThreshold(t *testing.T) {
	// -12 dBFS square wave is silent against a -6 dBFS threshold.
	sig := buildSignal(8000, 1000)
	if got := DetectNonSilent(sig, 200*time.Millisecond, -6); got != nil {
		t.Errorf("Expected no non-silent intervals, got %v", got)
	}
	if got := DetectNonSilent(sig, 200*time.Millisecond, -20); len(got) != 1 {
		t.Errorf("Expected one non-silent interval, got %v", got)
	}
}

func TestLoudness(t *testing.T) {
	sig := buildSignal(16384, 100)
	want := 20 * math.Log10(16384.0/32768.0)
	if got := Loudness(sig); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected loudness %.3f, got %.3f", want, got)
	}

	silent := buildSignal(0, 100)
	if got := Loudness(silent); !math.IsInf(got, -1) {
		t.Errorf("Expected -Inf for digital silence, got %f", got)
	}
}

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name       string
		minSilence time.Duration
		thresh     float64
		expectErr  bool
	}{
		{"valid", 500 * time.Millisecond, -32, false},
		{"zero window", 0, -32, true},
		{"sub-millisecond window", 500 * time.Microsecond, -32, true},
		{"positive threshold", 500 * time.Millisecond, 3, true},
		{"NaN threshold", 500 * time.Millisecond, math.NaN(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDetector(tt.minSilence, tt.thresh)
			if tt.expectErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d.MinSilence() != tt.minSilence || d.Threshold() != tt.thresh {
				t.Errorf("Detector did not keep its parameters")
			}
		})
	}
}
