package vad

import (
	"fmt"
	"math"
	"time"
)

// Signal is an interleaved PCM signal prepared for loudness analysis.
type Signal struct {
	Samples      []int32 // Interleaved samples, zero-centred
	Channels     int
	SampleRate   int
	MaxAmplitude float64 // Full-scale amplitude for the source bit depth
}

// Interval is a half-open [Start, End) span of the signal.
type Interval struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Duration returns the length of the interval.
func (iv Interval) Duration() time.Duration {
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)", iv.Start.Milliseconds(), iv.End.Milliseconds())
}

// Frames returns the number of sample frames in the signal.
func (s Signal) Frames() int {
	if s.Channels <= 0 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// DurationMs returns the signal length in whole milliseconds.
func (s Signal) DurationMs() int {
	if s.SampleRate <= 0 {
		return 0
	}
	return int(int64(s.Frames()) * 1000 / int64(s.SampleRate))
}

// frameAt maps a millisecond offset to the first frame at or after it.
func (s Signal) frameAt(ms int) int {
	return int(int64(ms) * int64(s.SampleRate) / 1000)
}

// energyPrefix returns running sums of squared samples and sample counts, one
// entry per millisecond boundary.
func (s Signal) energyPrefix(totalMs int) ([]float64, []int) {
	sums := make([]float64, totalMs+1)
	counts := make([]int, totalMs+1)
	for ms := 0; ms < totalMs; ms++ {
		from := s.frameAt(ms) * s.Channels
		to := s.frameAt(ms+1) * s.Channels
		var acc float64
		for _, v := range s.Samples[from:to] {
			f := float64(v)
			acc += f * f
		}
		sums[ms+1] = sums[ms] + acc
		counts[ms+1] = counts[ms] + (to - from)
	}
	return sums, counts
}

// DBFS converts an RMS amplitude to decibels relative to full scale.
func DBFS(rms, maxAmplitude float64) float64 {
	if rms <= 0 || maxAmplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/maxAmplitude)
}

// Loudness returns the RMS loudness of the whole signal in dBFS.
func Loudness(s Signal) float64 {
	if len(s.Samples) == 0 {
		return math.Inf(-1)
	}
	var acc float64
	for _, v := range s.Samples {
		f := float64(v)
		acc += f * f
	}
	return DBFS(math.Sqrt(acc/float64(len(s.Samples))), s.MaxAmplitude)
}

// Detector finds non-silent intervals using a fixed silence window and threshold.
type Detector struct {
	minSilence time.Duration
	threshDB   float64
}

// NewDetector creates a detector. A window is silent when its loudness is at or
// below threshDB for at least minSilence.
func NewDetector(minSilence time.Duration, threshDB float64) (*Detector, error) {
	if minSilence < time.Millisecond {
		return nil, fmt.Errorf("min silence must be at least 1ms, got %v", minSilence)
	}
	if threshDB > 0 || math.IsNaN(threshDB) {
		return nil, fmt.Errorf("silence threshold must be <= 0 dBFS, got %f", threshDB)
	}
	return &Detector{minSilence: minSilence, threshDB: threshDB}, nil
}

// MinSilence returns the configured silence window.
func (d *Detector) MinSilence() time.Duration {
	return d.minSilence
}

// Threshold returns the configured silence threshold in dBFS.
func (d *Detector) Threshold() float64 {
	return d.threshDB
}

// Detect returns the ordered non-silent intervals of s.
func (d *Detector) Detect(s Signal) []Interval {
	return DetectNonSilent(s, d.minSilence, d.threshDB)
}

// DetectSilence returns the merged silent spans of s. Each window of minSilence
// starting at a whole millisecond is tested; overlapping silent windows merge.
func DetectSilence(s Signal, minSilence time.Duration, threshDB float64) []Interval {
	totalMs := s.DurationMs()
	window := int(minSilence / time.Millisecond)
	if window <= 0 || totalMs < window {
		return nil
	}

	sums, counts := s.energyPrefix(totalMs)
	threshRMS := math.Pow(10, threshDB/20) * s.MaxAmplitude

	var ranges [][2]int
	for i := 0; i+window <= totalMs; i++ {
		n := counts[i+window] - counts[i]
		rms := 0.0
		if n > 0 {
			rms = math.Sqrt((sums[i+window] - sums[i]) / float64(n))
		}
		if rms > threshRMS {
			continue
		}
		if last := len(ranges) - 1; last >= 0 && i <= ranges[last][1] {
			ranges[last][1] = i + window
			continue
		}
		ranges = append(ranges, [2]int{i, i + window})
	}

	out := make([]Interval, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, msInterval(r[0], r[1]))
	}
	return out
}

// DetectNonSilent returns the complement of DetectSilence over the signal.
// A signal shorter than one window is reported as a single non-silent interval;
// a fully silent signal yields none.
func DetectNonSilent(s Signal, minSilence time.Duration, threshDB float64) []Interval {
	totalMs := s.DurationMs()
	if totalMs == 0 {
		return nil
	}
	end := msDuration(totalMs)

	silent := DetectSilence(s, minSilence, threshDB)
	if len(silent) == 0 {
		return []Interval{{Start: 0, End: end}}
	}

	var out []Interval
	prev := time.Duration(0)
	for _, sil := range silent {
		if sil.Start > prev {
			out = append(out, Interval{Start: prev, End: sil.Start})
		}
		prev = sil.End
	}
	if prev < end {
		out = append(out, Interval{Start: prev, End: end})
	}
	return out
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func msInterval(start, end int) Interval {
	return Interval{Start: msDuration(start), End: msDuration(end)}
}
