package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
	"github.com/arkonballoon/VoiceToDocWeb/internal/vad"
)

// ErrSegmentation is returned when input audio cannot be read at all.
// Finding no speech is not an error: Segment returns an empty slice.
var ErrSegmentation = errors.New("segmentation failed")

// AudioChunk is one independently decodable piece of the source recording
type AudioChunk struct {
	Index  int           `json:"index"`
	Start  time.Duration `json:"start"`
	End    time.Duration `json:"end"`
	Format Format        `json:"format"`
	Forced bool          `json:"forced"` // Cut because MaxChunkLength was reached
	Data   []byte        `json:"-"`      // Standalone WAV container
}

// Duration returns the length of the chunk.
func (c AudioChunk) Duration() time.Duration {
	return c.End - c.Start
}

// Params contains the segmentation tunables
type Params struct {
	MinSilenceLen   time.Duration
	SilenceThreshDB float64
	MinChunkLength  time.Duration
	MaxChunkLength  time.Duration
}

// Validate checks the parameter combination.
func (p Params) Validate() error {
	if p.MinSilenceLen < time.Millisecond {
		return fmt.Errorf("min silence length must be at least 1ms, got %v", p.MinSilenceLen)
	}
	if p.SilenceThreshDB > 0 {
		return fmt.Errorf("silence threshold must be <= 0 dBFS, got %f", p.SilenceThreshDB)
	}
	if p.MinChunkLength < 0 {
		return fmt.Errorf("min chunk length cannot be negative, got %v", p.MinChunkLength)
	}
	if p.MaxChunkLength <= 0 {
		return fmt.Errorf("max chunk length must be positive, got %v", p.MaxChunkLength)
	}
	if p.MaxChunkLength < p.MinChunkLength {
		return fmt.Errorf("max chunk length (%v) must not be below min chunk length (%v)",
			p.MaxChunkLength, p.MinChunkLength)
	}
	return nil
}

// Cut is a planned chunk boundary pair.
type Cut struct {
	vad.Interval
	Forced bool
}

// PlanChunks groups non-silent intervals into chunk boundaries.
//
// Walking left to right with a running chunk start, a forced cut is emitted
// every time the chunk reaches MaxChunkLength, even mid-speech. Otherwise a
// natural cut closes the chunk at the end of an interval that is followed by a
// gap of at least MinSilenceLen, or that is the last one; it is emitted only if
// it reaches MinChunkLength and the start then moves to the next interval.
// A remainder shorter than MinChunkLength at a natural cut is dropped.
func PlanChunks(intervals []vad.Interval, p Params) []Cut {
	if len(intervals) == 0 {
		return nil
	}

	var cuts []Cut
	start := intervals[0].Start
	for i, iv := range intervals {
		for iv.End-start >= p.MaxChunkLength {
			cuts = append(cuts, Cut{Interval: vad.Interval{Start: start, End: start + p.MaxChunkLength}, Forced: true})
			start += p.MaxChunkLength
		}

		last := i == len(intervals)-1
		if !last && intervals[i+1].Start-iv.End < p.MinSilenceLen {
			continue
		}

		if length := iv.End - start; length > 0 && length >= p.MinChunkLength {
			cuts = append(cuts, Cut{Interval: vad.Interval{Start: start, End: iv.End}})
		}
		if last {
			start = iv.End
		} else {
			start = intervals[i+1].Start
		}
	}
	return cuts
}

// Segmenter splits WAV recordings into speech chunks
type Segmenter struct {
	params   Params
	detector *vad.Detector
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewSegmenter creates a segmenter for the given parameters.
func NewSegmenter(params Params, logger *slog.Logger, m *metrics.Metrics) (*Segmenter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	detector, err := vad.NewDetector(params.MinSilenceLen, params.SilenceThreshDB)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		params:   params,
		detector: detector,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Params returns the segmentation parameters.
func (s *Segmenter) Params() Params {
	return s.params
}

// Segment decodes a WAV recording and returns its speech chunks in source order.
// An empty result means no speech-like audio was found.
func (s *Segmenter) Segment(wav []byte) ([]AudioChunk, error) {
	pcm, err := DecodeWAV(wav)
	if err != nil {
		s.metrics.RecordSegmentationError()
		return nil, fmt.Errorf("%w: %w", ErrSegmentation, err)
	}
	return s.SegmentPCM(pcm)
}

// SegmentPCM cuts already decoded audio. Callers that also need IsSilencePCM
// decode once and pass the same *PCM to both.
func (s *Segmenter) SegmentPCM(pcm *PCM) ([]AudioChunk, error) {
	startTime := time.Now()

	intervals := s.detector.Detect(pcm.Signal())
	cuts := PlanChunks(intervals, s.params)

	chunks, err := encodeCuts(pcm, cuts)
	if err != nil {
		s.metrics.RecordSegmentationError()
		return nil, fmt.Errorf("%w: %w", ErrSegmentation, err)
	}

	for _, c := range chunks {
		s.metrics.RecordChunkGenerated(c.Duration().Seconds(), len(c.Data), c.Forced)
	}
	s.metrics.RecordSegmentation(time.Since(startTime).Seconds(), len(chunks) == 0)

	s.logger.Debug("Audio segmented",
		slog.Duration("audio_duration", pcm.Duration()),
		slog.Int("nonsilent_intervals", len(intervals)),
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return chunks, nil
}

// Detect returns the non-silent intervals of a WAV recording without cutting it.
func (s *Segmenter) Detect(wav []byte) ([]vad.Interval, error) {
	pcm, err := DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentation, err)
	}
	return s.detector.Detect(pcm.Signal()), nil
}

// IsSilence reports whether the whole recording stays at or below the silence threshold.
func (s *Segmenter) IsSilence(wav []byte) (bool, error) {
	pcm, err := DecodeWAV(wav)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrSegmentation, err)
	}
	return s.IsSilencePCM(pcm), nil
}

// IsSilencePCM is IsSilence for already decoded audio.
func (s *Segmenter) IsSilencePCM(pcm *PCM) bool {
	return vad.Loudness(pcm.Signal()) <= s.params.SilenceThreshDB
}

// encodeCuts re-encodes every planned cut as a standalone WAV container.
func encodeCuts(pcm *PCM, cuts []Cut) ([]AudioChunk, error) {
	frames := pcm.Frames()
	total := pcm.Duration().Truncate(time.Millisecond)

	chunks := make([]AudioChunk, 0, len(cuts))
	for _, cut := range cuts {
		startFrame := pcm.FrameAt(cut.Start)
		endFrame := pcm.FrameAt(cut.End)
		if cut.End >= total {
			endFrame = frames
		}
		if endFrame <= startFrame {
			continue
		}

		data, err := EncodeWAV(pcm.Format, pcm.Slice(startFrame, endFrame))
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk %v: %w", cut.Interval, err)
		}

		chunks = append(chunks, AudioChunk{
			Index:  len(chunks),
			Start:  cut.Start,
			End:    cut.End,
			Format: pcm.Format,
			Forced: cut.Forced,
			Data:   data,
		})
	}
	return chunks, nil
}
