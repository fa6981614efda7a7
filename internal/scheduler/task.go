package scheduler

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task. It only moves forward.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result is the outcome of a completed task
type Result struct {
	Text               string        `json:"text"`
	Confidence         float64       `json:"confidence"`
	ProcessingDuration time.Duration `json:"-"`
}

// MarshalJSON renders the processing duration in seconds.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text           string  `json:"text"`
		Confidence     float64 `json:"confidence"`
		ProcessingTime float64 `json:"processing_time"`
	}{r.Text, r.Confidence, r.ProcessingDuration.Seconds()})
}

// Task is one unit of transcription work
type Task struct {
	ID              string
	OriginID        string
	AudioData       []byte
	ContextText     string
	Status          Status
	Result          *Result // Set only when completed
	Error           string  // Set only when failed
	TotalChunksHint int
	ChunkTimings    []time.Duration
	CreatedAt       time.Time
	StartedAt       time.Time
}

// Progress is the derived progress of a task
type Progress struct {
	TotalChunks          int
	ProcessedChunks      int
	AverageChunkDuration time.Duration
	EstimatedRemaining   time.Duration
}

// MarshalJSON renders durations in seconds.
func (p Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TotalChunks      int     `json:"total_chunks"`
		ProcessedChunks  int     `json:"processed_chunks"`
		EstimatedTime    float64 `json:"estimated_time"`
		AverageChunkTime float64 `json:"average_chunk_time"`
	}{p.TotalChunks, p.ProcessedChunks, p.EstimatedRemaining.Seconds(), p.AverageChunkDuration.Seconds()})
}

// Progress computes the progress snapshot from the recorded chunk timings.
// Before the first completion average and remaining time are zero.
func (t *Task) Progress() Progress {
	p := Progress{
		TotalChunks:     t.TotalChunksHint,
		ProcessedChunks: len(t.ChunkTimings),
	}
	if p.ProcessedChunks == 0 {
		return p
	}

	var sum time.Duration
	for _, d := range t.ChunkTimings {
		sum += d
	}
	p.AverageChunkDuration = sum / time.Duration(p.ProcessedChunks)

	if remaining := p.TotalChunks - p.ProcessedChunks; remaining > 0 {
		p.EstimatedRemaining = time.Duration(remaining) * p.AverageChunkDuration
	}
	return p
}

// clone returns a deep copy safe to hand out of the store.
func (t *Task) clone() *Task {
	c := *t
	c.AudioData = append([]byte(nil), t.AudioData...)
	c.ChunkTimings = append([]time.Duration(nil), t.ChunkTimings...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
