package scheduler

import "encoding/json"

// Update is a lifecycle notification for one task. The concrete type is one
// of QueuedUpdate, ProcessingUpdate, ProgressUpdate, ResultUpdate or
// ErrorUpdate.
type Update interface {
	// Type returns the wire discriminator of the update.
	Type() string
	GetTaskID() string
	GetOriginID() string
}

// Callback receives the updates of one task. It is called from the
// submitting goroutine for the queued update and from a worker afterwards,
// never concurrently for the same task.
type Callback func(Update)

// Envelope identifies the task an update belongs to.
type Envelope struct {
	TaskID   string `json:"task_id"`
	OriginID string `json:"origin_id,omitempty"`
}

// GetTaskID returns the task id.
func (e Envelope) GetTaskID() string { return e.TaskID }

// GetOriginID returns the origin the task was submitted for.
func (e Envelope) GetOriginID() string { return e.OriginID }

// QueuedUpdate is delivered once the task is stored and enqueued.
type QueuedUpdate struct {
	Envelope
	Progress Progress
}

// ProcessingUpdate is delivered when a worker picks the task up.
type ProcessingUpdate struct {
	Envelope
}

// ProgressUpdate is delivered after a successful engine call, before the result.
type ProgressUpdate struct {
	Envelope
	Progress Progress
}

// ResultUpdate is the terminal update of a completed task.
type ResultUpdate struct {
	Envelope
	Result   Result
	Progress Progress
}

// ErrorUpdate is the terminal update of a failed task.
type ErrorUpdate struct {
	Envelope
	Message string
}

func (QueuedUpdate) Type() string     { return "queued" }
func (ProcessingUpdate) Type() string { return "processing" }
func (ProgressUpdate) Type() string   { return "progress_update" }
func (ResultUpdate) Type() string     { return "transcription_result" }
func (ErrorUpdate) Type() string      { return "error" }

// Terminal reports whether u is the last update of its task.
func Terminal(u Update) bool {
	switch u.(type) {
	case ResultUpdate, ErrorUpdate:
		return true
	}
	return false
}

type wireUpdate struct {
	Type string `json:"type"`
	Envelope
	Status   Status    `json:"status"`
	Progress *Progress `json:"progress,omitempty"`
	Result   *Result   `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func (u QueuedUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireUpdate{Type: u.Type(), Envelope: u.Envelope, Status: StatusPending, Progress: &u.Progress})
}

func (u ProcessingUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireUpdate{Type: u.Type(), Envelope: u.Envelope, Status: StatusProcessing})
}

func (u ProgressUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireUpdate{Type: u.Type(), Envelope: u.Envelope, Status: StatusProcessing, Progress: &u.Progress})
}

func (u ResultUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireUpdate{Type: u.Type(), Envelope: u.Envelope, Status: StatusCompleted, Progress: &u.Progress, Result: &u.Result})
}

func (u ErrorUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireUpdate{Type: u.Type(), Envelope: u.Envelope, Status: StatusFailed, Error: u.Message})
}
