package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
	"github.com/arkonballoon/VoiceToDocWeb/internal/transcription"
)

var (
	// ErrAlreadyStarted is returned by Start while workers are running.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrInvalidWorkerCount is returned by Start for fewer than one worker.
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	// ErrTaskNotFound is reported for ids that are not (or no longer) stored.
	ErrTaskNotFound = errors.New("task not found")
)

// DefaultQueueSize is the queue capacity used when Config.QueueSize is unset.
const DefaultQueueSize = 100

// Transcriber performs one engine call. It is normally a
// *transcription.SharedResource so that calls from all workers are serialized.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error)
}

// Config contains scheduler settings
type Config struct {
	QueueSize   int
	TaskTimeout time.Duration // Upper bound for one engine call, 0 for none
}

// SubmitRequest describes one chunk to transcribe
type SubmitRequest struct {
	AudioData       []byte
	ContextText     string
	OriginID        string
	TotalChunksHint int
}

// Stats describes the scheduler state
type Stats struct {
	Running       bool   `json:"running"`
	Workers       int    `json:"workers"`
	QueueLength   int    `json:"queue_length"`
	QueueCapacity int    `json:"queue_capacity"`
	Pending       int    `json:"pending"`
	Processing    int    `json:"processing"`
	Submitted     uint64 `json:"submitted"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
}

// Scheduler dispatches transcription tasks to a pool of workers
type Scheduler struct {
	config      Config
	transcriber Transcriber
	store       *store
	queue       chan string
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	workers int

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a scheduler. Workers are not running until Start is called;
// tasks submitted before that wait in the queue.
func New(config Config, transcriber Transcriber, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config:      config,
		transcriber: transcriber,
		store:       newStore(),
		queue:       make(chan string, config.QueueSize),
		logger:      logger,
		metrics:     m,
	}
}

// Start launches exactly workers worker goroutines.
func (s *Scheduler) Start(workers int) error {
	if workers < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidWorkerCount, workers)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	s.cancel = cancel
	s.wg = wg
	s.workers = workers

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(ctx, wg, i)
	}

	s.logger.Info("Scheduler started",
		slog.Int("workers", workers),
		slog.Int("queue_size", s.config.QueueSize),
	)
	return nil
}

// Stop signals all workers to exit and waits for them. A worker that is
// processing a task finishes it first. Queued tasks stay queued and are
// picked up by a later Start. Stop is a no-op when not started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, wg := s.cancel, s.wg
	s.cancel, s.wg, s.workers = nil, nil, 0
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	s.logger.Info("Stopping scheduler...")
	cancel()
	wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Submit stores a copy of the audio as a new task, enqueues it and delivers
// the queued update to cb before returning the task id. It blocks while the
// queue is full; if ctx ends first nothing is stored and ctx.Err() is
// returned.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest, cb Callback) (string, error) {
	task := &Task{
		ID:              uuid.NewString(),
		OriginID:        req.OriginID,
		AudioData:       append([]byte(nil), req.AudioData...),
		ContextText:     req.ContextText,
		Status:          StatusPending,
		TotalChunksHint: req.TotalChunksHint,
		CreatedAt:       time.Now(),
	}
	e := s.store.add(task, cb)

	select {
	case s.queue <- task.ID:
	case <-ctx.Done():
		s.store.remove(task.ID)
		return "", fmt.Errorf("submit task: %w", ctx.Err())
	}

	s.submitted.Add(1)
	s.metrics.RecordTaskSubmitted()
	s.metrics.SetQueueLength(len(s.queue))

	s.logger.Debug("Task queued",
		slog.String("task_id", task.ID),
		slog.String("origin_id", task.OriginID),
		slog.Int("audio_bytes", len(task.AudioData)),
		slog.Int("total_chunks", task.TotalChunksHint),
	)

	s.deliver(e, QueuedUpdate{
		Envelope: Envelope{TaskID: task.ID, OriginID: task.OriginID},
		Progress: Progress{TotalChunks: task.TotalChunksHint},
	})
	close(e.queued)

	return task.ID, nil
}

// Progress returns the progress snapshot of a stored task.
func (s *Scheduler) Progress(taskID string) (Progress, error) {
	task, ok := s.store.snapshot(taskID)
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task.Progress(), nil
}

// Task returns a copy of a stored task.
func (s *Scheduler) Task(taskID string) (*Task, error) {
	task, ok := s.store.snapshot(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, nil
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	running := s.cancel != nil
	workers := s.workers
	s.mu.Unlock()

	counts := s.store.counts()
	return Stats{
		Running:       running,
		Workers:       workers,
		QueueLength:   len(s.queue),
		QueueCapacity: cap(s.queue),
		Pending:       counts[StatusPending],
		Processing:    counts[StatusProcessing],
		Submitted:     s.submitted.Load(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	logger := s.logger.With(slog.Int("worker", id))
	logger.Debug("Worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("Worker stopped")
			return
		}
		select {
		case <-ctx.Done():
			logger.Debug("Worker stopped")
			return
		case taskID := <-s.queue:
			s.metrics.SetQueueLength(len(s.queue))
			s.process(ctx, logger, taskID)
		}
	}
}

// process runs one task to its terminal update. Panics are recovered so the
// worker keeps going; a task interrupted by a panic is reported as failed.
func (s *Scheduler) process(ctx context.Context, logger *slog.Logger, taskID string) {
	e, ok := s.store.get(taskID)
	if !ok {
		logger.Warn("Dequeued unknown task",
			slog.String("task_id", taskID),
			slog.String("error", ErrTaskNotFound.Error()),
		)
		return
	}
	<-e.queued

	env := Envelope{TaskID: taskID, OriginID: e.task.OriginID}
	terminal := false

	defer func() {
		if p := recover(); p != nil {
			s.metrics.RecordWorkerPanic()
			logger.Error("Recovered panic while processing task",
				slog.String("task_id", taskID),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			if !terminal {
				s.fail(e, env, fmt.Sprintf("internal error: %v", p))
			}
		}
		s.store.remove(taskID)
	}()

	task, _ := s.store.update(taskID, func(t *Task) {
		t.Status = StatusProcessing
		t.StartedAt = time.Now()
	})
	s.metrics.RecordTaskStarted(task.StartedAt.Sub(task.CreatedAt).Seconds())

	s.deliver(e, ProcessingUpdate{Envelope: env})

	engineCtx, cancel := s.engineContext(ctx)
	chunkStart := time.Now()
	transcript, err := s.transcriber.Transcribe(engineCtx, task.AudioData, task.ContextText)
	elapsed := time.Since(chunkStart)
	cancel()

	if err != nil {
		logger.Error("Transcription failed",
			slog.String("task_id", taskID),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		terminal = true
		s.fail(e, env, err.Error())
		return
	}

	result := Result{
		Text:       transcript.Text,
		Confidence: transcript.Confidence,
	}
	task, _ = s.store.update(taskID, func(t *Task) {
		t.ChunkTimings = append(t.ChunkTimings, elapsed)
		result.ProcessingDuration = time.Since(t.StartedAt)
		t.Result = &result
		t.Status = StatusCompleted
	})
	progress := task.Progress()

	s.deliver(e, ProgressUpdate{Envelope: env, Progress: progress})

	terminal = true
	s.completed.Add(1)
	s.metrics.RecordTaskFinished(string(StatusCompleted))
	s.deliver(e, ResultUpdate{Envelope: env, Result: result, Progress: progress})

	logger.Debug("Task completed",
		slog.String("task_id", taskID),
		slog.Duration("elapsed", elapsed),
		slog.Int("text_length", len(result.Text)),
	)
}

// fail marks the task failed and delivers its error update
func (s *Scheduler) fail(e *entry, env Envelope, message string) {
	s.store.update(env.TaskID, func(t *Task) {
		t.Status = StatusFailed
		t.Error = message
	})
	s.failed.Add(1)
	s.metrics.RecordTaskFinished(string(StatusFailed))
	s.deliver(e, ErrorUpdate{Envelope: env, Message: message})
}

// engineContext detaches the engine call from worker cancellation so Stop
// lets in-flight calls finish, bounded by the task timeout if configured.
func (s *Scheduler) engineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.config.TaskTimeout > 0 {
		return context.WithTimeout(detached, s.config.TaskTimeout)
	}
	return context.WithCancel(detached)
}

// deliver invokes the task callback, recovering from callback panics
func (s *Scheduler) deliver(e *entry, u Update) {
	if e.callback == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Recovered panic in task callback",
				slog.String("task_id", u.GetTaskID()),
				slog.String("update", u.Type()),
				slog.Any("panic", p),
			)
		}
	}()
	e.callback(u)
}
