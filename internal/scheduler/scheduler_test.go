package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkonballoon/VoiceToDocWeb/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func echoEngine() transcription.EngineFunc {
	return func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		return transcription.Transcript{Text: "text:" + string(audio), Confidence: 0.9}, nil
	}
}

func newTestScheduler(t *testing.T, engine transcription.Engine, config Config) *Scheduler {
	t.Helper()
	resource := transcription.NewSharedResource(engine, testLogger(), nil)
	s := New(config, resource, testLogger(), nil)
	t.Cleanup(s.Stop)
	return s
}

// recorder collects the updates of many tasks
type recorder struct {
	mu       sync.Mutex
	updates  map[string][]Update
	terminal chan Update
}

func newRecorder(capacity int) *recorder {
	return &recorder{
		updates:  make(map[string][]Update),
		terminal: make(chan Update, capacity),
	}
}

func (r *recorder) callback(u Update) {
	r.mu.Lock()
	r.updates[u.GetTaskID()] = append(r.updates[u.GetTaskID()], u)
	r.mu.Unlock()
	if Terminal(u) {
		r.terminal <- u
	}
}

func (r *recorder) types(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, u := range r.updates[taskID] {
		types = append(types, u.Type())
	}
	return types
}

func (r *recorder) waitTerminal(t *testing.T, n int) []Update {
	t.Helper()
	var got []Update
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case u := <-r.terminal:
			got = append(got, u)
		case <-timeout:
			t.Fatalf("Timed out after %d of %d terminal updates", len(got), n)
		}
	}
	return got
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func submit(t *testing.T, s *Scheduler, audio string, hint int, cb Callback) string {
	t.Helper()
	id, err := s.Submit(context.Background(), SubmitRequest{
		AudioData:       []byte(audio),
		OriginID:        "origin-1",
		TotalChunksHint: hint,
	}, cb)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return id
}

func TestSchedulerDeliversLifecycleInOrder(t *testing.T) {
	s := newTestScheduler(t, echoEngine(), Config{})
	rec := newRecorder(1)

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	id := submit(t, s, "chunk", 3, rec.callback)
	final := rec.waitTerminal(t, 1)[0]

	result, ok := final.(ResultUpdate)
	if !ok {
		t.Fatalf("Expected ResultUpdate, got %T", final)
	}
	if result.TaskID != id || result.OriginID != "origin-1" {
		t.Errorf("Unexpected envelope %+v", result.Envelope)
	}
	if result.Result.Text != "text:chunk" || result.Result.Confidence != 0.9 {
		t.Errorf("Unexpected result %+v", result.Result)
	}
	if result.Progress.TotalChunks != 3 || result.Progress.ProcessedChunks != 1 {
		t.Errorf("Unexpected progress %+v", result.Progress)
	}
	if result.Progress.EstimatedRemaining != 2*result.Progress.AverageChunkDuration {
		t.Errorf("Expected remaining of two average chunks, got %+v", result.Progress)
	}

	want := []string{"queued", "processing", "progress_update", "transcription_result"}
	if got := rec.types(id); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected updates %v, got %v", want, got)
	}

	waitFor(t, "task removal", func() bool {
		_, err := s.Task(id)
		return errors.Is(err, ErrTaskNotFound)
	})
	if _, err := s.Progress(id); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for finished task, got %v", err)
	}
}

func TestSchedulerQueuedProgressBeforeStart(t *testing.T) {
	s := newTestScheduler(t, echoEngine(), Config{})

	var queued QueuedUpdate
	id := submit(t, s, "chunk", 5, func(u Update) {
		if q, ok := u.(QueuedUpdate); ok {
			queued = q
		}
	})

	if queued.TaskID != id || queued.Progress.TotalChunks != 5 || queued.Progress.ProcessedChunks != 0 {
		t.Errorf("Unexpected queued update %+v", queued)
	}

	progress, err := s.Progress(id)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if progress != (Progress{TotalChunks: 5}) {
		t.Errorf("Expected empty progress, got %+v", progress)
	}

	task, err := s.Task(id)
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if task.Status != StatusPending || string(task.AudioData) != "chunk" {
		t.Errorf("Unexpected task %+v", task)
	}

	stats := s.GetStats()
	if stats.Running || stats.Pending != 1 || stats.QueueLength != 1 || stats.QueueCapacity != DefaultQueueSize {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestSchedulerCopiesAudio(t *testing.T) {
	s := newTestScheduler(t, echoEngine(), Config{})
	rec := newRecorder(1)

	audio := []byte("original")
	if _, err := s.Submit(context.Background(), SubmitRequest{AudioData: audio}, rec.callback); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	copy(audio, "mutated!")

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	final := rec.waitTerminal(t, 1)[0].(ResultUpdate)
	if final.Result.Text != "text:original" {
		t.Errorf("Expected task to keep its own audio copy, got %q", final.Result.Text)
	}
}

func TestSchedulerFailureIsolation(t *testing.T) {
	engine := transcription.EngineFunc(func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		if string(audio) == "bad" {
			return transcription.Transcript{}, errors.New("decoder error")
		}
		return transcription.Transcript{Text: string(audio)}, nil
	})
	s := newTestScheduler(t, engine, Config{})
	rec := newRecorder(3)

	if err := s.Start(2); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	good1 := submit(t, s, "good1", 3, rec.callback)
	bad := submit(t, s, "bad", 3, rec.callback)
	good2 := submit(t, s, "good2", 3, rec.callback)

	results := map[string]Update{}
	for _, u := range rec.waitTerminal(t, 3) {
		results[u.GetTaskID()] = u
	}

	for _, id := range []string{good1, good2} {
		if _, ok := results[id].(ResultUpdate); !ok {
			t.Errorf("Expected task %s to complete, got %T", id, results[id])
		}
	}

	failure, ok := results[bad].(ErrorUpdate)
	if !ok {
		t.Fatalf("Expected ErrorUpdate for failing task, got %T", results[bad])
	}
	if !strings.Contains(failure.Message, "decoder error") {
		t.Errorf("Expected engine error in message, got %q", failure.Message)
	}
	want := []string{"queued", "processing", "error"}
	if got := rec.types(bad); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected updates %v, got %v", want, got)
	}

	waitFor(t, "counters", func() bool {
		stats := s.GetStats()
		return stats.Completed == 2 && stats.Failed == 1
	})
}

func TestSchedulerConcurrentSubmitLosesNothing(t *testing.T) {
	const tasks = 60
	s := newTestScheduler(t, echoEngine(), Config{QueueSize: 8})
	rec := newRecorder(tasks)

	if err := s.Start(4); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	ids := make(chan string, tasks)
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Submit(context.Background(), SubmitRequest{
				AudioData:       []byte(fmt.Sprintf("chunk-%d", i)),
				TotalChunksHint: tasks,
			}, rec.callback)
			if err != nil {
				t.Errorf("Submit failed: %v", err)
				return
			}
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	terminals := map[string]int{}
	for _, u := range rec.waitTerminal(t, tasks) {
		terminals[u.GetTaskID()]++
	}

	for id := range ids {
		if terminals[id] != 1 {
			t.Errorf("Task %s got %d terminal updates", id, terminals[id])
		}
		types := rec.types(id)
		if len(types) == 0 || types[0] != "queued" {
			t.Errorf("Task %s: expected queued first, got %v", id, types)
		}
	}

	waitFor(t, "empty store", func() bool { return s.store.len() == 0 })
	stats := s.GetStats()
	if stats.Submitted != tasks || stats.Completed != tasks {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestSchedulerSingleWorkerIsFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string
	engine := transcription.EngineFunc(func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		mu.Lock()
		order = append(order, string(audio))
		mu.Unlock()
		return transcription.Transcript{Text: string(audio)}, nil
	})
	s := newTestScheduler(t, engine, Config{})
	rec := newRecorder(10)

	var want []string
	for i := 0; i < 10; i++ {
		audio := fmt.Sprintf("chunk-%02d", i)
		want = append(want, audio)
		submit(t, s, audio, 10, rec.callback)
	}

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var completed []string
	for _, u := range rec.waitTerminal(t, 10) {
		completed = append(completed, u.(ResultUpdate).Result.Text)
	}

	if strings.Join(completed, ",") != strings.Join(want, ",") {
		t.Errorf("Expected completions in submission order %v, got %v", want, completed)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("Expected engine calls in submission order, got %v", order)
	}
}

func TestSchedulerSerializesEngineCalls(t *testing.T) {
	var active, maxActive int32
	engine := transcription.EngineFunc(func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return transcription.Transcript{Text: "ok"}, nil
	})
	s := newTestScheduler(t, engine, Config{})
	rec := newRecorder(20)

	if err := s.Start(4); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		submit(t, s, "chunk", 20, rec.callback)
	}
	rec.waitTerminal(t, 20)

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("Expected at most one engine call at a time, got %d", got)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := newTestScheduler(t, echoEngine(), Config{})

	// Stop before Start is a no-op
	s.Stop()

	if err := s.Start(0); !errors.Is(err, ErrInvalidWorkerCount) {
		t.Errorf("Expected ErrInvalidWorkerCount, got %v", err)
	}
	if err := s.Start(2); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(1); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	if stats := s.GetStats(); !stats.Running || stats.Workers != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop of idle scheduler did not return")
	}
	if stats := s.GetStats(); stats.Running || stats.Workers != 0 {
		t.Errorf("Unexpected stats after Stop %+v", stats)
	}

	// Queued work survives a restart
	rec := newRecorder(1)
	submit(t, s, "later", 1, rec.callback)
	if err := s.Start(1); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if _, ok := rec.waitTerminal(t, 1)[0].(ResultUpdate); !ok {
		t.Error("Expected queued task to complete after restart")
	}
}

func TestSchedulerStopWaitsForInFlightTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	engine := transcription.EngineFunc(func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return transcription.Transcript{}, ctx.Err()
		}
		return transcription.Transcript{Text: "finished"}, nil
	})
	s := newTestScheduler(t, engine, Config{})
	rec := newRecorder(1)

	if err := s.Start(2); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	submit(t, s, "chunk", 1, rec.callback)
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the in-flight task finished")
	}

	final := rec.waitTerminal(t, 1)[0]
	if r, ok := final.(ResultUpdate); !ok || r.Result.Text != "finished" {
		t.Errorf("Expected in-flight task to complete, got %+v", final)
	}
}

func TestSchedulerTaskTimeout(t *testing.T) {
	engine := transcription.EngineFunc(func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		<-ctx.Done()
		return transcription.Transcript{}, ctx.Err()
	})
	s := newTestScheduler(t, engine, Config{TaskTimeout: 10 * time.Millisecond})
	rec := newRecorder(1)

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	submit(t, s, "chunk", 1, rec.callback)

	failure, ok := rec.waitTerminal(t, 1)[0].(ErrorUpdate)
	if !ok {
		t.Fatal("Expected ErrorUpdate")
	}
	if !strings.Contains(failure.Message, context.DeadlineExceeded.Error()) {
		t.Errorf("Expected deadline error, got %q", failure.Message)
	}
}

func TestSchedulerCallbackPanicStillRemovesTask(t *testing.T) {
	s := newTestScheduler(t, echoEngine(), Config{})

	var calls int32
	cb := func(u Update) {
		atomic.AddInt32(&calls, 1)
		panic("callback exploded")
	}

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := submit(t, s, "chunk", 1, cb)

	waitFor(t, "task removal", func() bool {
		_, err := s.Task(id)
		return errors.Is(err, ErrTaskNotFound)
	})
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("Expected 4 callback invocations, got %d", got)
	}
	if stats := s.GetStats(); stats.Completed != 1 {
		t.Errorf("Expected task to complete, got %+v", stats)
	}

	// The worker is still alive
	rec := newRecorder(1)
	submit(t, s, "next", 1, rec.callback)
	rec.waitTerminal(t, 1)
}

func TestSchedulerEnginePanicFailsTask(t *testing.T) {
	engine := transcription.EngineFunc(func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		if string(audio) == "boom" {
			panic("engine exploded")
		}
		return transcription.Transcript{Text: "ok"}, nil
	})
	s := newTestScheduler(t, engine, Config{})
	rec := newRecorder(2)

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	boom := submit(t, s, "boom", 2, rec.callback)
	submit(t, s, "fine", 2, rec.callback)

	for _, u := range rec.waitTerminal(t, 2) {
		_, isErr := u.(ErrorUpdate)
		if (u.GetTaskID() == boom) != isErr {
			t.Errorf("Unexpected terminal update %T for task %s", u, u.GetTaskID())
		}
	}
}

func TestSubmitOnFullQueueHonorsContext(t *testing.T) {
	s := newTestScheduler(t, echoEngine(), Config{QueueSize: 1})

	submit(t, s, "first", 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	_, err := s.Submit(ctx, SubmitRequest{AudioData: []byte("second")}, func(Update) { called = true })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	if called {
		t.Error("Expected no update for an aborted submit")
	}
	if stats := s.GetStats(); stats.Pending != 1 || stats.Submitted != 1 {
		t.Errorf("Expected only the first task to be stored, got %+v", stats)
	}
}

func TestSubmitBlocksUntilQueueHasRoom(t *testing.T) {
	release := make(chan struct{})
	engine := transcription.EngineFunc(func(ctx context.Context, audio []byte, contextText string) (transcription.Transcript, error) {
		<-release
		return transcription.Transcript{Text: string(audio)}, nil
	})
	s := newTestScheduler(t, engine, Config{QueueSize: 1})
	rec := newRecorder(3)

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	submit(t, s, "a", 3, rec.callback)
	waitFor(t, "first task to be taken", func() bool { return s.GetStats().Processing == 1 })
	submit(t, s, "b", 3, rec.callback)

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		if _, err := s.Submit(context.Background(), SubmitRequest{AudioData: []byte("c")}, rec.callback); err != nil {
			t.Errorf("Submit failed: %v", err)
		}
	}()

	select {
	case <-submitted:
		t.Fatal("Submit returned while the queue was full")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return after the queue drained")
	}
	rec.waitTerminal(t, 3)
}

func TestWorkerSkipsUnknownTaskID(t *testing.T) {
	s := newTestScheduler(t, echoEngine(), Config{})
	rec := newRecorder(1)

	// An id whose task was never stored, ahead of a real one
	s.queue <- "missing-task"

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	id := submit(t, s, "after", 1, rec.callback)
	final := rec.waitTerminal(t, 1)[0]

	if _, ok := final.(ResultUpdate); !ok || final.GetTaskID() != id {
		t.Fatalf("Expected result for %s, got %T for %s", id, final, final.GetTaskID())
	}

	waitFor(t, "task removal", func() bool {
		_, err := s.Task(id)
		return errors.Is(err, ErrTaskNotFound)
	})

	stats := s.GetStats()
	if stats.Workers != 1 || !stats.Running {
		t.Errorf("Expected one running worker, got %+v", stats)
	}
	if stats.QueueLength != 0 || stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}
