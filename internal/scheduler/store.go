package scheduler

import "sync"

// entry is a stored task together with its callback
type entry struct {
	task     *Task
	callback Callback
	queued   chan struct{} // Closed once the queued update has been delivered
}

// store holds every task that has not yet delivered its terminal update.
// All access goes through its mutex; tasks never leave it by reference.
type store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newStore() *store {
	return &store{entries: make(map[string]*entry)}
}

func (s *store) add(task *Task, cb Callback) *entry {
	e := &entry{task: task, callback: cb, queued: make(chan struct{})}
	s.mu.Lock()
	s.entries[task.ID] = e
	s.mu.Unlock()
	return e
}

func (s *store) get(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// update applies fn to the stored task under the lock and returns a copy of
// the result.
func (s *store) update(id string, fn func(t *Task)) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	fn(e.task)
	return e.task.clone(), true
}

func (s *store) snapshot(id string) (*Task, bool) {
	return s.update(id, func(*Task) {})
}

// remove deletes the task and its callback. It reports whether it was present.
func (s *store) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// counts returns the number of stored tasks per status
func (s *store) counts() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int, 4)
	for _, e := range s.entries {
		counts[e.task.Status]++
	}
	return counts
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
