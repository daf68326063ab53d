package usecase

import (
	"sync"
	"time"
)

// Scheduler runs at most one pending delayed task per key.
// Scheduling a key again cancels the previous task atomically.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	seq     uint64
	stopped bool
	wg      sync.WaitGroup
}

type scheduledTask struct {
	timer *time.Timer
	gen   uint64
}

// NewScheduler creates an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*scheduledTask)}
}

// Schedule arms fn to run after delay, replacing any pending task for key
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	gen := s.seq

	task := &scheduledTask{gen: gen}
	task.timer = time.AfterFunc(delay, func() {
		// a superseded timer may still fire if Stop lost the race
		s.mu.Lock()
		cur, ok := s.tasks[key]
		if !ok || cur.gen != gen || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		fn()
	})
	s.tasks[key] = task
}

// Cancel drops the pending task for key, reporting whether one existed
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether key has an armed task
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop cancels every pending task and waits for running ones to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
