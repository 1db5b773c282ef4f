package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs one-shot tasks after a delay. Tasks are never cancelled
// individually; they must re-check whatever state they act on.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Timers is the process scheduler. Stop drops every task not yet fired.
type Timers struct {
	mu      sync.Mutex
	pending map[*time.Timer]struct{}
	stopped bool
}

func NewTimers() *Timers {
	return &Timers{pending: make(map[*time.Timer]struct{})}
}

func (s *Timers) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.pending, t)
		s.mu.Unlock()
		fn()
	})
	s.pending[t] = struct{}{}
}

// Pending reports how many tasks have not fired yet.
func (s *Timers) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Timers) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for t := range s.pending {
		t.Stop()
	}
	clear(s.pending)
}

// Manual fires tasks only when Advance moves its clock past their deadline.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	tasks []manualTask
}

type manualTask struct {
	at time.Time
	fn func()
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) After(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, manualTask{at: m.now.Add(d), fn: fn})
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock and runs due tasks in deadline order on the
// caller's goroutine.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var due, rest []manualTask
	for _, t := range m.tasks {
		if !t.at.After(m.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	m.tasks = rest
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}
