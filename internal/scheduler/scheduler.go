// Package scheduler is the delay-based task scheduler periodic timers are
// registered with. Firings run one at a time on a single dispatch goroutine.
package scheduler

import (
	"container/heap"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// ErrStopped is returned by Start once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler: stopped")

// Task is fired by the scheduler. A positive return value re-arms the task
// under the same handle after that delay; zero or negative retires it.
type Task interface {
	Run() time.Duration
}

// TaskFunc adapts a function to Task.
type TaskFunc func() time.Duration

func (f TaskFunc) Run() time.Duration { return f() }

// Handle identifies a registered task. The zero Handle is never issued.
type Handle uint64

type entry struct {
	handle    Handle
	task      Task
	due       time.Time
	seq       uint64
	index     int
	firing    bool
	cancelled bool
}

// Scheduler manages delayed tasks.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	queue   entryHeap
	entries map[Handle]*entry
	next    Handle
	seq     uint64
	started bool
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New creates a scheduler. A nil clock means SystemClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		clock:   clock,
		entries: make(map[Handle]*entry),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Clock returns the clock the scheduler runs on.
func (s *Scheduler) Clock() Clock { return s.clock }

// Start launches the dispatch goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	go s.loop()
	return nil
}

// Stop halts dispatching and drops every pending task. It waits for an
// in-flight firing to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.queue = nil
	s.entries = make(map[Handle]*entry)
	s.mu.Unlock()

	close(s.quit)
	if started {
		<-s.done
	}
}

// Register schedules task to fire after delay.
func (s *Scheduler) Register(task Task, delay time.Duration) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	h := s.next
	if s.stopped {
		return h
	}
	e := &entry{handle: h, task: task, due: s.clock.Now().Add(delay)}
	s.push(e)
	s.entries[h] = e
	if e.index == 0 {
		s.signal()
	}
	return h
}

// Cancel retires the task behind h. It reports true when the task was still
// pending: either queued, or currently firing in which case its re-arm is
// suppressed. It reports false when the task already retired or h is unknown.
func (s *Scheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h]
	if !ok {
		return false
	}
	delete(s.entries, h)
	if e.firing {
		e.cancelled = true
		return true
	}
	heap.Remove(&s.queue, e.index)
	return true
}

// Len returns the number of live tasks, firing ones included.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) push(e *entry) {
	s.seq++
	e.seq = s.seq
	heap.Push(&s.queue, e)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		now := s.clock.Now()
		var fire *entry
		wait := time.Duration(-1)
		if s.queue.Len() > 0 {
			top := s.queue[0]
			if !top.due.After(now) {
				heap.Pop(&s.queue)
				top.firing = true
				fire = top
			} else {
				wait = top.due.Sub(now)
			}
		}
		s.mu.Unlock()

		if fire != nil {
			s.fire(fire)
			continue
		}

		var timer Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = s.clock.NewTimer(wait)
			timerC = timer.C()
		}
		select {
		case <-s.wake:
		case <-timerC:
		case <-s.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) fire(e *entry) {
	next := runTask(e.task)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.firing = false
	if e.cancelled || s.stopped || next <= 0 {
		if !e.cancelled {
			delete(s.entries, e.handle)
		}
		return
	}
	e.due = s.clock.Now().Add(next)
	s.push(e)
}

func runTask(t Task) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: task panic: %v\n%s", r, debug.Stack())
			next = 0
		}
	}()
	return t.Run()
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
