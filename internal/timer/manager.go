// Package timer manages the lifetime of a self-rescheduling periodic task
// that may be started, expire on its own and be cancelled from other
// goroutines at the same time.
//
// A Manager adjudicates the race between the task's own terminal path
// (SelfStop) and an external Cancel so that exactly one of them owns the
// terminal transition.
package timer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jask/shellgame/internal/scheduler"
)

// Scheduler is the delay scheduler a Manager registers its task with.
// *scheduler.Scheduler satisfies it.
type Scheduler interface {
	Register(task scheduler.Task, delay time.Duration) scheduler.Handle
	Cancel(h scheduler.Handle) (wasPending bool)
}

var _ Scheduler = (*scheduler.Scheduler)(nil)

// PeriodicTask reports, on every run, the delay until its next run. A zero or
// negative delay is terminal; the task's terminal path must call SelfStop on
// its Manager before returning.
type PeriodicTask interface {
	Run() time.Duration
}

// PeriodicFunc adapts a function to PeriodicTask.
type PeriodicFunc func() time.Duration

func (f PeriodicFunc) Run() time.Duration { return f() }

// State is the lifecycle state of a Manager.
type State int

const (
	Idle State = iota
	Arming
	Armed
	Cancelling
	Done
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Arming:
		return "arming"
	case Armed:
		return "armed"
	case Cancelling:
		return "cancelling"
	case Done:
		return "done"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manager is the lifecycle record of one periodic task. The zero value is
// ready to use. A Manager is single-use: once Done or Stopped it stays there.
type Manager struct {
	// Logger receives contract violations. Nil means log.Default().
	Logger *log.Logger

	mu       sync.Mutex
	state    State
	handle   scheduler.Handle
	deferred bool
	changed  chan struct{}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start runs task once to obtain its first delay and registers it with s.
// It returns false when a Cancel already finished on this record, in which
// case task never runs. Calling Start twice is a contract violation.
func (m *Manager) Start(s Scheduler, task PeriodicTask) bool {
	m.mu.Lock()
	switch m.state {
	case Idle:
	case Done:
		m.mu.Unlock()
		return false
	default:
		st := m.state
		m.mu.Unlock()
		m.violation("start on a timer that is %s", st)
		return false
	}
	m.state = Arming
	m.mu.Unlock()

	delay := task.Run()

	m.mu.Lock()
	if m.state == Stopped || delay <= 0 {
		m.state = Stopped
		m.broadcast()
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	h := s.Register(task, delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	// A firing may already have stopped the task.
	if m.state == Arming {
		m.state = Armed
		m.handle = h
	}
	m.broadcast()
	return true
}

// SelfStop is called from the task's own terminal path. It returns true when
// the caller owns the terminal transition and must run its stop effects. It
// returns false when a Cancel is in flight or already won; the canceller then
// owns the transition.
func (m *Manager) SelfStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Arming, Armed:
		m.state = Stopped
		m.broadcast()
		return true
	case Cancelling:
		m.deferred = true
		return false
	default:
		return false
	}
}

// Cancel stops the task. It blocks while a Start is registering the task or
// another Cancel is talking to the scheduler, and gives up with ctx.Err() if
// ctx ends first, leaving the record as if Cancel had not been called.
//
// Cancel reports true when it prevented further firings of a live task, and
// false when there was nothing to cancel: the task never started, already
// stopped itself, or another Cancel won.
func (m *Manager) Cancel(ctx context.Context, s Scheduler) (bool, error) {
	m.mu.Lock()
	for {
		switch m.state {
		case Idle:
			m.state = Done
			m.broadcast()
			m.mu.Unlock()
			return false, nil

		case Arming, Cancelling:
			ch := m.waitCh()
			m.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return false, ctx.Err()
			}
			m.mu.Lock()

		case Armed:
			h := m.handle
			m.state = Cancelling
			m.deferred = false
			m.mu.Unlock()

			pending := s.Cancel(h)

			m.mu.Lock()
			m.state = Done
			m.handle = 0
			cancelled := pending || m.deferred
			m.broadcast()
			m.mu.Unlock()
			return cancelled, nil

		default:
			m.mu.Unlock()
			return false, nil
		}
	}
}

func (m *Manager) waitCh() chan struct{} {
	if m.changed == nil {
		m.changed = make(chan struct{})
	}
	return m.changed
}

func (m *Manager) broadcast() {
	if m.changed != nil {
		close(m.changed)
		m.changed = nil
	}
}

func (m *Manager) violation(format string, args ...any) {
	msg := fmt.Sprintf("timer: "+format, args...)
	if assertions {
		panic(msg)
	}
	l := m.Logger
	if l == nil {
		l = log.Default()
	}
	l.Print(msg)
}
