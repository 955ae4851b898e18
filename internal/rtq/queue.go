// Package rtq is the render task queue: any goroutine may submit work, and
// only the render worker drains it, in submission order, one task at a time.
//
// Producers swap themselves in as the tail and link behind the previous tail.
// The consumer walks from head. When it reaches the last known task it parks
// the exec marker in the tail before running that task, so a producer racing
// in links behind the marker instead of behind a task that is already gone.
package rtq

import (
	"runtime"
	"sync/atomic"
)

// FrameID numbers processing passes. It grows by one per pass.
type FrameID uint64

// Task is a unit of work executed on the render worker. Returning true asks
// for a frame to be rendered before any later task runs.
type Task interface {
	Run(frame FrameID) (renderNow bool)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(frame FrameID) bool

func (f TaskFunc) Run(frame FrameID) bool { return f(frame) }

// Submitter is the producer side of a queue.
type Submitter interface {
	Submit(t Task)
}

// Backend is the render worker side of the queue.
type Backend interface {
	// RequestWake must eventually call Drain on the render worker.
	RequestWake()
	// RequestRenderPass must render a frame and then call ContinueDrain on
	// the render worker.
	RequestRenderPass()
}

// DrainResult describes one processing pass.
type DrainResult struct {
	Frame     FrameID
	Executed  int
	Suspended bool
}

type node struct {
	task Task
	next atomic.Pointer[node]
}

// Queue is an unbounded multi-producer single-consumer task queue.
type Queue struct {
	backend Backend

	tail       atomic.Pointer[node]
	execMarker *node

	// Consumer-owned, except for the single producer that moves the queue
	// out of the empty state.
	head      *node
	frame     FrameID
	suspended bool
	renders   int
}

// New creates a queue that signals backend.
func New(backend Backend) *Queue {
	return &Queue{
		backend:    backend,
		execMarker: &node{},
	}
}

// Submit schedules t for execution on the render worker. It never blocks.
// The first submission into an empty queue wakes the render worker; later
// ones are picked up by the pass already under way.
func (q *Queue) Submit(t Task) {
	if t == nil {
		return
	}
	n := &node{task: t}
	prev := q.tail.Swap(n)
	if prev == nil {
		q.head = n
		q.backend.RequestWake()
		return
	}
	prev.next.Store(n)
}

// SubmitFunc is Submit for a plain function.
func (q *Queue) SubmitFunc(f func(frame FrameID) bool) {
	if f == nil {
		return
	}
	q.Submit(TaskFunc(f))
}

// Drain runs queued tasks until the queue is empty or a task asks for a
// render. Only the render worker may call it, in response to RequestWake.
func (q *Queue) Drain() DrainResult {
	if q.suspended {
		return DrainResult{Frame: q.frame, Suspended: true}
	}
	return q.pass()
}

// ContinueDrain resumes draining once the render pass a task asked for has
// completed. Render worker only.
func (q *Queue) ContinueDrain() DrainResult {
	if q.renders > 0 {
		q.renders--
	}
	if !q.suspended || q.renders > 0 {
		return DrainResult{Frame: q.frame, Suspended: q.suspended}
	}
	q.suspended = false
	return q.pass()
}

func (q *Queue) pass() DrainResult {
	q.frame++
	res := DrainResult{Frame: q.frame}
	n := q.head
	if n == nil {
		return res
	}

	for {
		next := n.next.Load()
		if next == nil {
			if q.tail.CompareAndSwap(n, q.execMarker) {
				renderNow := q.run(n, &res)
				q.head = nil
				if q.tail.CompareAndSwap(q.execMarker, nil) {
					if renderNow {
						q.renders++
						q.backend.RequestRenderPass()
					}
					return res
				}
				next = awaitLink(q.execMarker)
				q.execMarker.next.Store(nil)
				if renderNow {
					q.suspend(next, &res)
					return res
				}
				n = next
				continue
			}
			next = awaitLink(n)
		}
		n.next.Store(nil)
		if q.run(n, &res) {
			q.suspend(next, &res)
			return res
		}
		n = next
	}
}

// Frame returns the id of the latest processing pass. Render worker only.
func (q *Queue) Frame() FrameID { return q.frame }

// Idle reports whether nothing is queued or running.
func (q *Queue) Idle() bool { return q.tail.Load() == nil }

func (q *Queue) run(n *node, res *DrainResult) bool {
	res.Executed++
	t := n.task
	n.task = nil
	return t.Run(res.Frame)
}

func (q *Queue) suspend(next *node, res *DrainResult) {
	q.head = next
	q.suspended = true
	q.renders++
	res.Suspended = true
	q.backend.RequestRenderPass()
}

// awaitLink spins until the producer that already swapped the tail past n
// publishes its link.
func awaitLink(n *node) *node {
	for {
		if next := n.next.Load(); next != nil {
			return next
		}
		runtime.Gosched()
	}
}
