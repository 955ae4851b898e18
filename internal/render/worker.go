// Package render runs the render worker: the one goroutine that drains the
// render task queue and renders frames, without a terminal attached.
package render

import (
	"log"
	"runtime/debug"
	"sync"

	"github.com/jask/shellgame/internal/rtq"
)

// Renderer draws a frame. It is called on the worker goroutine only.
type Renderer interface {
	RenderFrame(frame rtq.FrameID)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(frame rtq.FrameID)

func (f RendererFunc) RenderFrame(frame rtq.FrameID) { f(frame) }

// Worker owns a Queue and is its backend. Producers submit through the
// worker so every task runs inside its fault boundary.
type Worker struct {
	// Logger receives task panics. Nil means log.Default().
	Logger *log.Logger

	queue    *rtq.Queue
	renderer Renderer

	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	start   sync.Once
	stop    sync.Once
	renders int
}

// NewWorker returns a stopped worker drawing with r. A nil r renders nothing.
func NewWorker(r Renderer) *Worker {
	if r == nil {
		r = RendererFunc(func(rtq.FrameID) {})
	}
	w := &Worker{
		renderer: r,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.queue = rtq.New(w)
	return w
}

// Submit queues t to run on the worker. A panicking t is logged and treated
// as not asking for a render.
func (w *Worker) Submit(t rtq.Task) {
	if t == nil {
		return
	}
	w.queue.Submit(rtq.TaskFunc(func(frame rtq.FrameID) (renderNow bool) {
		w.guard("task", func() { renderNow = t.Run(frame) })
		return renderNow
	}))
}

// Frame returns the id of the latest processing pass. Worker goroutine only.
func (w *Worker) Frame() rtq.FrameID { return w.queue.Frame() }

// Start launches the worker goroutine.
func (w *Worker) Start() {
	w.start.Do(func() { go w.loop() })
}

// Stop ends the worker once its current pass returns. Tasks still queued are
// dropped, so producers must stop submitting first.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
	w.start.Do(func() { close(w.done) })
	<-w.done
}

// RequestWake implements rtq.Backend. There is at most one outstanding wake
// per empty to non-empty transition, so the buffered send never drops one.
func (w *Worker) RequestWake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// RequestRenderPass implements rtq.Backend. The queue calls it from Drain,
// which only runs on the worker goroutine.
func (w *Worker) RequestRenderPass() {
	w.renders++
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.queue.Drain()
		case <-w.quit:
			return
		}
		for w.renders > 0 {
			select {
			case <-w.quit:
				return
			default:
			}
			w.renders--
			w.guard("render", func() { w.renderer.RenderFrame(w.queue.Frame()) })
			w.queue.ContinueDrain()
		}
	}
}

func (w *Worker) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l := w.Logger
			if l == nil {
				l = log.Default()
			}
			l.Printf("render: %s panic: %v\n%s", what, r, debug.Stack())
		}
	}()
	fn()
}
