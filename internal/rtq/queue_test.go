package rtq

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingBackend struct {
	wakes   atomic.Int32
	renders atomic.Int32
}

func (b *countingBackend) RequestWake()       { b.wakes.Add(1) }
func (b *countingBackend) RequestRenderPass() { b.renders.Add(1) }

// chanBackend forwards signals to a consumer goroutine that plays the
// render worker.
type chanBackend struct {
	countingBackend
	wake   chan struct{}
	render chan struct{}
}

func newChanBackend() *chanBackend {
	return &chanBackend{wake: make(chan struct{}, 64), render: make(chan struct{}, 64)}
}

func (b *chanBackend) RequestWake() {
	b.countingBackend.RequestWake()
	b.wake <- struct{}{}
}

func (b *chanBackend) RequestRenderPass() {
	b.countingBackend.RequestRenderPass()
	b.render <- struct{}{}
}

func consume(q *Queue, b *chanBackend, stop <-chan struct{}) {
	for {
		select {
		case <-b.wake:
			q.Drain()
		case <-b.render:
			q.ContinueDrain()
		case <-stop:
			return
		}
	}
}

type record struct {
	producer int
	seq      int
}

func TestSubmitOrderIsExecutionOrder(t *testing.T) {
	const producers = 4
	const perProducer = 250

	b := newChanBackend()
	q := New(b)
	stop := make(chan struct{})
	defer close(stop)
	go consume(q, b, stop)

	var executed []record
	var count atomic.Int32
	seen := make(map[record]int)
	done := make(chan struct{})

	var wg sync.WaitGroup
	start := make(chan struct{})
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perProducer; i++ {
				r := record{producer: p, seq: i}
				q.SubmitFunc(func(FrameID) bool {
					executed = append(executed, r)
					seen[r]++
					if count.Add(1) == producers*perProducer {
						close(done)
					}
					return i%50 == 49
				})
			}
		}()
	}
	close(start)
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("executed %d of %d tasks", count.Load(), producers*perProducer)
	}

	require.Len(t, executed, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for _, r := range executed {
		require.Equal(t, 1, seen[r], "task %+v ran more than once", r)
		require.Greater(t, r.seq, last[r.producer], "producer %d out of order", r.producer)
		last[r.producer] = r.seq
	}
	require.Positive(t, b.renders.Load())
}

func TestOnlyFirstSubmitIntoEmptyQueueWakes(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	const racers = 50
	var ran atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			q.SubmitFunc(func(FrameID) bool {
				ran.Add(1)
				return false
			})
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, b.wakes.Load())
	require.False(t, q.Idle())

	res := q.Drain()
	require.Equal(t, racers, res.Executed)
	require.False(t, res.Suspended)
	require.EqualValues(t, racers, ran.Load())
	require.True(t, q.Idle())

	q.SubmitFunc(func(FrameID) bool { return false })
	require.EqualValues(t, 2, b.wakes.Load())
}

func TestRenderNowSuspendsDraining(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	var trace []string
	task := func(name string, renderNow bool) Task {
		return TaskFunc(func(frame FrameID) bool {
			trace = append(trace, name)
			return renderNow
		})
	}

	q.Submit(task("A", false))
	q.Submit(task("B", true))
	q.Submit(task("C", false))
	require.EqualValues(t, 1, b.wakes.Load())

	res := q.Drain()
	require.Equal(t, DrainResult{Frame: 1, Executed: 2, Suspended: true}, res)
	require.Equal(t, []string{"A", "B"}, trace)
	require.EqualValues(t, 1, b.renders.Load())

	q.Submit(task("D", false))
	require.EqualValues(t, 1, b.wakes.Load(), "suspended queue must not be woken again")

	res = q.Drain()
	require.True(t, res.Suspended)
	require.Zero(t, res.Executed)
	require.Equal(t, []string{"A", "B"}, trace)

	res = q.ContinueDrain()
	require.Equal(t, DrainResult{Frame: 2, Executed: 2}, res)
	require.Equal(t, []string{"A", "B", "C", "D"}, trace)
	require.True(t, q.Idle())
}

func TestRenderNowOnLastTaskStillRequestsRender(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	q.SubmitFunc(func(FrameID) bool { return true })
	res := q.Drain()
	require.Equal(t, 1, res.Executed)
	require.False(t, res.Suspended)
	require.EqualValues(t, 1, b.renders.Load())
	require.True(t, q.Idle())

	res = q.ContinueDrain()
	require.Zero(t, res.Executed)
}

func TestContinueWaitsForEveryRequestedRender(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	var trace []string
	q.SubmitFunc(func(FrameID) bool {
		trace = append(trace, "last")
		return true
	})
	q.Drain()
	require.True(t, q.Idle())

	// A new producer arrives while the first render pass is still pending.
	q.SubmitFunc(func(FrameID) bool {
		trace = append(trace, "render")
		return true
	})
	q.SubmitFunc(func(FrameID) bool {
		trace = append(trace, "after")
		return false
	})
	require.EqualValues(t, 2, b.wakes.Load())
	require.True(t, q.Drain().Suspended)
	require.EqualValues(t, 2, b.renders.Load())

	require.Zero(t, q.ContinueDrain().Executed)
	require.Equal(t, []string{"last", "render"}, trace)

	require.Equal(t, 1, q.ContinueDrain().Executed)
	require.Equal(t, []string{"last", "render", "after"}, trace)
}

func TestSubmitFromRunningTaskIsPickedUpInSamePass(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	var frames []FrameID
	q.SubmitFunc(func(frame FrameID) bool {
		frames = append(frames, frame)
		// The tail holds the exec marker now; this producer links behind it.
		q.SubmitFunc(func(frame FrameID) bool {
			frames = append(frames, frame)
			return false
		})
		return false
	})

	res := q.Drain()
	require.Equal(t, 2, res.Executed)
	require.Equal(t, []FrameID{1, 1}, frames)
	require.EqualValues(t, 1, b.wakes.Load())
	require.True(t, q.Idle())
	require.Nil(t, q.execMarker.next.Load())
}

func TestProducerRacingLastTaskFromAnotherGoroutine(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	var trace []string
	q.SubmitFunc(func(FrameID) bool {
		trace = append(trace, "first")
		done := make(chan struct{})
		go func() {
			defer close(done)
			q.SubmitFunc(func(FrameID) bool {
				trace = append(trace, "second")
				return false
			})
		}()
		<-done
		return false
	})

	require.Equal(t, 2, q.Drain().Executed)
	require.Equal(t, []string{"first", "second"}, trace)
	require.EqualValues(t, 1, b.wakes.Load())
}

func TestFrameGrowsOncePerPass(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	var frames []FrameID
	for i := 0; i < 3; i++ {
		q.SubmitFunc(func(frame FrameID) bool {
			frames = append(frames, frame)
			return false
		})
		q.Drain()
	}
	require.Equal(t, []FrameID{1, 2, 3}, frames)
	require.Equal(t, FrameID(3), q.Frame())
}

func TestNilTasksAreIgnored(t *testing.T) {
	b := &countingBackend{}
	q := New(b)

	q.Submit(nil)
	q.SubmitFunc(nil)
	require.Zero(t, b.wakes.Load())
	require.True(t, q.Idle())
	require.Zero(t, q.Drain().Executed)
}
