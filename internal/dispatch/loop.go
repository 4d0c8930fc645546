// Package dispatch provides the single-writer execution loop the binding
// engine runs on.
//
// Everything the engine does (resolution, lifecycle hook firing, gate
// evaluation, target mutation) happens on one designated goroutine, the
// loop. Change notifications are the only input that may originate
// elsewhere; they are marshaled onto the loop with Post. This mirrors a UI
// framework's dispatcher thread: affinity is a property of the goroutine
// currently running the loop, not of a fixed OS thread.
//
// The loop is also the engine's timer host. ScheduleOnce arms a single-shot
// timer whose elapse is delivered as a posted job, so timer callbacks enjoy
// the same affinity as everything else.
package dispatch

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a thread-safe FIFO job queue with a single-goroutine processor.
//
// Thread-safety model:
//   - Post, Close: safe from any goroutine
//   - Run: must execute on exactly one goroutine at a time
//   - RunUntilIdle: same, used by tests and the harness for synchronous
//     draining
//
// The queue is unbounded so cascading work (a propagation scheduling a
// refresh scheduling a trace write) never blocks the producer.
type Loop struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	signal chan struct{} // buffered size 1; coalesces wakeups

	gid atomic.Int64 // goroutine id currently running the loop; 0 when idle
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{
		jobs:   make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Post enqueues fn for execution on the loop goroutine.
// Returns false if the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.jobs = append(l.jobs, fn)

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Invoke runs fn inline when the caller is already on the loop goroutine,
// otherwise posts it. Returns false only when posting to a closed loop.
func (l *Loop) Invoke(fn func()) bool {
	if l.OnLoop() {
		fn()
		return true
	}
	return l.Post(fn)
}

// OnLoop reports whether the calling goroutine is the one currently running
// the loop.
func (l *Loop) OnLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == goroutineID()
}

// Running reports whether some goroutine currently holds loop affinity.
func (l *Loop) Running() bool {
	return l.gid.Load() != 0
}

// Run processes jobs until ctx is cancelled or the loop is closed and
// drained. Must be called from exactly one goroutine.
func (l *Loop) Run(ctx context.Context) error {
	l.gid.Store(goroutineID())
	defer l.gid.Store(0)

	slog.Debug("dispatch loop starting")
	for {
		job, ok := l.tryDequeue()
		if ok {
			job()
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("dispatch loop stopping: context cancelled")
			l.Close()
			return ctx.Err()

		case <-l.signal:
			if l.drainedAndClosed() {
				slog.Debug("dispatch loop stopping: closed")
				return nil
			}
		}
	}
}

// RunUntilIdle adopts the calling goroutine as the loop and processes jobs
// until the queue is empty, then releases affinity. Deterministic driving
// for tests and the scenario harness; never blocks.
func (l *Loop) RunUntilIdle() {
	l.gid.Store(goroutineID())
	defer l.gid.Store(0)

	for {
		job, ok := l.tryDequeue()
		if !ok {
			return
		}
		job()
	}
}

func (l *Loop) tryDequeue() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.jobs) == 0 {
		return nil, false
	}
	job := l.jobs[0]
	l.jobs[0] = nil // release the closure for GC
	if len(l.jobs) == 1 {
		l.jobs = l.jobs[:0]
	} else {
		l.jobs = l.jobs[1:]
	}
	return job, true
}

func (l *Loop) drainedAndClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed && len(l.jobs) == 0
}

// Len returns the number of queued jobs.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

// Close stops accepting jobs and wakes the runner. Idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}

// goroutineID extracts the numeric goroutine id from the runtime stack
// header ("goroutine 123 [running]:"). There is no public API for this; the
// parse is confined here and used only for affinity checks.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Timer is a cancelable single-shot timer registration.
type Timer interface {
	// Stop cancels the pending fire. Returns false when the timer already
	// fired or was stopped.
	Stop() bool
}

// TimerHost schedules single-shot callbacks. The loop implements it; tests
// substitute a virtual-time host. A nil TimerHost means no delay mechanism
// exists, in which case delayed work silently never fires.
type TimerHost interface {
	ScheduleOnce(d time.Duration, fn func()) Timer
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (lt *loopTimer) Stop() bool {
	if lt.stopped.Swap(true) {
		return false
	}
	return lt.t.Stop()
}

// ScheduleOnce implements TimerHost: after d, fn is posted onto the loop.
// The callback therefore always runs with loop affinity, never on the
// runtime timer goroutine.
func (l *Loop) ScheduleOnce(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		if lt.stopped.Load() {
			return
		}
		l.Post(fn)
	})
	return lt
}
