package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/graftkit/graft/internal/dispatch"
)

// ManualTimers is a dispatch.TimerHost under test control. Nothing fires on
// its own; the test advances virtual time and due callbacks are posted onto
// the loop, where RunUntilIdle executes them.
//
// This makes debounce behavior fully deterministic: the same schedule of
// signals and advances produces the same firing order every run, with no
// wall-clock sleeps.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex, though tests typically drive everything from one goroutine.
type ManualTimers struct {
	mu      sync.Mutex
	loop    *dispatch.Loop
	now     time.Duration
	nextID  int
	pending []*manualTimer
}

type manualTimer struct {
	host *ManualTimers
	id   int
	due  time.Duration
	fn   func()
}

// Stop cancels the timer. Returns true if it was still pending.
func (t *manualTimer) Stop() bool {
	return t.host.remove(t)
}

// NewManualTimers creates a manual timer host posting fires onto loop.
func NewManualTimers(loop *dispatch.Loop) *ManualTimers {
	return &ManualTimers{loop: loop}
}

// ScheduleOnce implements dispatch.TimerHost. The callback fires when
// Advance moves virtual time past the deadline.
func (m *ManualTimers) ScheduleOnce(d time.Duration, fn func()) dispatch.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{host: m, id: m.nextID, due: m.now + d, fn: fn}
	m.nextID++
	m.pending = append(m.pending, t)
	return t
}

// Advance moves virtual time forward by d. Every timer due within the new
// window is posted onto the loop in deadline order (ties fire in schedule
// order). Call loop.RunUntilIdle afterwards to execute the fires.
func (m *ManualTimers) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var due []*manualTimer
	var rest []*manualTimer
	for _, t := range m.pending {
		if t.due <= m.now {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	m.pending = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].id < due[j].id
	})
	m.mu.Unlock()

	for _, t := range due {
		m.loop.Post(t.fn)
	}
}

// Now returns the current virtual time.
func (m *ManualTimers) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of scheduled timers that have not fired or
// been stopped. Teardown tests assert this returns to zero.
func (m *ManualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *ManualTimers) remove(t *manualTimer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p == t {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}
