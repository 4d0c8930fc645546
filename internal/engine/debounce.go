package engine

import (
	"time"

	"github.com/graftkit/graft/internal/dispatch"
)

// debouncer coalesces bursts of admitted source changes into one delayed
// refresh.
//
// Every admitted signal restarts a single-shot quiet window; only the
// window elapsing fires the refresh, so N rapid changes inside one window
// produce exactly one propagation. The optional when-guard is consulted per
// signal against the value the refresh would push: while it returns true
// the window applies, and the moment it returns false any pending window is
// cancelled and the refresh fires immediately.
//
// A nil timer host means no delay mechanism exists. The debouncer then
// never fires at all - signals are absorbed silently rather than guessed
// into an immediate refresh.
//
// Thread-safety: none. All methods run on the dispatch loop, including the
// timer elapse callback (the host posts it back onto the loop).
type debouncer struct {
	host  dispatch.TimerHost
	delay time.Duration
	when  func(any) bool

	timer dispatch.Timer
	gen   uint64

	// onArmed observes a quiet window (re)starting. onFired requests the
	// refresh; immediate is true when the when-guard bypassed the window.
	onArmed func()
	onFired func(immediate bool)
}

// signal feeds one admitted source change carrying the value the refresh
// would push.
func (d *debouncer) signal(value any) {
	if d.host == nil {
		return
	}
	if d.when != nil && !d.when(value) {
		d.cancel()
		d.onFired(true)
		return
	}
	d.restart()
}

// restart opens a fresh quiet window, discarding any pending one.
func (d *debouncer) restart() {
	d.cancel()
	d.gen++
	gen := d.gen
	d.timer = d.host.ScheduleOnce(d.delay, func() {
		// An elapse already posted onto the loop cannot be stopped; a
		// cancel that raced it shows up here as a generation mismatch.
		if d.gen != gen {
			return
		}
		d.timer = nil
		d.onFired(false)
	})
	if d.onArmed != nil {
		d.onArmed()
	}
}

// cancel discards any pending window without firing it.
func (d *debouncer) cancel() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
