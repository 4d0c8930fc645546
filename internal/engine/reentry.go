package engine

// reentryGuard suppresses propagation triggered by the engine's own source
// writes.
//
// Without it, a two-way binding echoes forever:
//
//	target write → UpdateSource writes the source → source notifies
//	→ bridge delivers → refresh pushes the target → target write (again!)
//	→ UpdateSource writes the source... ← INFINITE NOTIFY LOOP
//
// The guard is a plain flag, not a mutex: a session is single-writer on
// the dispatch loop, and the echo arrives synchronously inside the guarded
// write. A notification raised by another writer while the flag is set is
// indistinguishable from an echo and is dropped too, which matches the
// last-writer-wins semantics of a two-way binding.
//
// Per-session state, never shared: one session's write must not mask a
// sibling session's legitimate notification.
type reentryGuard struct {
	active bool
}

// during runs fn with the guard held.
func (g *reentryGuard) during(fn func()) {
	g.active = true
	defer func() { g.active = false }()
	fn()
}

// suppressed reports whether a delivery arriving now is an echo of the
// engine's own write.
func (g *reentryGuard) suppressed() bool { return g.active }
