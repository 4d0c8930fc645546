package trace

import "sync"

// Kind classifies one trace event in a binding session's timeline.
type Kind string

// Event kinds, in rough lifecycle order. Stable strings; they appear in the
// store, golden traces, and CLI output.
const (
	KindSessionOpened  Kind = "session_opened"
	KindResolveAttempt Kind = "resolve_attempt"
	KindResolved       Kind = "resolved"
	KindPending        Kind = "pending"
	KindRetryArmed     Kind = "retry_armed"
	KindSubscribed     Kind = "subscribed"
	KindUnsubscribed   Kind = "unsubscribed"
	KindPropagated     Kind = "propagated"
	KindDebounceArmed  Kind = "debounce_armed"
	KindDebounceFired  Kind = "debounce_fired"
	KindGateOpened     Kind = "gate_opened"
	KindGateClosed     Kind = "gate_closed"
	KindPathRecomputed Kind = "path_recomputed"
	KindContextChanged Kind = "context_changed"
	KindUnloaded       Kind = "unloaded"
	KindReloaded       Kind = "reloaded"
	KindSessionClosed  Kind = "session_closed"
)

// Event is one entry in a session's diagnostic timeline.
//
// Seq comes from the engine's logical clock and totally orders events
// across all sessions of one engine. Detail must stay canonicalizable:
// strings, ints, bools, and nested maps/slices of those. The engine
// stringifies anything else before recording.
type Event struct {
	Seq     int64
	Session string
	Kind    Kind
	Detail  map[string]any
}

// SessionRecord describes one binding session for the store's sessions
// table.
type SessionRecord struct {
	Token    string
	Target   string
	Property string
	Mode     string
	// Declared is a canonical JSON summary of the declaration (kind
	// filter, gates, indirection).
	Declared map[string]any
}

// Recorder receives the engine's diagnostic events. Implementations must
// tolerate being called from the dispatch loop on every binding operation;
// recording failures are the engine's to log, never to propagate.
type Recorder interface {
	OpenSession(rec SessionRecord) error
	Record(ev Event) error
}

// Nop discards everything. It is the engine default, so tracing is
// strictly opt-in.
type Nop struct{}

// OpenSession implements Recorder.
func (Nop) OpenSession(SessionRecord) error { return nil }

// Record implements Recorder.
func (Nop) Record(Event) error { return nil }

// Memory is an in-memory Recorder used by the harness and tests, where
// scenario runs compare whole timelines against golden files.
//
// Thread-safety: safe for concurrent use, though scenario runs are
// loop-driven and effectively single-writer.
type Memory struct {
	mu       sync.Mutex
	sessions []SessionRecord
	events   []Event
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// OpenSession implements Recorder.
func (m *Memory) OpenSession(rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, rec)
	return nil
}

// Record implements Recorder.
func (m *Memory) Record(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded timeline in record order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// SessionEvents returns the recorded timeline filtered to one session.
func (m *Memory) SessionEvents(token string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Session == token {
			out = append(out, ev)
		}
	}
	return out
}

// Sessions returns a copy of the opened session records.
func (m *Memory) Sessions() []SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// Reset clears all recorded state.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = nil
	m.events = nil
}
