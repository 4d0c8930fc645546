package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/graftkit/graft/internal/binder"
	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/dispatch"
	"github.com/graftkit/graft/internal/metrics"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/trace"
	"github.com/graftkit/graft/internal/tree"
)

// Engine owns binding sessions: it attaches declarations to target nodes,
// drives deferred source resolution through the tree lifecycle, and fans
// source-change notifications out to targets.
//
// The engine itself is thin. Almost all behavior lives in the Session it
// creates per attach; the engine contributes the shared collaborators (the
// dispatch loop, binder, accessor, trace recorder, metrics sink, logical
// clock, and token generator) and the session registry.
//
// CRITICAL: the engine is single-writer. Attach, Close, and every session
// callback run on the dispatch loop; external code gets onto the loop with
// Loop().Invoke or Loop().Post. The bridge and the timer host already
// marshal their notifications, so sources and timers may fire from any
// goroutine.
//
// Thread-safety model:
//   - Attach(), Close(), Session methods: dispatch loop only
//   - Loop(), Clock(): safe from any goroutine
//   - source notifications: any goroutine (marshalled by the bridge)
type Engine struct {
	loop   *dispatch.Loop
	binder binder.Binder
	acc    path.Accessor
	rec    trace.Recorder
	sink   metrics.Sink
	clock  *Clock
	tokens TokenGenerator
	timers dispatch.TimerHost

	sessions map[string]*Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithBinder replaces the default value binder.
func WithBinder(b binder.Binder) Option {
	return func(e *Engine) {
		e.binder = b
	}
}

// WithAccessor replaces the default reflection accessor. The default
// binder, when not replaced itself, reads through the same accessor.
func WithAccessor(a path.Accessor) Option {
	return func(e *Engine) {
		e.acc = a
	}
}

// WithRecorder sets the trace recorder. The default discards events.
func WithRecorder(r trace.Recorder) Option {
	return func(e *Engine) {
		e.rec = r
	}
}

// WithMetrics sets the metrics sink. The default discards measurements.
func WithMetrics(m metrics.Sink) Option {
	return func(e *Engine) {
		e.sink = m
	}
}

// WithClock replaces the logical clock. Used when appending to an existing
// trace store: NewClockAt(store.LastSeq()) resumes the stamp sequence.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTokens replaces the session token generator. Tests install
// FixedGenerator for deterministic traces.
func WithTokens(g TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithTimerHost replaces the debounce timer host. The default schedules on
// the dispatch loop's wall-clock timers; tests install a manual host and
// advance time explicitly.
func WithTimerHost(h dispatch.TimerHost) Option {
	return func(e *Engine) {
		e.timers = h
	}
}

// New creates an Engine bound to the given dispatch loop.
//
// Defaults: a ValueBinder over the reflection accessor, a discarding trace
// recorder and metrics sink, a fresh logical clock, UUIDv7 session tokens,
// and the loop itself as the debounce timer host.
func New(loop *dispatch.Loop, opts ...Option) *Engine {
	e := &Engine{
		loop:     loop,
		acc:      path.NewReflectAccessor(),
		rec:      trace.Nop{},
		sink:     metrics.Nop{},
		clock:    NewClock(),
		tokens:   UUIDv7Generator{},
		timers:   loop,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	// The default binder reads through whatever accessor the options
	// settled on.
	if e.binder == nil {
		e.binder = binder.NewValueBinder(e.acc)
	}
	return e
}

// Loop returns the dispatch loop the engine runs on.
func (e *Engine) Loop() *dispatch.Loop { return e.loop }

// Clock returns the logical clock trace events are stamped with.
func (e *Engine) Clock() *Clock { return e.clock }

// Attach opens a binding session: property on target, aimed by the
// declaration. The first resolution attempt runs before Attach returns; a
// pending outcome is not an error, the session parks and retries at the
// next lifecycle checkpoint.
//
// Attach fails fast, with no session left behind, when the declaration
// names an unsupported relative mode, fails validation, or targets a
// property the node refuses to host bindings on.
//
// CRITICAL: must run on the dispatch loop.
func (e *Engine) Attach(target tree.Node, property string, b decl.Binding) (*Session, error) {
	if target == nil {
		return nil, NewInvalidRefError("", property, fmt.Errorf("nil target node"))
	}
	if property == "" {
		return nil, NewInvalidRefError(nodeLabel(target), property, fmt.Errorf("empty target property"))
	}
	if rel := b.Source.Rel; rel != nil && !rel.Mode.Supported() {
		return nil, NewUnsupportedModeError(rel.Mode.String(), nodeLabel(target), property)
	}
	if ind := b.Indirect; ind != nil {
		if rel := ind.Source.Rel; rel != nil && !rel.Mode.Supported() {
			return nil, NewUnsupportedModeError(rel.Mode.String(), nodeLabel(target), property)
		}
	}
	if err := b.Validate(); err != nil {
		return nil, NewInvalidRefError(nodeLabel(target), property, err)
	}
	if r, ok := target.(tree.PropertyRestrictor); ok && r.PropertyRestricted(property) {
		return nil, NewInvalidHostError(nodeLabel(target), property)
	}

	s := &Session{
		engine:   e,
		token:    e.tokens.Generate(),
		target:   target,
		property: property,
		binding:  b,
		scope:    tree.ScopeOf(target),
		state:    StateUnresolved,
	}
	if b.Debounce != nil {
		s.debounce = &debouncer{
			host:    e.timers,
			delay:   b.Debounce.Delay,
			when:    b.Debounce.DelayWhen,
			onArmed: s.debounceArmed,
			onFired: s.debounceFired,
		}
	}

	// Permanent arms, held until Close: loaded re-enters the retry ladder,
	// unloaded releases the transient wiring.
	s.loadedHook = target.OnLoaded(s.onLoaded)
	s.unloadedHook = target.OnUnloaded(s.onUnloaded)

	e.sessions[s.token] = s
	e.sink.SessionOpened()
	e.openTrace(s)

	slog.Debug("binding session opened",
		"token", s.token,
		"target", nodeLabel(target),
		"property", property,
		"mode", b.Mode.String(),
	)

	s.resolveNow()
	return s, nil
}

// Session returns the live session with the given token.
func (e *Engine) Session(token string) (*Session, bool) {
	s, ok := e.sessions[token]
	return s, ok
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int { return len(e.sessions) }

// Close closes every live session. The engine remains usable; Close is
// shutdown for the sessions, not the engine.
func (e *Engine) Close() {
	tokens := make([]string, 0, len(e.sessions))
	for token := range e.sessions {
		tokens = append(tokens, token)
	}
	for _, token := range tokens {
		if s, ok := e.sessions[token]; ok {
			s.Close()
		}
	}
}

func (e *Engine) forget(token string) {
	delete(e.sessions, token)
}

// openTrace records the session header and the opening event. Recorder
// failures are logged and swallowed.
func (e *Engine) openTrace(s *Session) {
	rec := trace.SessionRecord{
		Token:    s.token,
		Target:   nodeLabel(s.target),
		Property: s.property,
		Mode:     s.binding.Mode.String(),
		Declared: declSummary(s.binding),
	}
	if err := e.rec.OpenSession(rec); err != nil {
		slog.Warn("trace session open failed",
			"token", s.token,
			"error", err)
	}
	s.record(trace.KindSessionOpened, map[string]any{
		"target":   rec.Target,
		"property": s.property,
		"mode":     rec.Mode,
	})
}

// declSummary reduces a declaration to the canonical-JSON-safe map stored
// in the session header.
func declSummary(b decl.Binding) map[string]any {
	m := map[string]any{
		"source": refSummary(b.Source),
		"mode":   b.Mode.String(),
		"kinds":  b.Kinds.String(),
	}
	if !b.Path.IsEmpty() {
		m["path"] = b.Path.String()
	}
	if b.Debounce != nil {
		m["debounce_ms"] = int(b.Debounce.Delay / time.Millisecond)
	}
	if b.TypeFilter != nil {
		m["type_filter"] = b.TypeFilter.String()
	}
	if b.Indirect != nil {
		m["indirect"] = map[string]any{
			"source":   refSummary(b.Indirect.Source),
			"path":     b.Indirect.Path.String(),
			"override": b.Indirect.Override,
		}
	}
	return m
}

// refSummary names a source reference without touching the referenced
// object, so summaries stay deterministic.
func refSummary(r decl.SourceRef) string {
	switch {
	case r.Object != nil:
		return "object"
	case r.Name != "":
		return "name:" + r.Name
	case r.Rel != nil:
		return "rel:" + r.Rel.Mode.String()
	default:
		return "ambient"
	}
}
