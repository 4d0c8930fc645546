package engine

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/graftkit/graft/internal/binder"
	"github.com/graftkit/graft/internal/bridge"
	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/metrics"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/resolve"
	"github.com/graftkit/graft/internal/trace"
	"github.com/graftkit/graft/internal/tree"
)

// State identifies where a session stands in the resolution lifecycle.
type State uint8

const (
	// StateUnresolved is the state of a freshly attached session before
	// its first resolution attempt runs.
	StateUnresolved State = iota

	// StateAwaitInit means resolution came back pending on a node still
	// under construction; one retry is armed at the initialized
	// checkpoint.
	StateAwaitInit

	// StateAwaitLoad means resolution came back pending on an initialized
	// but detached node; the retry runs at the loaded checkpoint. This is
	// also the parked state between an unload and the next tree entry.
	StateAwaitLoad

	// StateResolved means the source resolved definitively to something
	// other than the ambient context. No further resolution attempts run.
	StateResolved

	// StateTrackingContext means the source resolved from the ambient
	// context; every context change triggers a fresh resolution.
	StateTrackingContext

	// StateDetached means the session is closed. Terminal.
	StateDetached
)

// String returns the state name for traces and logs.
func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateAwaitInit:
		return "await_init"
	case StateAwaitLoad:
		return "await_load"
	case StateResolved:
		return "resolved"
	case StateTrackingContext:
		return "tracking_context"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Session is one live binding: a target node and property, the declaration
// that aims it at a source, and everything the engine holds on the pair's
// behalf - lifecycle hooks, the change subscription, the debounce window,
// the type gate, and the indirect path track.
//
// A session is created by Engine.Attach and lives until Close. Between
// those two points it owns two permanent lifecycle hooks on the target
// (loaded and unloaded); everything else is transient state that unload
// releases and the next load rebuilds.
//
// CRITICAL: a session is single-threaded by construction. Every method and
// every callback runs on the engine's dispatch loop; the bridge and the
// timer host marshal external notifications onto the loop before they reach
// the session. Nothing here takes a lock, and nothing here may be called
// from another goroutine.
type Session struct {
	engine   *Engine
	token    string
	target   tree.Node
	property string
	binding  decl.Binding

	// scope is the name-resolution scope captured at attach time, so
	// reparenting the target does not silently re-aim named references.
	scope tree.NameScope

	state State

	// loadedHook and unloadedHook are the permanent arms, held until
	// Close. initHook and ambientHook come and go with the state.
	loadedHook   tree.HookID
	unloadedHook tree.HookID
	initHook     tree.HookID
	ambientHook  tree.HookID

	// source is the resolved source object; fromCtx records whether it
	// came from the ambient context.
	source  any
	fromCtx bool

	// collSub and propSub are the live change subscriptions on the source.
	// liveFlag is the shared liveness backstop their notifier-side filters
	// consult; wireGen invalidates deliveries already posted onto the loop
	// when the wiring they belong to has been torn down.
	collSub  *bridge.Subscription
	propSub  *bridge.Subscription
	liveFlag *atomic.Bool
	wireGen  uint64

	// applied mirrors what the binder currently holds for the target
	// property; bound is true only when that is a real source binding
	// rather than the identity placeholder.
	applied *binder.Descriptor
	bound   bool

	gate     gateState
	debounce *debouncer
	indirect *indirectTrack
	guard    reentryGuard

	everResolved bool
	wasUnloaded  bool

	// pendingOrigin labels the propagation a debounce window will emit.
	pendingOrigin string
}

// Token returns the session token.
func (s *Session) Token() string { return s.token }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Bound reports whether a real source binding (not the identity
// placeholder) is currently applied to the target property.
func (s *Session) Bound() bool { return s.bound }

// Source returns the resolved source object, or nil while unresolved.
func (s *Session) Source() any { return s.source }

// WriteBack pushes a target-side edit through the binding to the source.
// Only two-way bindings accept it. The session's reentry guard is held
// across the write, so the change notification the write itself provokes
// is recognized as an echo and suppressed instead of bouncing back at the
// target.
func (s *Session) WriteBack(v any) error {
	if s.binding.Mode != decl.TwoWay {
		return fmt.Errorf("write back on a %s binding", s.binding.Mode)
	}
	if !s.bound || s.source == nil {
		return fmt.Errorf("write back with no bound source")
	}
	p := s.effectivePath()
	if p.IsEmpty() {
		return fmt.Errorf("write back through an empty path")
	}
	var err error
	s.guard.during(func() {
		err = s.engine.acc.Write(s.source, p, v)
	})
	if err != nil {
		return fmt.Errorf("write back %s: %w", p, err)
	}
	return nil
}

// Close tears the session down: transient state, the permanent lifecycle
// arms, and the applied binding all go. The target property keeps its last
// pushed value. Idempotent; the session is unusable afterwards.
func (s *Session) Close() {
	if s.state == StateDetached {
		return
	}
	s.releaseTransient()
	s.target.RemoveHook(s.loadedHook)
	s.target.RemoveHook(s.unloadedHook)
	if err := s.engine.binder.Clear(s.target, s.property); err != nil {
		slog.Warn("binding clear failed",
			"token", s.token,
			"error", err)
	}
	s.state = StateDetached
	s.record(trace.KindSessionClosed, nil)
	s.engine.sink.SessionClosed()
	s.engine.forget(s.token)
	slog.Debug("binding session closed", "token", s.token)
}

// resolveNow runs one resolution attempt and routes the outcome: wire on
// success, arm a retry on pending.
func (s *Session) resolveNow() {
	s.record(trace.KindResolveAttempt, map[string]any{"state": s.state.String()})
	out, err := resolve.Resolve(s.binding.Source, s.target, s.scope)
	if err != nil {
		// Validation rejects unsupported modes before a session exists, so
		// reaching this means the declaration mutated after attach.
		s.engine.sink.Resolution(metrics.StatusError)
		slog.Error("source resolution failed",
			"token", s.token,
			"target", nodeLabel(s.target),
			"property", s.property,
			"error", err)
		return
	}
	if out.IsPending() {
		s.engine.sink.Resolution(metrics.StatusPending)
		s.record(trace.KindPending, nil)
		s.armRetry()
		return
	}
	s.engine.sink.Resolution(metrics.StatusResolved)
	s.wire(out)
}

// armRetry schedules exactly one retry at the next applicable lifecycle
// checkpoint. A pending outcome implies the node is not attached, so the
// ladder has two rungs: initialized for nodes still under construction,
// loaded for everything else. The loaded rung needs no extra hook; the
// permanent arm covers it.
func (s *Session) armRetry() {
	if !s.target.Initialized() {
		s.state = StateAwaitInit
		s.initHook = s.target.OnInitialized(s.onInitialized)
		s.record(trace.KindRetryArmed, map[string]any{"checkpoint": "initialized"})
		return
	}
	s.state = StateAwaitLoad
	s.record(trace.KindRetryArmed, map[string]any{"checkpoint": "loaded"})
}

func (s *Session) onInitialized() {
	if s.state != StateAwaitInit {
		return
	}
	s.clearInitHook()
	s.resolveNow()
}

// onLoaded is the permanent loaded arm. It retries a parked resolution,
// resumes a session that was unloaded, and nudges a pending indirect
// track; a session already resolved before attachment is left alone.
func (s *Session) onLoaded() {
	if s.state == StateDetached {
		return
	}
	if s.wasUnloaded {
		s.wasUnloaded = false
		s.record(trace.KindReloaded, map[string]any{"ever_resolved": s.everResolved})
	}
	switch s.state {
	case StateAwaitLoad:
		s.resolveNow()
	case StateResolved, StateTrackingContext:
		if s.indirect != nil && s.indirect.pending {
			s.indirect.resolve()
			if !s.indirect.pending {
				s.applyCurrent()
				s.resubscribeProperty()
			}
		}
	}
}

// onUnloaded is the permanent unloaded arm. Everything transient is
// released synchronously before it returns: retry hooks, context tracking,
// change subscriptions, the pending debounce window, and the indirect
// watch. The applied binding stays in place so the target keeps its last
// value, and the session parks in StateAwaitLoad for a possible re-entry.
func (s *Session) onUnloaded() {
	if s.state == StateDetached {
		return
	}
	s.releaseTransient()
	s.wasUnloaded = true
	s.state = StateAwaitLoad
	s.record(trace.KindUnloaded, nil)
	slog.Debug("binding session unloaded",
		"token", s.token,
		"target", nodeLabel(s.target))
}

// onAmbientChanged re-runs resolution from scratch. The old wiring is torn
// down first so the rewire starts clean; the indirect track, when present,
// is re-derived as part of the redo.
func (s *Session) onAmbientChanged(newCtx any) {
	if s.state == StateDetached {
		return
	}
	s.record(trace.KindContextChanged, map[string]any{"context": describeValue(newCtx)})
	s.dropSubscriptions()
	if s.indirect != nil {
		s.indirect.stop()
		s.indirect = nil
	}
	s.resolveNow()
}

// wire installs a successful resolution outcome: remember the source, pick
// the post-resolution state, start the indirect track, apply the binding,
// and subscribe to source changes.
func (s *Session) wire(out resolve.Outcome) {
	s.everResolved = true
	s.source = out.Value
	s.fromCtx = out.FromContext

	s.record(trace.KindResolved, map[string]any{
		"from_context": out.FromContext,
		"source":       describeValue(out.Value),
	})
	slog.Debug("source resolved",
		"token", s.token,
		"target", nodeLabel(s.target),
		"property", s.property,
		"from_context", out.FromContext)

	if out.FromContext {
		s.state = StateTrackingContext
		if s.ambientHook == 0 {
			s.ambientHook = s.target.OnAmbientChanged(s.onAmbientChanged)
		}
	} else {
		s.state = StateResolved
		s.clearAmbientHook()
	}

	// The indirect track resolves before the first apply so the effective
	// path is right from the start.
	if s.binding.Indirect != nil && s.indirect == nil {
		s.indirect = &indirectTrack{s: s, spec: s.binding.Indirect}
		s.indirect.resolve()
	}

	s.applyCurrent()
	s.subscribe()
}

// evaluateGate re-runs the type filter against the resolved source and
// records open/close transitions. Re-evaluating to the same answer is a
// no-op.
func (s *Session) evaluateGate() {
	if s.binding.TypeFilter == nil {
		return
	}
	want := gateClosed
	if shouldBind(s.source, s.binding.TypeFilter) {
		want = gateOpen
	}
	if want == s.gate {
		return
	}
	s.gate = want
	if want == gateOpen {
		s.engine.sink.GateTransition(metrics.DirectionOpened)
		s.record(trace.KindGateOpened, map[string]any{"filter": s.binding.TypeFilter.String()})
	} else {
		s.engine.sink.GateTransition(metrics.DirectionClosed)
		s.record(trace.KindGateClosed, map[string]any{"filter": s.binding.TypeFilter.String()})
	}
}

// descriptor builds what the binder should hold right now: the resolved
// source through the effective path, or the identity placeholder when the
// session has nothing bindable (nil source, closed gate, or an indirect
// track without a usable path).
func (s *Session) descriptor() binder.Descriptor {
	if s.source == nil || s.gate == gateClosed {
		return binder.IdentityDescriptor()
	}
	if s.indirect != nil && !s.indirect.ok {
		return binder.IdentityDescriptor()
	}
	return binder.Descriptor{
		Source: s.source,
		Path:   s.effectivePath(),
		Mode:   s.binding.Mode,
	}
}

// applyCurrent pushes the current descriptor at the binder. Re-applying an
// identical descriptor is skipped, which is what makes gate and path
// transitions idempotent at the binder boundary.
func (s *Session) applyCurrent() {
	s.evaluateGate()
	d := s.descriptor()
	if s.applied != nil && d.Same(*s.applied) {
		return
	}
	if err := s.engine.binder.Apply(s.target, s.property, d); err != nil {
		slog.Warn("binding apply failed",
			"token", s.token,
			"target", nodeLabel(s.target),
			"property", s.property,
			"error", err)
		return
	}
	s.applied = &d
	s.bound = !d.Identity
	if s.bound {
		s.engine.sink.Propagated()
		s.record(trace.KindPropagated, map[string]any{"origin": "apply"})
	}
}

// effectivePath is the path the binder reads through right now: the
// indirect track's product when one is live, the declared path otherwise.
func (s *Session) effectivePath() path.Path {
	if s.indirect != nil && s.indirect.ok {
		return s.indirect.effective
	}
	return s.binding.Path
}

// watchProperty is the source property whose change notifications matter:
// the first step of the effective path. An empty path binds the source
// object itself, so there is no property to watch.
func (s *Session) watchProperty() string {
	segs := s.effectivePath().Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[0].Field
}

// subscribe attaches the change subscriptions for the current source.
// One-time bindings subscribe to nothing; resolution pushed once and that
// was the whole contract.
func (s *Session) subscribe() {
	if s.binding.Mode == decl.OneTime || s.source == nil {
		return
	}
	s.liveFlag = &atomic.Bool{}
	s.liveFlag.Store(true)
	live := s.liveFlag
	alive := func() bool { return live.Load() }
	gen := s.wireGen

	s.collSub = bridge.AttachCollection(s.source, s.binding.Kinds, s.engine.loop, alive,
		func(ev bridge.CollectionEvent) {
			if s.wireGen != gen || s.state == StateDetached {
				return
			}
			s.sourceChanged("collection:" + ev.Kind.String())
		})
	if s.collSub != nil {
		s.record(trace.KindSubscribed, map[string]any{
			"channel": "collection",
			"kinds":   s.binding.Kinds.String(),
		})
	}
	s.subscribeProperty(gen, alive)
}

func (s *Session) subscribeProperty(gen uint64, alive func() bool) {
	prop := s.watchProperty()
	if prop == "" {
		return
	}
	s.propSub = bridge.AttachProperty(s.source, prop, s.engine.loop, alive,
		func(bridge.PropertyEvent) {
			if s.wireGen != gen || s.state == StateDetached {
				return
			}
			s.sourceChanged("property:" + prop)
		})
	if s.propSub != nil {
		s.record(trace.KindSubscribed, map[string]any{
			"channel":  "property",
			"property": prop,
		})
	}
}

// resubscribeProperty re-aims the property watch after the effective path
// changed. The collection subscription is source-level and stays put, so
// the wiring generation is left alone; only the stale property watch is
// swapped out.
func (s *Session) resubscribeProperty() {
	if s.liveFlag == nil {
		return
	}
	if s.propSub != nil {
		s.propSub.Dispose()
		s.propSub = nil
		s.record(trace.KindUnsubscribed, map[string]any{"channel": "property"})
	}
	live := s.liveFlag
	s.subscribeProperty(s.wireGen, func() bool { return live.Load() })
}

// dropSubscriptions tears down both change subscriptions and invalidates
// any of their deliveries already posted onto the loop.
func (s *Session) dropSubscriptions() {
	s.wireGen++
	if s.liveFlag != nil {
		s.liveFlag.Store(false)
		s.liveFlag = nil
	}
	if s.collSub != nil {
		s.collSub.Dispose()
		s.collSub = nil
		s.record(trace.KindUnsubscribed, map[string]any{"channel": "collection"})
	}
	if s.propSub != nil {
		s.propSub.Dispose()
		s.propSub = nil
		s.record(trace.KindUnsubscribed, map[string]any{"channel": "property"})
	}
}

// pathChanged is the indirect track's callback after the effective path
// moved: re-apply through the new path and re-aim the property watch.
func (s *Session) pathChanged() {
	s.applyCurrent()
	s.resubscribeProperty()
}

// sourceChanged handles one admitted change delivery. Echoes of the
// session's own write-back are dropped; with a debounce declared the
// change feeds the quiet window, otherwise it refreshes immediately.
func (s *Session) sourceChanged(origin string) {
	if s.guard.suppressed() {
		return
	}
	if s.debounce != nil {
		s.pendingOrigin = origin
		s.debounce.signal(s.currentValue())
		return
	}
	s.refresh(origin)
}

// refresh re-pushes the bound value at the target.
func (s *Session) refresh(origin string) {
	if !s.bound {
		return
	}
	if err := s.engine.binder.Refresh(s.target, s.property); err != nil {
		slog.Warn("target refresh failed",
			"token", s.token,
			"property", s.property,
			"error", err)
		return
	}
	s.engine.sink.Propagated()
	s.record(trace.KindPropagated, map[string]any{"origin": origin})
}

func (s *Session) debounceArmed() {
	s.record(trace.KindDebounceArmed, nil)
}

func (s *Session) debounceFired(immediate bool) {
	if s.state == StateDetached {
		return
	}
	if !immediate {
		s.engine.sink.DebounceFired()
		s.record(trace.KindDebounceFired, nil)
	}
	s.refresh(s.pendingOrigin)
}

// currentValue reads the value a refresh would push right now. Used by the
// debounce when-guard; read failures degrade to nil rather than erroring,
// the guard sees what the target would.
func (s *Session) currentValue() any {
	if s.source == nil {
		return nil
	}
	p := s.effectivePath()
	if p.IsEmpty() {
		return s.source
	}
	v, err := s.engine.acc.Read(s.source, p)
	if err != nil {
		return nil
	}
	return v
}

// releaseTransient releases everything except the permanent loaded and
// unloaded arms: retry hooks, context tracking, change subscriptions, the
// pending debounce window, and the indirect track. The applied-descriptor
// memo is dropped too, so the next wire re-applies even an identical
// descriptor and the target catches up on values changed in between.
func (s *Session) releaseTransient() {
	s.clearInitHook()
	s.clearAmbientHook()
	s.dropSubscriptions()
	if s.debounce != nil {
		s.debounce.cancel()
	}
	if s.indirect != nil {
		s.indirect.stop()
		s.indirect = nil
	}
	s.applied = nil
	s.bound = false
}

func (s *Session) clearInitHook() {
	if s.initHook != 0 {
		s.target.RemoveHook(s.initHook)
		s.initHook = 0
	}
}

func (s *Session) clearAmbientHook() {
	if s.ambientHook != 0 {
		s.target.RemoveHook(s.ambientHook)
		s.ambientHook = 0
	}
}

// record stamps and writes one trace event. Recorder failures are logged
// and swallowed; tracing never breaks a binding.
func (s *Session) record(kind trace.Kind, detail map[string]any) {
	ev := trace.Event{
		Seq:     s.engine.clock.Next(),
		Session: s.token,
		Kind:    kind,
		Detail:  detail,
	}
	if err := s.engine.rec.Record(ev); err != nil {
		slog.Warn("trace record failed",
			"token", s.token,
			"kind", string(kind),
			"error", err)
	}
}

// nodeLabel names a node for traces and logs: its declared name when it
// has one, its Go type otherwise.
func nodeLabel(n tree.Node) string {
	if n == nil {
		return ""
	}
	if name := n.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%T", n)
}

// describeValue renders a value for trace details. Scalars carry their
// value; everything else is reduced to its type so traces stay identical
// across runs (no pointer addresses).
func describeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprintf("%T", v)
	}
}
