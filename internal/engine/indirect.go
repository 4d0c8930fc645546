package engine

import (
	"log/slog"
	"sync/atomic"

	"github.com/graftkit/graft/internal/bridge"
	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/resolve"
	"github.com/graftkit/graft/internal/trace"
)

// indirectTrack follows the secondary reference of an indirect binding: the
// object whose property produces the path (or path segment) the primary
// binding reads through.
//
// The secondary reference resolves against the same target node and scope
// as the primary. Once resolved, the path-producing property is watched and
// every change recomputes the effective path. A value that is neither a
// parseable path string nor a Path leaves the binding unresolved (identity
// placeholder) while the watch stays live, so a later correction recovers
// without a new session.
//
// Thread-safety: none. All methods run on the dispatch loop.
type indirectTrack struct {
	s    *Session
	spec *decl.IndirectPath

	// pending is true while the secondary resolution is parked awaiting a
	// lifecycle checkpoint; the session's loaded arm drives the retry.
	pending bool

	source   any
	sub      *bridge.Subscription
	liveFlag *atomic.Bool

	// ok reports whether the last recompute produced a usable path.
	ok        bool
	effective path.Path
}

// resolve runs the secondary resolution and, on success, starts watching
// the path-producing property and computes the initial effective path.
func (t *indirectTrack) resolve() {
	out, err := resolve.Resolve(t.spec.Source, t.s.target, t.s.scope)
	if err != nil {
		slog.Error("indirect source resolution failed",
			"token", t.s.token,
			"error", err)
		t.pending = false
		t.ok = false
		return
	}
	if out.IsPending() {
		t.pending = true
		t.ok = false
		t.s.record(trace.KindPending, map[string]any{"track": "indirect"})
		return
	}
	t.pending = false
	t.source = out.Value
	t.watch()
	t.recompute(false)
}

// watch subscribes to property changes on the secondary source. Sources
// without property notification support are tracked statically.
func (t *indirectTrack) watch() {
	if t.source == nil {
		return
	}
	t.liveFlag = &atomic.Bool{}
	t.liveFlag.Store(true)
	live := t.liveFlag
	gen := t.s.wireGen
	t.sub = bridge.AttachProperty(t.source, t.spec.Path.Leaf(), t.s.engine.loop,
		func() bool { return live.Load() },
		func(bridge.PropertyEvent) {
			if t.s.wireGen != gen || t.s.state == StateDetached {
				return
			}
			t.recompute(true)
		})
	if t.sub != nil {
		t.s.record(trace.KindSubscribed, map[string]any{
			"channel":  "indirect",
			"property": t.spec.Path.Leaf(),
		})
	}
}

// recompute reads the path-producing property and rebuilds the effective
// path. When notify is set and the outcome changed, the session re-applies
// the binding and re-aims its property watch.
func (t *indirectTrack) recompute(notify bool) {
	ok, eff := t.derive()
	if ok == t.ok && eff.String() == t.effective.String() {
		return
	}
	t.ok = ok
	t.effective = eff
	t.s.record(trace.KindPathRecomputed, map[string]any{
		"path":  eff.String(),
		"valid": ok,
	})
	if notify {
		t.s.pathChanged()
	}
}

// derive turns the current property value into the effective path. A read
// failure, an unparseable string, or a value of any other type all yield
// not-ok; the segment is combined with the declared base path unless the
// override flag replaces it outright.
func (t *indirectTrack) derive() (bool, path.Path) {
	if t.source == nil {
		return false, path.Path{}
	}
	v, err := t.s.engine.acc.Read(t.source, t.spec.Path)
	if err != nil {
		return false, path.Path{}
	}
	var seg path.Path
	switch pv := v.(type) {
	case string:
		parsed, err := path.Parse(pv)
		if err != nil {
			return false, path.Path{}
		}
		seg = parsed
	case path.Path:
		seg = pv
	default:
		return false, path.Path{}
	}
	if t.spec.Override {
		return true, seg
	}
	return true, path.Join(t.s.binding.Path, seg)
}

// stop tears the watch down. The track keeps its last computed state so a
// rewire can compare against it, but nothing fires after stop returns.
func (t *indirectTrack) stop() {
	if t.liveFlag != nil {
		t.liveFlag.Store(false)
		t.liveFlag = nil
	}
	if t.sub != nil {
		t.sub.Dispose()
		t.sub = nil
		t.s.record(trace.KindUnsubscribed, map[string]any{"channel": "indirect"})
	}
}
