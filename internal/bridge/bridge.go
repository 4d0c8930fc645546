// Package bridge carries mutation notifications from a resolved source to
// the binding engine.
//
// Sources advertise notification support through capability interfaces
// (CollectionNotifier, PropertyNotifier) checked with plain type
// assertions. A source that implements neither is simply not observed;
// that is a normal branch, not an error.
//
// Notifications may originate on any goroutine. The bridge is the single
// place in the system that marshals them onto the dispatch loop; everything
// downstream of an Attach callback runs with loop affinity.
package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/dispatch"
)

// ListenerID identifies one registered listener on a notifier. The zero
// value is never issued.
type ListenerID uint64

// CollectionEvent describes one structural mutation of a collection
// source.
type CollectionEvent struct {
	Kind decl.ChangeKind
	// Index is the position the change applies at, or -1 when the change
	// has no single position (reset).
	Index int
	// OldIndex is the source position of a move, -1 otherwise.
	OldIndex int
	// Items holds the added or replacement elements.
	Items []any
	// Old holds the removed or replaced-away elements.
	Old []any
}

// PropertyEvent describes one property mutation on a source. An empty Name
// means every property may have changed; watchers must treat it as a match.
type PropertyEvent struct {
	Name  string
	Value any
}

// CollectionNotifier is the capability a source implements to publish
// structural collection changes.
type CollectionNotifier interface {
	AddCollectionListener(fn func(CollectionEvent)) ListenerID
	RemoveCollectionListener(id ListenerID)
}

// PropertyNotifier is the capability a source implements to publish
// property changes.
type PropertyNotifier interface {
	AddPropertyListener(fn func(PropertyEvent)) ListenerID
	RemovePropertyListener(id ListenerID)
}

// Subscription is the engine's handle on one registered listener. The
// owning session disposes it on teardown; disposal is idempotent and the
// handle holds nothing of the source beyond what removal requires.
type Subscription struct {
	once     sync.Once
	remove   func()
	disposed atomic.Bool
}

// Dispose removes the listener from its notifier. Safe on a nil handle and
// safe to call more than once; only the first call removes.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.disposed.Store(true)
		s.remove()
	})
}

// Disposed reports whether Dispose has run. A nil handle is disposed.
func (s *Subscription) Disposed() bool {
	return s == nil || s.disposed.Load()
}

// AttachCollection subscribes onChange to src's structural change
// notifications, if src supports them. Returns nil when it does not; a nil
// Subscription is a valid no-op handle.
//
// kinds filters admission (zero set admits all). alive is consulted on
// every delivery; once it reports false the listener disposes itself, a
// backstop for a missed detach. Admitted events invoke onChange on the
// dispatch loop: inline when the notification already fired there,
// marshaled via Post otherwise.
func AttachCollection(src any, kinds decl.KindSet, loop *dispatch.Loop, alive func() bool, onChange func(CollectionEvent)) *Subscription {
	cn, ok := src.(CollectionNotifier)
	if !ok {
		return nil
	}

	// id is written once registration returns; a delivery racing that write
	// sees zero, which notifiers ignore. The listener itself stays inert
	// after disposal either way.
	var id atomic.Uint64
	sub := &Subscription{}
	sub.remove = func() { cn.RemoveCollectionListener(ListenerID(id.Load())) }
	id.Store(uint64(cn.AddCollectionListener(func(ev CollectionEvent) {
		if sub.Disposed() {
			return
		}
		if alive != nil && !alive() {
			sub.Dispose()
			return
		}
		if !kinds.Admits(ev.Kind) {
			return
		}
		loop.Invoke(func() { onChange(ev) })
	})))
	return sub
}

// AttachProperty subscribes onChange to changes of the named property on
// src, if src supports property notifications. Returns nil when it does
// not. An event with an empty Name (everything changed) always matches.
// Delivery rules are the same as AttachCollection's.
func AttachProperty(src any, property string, loop *dispatch.Loop, alive func() bool, onChange func(PropertyEvent)) *Subscription {
	pn, ok := src.(PropertyNotifier)
	if !ok {
		return nil
	}

	var id atomic.Uint64
	sub := &Subscription{}
	sub.remove = func() { pn.RemovePropertyListener(ListenerID(id.Load())) }
	id.Store(uint64(pn.AddPropertyListener(func(ev PropertyEvent) {
		if sub.Disposed() {
			return
		}
		if alive != nil && !alive() {
			sub.Dispose()
			return
		}
		if ev.Name != "" && ev.Name != property {
			return
		}
		loop.Invoke(func() { onChange(ev) })
	})))
	return sub
}
