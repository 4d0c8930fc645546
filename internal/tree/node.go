// Package tree defines the node contract the binding engine resolves
// against, and a reference retained-tree implementation (Element) used by the
// harness and by embedders that do not bring their own tree.
//
// The engine consumes four lifecycle checkpoints from a node, in this order:
//
//	initialized   once, synchronously when construction completes
//	loaded        once per tree entry, when the node is attached and its
//	              ancestor chain is walkable
//	unloaded      once per tree exit
//	ambient       repeatedly, whenever the inherited ambient context changes
//
// All hook registration is handle-based: the engine releases its handles
// explicitly on teardown rather than relying on collection timing.
//
// Trees are single-context structures: all mutation and all hook firing
// happen on the dispatch loop. Nothing in this package takes locks.
package tree

// HookID identifies one registered lifecycle hook. The zero value is never
// issued.
type HookID uint64

// Node is the read-and-subscribe surface the engine needs from a tree
// element. Concrete trees may carry far more; the engine only sees this.
type Node interface {
	// Name returns the element's name, or "".
	Name() string
	// Parent returns the parent node, or nil at the root.
	Parent() Node
	// Initialized reports whether construction has completed.
	Initialized() bool
	// Attached reports whether the node is currently in a mounted tree.
	Attached() bool
	// Ambient returns the inherited ambient context value, or nil.
	Ambient() any

	// OnInitialized registers fn to run when construction completes. Fires
	// at most once; registering after initialization never fires.
	OnInitialized(fn func()) HookID
	// OnLoaded registers fn to run each time the node enters a mounted
	// tree.
	OnLoaded(fn func()) HookID
	// OnUnloaded registers fn to run each time the node leaves a mounted
	// tree.
	OnUnloaded(fn func()) HookID
	// OnAmbientChanged registers fn to run with the new effective ambient
	// context whenever it changes.
	OnAmbientChanged(fn func(newCtx any)) HookID
	// RemoveHook releases a registration. Unknown or already-released IDs
	// are ignored.
	RemoveHook(id HookID)
}

// NameScope resolves names registered at declaration time. Lookups are
// static: a name that is absent now will be absent forever, so a failed
// lookup is definitive, never retried.
type NameScope interface {
	// FindName returns the registered value, or nil.
	FindName(name string) any
}

// Scoped is implemented by nodes that can produce their enclosing name
// scope.
type Scoped interface {
	// EnclosingScope returns the nearest name scope, or nil.
	EnclosingScope() NameScope
}

// PropertyRestrictor is implemented by nodes with properties that cannot
// host a deferred binding (setter-like carrier constructs). Attaching to a
// restricted property is a fatal declaration error.
type PropertyRestrictor interface {
	PropertyRestricted(property string) bool
}

// ScopeOf returns the enclosing name scope of n, or nil when the node (and
// its chain) carries none.
func ScopeOf(n Node) NameScope {
	if n == nil {
		return nil
	}
	if s, ok := n.(Scoped); ok {
		return s.EnclosingScope()
	}
	return nil
}
