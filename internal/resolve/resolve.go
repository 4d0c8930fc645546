// Package resolve locates a binding's source object from a declarative
// reference.
//
// Resolution is a pure function of the reference, the target node, and an
// optional name scope. It never blocks and never subscribes to anything;
// pending outcomes carry the node whose lifecycle progress should trigger a
// retry, and the engine owns that scheduling.
package resolve

import (
	"fmt"
	"reflect"

	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/tree"
)

// Status classifies a resolution attempt.
type Status uint8

const (
	// StatusResolved means a source value was produced. The value may be
	// nil; nil is a definitive answer, not a retry case.
	StatusResolved Status = iota
	// StatusPending means the node has not reached the lifecycle state the
	// reference needs. Retry at a later checkpoint.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusPending:
		return "pending"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Outcome is the tri-state result of one resolution attempt: a value, a
// value that is the node's ambient context, or pending.
type Outcome struct {
	Status Status

	// Value is the resolved source. Meaningful only when StatusResolved.
	Value any
	// FromContext marks Value as the node's inherited ambient context; the
	// engine must re-resolve whenever that context changes.
	FromContext bool

	// Pending is the node whose lifecycle progress unblocks resolution.
	// Meaningful only when StatusPending.
	Pending tree.Node
}

// Resolved constructs a successful outcome.
func Resolved(v any, fromContext bool) Outcome {
	return Outcome{Status: StatusResolved, Value: v, FromContext: fromContext}
}

// PendingOn constructs a retry-later outcome blocked on n.
func PendingOn(n tree.Node) Outcome {
	return Outcome{Status: StatusPending, Pending: n}
}

// IsResolved reports whether the attempt produced a value (possibly nil).
func (o Outcome) IsResolved() bool { return o.Status == StatusResolved }

// IsPending reports whether the attempt should be retried later.
func (o Outcome) IsPending() bool { return o.Status == StatusPending }

// ModeError reports a relative addressing mode the engine does not
// implement. The caller must fail the declaration; silently resolving to
// nil would mask a configuration mistake.
type ModeError struct {
	Mode decl.RelativeMode
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("relative source mode %s is not supported", e.Mode)
}

// Resolve locates the source addressed by ref against node.
//
// Addressing modes are examined in strict priority order; the first mode
// that is set decides the outcome and later modes are never consulted:
//
//  1. explicit object
//  2. named lookup in scope (or the node's enclosing scope)
//  3. relative (Ancestor walk, or Self)
//  4. fallback: the node's ambient context
//
// scope may be nil, in which case named lookups consult the node's own
// enclosing scope. Name lookups are definitive: a miss resolves to nil and
// is never retried, because name scopes are fixed at declaration time.
func Resolve(ref decl.SourceRef, node tree.Node, scope tree.NameScope) (Outcome, error) {
	switch {
	case ref.Object != nil:
		return resolveExplicit(ref.Object, node), nil

	case ref.Name != "":
		return resolveNamed(ref.Name, node, scope), nil

	case ref.Rel != nil:
		return resolveRelative(ref.Rel, node)

	default:
		return resolveFallback(node), nil
	}
}

// resolveExplicit handles a concrete object reference. The object is in
// hand, but whether it doubles as the node's ambient context can only be
// judged once the node is attached; before that the context is not
// meaningful, so the outcome stays pending.
func resolveExplicit(obj any, node tree.Node) Outcome {
	if !node.Attached() {
		return PendingOn(node)
	}
	return Resolved(obj, decl.Identical(obj, node.Ambient()))
}

func resolveNamed(name string, node tree.Node, scope tree.NameScope) Outcome {
	if scope == nil {
		scope = tree.ScopeOf(node)
	}
	if scope == nil {
		return Resolved(nil, false)
	}
	return Resolved(scope.FindName(name), false)
}

func resolveRelative(rel *decl.Relative, node tree.Node) (Outcome, error) {
	switch rel.Mode {
	case decl.RelSelf:
		return Resolved(node, false), nil
	case decl.RelAncestor:
		return resolveAncestor(rel, node), nil
	default:
		return Outcome{}, &ModeError{Mode: rel.Mode}
	}
}

// resolveAncestor walks the parent chain. With a type, the walk stops at
// the Level-th ancestor whose dynamic type is assignable to it (interface
// satisfaction counts); without a type it simply counts Level hops. An
// exhausted walk on an unattached node is pending, because the chain may
// still grow; on an attached node the chain is complete and the miss is
// definitive.
func resolveAncestor(rel *decl.Relative, node tree.Node) Outcome {
	level := rel.AncestorLevel
	if level < 1 {
		level = 1
	}

	for anc := node.Parent(); anc != nil; anc = anc.Parent() {
		if rel.AncestorType != nil && !reflect.TypeOf(anc).AssignableTo(rel.AncestorType) {
			continue
		}
		level--
		if level == 0 {
			return Resolved(anc, false)
		}
	}

	if !node.Attached() {
		return PendingOn(node)
	}
	return Resolved(nil, false)
}

// resolveFallback uses the inherited ambient context. A non-nil context is
// usable even before attach; a nil context on an unattached node is
// indistinguishable from "not inherited yet", so it stays pending.
func resolveFallback(node tree.Node) Outcome {
	ctx := node.Ambient()
	if node.Attached() || ctx != nil {
		return Resolved(ctx, true)
	}
	return PendingOn(node)
}
