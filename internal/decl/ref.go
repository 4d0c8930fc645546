// Package decl defines the immutable declaration model for deferred
// bindings: how a source is addressed, which change kinds propagate, and the
// optional debounce / type-filter / indirect-path attachments.
//
// Values in this package are plain data. They are created once by whatever
// front end instantiates binding declarations, validated, and then shared
// read-only across resolutions; nothing here mutates after construction.
package decl

import (
	"fmt"
	"reflect"
)

// RelativeMode selects how a relative source reference walks the tree.
type RelativeMode int

const (
	// RelSelf binds to the owning node itself.
	RelSelf RelativeMode = iota + 1
	// RelAncestor walks the ancestor chain by type and/or hop count.
	RelAncestor
	// RelPreviousData addresses the previous item in a generated item run.
	// Declared for completeness; the engine does not support it and fails
	// fast when it appears.
	RelPreviousData
	// RelTemplatedParent addresses the node a template was expanded for.
	// Declared for completeness; the engine does not support it and fails
	// fast when it appears.
	RelTemplatedParent
)

// String returns the mode name used in errors and traces.
func (m RelativeMode) String() string {
	switch m {
	case RelSelf:
		return "Self"
	case RelAncestor:
		return "Ancestor"
	case RelPreviousData:
		return "PreviousData"
	case RelTemplatedParent:
		return "TemplatedParent"
	default:
		return fmt.Sprintf("RelativeMode(%d)", int(m))
	}
}

// Supported reports whether the engine can resolve the mode.
func (m RelativeMode) Supported() bool {
	return m == RelSelf || m == RelAncestor
}

// Relative describes tree-relative source addressing.
type Relative struct {
	Mode RelativeMode

	// AncestorType, when non-nil, matches an ancestor whose dynamic type is
	// assignable to it (exact type or subtype; interface types match
	// implementers). Ancestor mode only.
	AncestorType reflect.Type

	// AncestorLevel counts hops. With AncestorType set it selects the n-th
	// matching ancestor (1 = nearest match, the default); alone it selects
	// exactly n parent hops. Ancestor mode only.
	AncestorLevel int
}

// SourceRef describes how to locate a binding's source. At most one of
// Object, Name, Rel may be set; when none are set the owning node's ambient
// inherited context is the source.
type SourceRef struct {
	// Object is a concrete source reference.
	Object any
	// Name is resolved within the declaration's name scope.
	Name string
	// Rel addresses the source relative to the owning node.
	Rel *Relative
}

// ValidationError describes an invalid declaration. It is fatal at the point
// the declaration is applied; the engine never degrades an invalid
// declaration into a silent null source.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid binding declaration: %s: %s", e.Field, e.Message)
}

// Validate enforces the addressing invariant: at most one of Object, Name,
// Rel set; a Rel must carry a supported mode and, for Ancestor, at least one
// of type or level.
func (r SourceRef) Validate() error {
	set := 0
	if r.Object != nil {
		set++
	}
	if r.Name != "" {
		set++
	}
	if r.Rel != nil {
		set++
	}
	if set > 1 {
		return &ValidationError{Field: "source", Message: "more than one addressing mode set (object, name, relative are mutually exclusive)"}
	}
	if r.Rel != nil {
		if !r.Rel.Mode.Supported() {
			return &ValidationError{
				Field:   "source.relative.mode",
				Message: fmt.Sprintf("relative mode %s is not supported by this engine", r.Rel.Mode),
			}
		}
		if r.Rel.Mode == RelAncestor && r.Rel.AncestorType == nil && r.Rel.AncestorLevel <= 0 {
			return &ValidationError{Field: "source.relative", Message: "ancestor addressing needs a type, a level, or both"}
		}
	}
	return nil
}

// IsFallback reports whether the reference has no explicit addressing and
// therefore resolves to the owning node's ambient context.
func (r SourceRef) IsFallback() bool {
	return r.Object == nil && r.Name == "" && r.Rel == nil
}
