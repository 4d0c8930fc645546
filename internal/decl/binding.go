package decl

import (
	"errors"
	"reflect"
	"time"

	"github.com/graftkit/graft/internal/path"
)

// Mode selects the propagation direction of an established binding. It is
// carried through to the underlying binding primitive in the resolved
// descriptor.
type Mode int

const (
	// OneWay pushes source values to the target; the default.
	OneWay Mode = iota
	// TwoWay additionally pushes target writes back to the source.
	TwoWay
	// OneTime pushes once per resolution and does not subscribe to source
	// mutations. Re-resolution (an ambient-context change) pushes again.
	OneTime
)

// String returns the mode name used in traces and descriptors.
func (m Mode) String() string {
	switch m {
	case OneWay:
		return "one-way"
	case TwoWay:
		return "two-way"
	case OneTime:
		return "one-time"
	default:
		return "unknown"
	}
}

// Debounce configures the coalescing window applied between admitted source
// changes and target refreshes.
type Debounce struct {
	// Delay is the quiet window. A refresh fires only when Delay elapses
	// with no further admitted change.
	Delay time.Duration

	// DelayWhen, when non-nil, is evaluated against the value the refresh
	// would push. While it returns true the window applies; when it returns
	// false the window is bypassed and the refresh fires immediately.
	DelayWhen func(value any) bool
}

// IndirectPath declares that the effective path is itself read from a second
// resolved source rather than written literally in the declaration.
type IndirectPath struct {
	// Source addresses the object holding the path value.
	Source SourceRef
	// Path locates the path value inside that object. The value there must
	// be a string or a path.Path; anything else leaves the binding inert
	// until the value changes again.
	Path path.Path
	// Override replaces the declaration's base path entirely instead of
	// appending the resolved segment to it.
	Override bool
}

// Binding is one deferred binding declaration: where the source lives, what
// path to read, and which optional gates sit between source changes and
// target refreshes. The flavors of the declarative syntax all lower to this
// one struct.
type Binding struct {
	Source SourceRef
	Path   path.Path
	Mode   Mode

	// Kinds filters structural change notifications. Zero admits all.
	Kinds KindSet

	// Debounce, when non-nil, coalesces admitted changes into delayed
	// refreshes.
	Debounce *Debounce

	// TypeFilter, when non-nil, gates the binding on the resolved source's
	// runtime type: assignable → bound, otherwise the target keeps an inert
	// identity placeholder.
	TypeFilter reflect.Type

	// Indirect, when non-nil, derives the effective path from a second
	// resolution instead of Path alone.
	Indirect *IndirectPath
}

// Validate checks the declaration before it is applied: the primary and
// indirect source references must each be valid, and a debounce delay must
// be positive when configured.
func (b Binding) Validate() error {
	if err := b.Source.Validate(); err != nil {
		return err
	}
	if b.Indirect != nil {
		if err := b.Indirect.Source.Validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return &ValidationError{Field: "indirect." + ve.Field, Message: ve.Message}
			}
			return err
		}
		if b.Indirect.Path.IsEmpty() {
			return &ValidationError{Field: "indirect.path", Message: "indirect reference needs a path to read the segment from"}
		}
	}
	if b.Debounce != nil && b.Debounce.Delay <= 0 {
		return &ValidationError{Field: "debounce.delay", Message: "delay must be positive"}
	}
	return nil
}
