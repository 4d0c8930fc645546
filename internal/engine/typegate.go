package engine

import "reflect"

// gateState is the last type-gate decision a session applied. Tracking it
// makes gate transitions idempotent: re-evaluating to the same answer never
// toggles the underlying binding.
type gateState uint8

const (
	// gateUnknown means the gate has not been evaluated yet.
	gateUnknown gateState = iota

	// gateOpen means the resolved source passed the filter and the binding
	// is (or may be) applied.
	gateOpen

	// gateClosed means the resolved source failed the filter and the
	// binding is withheld.
	gateClosed
)

// String returns the gate state for traces and logs.
func (g gateState) String() string {
	switch g {
	case gateOpen:
		return "open"
	case gateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// shouldBind reports whether a resolved source passes a type filter: the
// source must be non-nil and its dynamic type assignable to the filter.
// Assignability covers the exact type, concrete types behind an interface
// filter, and nothing else; a nil source always fails.
func shouldBind(source any, filter reflect.Type) bool {
	if source == nil {
		return false
	}
	return reflect.TypeOf(source).AssignableTo(filter)
}
