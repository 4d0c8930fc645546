package decl

import "strings"

// ChangeKind classifies a structural mutation reported by a source
// collection.
type ChangeKind uint8

const (
	// KindAdd reports items inserted into the collection.
	KindAdd ChangeKind = 1 << iota
	// KindRemove reports items removed from the collection.
	KindRemove
	// KindReplace reports items overwritten in place.
	KindReplace
	// KindMove reports items relocated within the collection.
	KindMove
	// KindReset reports a wholesale change invalidating all prior contents.
	KindReset
)

// String returns the kind name used in traces and scenario files.
func (k ChangeKind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindReplace:
		return "replace"
	case KindMove:
		return "move"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// ParseKind maps a scenario/config token to a ChangeKind.
func ParseKind(s string) (ChangeKind, bool) {
	switch s {
	case "add":
		return KindAdd, true
	case "remove":
		return KindRemove, true
	case "replace":
		return KindReplace, true
	case "move":
		return KindMove, true
	case "reset":
		return KindReset, true
	default:
		return 0, false
	}
}

// KindSet is a change-kind allow-list. The zero value admits every kind,
// which is the declaration default.
type KindSet uint8

// AllKinds admits every change kind explicitly.
const AllKinds = KindSet(KindAdd | KindRemove | KindReplace | KindMove | KindReset)

// Kinds builds a KindSet from individual kinds.
func Kinds(ks ...ChangeKind) KindSet {
	var s KindSet
	for _, k := range ks {
		s |= KindSet(k)
	}
	return s
}

// Admits reports whether events of kind k pass the filter. The zero set
// admits everything.
func (s KindSet) Admits(k ChangeKind) bool {
	if s == 0 {
		return true
	}
	return s&KindSet(k) != 0
}

// String renders the set as a comma-joined kind list; the zero set renders
// as "all".
func (s KindSet) String() string {
	if s == 0 || s == AllKinds {
		return "all"
	}
	var parts []string
	for _, k := range []ChangeKind{KindAdd, KindRemove, KindReplace, KindMove, KindReset} {
		if s&KindSet(k) != 0 {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, ",")
}
