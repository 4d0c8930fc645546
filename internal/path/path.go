// Package path implements the dotted property-path type used to address a
// value inside a binding source, plus the read/write accessor primitive the
// engine consumes.
//
// A path is a sequence of segments separated by dots, where each segment is a
// field name optionally followed by indexer parameters:
//
//	Title
//	Customer.Address.City
//	Items[2].Name
//	Lookup[en-US].Caption
//
// Paths are immutable value types. The zero Path is the empty path, which
// addresses the source object itself.
package path

import (
	"fmt"
	"strings"
)

// Segment is one step of a parsed path: a field name plus optional indexer
// parameters applied after the field access. For a leading indexer segment
// (path starts with "[0]") Field is empty.
type Segment struct {
	Field   string
	Indexes []string
}

// String renders the segment in source form.
func (s Segment) String() string {
	var b strings.Builder
	b.WriteString(s.Field)
	for _, ix := range s.Indexes {
		b.WriteByte('[')
		b.WriteString(ix)
		b.WriteByte(']')
	}
	return b.String()
}

// Path is a parsed property path. Construct with Parse or MustParse; the zero
// value is the empty path.
type Path struct {
	raw  string
	segs []Segment
}

// ParseError describes a syntax error in a path string.
type ParseError struct {
	Input   string
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse path %q at offset %d: %s", e.Input, e.Pos, e.Message)
}

// Parse parses a dotted path string. An empty string yields the empty path.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return Path{}, nil
	}

	var segs []Segment
	var cur Segment
	flushed := true // no pending segment content yet

	i := 0
	for i < len(raw) {
		c := raw[i]
		switch {
		case c == '.':
			if flushed {
				return Path{}, &ParseError{Input: raw, Pos: i, Message: "empty segment"}
			}
			segs = append(segs, cur)
			cur = Segment{}
			flushed = true
			i++

		case c == '[':
			end := strings.IndexByte(raw[i:], ']')
			if end < 0 {
				return Path{}, &ParseError{Input: raw, Pos: i, Message: "unterminated indexer"}
			}
			key := raw[i+1 : i+end]
			if key == "" {
				return Path{}, &ParseError{Input: raw, Pos: i, Message: "empty indexer"}
			}
			cur.Indexes = append(cur.Indexes, key)
			flushed = false
			i += end + 1

		case c == ']':
			return Path{}, &ParseError{Input: raw, Pos: i, Message: "unexpected ']'"}

		case isIdentByte(c):
			if len(cur.Indexes) > 0 {
				return Path{}, &ParseError{Input: raw, Pos: i, Message: "field name after indexer; separate with '.'"}
			}
			j := i
			for j < len(raw) && isIdentByte(raw[j]) {
				j++
			}
			cur.Field = raw[i:j]
			flushed = false
			i = j

		default:
			return Path{}, &ParseError{Input: raw, Pos: i, Message: fmt.Sprintf("invalid character %q", c)}
		}
	}
	if flushed {
		return Path{}, &ParseError{Input: raw, Pos: len(raw), Message: "trailing '.'"}
	}
	segs = append(segs, cur)

	return Path{raw: raw, segs: segs}, nil
}

// MustParse is Parse that panics on error. For literals in tests and wiring.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// IsEmpty reports whether the path addresses the source object itself.
func (p Path) IsEmpty() bool { return len(p.segs) == 0 }

// Segments returns the parsed segments. The returned slice must not be
// mutated.
func (p Path) Segments() []Segment { return p.segs }

// Leaf returns the field name of the final segment, or "" for the empty path.
// Used to pick the property to watch when a path value is produced
// indirectly.
func (p Path) Leaf() string {
	if len(p.segs) == 0 {
		return ""
	}
	return p.segs[len(p.segs)-1].Field
}

// String returns the source form of the path.
func (p Path) String() string { return p.raw }

// Join combines a base path with a resolved segment path: the result is
// base + "." + seg. Either side may be empty, in which case the other is
// returned unchanged.
func Join(base, seg Path) Path {
	if base.IsEmpty() {
		return seg
	}
	if seg.IsEmpty() {
		return base
	}
	joined := Path{raw: base.raw + "." + seg.raw}
	joined.segs = make([]Segment, 0, len(base.segs)+len(seg.segs))
	joined.segs = append(joined.segs, base.segs...)
	joined.segs = append(joined.segs, seg.segs...)
	return joined
}
