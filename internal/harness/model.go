package harness

import (
	"fmt"
	"sync"

	"github.com/graftkit/graft/internal/bridge"
	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/tree"
)

// Record is a scenario-defined observable source: a string-keyed bag of
// values that publishes a property notification on every Set. Scenario
// `record` sources instantiate one of these; binding paths read straight
// into the field map ("Name", "Contact.Email").
//
// Methods are safe from any goroutine, but scenario runs drive all
// mutation through dispatch-loop steps, so path traversal never races a
// write.
type Record struct {
	bridge.Observable

	mu     sync.Mutex
	fields map[string]any
}

// NewRecord creates a record over the given initial fields. The map is
// copied; nil is an empty record.
func NewRecord(fields map[string]any) *Record {
	r := &Record{fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		r.fields[k] = v
	}
	return r
}

// Get returns the named field.
func (r *Record) Get(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.fields[name]
	return v, ok
}

// Set stores the named field and notifies property listeners.
func (r *Record) Set(name string, v any) {
	r.mu.Lock()
	r.fields[name] = v
	r.mu.Unlock()
	r.NotifyProperty(name, v)
}

// Fields returns a shallow copy of the field map.
func (r *Record) Fields() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// view returns the live field map for path traversal. Scenario execution
// is loop-serialized, so the walk never overlaps a Set.
func (r *Record) view() map[string]any { return r.fields }

// List is a scenario-defined observable collection source. Every mutator
// publishes the matching structural change event, so scenarios can
// exercise kind filters and collection-driven refreshes.
type List struct {
	bridge.Observable

	mu    sync.Mutex
	items []any
}

// NewList creates a list over the given initial items. The slice is
// copied; nil is an empty list.
func NewList(items []any) *List {
	l := &List{items: make([]any, len(items))}
	copy(l.items, items)
	return l
}

// Len returns the item count.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Items returns a copy of the current items.
func (l *List) Items() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]any, len(l.items))
	copy(out, l.items)
	return out
}

// Append adds v at the end and publishes an add event.
func (l *List) Append(v any) {
	l.mu.Lock()
	l.items = append(l.items, v)
	ix := len(l.items) - 1
	l.mu.Unlock()
	l.NotifyCollection(bridge.CollectionEvent{
		Kind:     decl.KindAdd,
		Index:    ix,
		OldIndex: -1,
		Items:    []any{v},
	})
}

// RemoveAt deletes the item at ix and publishes a remove event.
func (l *List) RemoveAt(ix int) error {
	l.mu.Lock()
	if ix < 0 || ix >= len(l.items) {
		n := len(l.items)
		l.mu.Unlock()
		return fmt.Errorf("remove index %d out of range (len %d)", ix, n)
	}
	old := l.items[ix]
	l.items = append(l.items[:ix], l.items[ix+1:]...)
	l.mu.Unlock()
	l.NotifyCollection(bridge.CollectionEvent{
		Kind:     decl.KindRemove,
		Index:    ix,
		OldIndex: -1,
		Old:      []any{old},
	})
	return nil
}

// ReplaceAt overwrites the item at ix and publishes a replace event.
func (l *List) ReplaceAt(ix int, v any) error {
	l.mu.Lock()
	if ix < 0 || ix >= len(l.items) {
		n := len(l.items)
		l.mu.Unlock()
		return fmt.Errorf("replace index %d out of range (len %d)", ix, n)
	}
	old := l.items[ix]
	l.items[ix] = v
	l.mu.Unlock()
	l.NotifyCollection(bridge.CollectionEvent{
		Kind:     decl.KindReplace,
		Index:    ix,
		OldIndex: -1,
		Items:    []any{v},
		Old:      []any{old},
	})
	return nil
}

// Move relocates the item at from to position to and publishes a move
// event.
func (l *List) Move(from, to int) error {
	l.mu.Lock()
	if from < 0 || from >= len(l.items) || to < 0 || to >= len(l.items) {
		n := len(l.items)
		l.mu.Unlock()
		return fmt.Errorf("move %d -> %d out of range (len %d)", from, to, n)
	}
	v := l.items[from]
	l.items = append(l.items[:from], l.items[from+1:]...)
	rest := append([]any{v}, l.items[to:]...)
	l.items = append(l.items[:to], rest...)
	l.mu.Unlock()
	l.NotifyCollection(bridge.CollectionEvent{
		Kind:     decl.KindMove,
		Index:    to,
		OldIndex: from,
		Items:    []any{v},
	})
	return nil
}

// Reset replaces the whole contents and publishes a reset event.
func (l *List) Reset(items []any) {
	l.mu.Lock()
	l.items = make([]any, len(items))
	copy(l.items, items)
	l.mu.Unlock()
	l.NotifyCollection(bridge.CollectionEvent{
		Kind:     decl.KindReset,
		Index:    -1,
		OldIndex: -1,
	})
}

// view returns the live item slice for path traversal.
func (l *List) view() []any { return l.items }

// modelAccessor adapts the reflection accessor to the harness source
// models. Records traverse as their field map, lists as their item slice
// (with "Count" answering the length), and tree elements expose their
// property bag one segment deep. Everything else falls through to plain
// reflection.
type modelAccessor struct {
	inner path.ReflectAccessor
}

func newModelAccessor() modelAccessor { return modelAccessor{} }

// Read implements path.Accessor.
func (a modelAccessor) Read(obj any, p path.Path) (any, error) {
	switch src := obj.(type) {
	case *Record:
		return a.inner.Read(src.view(), p)
	case *List:
		if isCountPath(p) {
			return src.Len(), nil
		}
		return a.inner.Read(src.view(), p)
	case *tree.Element:
		field, err := elementField(p)
		if err != nil {
			return nil, err
		}
		return src.Prop(field), nil
	default:
		return a.inner.Read(obj, p)
	}
}

// Write implements path.Accessor. A single-segment write into a record
// goes through Set so listeners observe it; deeper writes land silently
// in the nested structure, the same as a write into a plain struct.
func (a modelAccessor) Write(obj any, p path.Path, v any) error {
	switch src := obj.(type) {
	case *Record:
		if field, ok := singleField(p); ok {
			src.Set(field, v)
			return nil
		}
		return a.inner.Write(src.view(), p, v)
	case *List:
		return a.inner.Write(src.view(), p, v)
	case *tree.Element:
		field, err := elementField(p)
		if err != nil {
			return err
		}
		src.SetProp(field, v)
		return nil
	default:
		return a.inner.Write(obj, p, v)
	}
}

// singleField reports whether p is exactly one plain field segment and
// returns it.
func singleField(p path.Path) (string, bool) {
	segs := p.Segments()
	if len(segs) != 1 || segs[0].Field == "" || len(segs[0].Indexes) > 0 {
		return "", false
	}
	return segs[0].Field, true
}

// isCountPath reports whether p is the single segment "Count".
func isCountPath(p path.Path) bool {
	f, ok := singleField(p)
	return ok && f == "Count"
}

// elementField restricts element paths to one plain property name. The
// element property bag is flat; anything deeper belongs on a source.
func elementField(p path.Path) (string, error) {
	f, ok := singleField(p)
	if !ok {
		return "", &path.AccessError{
			Path:    p,
			Message: "element properties are addressed by a single field segment",
		}
	}
	return f, nil
}
