package engine

import (
	"testing"

	"github.com/graftkit/graft/internal/binder"
	"github.com/graftkit/graft/internal/bridge"
	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/dispatch"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/testutil"
	"github.com/graftkit/graft/internal/trace"
)

// fixture bundles an engine with deterministic collaborators: an in-memory
// trace, manual timers, and fixed session tokens.
type fixture struct {
	loop   *dispatch.Loop
	mem    *trace.Memory
	timers *testutil.ManualTimers
	eng    *Engine
}

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()
	loop := dispatch.New()
	mem := trace.NewMemory()
	timers := testutil.NewManualTimers(loop)
	opts := []Option{
		WithRecorder(mem),
		WithTimerHost(timers),
		WithTokens(NewFixedGenerator(
			"sess-1", "sess-2", "sess-3", "sess-4",
			"sess-5", "sess-6", "sess-7", "sess-8",
		)),
	}
	opts = append(opts, extra...)
	eng := New(loop, opts...)
	return &fixture{loop: loop, mem: mem, timers: timers, eng: eng}
}

// drive posts fn onto the loop and drains the queue, so everything inside
// runs with loop affinity exactly as in production.
func (f *fixture) drive(fn func()) {
	f.loop.Post(fn)
	f.loop.RunUntilIdle()
}

// countKind counts the session's trace events of one kind.
func (f *fixture) countKind(token string, kind trace.Kind) int {
	n := 0
	for _, ev := range f.mem.SessionEvents(token) {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// notifier is the embeddable change-notification half of the test sources.
// Listener maps double as leak detectors: tests assert listenerCount
// returns to zero after teardown.
type notifier struct {
	nextID   bridge.ListenerID
	propSubs map[bridge.ListenerID]func(bridge.PropertyEvent)
	collSubs map[bridge.ListenerID]func(bridge.CollectionEvent)
}

func (n *notifier) AddPropertyListener(fn func(bridge.PropertyEvent)) bridge.ListenerID {
	if n.propSubs == nil {
		n.propSubs = make(map[bridge.ListenerID]func(bridge.PropertyEvent))
	}
	n.nextID++
	n.propSubs[n.nextID] = fn
	return n.nextID
}

func (n *notifier) RemovePropertyListener(id bridge.ListenerID) {
	delete(n.propSubs, id)
}

func (n *notifier) AddCollectionListener(fn func(bridge.CollectionEvent)) bridge.ListenerID {
	if n.collSubs == nil {
		n.collSubs = make(map[bridge.ListenerID]func(bridge.CollectionEvent))
	}
	n.nextID++
	n.collSubs[n.nextID] = fn
	return n.nextID
}

func (n *notifier) RemoveCollectionListener(id bridge.ListenerID) {
	delete(n.collSubs, id)
}

func (n *notifier) fireProp(name string, v any) {
	for _, fn := range n.propSubs {
		fn(bridge.PropertyEvent{Name: name, Value: v})
	}
}

func (n *notifier) fireColl(ev bridge.CollectionEvent) {
	for _, fn := range n.collSubs {
		fn(ev)
	}
}

func (n *notifier) listenerCount() int {
	return len(n.propSubs) + len(n.collSubs)
}

// account is a property-notifying source.
type account struct {
	notifier
	Name    string
	Balance int
}

func (a *account) SetName(v string) {
	a.Name = v
	a.fireProp("Name", v)
}

func (a *account) SetBalance(v int) {
	a.Balance = v
	a.fireProp("Balance", v)
}

// Describe makes *account satisfy the describable filter in gate tests.
func (a *account) Describe() string { return a.Name }

type describable interface {
	Describe() string
}

// feed is a collection-notifying source.
type feed struct {
	notifier
	Items []any
}

func (f *feed) Append(v any) {
	f.Items = append(f.Items, v)
	f.fireColl(bridge.CollectionEvent{
		Kind:     decl.KindAdd,
		Index:    len(f.Items) - 1,
		OldIndex: -1,
		Items:    []any{v},
	})
}

func (f *feed) Drop(i int) {
	old := f.Items[i]
	f.Items = append(f.Items[:i], f.Items[i+1:]...)
	f.fireColl(bridge.CollectionEvent{
		Kind:     decl.KindRemove,
		Index:    i,
		OldIndex: -1,
		Old:      []any{old},
	})
}

func (f *feed) Reset() {
	f.Items = nil
	f.fireColl(bridge.CollectionEvent{
		Kind:     decl.KindReset,
		Index:    -1,
		OldIndex: -1,
	})
}

// router exposes a path-producing property for indirect bindings.
type router struct {
	notifier
	Route string
}

func (r *router) SetRoute(v string) {
	r.Route = v
	r.fireProp("Route", v)
}

// notifyingAccessor writes through the models' notifying setters, the way
// a real property system raises change events on write. Reads fall through
// to reflection.
type notifyingAccessor struct {
	path.ReflectAccessor
}

func (a notifyingAccessor) Write(obj any, p path.Path, v any) error {
	if acct, ok := obj.(*account); ok && p.String() == "Name" {
		acct.SetName(v.(string))
		return nil
	}
	return a.ReflectAccessor.Write(obj, p, v)
}

// countingBinder wraps a binder and tallies calls per method, separating
// real applies from identity-placeholder applies.
type countingBinder struct {
	inner     binder.Binder
	applies   int
	identity  int
	refreshes int
	clears    int
}

func (c *countingBinder) Apply(target any, property string, d binder.Descriptor) error {
	if d.Identity {
		c.identity++
	} else {
		c.applies++
	}
	return c.inner.Apply(target, property, d)
}

func (c *countingBinder) Clear(target any, property string) error {
	c.clears++
	return c.inner.Clear(target, property)
}

func (c *countingBinder) Refresh(target any, property string) error {
	c.refreshes++
	return c.inner.Refresh(target, property)
}
