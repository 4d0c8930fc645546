package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graftkit/graft/internal/binder"
	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/dispatch"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/trace"
	"github.com/graftkit/graft/internal/tree"
)

// kinds flattens a session's trace to its event kinds, for exact-order
// assertions.
func kinds(f *fixture, token string) []trace.Kind {
	events := f.mem.SessionEvents(token)
	out := make([]trace.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestPendingClimbsTheRetryLadder(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	src := &account{Name: "ada"}

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
		})
	})
	assert.Equal(t, StateAwaitInit, sess.State(), "detached and uninitialized parks at the init checkpoint")
	assert.False(t, sess.Bound())

	f.drive(func() { el.Initialize() })
	assert.Equal(t, StateAwaitLoad, sess.State(), "still detached, so the retry moves to the loaded checkpoint")

	f.drive(func() { el.Mount() })
	assert.Equal(t, StateResolved, sess.State())
	assert.True(t, sess.Bound())
	assert.Equal(t, "ada", el.Prop("Text"))

	require.Equal(t, []trace.Kind{
		trace.KindSessionOpened,
		trace.KindResolveAttempt,
		trace.KindPending,
		trace.KindRetryArmed,
		trace.KindResolveAttempt,
		trace.KindPending,
		trace.KindRetryArmed,
		trace.KindResolveAttempt,
		trace.KindResolved,
		trace.KindPropagated,
		trace.KindSubscribed,
		trace.KindSubscribed,
	}, kinds(f, "sess-1"))
}

func TestMountResolvesAtTheInitCheckpoint(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	src := &account{Name: "ada"}

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
		})
	})
	require.Equal(t, StateAwaitInit, sess.State())

	// Mount flips attachment before firing initialized, so the armed init
	// retry already sees an attached node and resolves without waiting for
	// the loaded hook.
	f.drive(func() { el.Mount() })

	assert.Equal(t, StateResolved, sess.State())
	assert.Equal(t, "ada", el.Prop("Text"))
}

func TestNamedMissIsDefinitive(t *testing.T) {
	f := newFixture(t)
	root := tree.NewElement("root")
	scope := tree.NewScope()
	root.SetScopeRoot(scope)
	label := tree.NewElement("label")
	root.AddChild(label)
	root.Mount()

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(label, "Items", decl.Binding{
			Source: decl.SourceRef{Name: "orders"},
		})
	})

	assert.Equal(t, StateResolved, sess.State(), "a miss is an answer, not a retry case")
	assert.False(t, sess.Bound())
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindResolveAttempt))
	assert.Equal(t, 0, f.countKind("sess-1", trace.KindPending))

	// Registering the name afterwards changes nothing; lookups are not
	// re-run.
	require.NoError(t, scope.Register("orders", &feed{}))
	f.loop.RunUntilIdle()
	assert.False(t, sess.Bound())
}

func TestNamedLookupFindsRegisteredSource(t *testing.T) {
	f := newFixture(t)
	root := tree.NewElement("root")
	scope := tree.NewScope()
	root.SetScopeRoot(scope)
	label := tree.NewElement("label")
	root.AddChild(label)
	src := &account{Name: "grace"}
	require.NoError(t, scope.Register("owner", src))
	root.Mount()

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(label, "Text", decl.Binding{
			Source: decl.SourceRef{Name: "owner"},
			Path:   path.MustParse("Name"),
		})
	})

	assert.Equal(t, StateResolved, sess.State())
	assert.Equal(t, "grace", label.Prop("Text"))
}

func TestAncestorResolvesWhenTheChainGrows(t *testing.T) {
	f := newFixture(t)
	leaf := tree.NewElement("leaf")

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(leaf, "Anchor", decl.Binding{
			Source: decl.SourceRef{Rel: &decl.Relative{
				Mode:          decl.RelAncestor,
				AncestorLevel: 2,
			}},
		})
	})
	require.Equal(t, StateAwaitInit, sess.State(), "an exhausted chain on a detached node is pending")

	root := tree.NewElement("root")
	mid := tree.NewElement("mid")
	f.drive(func() {
		root.AddChild(mid)
		mid.AddChild(leaf)
		root.Mount()
	})

	assert.Equal(t, StateResolved, sess.State())
	assert.Same(t, root, leaf.Prop("Anchor").(*tree.Element), "two hops up lands on the root")
}

func TestAncestorMissOnAttachedNodeIsDefinitive(t *testing.T) {
	f := newFixture(t)
	root := tree.NewElement("root")
	leaf := tree.NewElement("leaf")
	root.AddChild(leaf)
	root.Mount()

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(leaf, "Anchor", decl.Binding{
			Source: decl.SourceRef{Rel: &decl.Relative{
				Mode:          decl.RelAncestor,
				AncestorLevel: 5,
			}},
		})
	})

	assert.Equal(t, StateResolved, sess.State(), "the chain is complete, so the miss is an answer")
	assert.False(t, sess.Bound())
	assert.Equal(t, 0, f.countKind("sess-1", trace.KindPending))
}

func TestOneWayPropagatesSourceChanges(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	src := &account{Name: "ada"}

	f.drive(func() {
		_, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
		})
	})
	require.Equal(t, "ada", el.Prop("Text"))

	f.drive(func() { src.SetName("grace") })

	assert.Equal(t, "grace", el.Prop("Text"))
	assert.Equal(t, 2, f.countKind("sess-1", trace.KindPropagated), "initial apply plus one change")
}

func TestCollectionKindFilter(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("list")
	el.Mount()
	src := &feed{}

	f.drive(func() {
		_, _ = f.eng.Attach(el, "Items", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Kinds:  decl.Kinds(decl.KindAdd),
		})
	})
	require.Equal(t, 1, f.countKind("sess-1", trace.KindPropagated))

	f.drive(func() { src.Append("first") })
	assert.Equal(t, 2, f.countKind("sess-1", trace.KindPropagated), "add is admitted")

	f.drive(func() { src.Drop(0) })
	assert.Equal(t, 2, f.countKind("sess-1", trace.KindPropagated), "remove is filtered out")

	f.drive(func() { src.Reset() })
	assert.Equal(t, 2, f.countKind("sess-1", trace.KindPropagated), "reset is filtered out")
}

func TestOneTimeNeverSubscribes(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	a1 := &account{Name: "first"}
	a2 := &account{Name: "second"}

	f.drive(func() { el.SetAmbient(a1) })
	f.drive(func() {
		_, _ = f.eng.Attach(el, "Text", decl.Binding{
			Path: path.MustParse("Name"),
			Mode: decl.OneTime,
		})
	})
	require.Equal(t, "first", el.Prop("Text"))
	assert.Equal(t, 0, a1.listenerCount(), "one-time bindings track nothing")

	f.drive(func() { a1.SetName("mutated") })
	assert.Equal(t, "first", el.Prop("Text"), "source mutation is invisible")

	// A context change is a re-resolution, and a re-resolution pushes
	// again even for one-time bindings.
	f.drive(func() { el.SetAmbient(a2) })
	assert.Equal(t, "second", el.Prop("Text"))
	assert.Equal(t, 0, a2.listenerCount())
}

func TestAmbientTrackingFollowsContextChanges(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	a1 := &account{Name: "first"}
	a2 := &account{Name: "second"}

	var sess *Session
	f.drive(func() { el.SetAmbient(a1) })
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Path: path.MustParse("Name"),
		})
	})
	require.Equal(t, StateTrackingContext, sess.State())
	require.Equal(t, "first", el.Prop("Text"))
	assert.Equal(t, 3, el.HookCount(), "loaded, unloaded, and ambient arms")
	assert.Equal(t, 2, a1.listenerCount())

	f.drive(func() { el.SetAmbient(a2) })

	assert.Equal(t, "second", el.Prop("Text"))
	assert.Equal(t, 0, a1.listenerCount(), "old context unsubscribed")
	assert.Equal(t, 2, a2.listenerCount())

	f.drive(func() { a1.SetName("stale") })
	assert.Equal(t, "second", el.Prop("Text"), "old context no longer propagates")

	f.drive(func() { a2.SetName("fresh") })
	assert.Equal(t, "fresh", el.Prop("Text"))
}

func TestAmbientNilUnbindsWithoutEndingTracking(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	a1 := &account{Name: "first"}
	a2 := &account{Name: "second"}

	var sess *Session
	f.drive(func() { el.SetAmbient(a1) })
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Path: path.MustParse("Name"),
		})
	})
	require.True(t, sess.Bound())

	f.drive(func() { el.SetAmbient(nil) })
	assert.Equal(t, StateTrackingContext, sess.State(), "tracking survives a nil context")
	assert.False(t, sess.Bound())
	assert.Equal(t, 0, a1.listenerCount())

	f.drive(func() { el.SetAmbient(a2) })
	assert.True(t, sess.Bound())
	assert.Equal(t, "second", el.Prop("Text"))
}

func TestUnloadReleasesTransientWiring(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	src := &account{Name: "ada"}

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
		})
	})
	require.Equal(t, 2, src.listenerCount())

	f.drive(func() { el.Unmount() })

	assert.Equal(t, StateAwaitLoad, sess.State())
	assert.Equal(t, 0, src.listenerCount(), "subscriptions released synchronously")
	assert.Equal(t, 2, el.HookCount(), "only the permanent arms remain")
	assert.Equal(t, "ada", el.Prop("Text"), "target keeps its last value")

	f.drive(func() { src.SetName("while-unloaded") })
	assert.Equal(t, "ada", el.Prop("Text"), "no propagation while parked")

	f.drive(func() { el.Mount() })

	assert.Equal(t, StateResolved, sess.State())
	assert.Equal(t, "while-unloaded", el.Prop("Text"), "reload catches the target up")
	assert.Equal(t, 2, src.listenerCount())
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindUnloaded))
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindReloaded))
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	src := &account{Name: "ada"}

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
		})
	})

	f.drive(func() { sess.Close() })

	assert.Equal(t, StateDetached, sess.State())
	assert.Equal(t, 0, el.HookCount())
	assert.Equal(t, 0, src.listenerCount())
	assert.Equal(t, 0, f.eng.SessionCount())
	assert.Equal(t, 0, f.eng.binder.(*binder.ValueBinder).Count(), "binder bookkeeping cleared")
	assert.Equal(t, "ada", el.Prop("Text"), "target keeps its last value")
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindSessionClosed))

	f.drive(func() { sess.Close() })
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindSessionClosed), "close is idempotent")
}

func TestTwoWayWriteBackSuppressesEcho(t *testing.T) {
	f := newFixture(t, WithAccessor(notifyingAccessor{}))
	el := tree.NewElement("field")
	el.Mount()
	src := &account{Name: "ada"}

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
			Mode:   decl.TwoWay,
		})
	})
	require.Equal(t, 1, f.countKind("sess-1", trace.KindPropagated))

	var err error
	f.drive(func() { err = sess.WriteBack("edited") })

	require.NoError(t, err)
	assert.Equal(t, "edited", src.Name)
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindPropagated),
		"the inline echo of the engine's own write is suppressed")

	// A genuine change afterwards still flows.
	f.drive(func() { src.SetName("external") })
	assert.Equal(t, 2, f.countKind("sess-1", trace.KindPropagated))
	assert.Equal(t, "external", el.Prop("Text"))
}

func TestWriteBackRejectsWrongMode(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()

	var sess *Session
	f.drive(func() {
		sess, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: &account{}},
			Path:   path.MustParse("Name"),
		})
	})

	var err error
	f.drive(func() { err = sess.WriteBack("x") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one-way")
}

func TestReentrancySingleBinderInvocation(t *testing.T) {
	loop := dispatch.New()
	counting := &countingBinder{inner: binder.NewValueBinder(nil)}
	eng := New(loop,
		WithBinder(counting),
		WithAccessor(notifyingAccessor{}),
		WithTokens(NewFixedGenerator("sess-1")),
	)
	el := tree.NewElement("field")
	el.Mount()
	src := &account{Name: "ada"}

	var sess *Session
	loop.Post(func() {
		sess, _ = eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
			Mode:   decl.TwoWay,
		})
	})
	loop.RunUntilIdle()
	require.Equal(t, 1, counting.applies)

	loop.Post(func() { _ = sess.WriteBack("edited") })
	loop.RunUntilIdle()

	assert.Equal(t, 1, counting.applies, "no re-apply from the echo")
	assert.Equal(t, 0, counting.refreshes, "no refresh from the echo")

	loop.Post(func() { src.SetName("external") })
	loop.RunUntilIdle()
	assert.Equal(t, 1, counting.refreshes, "a genuine change refreshes exactly once")
}
