package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/dispatch"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/testutil"
	"github.com/graftkit/graft/internal/trace"
	"github.com/graftkit/graft/internal/tree"
)

func TestDebouncerCoalescesSignals(t *testing.T) {
	loop := dispatch.New()
	timers := testutil.NewManualTimers(loop)

	var armed, fired int
	d := &debouncer{
		host:    timers,
		delay:   50 * time.Millisecond,
		onArmed: func() { armed++ },
		onFired: func(immediate bool) {
			fired++
			assert.False(t, immediate)
		},
	}

	loop.Post(func() {
		d.signal("a")
		d.signal("b")
		d.signal("c")
	})
	loop.RunUntilIdle()
	assert.Equal(t, 3, armed, "every signal restarts the window")
	assert.Equal(t, 0, fired)

	timers.Advance(49 * time.Millisecond)
	loop.RunUntilIdle()
	assert.Equal(t, 0, fired, "the window has not elapsed")

	timers.Advance(1 * time.Millisecond)
	loop.RunUntilIdle()
	assert.Equal(t, 1, fired, "one burst, one fire")
	assert.Equal(t, 0, timers.Pending())
}

func TestDebouncerWhenGuardBypasses(t *testing.T) {
	loop := dispatch.New()
	timers := testutil.NewManualTimers(loop)

	var immediate []bool
	d := &debouncer{
		host:  timers,
		delay: 50 * time.Millisecond,
		when:  func(v any) bool { return v != "urgent" },
		onFired: func(im bool) {
			immediate = append(immediate, im)
		},
	}

	loop.Post(func() {
		d.signal("slow")
		d.signal("urgent")
	})
	loop.RunUntilIdle()

	require.Equal(t, []bool{true}, immediate, "the guard cancels the window and fires now")
	assert.Equal(t, 0, timers.Pending(), "the pending window was cancelled")

	timers.Advance(time.Hour)
	loop.RunUntilIdle()
	assert.Len(t, immediate, 1, "nothing left to elapse")
}

func TestDebouncerNilHostAbsorbsSignals(t *testing.T) {
	loop := dispatch.New()

	var armed, fired int
	d := &debouncer{
		delay:   50 * time.Millisecond,
		onArmed: func() { armed++ },
		onFired: func(bool) { fired++ },
	}

	loop.Post(func() {
		d.signal("a")
		d.signal("urgent")
	})
	loop.RunUntilIdle()

	assert.Equal(t, 0, armed)
	assert.Equal(t, 0, fired, "no delay mechanism means the gate never fires")
}

func TestDebouncerStaleFireIsIgnored(t *testing.T) {
	loop := dispatch.New()
	timers := testutil.NewManualTimers(loop)

	var fired int
	d := &debouncer{
		host:    timers,
		delay:   50 * time.Millisecond,
		onFired: func(bool) { fired++ },
	}

	loop.Post(func() { d.signal("a") })
	loop.RunUntilIdle()

	// Advance posts the elapse onto the loop, then the cancel runs inside
	// the same job, before the elapse executes. The generation counter
	// must swallow the already-posted fire.
	loop.Post(func() {
		timers.Advance(50 * time.Millisecond)
		d.cancel()
	})
	loop.RunUntilIdle()

	assert.Equal(t, 0, fired)
}

func TestDebounceCoalescesBurstIntoOneRefresh(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	src := &account{Name: "v0"}

	f.drive(func() {
		_, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source:   decl.SourceRef{Object: src},
			Path:     path.MustParse("Name"),
			Debounce: &decl.Debounce{Delay: 50 * time.Millisecond},
		})
	})
	require.Equal(t, "v0", el.Prop("Text"))

	f.drive(func() { src.SetName("v1") })
	f.timers.Advance(10 * time.Millisecond)
	f.drive(func() { src.SetName("v2") })
	f.timers.Advance(10 * time.Millisecond)
	f.drive(func() { src.SetName("v3") })

	f.timers.Advance(49 * time.Millisecond)
	f.loop.RunUntilIdle()
	assert.Equal(t, "v0", el.Prop("Text"), "the window is still open")

	f.timers.Advance(1 * time.Millisecond)
	f.loop.RunUntilIdle()
	assert.Equal(t, "v3", el.Prop("Text"), "one refresh, carrying the latest value")
	assert.Equal(t, 3, f.countKind("sess-1", trace.KindDebounceArmed))
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindDebounceFired))
	assert.Equal(t, 2, f.countKind("sess-1", trace.KindPropagated), "initial apply plus the fired refresh")
}

func TestDebounceWhenGuardFiresImmediately(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	src := &account{Name: "v0"}

	f.drive(func() {
		_, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source: decl.SourceRef{Object: src},
			Path:   path.MustParse("Name"),
			Debounce: &decl.Debounce{
				Delay:     50 * time.Millisecond,
				DelayWhen: func(v any) bool { return v != "urgent" },
			},
		})
	})

	f.drive(func() { src.SetName("eventual") })
	assert.Equal(t, "v0", el.Prop("Text"), "guarded value waits out the window")

	f.drive(func() { src.SetName("urgent") })
	assert.Equal(t, "urgent", el.Prop("Text"), "the guard bypasses the window entirely")
	assert.Equal(t, 0, f.countKind("sess-1", trace.KindDebounceFired), "a bypass is not a window elapse")
	assert.Equal(t, 0, f.timers.Pending(), "the pending window was cancelled")

	f.timers.Advance(time.Hour)
	f.loop.RunUntilIdle()
	assert.Equal(t, 2, f.countKind("sess-1", trace.KindPropagated))
}

func TestDebounceWithoutTimerHostIsSilent(t *testing.T) {
	f := newFixture(t, WithTimerHost(nil))
	el := tree.NewElement("label")
	el.Mount()
	src := &account{Name: "v0"}

	f.drive(func() {
		_, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source:   decl.SourceRef{Object: src},
			Path:     path.MustParse("Name"),
			Debounce: &decl.Debounce{Delay: 50 * time.Millisecond},
		})
	})

	f.drive(func() { src.SetName("v1") })

	assert.Equal(t, "v0", el.Prop("Text"))
	assert.Equal(t, 0, f.countKind("sess-1", trace.KindDebounceArmed))
	assert.Equal(t, 1, f.countKind("sess-1", trace.KindPropagated), "only the initial apply")
}

func TestUnloadCancelsPendingDebounce(t *testing.T) {
	f := newFixture(t)
	el := tree.NewElement("label")
	el.Mount()
	src := &account{Name: "v0"}

	f.drive(func() {
		_, _ = f.eng.Attach(el, "Text", decl.Binding{
			Source:   decl.SourceRef{Object: src},
			Path:     path.MustParse("Name"),
			Debounce: &decl.Debounce{Delay: 50 * time.Millisecond},
		})
	})

	f.drive(func() { src.SetName("v1") })
	require.Equal(t, 1, f.timers.Pending())

	f.drive(func() { el.Unmount() })
	assert.Equal(t, 0, f.timers.Pending(), "unload cancels the window")

	f.timers.Advance(time.Hour)
	f.loop.RunUntilIdle()
	assert.Equal(t, "v0", el.Prop("Text"))
	assert.Equal(t, 0, f.countKind("sess-1", trace.KindDebounceFired))
}
