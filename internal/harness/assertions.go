package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/graftkit/graft/internal/trace"
)

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertTargetValue   = "target_value"
	AssertSessionState  = "session_state"
	AssertNoLeaks       = "no_leaks"
)

// AssertionError describes one failed assertion with enough context to
// debug it without re-running the scenario.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "assertions[%d] %s failed\n", e.Index, e.Type)
	fmt.Fprintf(&b, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  actual:   %s", e.Actual)
	return b.String()
}

// evaluateLive evaluates every assertion that inspects the live world:
// traces, target values, and session states. It runs on the dispatch
// loop, before the implicit teardown.
func evaluateLive(w *world, sc *Scenario) []string {
	var failures []string
	for i, a := range sc.Assertions {
		var err *AssertionError
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(w, a)
		case AssertTraceCount:
			err = assertTraceCount(w, a)
		case AssertTargetValue:
			err = assertTargetValue(w, a)
		case AssertSessionState:
			err = assertSessionState(w, a)
		case AssertNoLeaks:
			// Checked after teardown.
			continue
		}
		if err != nil {
			err.Index = i
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// evaluateTorndown evaluates the assertions that only make sense after
// the implicit engine teardown.
func evaluateTorndown(w *world, sc *Scenario) []string {
	var failures []string
	for i, a := range sc.Assertions {
		if a.Type != AssertNoLeaks {
			continue
		}
		if err := assertNoLeaks(w); err != nil {
			err.Index = i
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains checks that the session's timeline holds at least
// one event of the given kind whose detail carries every key the
// assertion names (subset semantics).
func assertTraceContains(w *world, a *AssertionDef) *AssertionError {
	events := w.mem.SessionEvents(a.Session)
	kindMatches := 0
	for _, ev := range events {
		if string(ev.Kind) != a.Kind {
			continue
		}
		kindMatches++
		if detailMatches(a.Detail, ev.Detail) {
			return nil
		}
	}

	actual := fmt.Sprintf("no %s event in %d-event timeline", a.Kind, len(events))
	if kindMatches > 0 {
		actual = fmt.Sprintf("%d %s event(s), none matching detail", kindMatches, a.Kind)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeContains(a),
		Actual:   actual,
	}
}

func describeContains(a *AssertionDef) string {
	if len(a.Detail) == 0 {
		return fmt.Sprintf("session %s records a %s event", a.Session, a.Kind)
	}
	return fmt.Sprintf("session %s records a %s event with detail %v", a.Session, a.Kind, a.Detail)
}

// assertTraceCount checks the exact number of events of one kind in the
// session's timeline.
func assertTraceCount(w *world, a *AssertionDef) *AssertionError {
	got := 0
	for _, ev := range w.mem.SessionEvents(a.Session) {
		if string(ev.Kind) == a.Kind {
			got++
		}
	}
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("session %s records %d %s event(s)", a.Session, *a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d", got),
	}
}

// assertTargetValue checks an element property against the asserted
// value.
func assertTargetValue(w *world, a *AssertionDef) *AssertionError {
	got := w.elements[a.Element].Prop(a.Property)
	if valueMatches(a.Value, got) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTargetValue,
		Expected: fmt.Sprintf("%s.%s == %v", a.Element, a.Property, a.Value),
		Actual:   fmt.Sprintf("%v", got),
	}
}

// assertSessionState checks a live session's lifecycle state and bound
// flag.
func assertSessionState(w *world, a *AssertionDef) *AssertionError {
	sess, ok := w.eng.Session(a.Session)
	if !ok {
		return &AssertionError{
			Type:     AssertSessionState,
			Expected: fmt.Sprintf("session %s is live", a.Session),
			Actual:   "session already closed",
		}
	}
	if a.State != "" && sess.State().String() != a.State {
		return &AssertionError{
			Type:     AssertSessionState,
			Expected: fmt.Sprintf("session %s in state %s", a.Session, a.State),
			Actual:   sess.State().String(),
		}
	}
	if a.Bound != nil && sess.Bound() != *a.Bound {
		return &AssertionError{
			Type:     AssertSessionState,
			Expected: fmt.Sprintf("session %s bound == %t", a.Session, *a.Bound),
			Actual:   fmt.Sprintf("%t", sess.Bound()),
		}
	}
	return nil
}

// assertNoLeaks checks that teardown released everything: no sessions in
// the engine, no listeners left on any source, no lifecycle hooks left
// on any element.
func assertNoLeaks(w *world) *AssertionError {
	var leaks []string
	if n := w.eng.SessionCount(); n > 0 {
		leaks = append(leaks, fmt.Sprintf("%d session(s) still registered", n))
	}
	for id, src := range w.sources {
		switch s := src.(type) {
		case *Record:
			if n := s.CollectionListeners() + s.PropertyListeners(); n > 0 {
				leaks = append(leaks, fmt.Sprintf("source %s holds %d listener(s)", id, n))
			}
		case *List:
			if n := s.CollectionListeners() + s.PropertyListeners(); n > 0 {
				leaks = append(leaks, fmt.Sprintf("source %s holds %d listener(s)", id, n))
			}
		}
	}
	for name, el := range w.elements {
		if n := el.HookCount(); n > 0 {
			leaks = append(leaks, fmt.Sprintf("element %s holds %d hook(s)", name, n))
		}
	}
	if len(leaks) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertNoLeaks,
		Expected: "teardown releases every session, listener, and hook",
		Actual:   strings.Join(leaks, "; "),
	}
}

// detailMatches reports whether got carries every key of want with a
// matching value. An empty want matches anything.
func detailMatches(want, got map[string]any) bool {
	for k, wv := range want {
		gv, ok := got[k]
		if !ok || !valueMatches(wv, gv) {
			return false
		}
	}
	return true
}

// valueMatches compares a YAML-authored value against a runtime value.
// Integer widths are normalized first, so a YAML 7 matches a Go int,
// int64, or uint recorded by the engine.
func valueMatches(want, got any) bool {
	return reflect.DeepEqual(normalize(want), normalize(got))
}

// normalize reduces values to a comparable form: all integer types to
// int64, float32 to float64, harness models to their plain contents, and
// containers normalized element-wise. Trace events pass through the same
// function, so detail comparison stays symmetric.
func normalize(v any) any {
	switch t := v.(type) {
	case *Record:
		return normalize(t.Fields())
	case *List:
		return normalize(t.Items())
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case trace.Kind:
		return string(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}
