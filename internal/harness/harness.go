// Package harness executes declarative binding scenarios: YAML documents
// that build an element tree, declare bindings over observable sources,
// script lifecycle and mutation steps, and assert on the resulting trace
// and final state.
//
// Runs are fully deterministic. The dispatch loop is driven synchronously
// to idle after every step, debounce timers sit on a manual host that
// only moves via advance steps, and session tokens come from a fixed
// generator ("s1", "s2", ... in binding declaration order). Two runs of
// the same scenario produce byte-identical traces, which is what makes
// golden comparison possible.
package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/dispatch"
	"github.com/graftkit/graft/internal/engine"
	"github.com/graftkit/graft/internal/metrics"
	"github.com/graftkit/graft/internal/path"
	"github.com/graftkit/graft/internal/testutil"
	"github.com/graftkit/graft/internal/trace"
	"github.com/graftkit/graft/internal/tree"
)

// Option adjusts how a scenario run is wired.
type Option func(*world)

// WithMetrics routes the engine's activity counts to sink for the run.
// The CLI passes a Prometheus sink here when metrics are enabled.
func WithMetrics(sink metrics.Sink) Option {
	return func(w *world) { w.sink = sink }
}

// RunResult is the outcome of one scenario run.
type RunResult struct {
	// Scenario is the scenario's declared name.
	Scenario string
	// Pass reports whether every assertion held.
	Pass bool
	// Failures holds one message per failed assertion, each prefixed with
	// the assertion's index.
	Failures []string
	// Sessions holds the session records opened during the run, in open
	// order.
	Sessions []trace.SessionRecord
	// Events holds the full trace timeline, including the session_closed
	// events from the implicit teardown.
	Events []trace.Event
}

// world is the materialized scenario: the loop, the engine, and every
// element and source the document declared.
type world struct {
	loop     *dispatch.Loop
	timers   *testutil.ManualTimers
	mem      *trace.Memory
	sink     metrics.Sink
	eng      *engine.Engine
	root     *tree.Element
	elements map[string]*tree.Element
	scopes   map[string]*tree.Scope
	sources  map[string]any
}

// Run executes one scenario. The returned error reports an execution
// problem (a step that could not be applied, an attach the engine
// rejected); assertion failures are not errors, they land in the
// result's Failures.
//
// Every run ends with an implicit engine teardown, so the trace always
// finishes with the session_closed events of the sessions still live
// after the last step. The no_leaks assertion checks the world after
// that teardown.
func Run(sc *Scenario, opts ...Option) (*RunResult, error) {
	w, err := buildWorld(sc, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.attachAll(sc); err != nil {
		return nil, err
	}
	for i, st := range sc.Steps {
		if err := w.apply(st); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, st.Op, err)
		}
	}

	var failures []string
	w.drive(func() { failures = evaluateLive(w, sc) })
	w.drive(w.eng.Close)
	failures = append(failures, evaluateTorndown(w, sc)...)

	return &RunResult{
		Scenario: sc.Name,
		Pass:     len(failures) == 0,
		Failures: failures,
		Sessions: w.mem.Sessions(),
		Events:   w.mem.Events(),
	}, nil
}

// RunFile loads and executes one scenario file.
func RunFile(file string, opts ...Option) (*RunResult, error) {
	sc, err := LoadScenario(file)
	if err != nil {
		return nil, err
	}
	return Run(sc, opts...)
}

// buildWorld materializes the scenario's sources and element tree and
// wires a deterministic engine around them. Nothing is mounted and no
// binding is attached yet.
func buildWorld(sc *Scenario, opts ...Option) (*world, error) {
	w := &world{
		loop:     dispatch.New(),
		elements: make(map[string]*tree.Element),
		scopes:   make(map[string]*tree.Scope),
		sources:  make(map[string]any, len(sc.Sources)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.timers = testutil.NewManualTimers(w.loop)
	w.mem = trace.NewMemory()

	tokens := make([]string, len(sc.Bindings))
	for i := range sc.Bindings {
		tokens[i] = SessionToken(i)
	}
	engOpts := []engine.Option{
		engine.WithRecorder(w.mem),
		engine.WithTimerHost(w.timers),
		engine.WithTokens(engine.NewFixedGenerator(tokens...)),
		engine.WithAccessor(newModelAccessor()),
	}
	if w.sink != nil {
		engOpts = append(engOpts, engine.WithMetrics(w.sink))
	}
	w.eng = engine.New(w.loop, engOpts...)

	for id, def := range sc.Sources {
		switch def.Kind {
		case SourceRecord:
			w.sources[id] = NewRecord(def.Fields)
		case SourceList:
			w.sources[id] = NewList(def.Items)
		}
	}

	w.root = w.buildNode(sc.Tree)
	if err := w.wireNode(sc.Tree); err != nil {
		return nil, err
	}
	return w, nil
}

// buildNode creates the element for def and its subtree. Scope roots get
// their scope before children attach, so enclosing-scope lookup is
// already correct during the wiring pass.
func (w *world) buildNode(def *NodeDef) *tree.Element {
	el := tree.NewElement(def.Element)
	w.elements[def.Element] = el
	for _, p := range def.Restrict {
		el.RestrictProperty(p)
	}
	if def.Scope || len(def.Names) > 0 {
		s := tree.NewScope()
		el.SetScopeRoot(s)
		w.scopes[def.Element] = s
	}
	for _, c := range def.Children {
		el.AddChild(w.buildNode(c))
	}
	return el
}

// wireNode installs ambient contexts and name registrations. This runs
// after the whole tree exists, so names may reference elements declared
// anywhere in the document.
func (w *world) wireNode(def *NodeDef) error {
	el := w.elements[def.Element]
	if def.Ambient != "" {
		el.SetAmbient(w.sources[def.Ambient])
	}
	if len(def.Names) > 0 {
		scope := w.scopes[def.Element]
		names := make([]string, 0, len(def.Names))
		for name := range def.Names {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			obj, err := w.resolveNameTarget(def.Names[name])
			if err != nil {
				return fmt.Errorf("node %q: name %q: %w", def.Element, name, err)
			}
			if err := scope.Register(name, obj); err != nil {
				return fmt.Errorf("node %q: %w", def.Element, err)
			}
		}
	}
	for _, c := range def.Children {
		if err := w.wireNode(c); err != nil {
			return err
		}
	}
	return nil
}

func (w *world) resolveNameTarget(ref string) (any, error) {
	if el, ok := strings.CutPrefix(ref, "element:"); ok {
		target, ok := w.elements[el]
		if !ok {
			return nil, fmt.Errorf("unknown element %q", el)
		}
		return target, nil
	}
	src, ok := w.sources[ref]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", ref)
	}
	return src, nil
}

// attachAll opens every declared binding session, in declaration order,
// in one loop turn.
func (w *world) attachAll(sc *Scenario) error {
	var attachErr error
	w.drive(func() {
		for i, def := range sc.Bindings {
			b, err := w.makeBinding(def)
			if err != nil {
				attachErr = fmt.Errorf("bindings[%d]: %w", i, err)
				return
			}
			if _, err := w.eng.Attach(w.elements[def.Target], def.Property, b); err != nil {
				attachErr = fmt.Errorf("bindings[%d]: %w", i, err)
				return
			}
		}
	})
	return attachErr
}

// makeBinding lowers a scenario binding definition to a declaration.
func (w *world) makeBinding(def *BindingDef) (decl.Binding, error) {
	var b decl.Binding

	ref, err := w.makeSourceRef(def.Source)
	if err != nil {
		return b, err
	}
	b.Source = ref

	if def.Path != "" {
		p, err := path.Parse(def.Path)
		if err != nil {
			return b, fmt.Errorf("path: %w", err)
		}
		b.Path = p
	}

	switch def.Mode {
	case "", "one-way":
		b.Mode = decl.OneWay
	case "two-way":
		b.Mode = decl.TwoWay
	case "one-time":
		b.Mode = decl.OneTime
	}

	for _, k := range def.Kinds {
		kind, _ := decl.ParseKind(k)
		b.Kinds |= decl.KindSet(kind)
	}

	if def.DebounceMS > 0 {
		b.Debounce = &decl.Debounce{Delay: time.Duration(def.DebounceMS) * time.Millisecond}
	}
	if def.Filter != "" {
		b.TypeFilter = modelType(def.Filter)
	}

	if def.Indirect != nil {
		sec, err := w.makeSourceRef(def.Indirect.Source)
		if err != nil {
			return b, fmt.Errorf("indirect: %w", err)
		}
		p, err := path.Parse(def.Indirect.Path)
		if err != nil {
			return b, fmt.Errorf("indirect path: %w", err)
		}
		b.Indirect = &decl.IndirectPath{
			Source:   sec,
			Path:     p,
			Override: def.Indirect.Override,
		}
	}
	return b, nil
}

// makeSourceRef lowers the compact reference syntax to a SourceRef.
func (w *world) makeSourceRef(ref string) (decl.SourceRef, error) {
	switch {
	case ref == "ambient":
		return decl.SourceRef{}, nil
	case ref == "self":
		return decl.SourceRef{Rel: &decl.Relative{Mode: decl.RelSelf}}, nil
	case strings.HasPrefix(ref, "name:"):
		return decl.SourceRef{Name: strings.TrimPrefix(ref, "name:")}, nil
	case strings.HasPrefix(ref, "object:"):
		id := strings.TrimPrefix(ref, "object:")
		src, ok := w.sources[id]
		if !ok {
			return decl.SourceRef{}, fmt.Errorf("unknown source %q", id)
		}
		return decl.SourceRef{Object: src}, nil
	case strings.HasPrefix(ref, "ancestor:"):
		level, kind, err := parseAncestorRef(ref)
		if err != nil {
			return decl.SourceRef{}, err
		}
		rel := &decl.Relative{Mode: decl.RelAncestor, AncestorLevel: level}
		if kind != "" {
			rel.AncestorType = modelType(kind)
		}
		return decl.SourceRef{Rel: rel}, nil
	default:
		return decl.SourceRef{}, fmt.Errorf("unknown source reference %q", ref)
	}
}

// modelType maps a scenario kind name to the runtime type the engine
// matches against.
func modelType(kind string) reflect.Type {
	switch kind {
	case SourceRecord:
		return reflect.TypeOf(&Record{})
	case SourceList:
		return reflect.TypeOf(&List{})
	case "element":
		return reflect.TypeOf(&tree.Element{})
	default:
		return nil
	}
}

// drive posts fn and runs the loop to idle, the synchronous execution
// discipline every step uses.
func (w *world) drive(fn func()) {
	w.loop.Post(fn)
	w.loop.RunUntilIdle()
}

// apply executes one scripted step.
func (w *world) apply(st *StepDef) error {
	var opErr error
	switch st.Op {
	case OpMount:
		w.drive(func() { w.elements[st.Element].Mount() })
	case OpUnmount:
		w.drive(func() { w.elements[st.Element].Unmount() })
	case OpInitialize:
		w.drive(func() { w.elements[st.Element].Initialize() })
	case OpAttach:
		el := w.elements[st.Element]
		parent := w.elements[st.Parent]
		if el.Parent() != nil {
			return fmt.Errorf("element %q already has a parent", st.Element)
		}
		w.drive(func() { parent.AddChild(el) })
	case OpDetach:
		el := w.elements[st.Element]
		parent, ok := el.Parent().(*tree.Element)
		if !ok {
			return fmt.Errorf("element %q has no parent", st.Element)
		}
		w.drive(func() { parent.RemoveChild(el) })
	case OpSet:
		rec := w.sources[st.Source].(*Record)
		w.drive(func() { rec.Set(st.Field, st.Value) })
	case OpSetProp:
		w.drive(func() { w.elements[st.Element].SetProp(st.Property, st.Value) })
	case OpSetAmbient:
		el := w.elements[st.Element]
		var src any
		if st.Source != "" {
			src = w.sources[st.Source]
		}
		w.drive(func() { el.SetAmbient(src) })
	case OpClearAmbient:
		w.drive(func() { w.elements[st.Element].ClearAmbient() })
	case OpAppend:
		list := w.sources[st.Source].(*List)
		w.drive(func() { list.Append(st.Value) })
	case OpRemoveAt:
		list := w.sources[st.Source].(*List)
		w.drive(func() { opErr = list.RemoveAt(*st.Index) })
	case OpReplaceAt:
		list := w.sources[st.Source].(*List)
		w.drive(func() { opErr = list.ReplaceAt(*st.Index, st.Value) })
	case OpMove:
		list := w.sources[st.Source].(*List)
		w.drive(func() { opErr = list.Move(*st.From, *st.To) })
	case OpReset:
		list := w.sources[st.Source].(*List)
		w.drive(func() { list.Reset(st.Items) })
	case OpAdvance:
		w.timers.Advance(time.Duration(st.MS) * time.Millisecond)
		w.loop.RunUntilIdle()
	case OpWriteTarget:
		w.drive(func() {
			sess, ok := w.eng.Session(st.Session)
			if !ok {
				opErr = fmt.Errorf("session %q is not live", st.Session)
				return
			}
			opErr = sess.WriteBack(st.Value)
		})
	case OpClose:
		w.drive(func() {
			sess, ok := w.eng.Session(st.Session)
			if !ok {
				opErr = fmt.Errorf("session %q is not live", st.Session)
				return
			}
			sess.Close()
		})
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return opErr
}
