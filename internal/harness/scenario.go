package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/path"
)

// Scenario is one declarative conformance case: a tree of elements, a set
// of observable sources, binding declarations, a scripted step list, and
// the assertions that must hold afterwards.
//
// Binding sessions receive deterministic tokens in declaration order:
// "s1", "s2", and so on. Steps and assertions reference sessions by those
// tokens.
type Scenario struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Sources     map[string]*SourceDef `yaml:"sources"`
	Tree        *NodeDef              `yaml:"tree"`
	Bindings    []*BindingDef         `yaml:"bindings"`
	Steps       []*StepDef            `yaml:"steps"`
	Assertions  []*AssertionDef       `yaml:"assertions"`
}

// SourceDef declares one observable source. Kind "record" carries Fields,
// kind "list" carries Items.
type SourceDef struct {
	Kind   string         `yaml:"kind"`
	Fields map[string]any `yaml:"fields"`
	Items  []any          `yaml:"items"`
}

// Source kinds.
const (
	SourceRecord = "record"
	SourceList   = "list"
)

// NodeDef declares one element in the scenario tree. A node with Names or
// Scope set becomes a name-scope root; Names maps registered names to
// source ids (or "element:<name>" for elements declared anywhere in the
// tree). Ambient installs a source as the node's own inherited context.
type NodeDef struct {
	Element  string            `yaml:"element"`
	Ambient  string            `yaml:"ambient"`
	Names    map[string]string `yaml:"names"`
	Scope    bool              `yaml:"scope"`
	Restrict []string          `yaml:"restrict"`
	Children []*NodeDef        `yaml:"children"`
}

// BindingDef declares one binding attachment. Source uses a compact
// reference syntax:
//
//	ambient                    the owning node's inherited context
//	self                       the owning node itself
//	name:<n>                   name-scope lookup
//	object:<id>                a declared source, referenced directly
//	ancestor:<level>           exactly <level> parent hops
//	ancestor:<kind>            nearest ancestor of kind record|list|element
//	ancestor:<level>:<kind>    the <level>-th matching ancestor
type BindingDef struct {
	Target     string       `yaml:"target"`
	Property   string       `yaml:"property"`
	Source     string       `yaml:"source"`
	Path       string       `yaml:"path"`
	Mode       string       `yaml:"mode"`
	Kinds      []string     `yaml:"kinds"`
	DebounceMS int          `yaml:"debounce_ms"`
	Filter     string       `yaml:"filter"`
	Indirect   *IndirectDef `yaml:"indirect"`
}

// IndirectDef declares the secondary resolution the effective path is read
// from.
type IndirectDef struct {
	Source   string `yaml:"source"`
	Path     string `yaml:"path"`
	Override bool   `yaml:"override"`
}

// StepDef is one scripted operation. Op selects the operation; the other
// fields carry its arguments.
type StepDef struct {
	Op       string `yaml:"op"`
	Element  string `yaml:"element"`
	Parent   string `yaml:"parent"`
	Source   string `yaml:"source"`
	Field    string `yaml:"field"`
	Property string `yaml:"property"`
	Value    any    `yaml:"value"`
	Index    *int   `yaml:"index"`
	From     *int   `yaml:"from"`
	To       *int   `yaml:"to"`
	Items    []any  `yaml:"items"`
	MS       int    `yaml:"ms"`
	Session  string `yaml:"session"`
}

// Step operations.
const (
	OpMount        = "mount"
	OpUnmount      = "unmount"
	OpInitialize   = "initialize"
	OpAttach       = "attach"
	OpDetach       = "detach"
	OpSet          = "set"
	OpSetProp      = "set_prop"
	OpSetAmbient   = "set_ambient"
	OpClearAmbient = "clear_ambient"
	OpAppend       = "append"
	OpRemoveAt     = "remove_at"
	OpReplaceAt    = "replace_at"
	OpMove         = "move"
	OpReset        = "reset"
	OpAdvance      = "advance"
	OpWriteTarget  = "write_target"
	OpClose        = "close"
)

// AssertionDef is one post-run check. Type selects the check; the other
// fields carry its arguments.
type AssertionDef struct {
	Type     string         `yaml:"type"`
	Session  string         `yaml:"session"`
	Kind     string         `yaml:"kind"`
	Detail   map[string]any `yaml:"detail"`
	Count    *int           `yaml:"count"`
	Element  string         `yaml:"element"`
	Property string         `yaml:"property"`
	Value    any            `yaml:"value"`
	State    string         `yaml:"state"`
	Bound    *bool          `yaml:"bound"`
}

// LoadScenario reads, schema-validates, and decodes one scenario file.
func LoadScenario(file string) (*Scenario, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := LoadScenarioBytes(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", file, err)
	}
	return sc, nil
}

// LoadScenarioBytes decodes scenario YAML. The document is validated
// against the embedded schema first, then strictly decoded (unknown keys
// are errors), then checked for internal consistency: every reference a
// binding, step, or assertion makes must resolve to something the
// scenario declares.
func LoadScenarioBytes(data []byte) (*Scenario, error) {
	if errs := ValidateScenarioBytes(data); len(errs) > 0 {
		return nil, &SchemaErrors{Errs: errs}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// SessionToken returns the deterministic token assigned to the i-th
// binding (zero-based).
func SessionToken(i int) string {
	return fmt.Sprintf("s%d", i+1)
}

// Validate checks internal consistency beyond the schema: unique element
// names, resolvable references, parseable paths, and well-formed source
// reference syntax.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Tree == nil {
		return fmt.Errorf("tree is required")
	}
	if len(s.Bindings) == 0 {
		return fmt.Errorf("at least one binding is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("at least one assertion is required")
	}

	elements := map[string]bool{}
	if err := collectElements(s.Tree, elements); err != nil {
		return err
	}
	for id, def := range s.Sources {
		if err := def.validate(id); err != nil {
			return err
		}
	}
	if err := s.validateTreeRefs(s.Tree, elements); err != nil {
		return err
	}

	sessions := map[string]bool{}
	for i, b := range s.Bindings {
		if err := b.validate(i, s.Sources, elements); err != nil {
			return err
		}
		sessions[SessionToken(i)] = true
	}
	for i, st := range s.Steps {
		if err := st.validate(i, s.Sources, elements, sessions); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := a.validate(i, elements, sessions); err != nil {
			return err
		}
	}
	return nil
}

func collectElements(n *NodeDef, seen map[string]bool) error {
	if n.Element == "" {
		return fmt.Errorf("tree: every node needs an element name")
	}
	if seen[n.Element] {
		return fmt.Errorf("tree: duplicate element name %q", n.Element)
	}
	seen[n.Element] = true
	for _, c := range n.Children {
		if err := collectElements(c, seen); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scenario) validateTreeRefs(n *NodeDef, elements map[string]bool) error {
	if n.Ambient != "" {
		if _, ok := s.Sources[n.Ambient]; !ok {
			return fmt.Errorf("tree: node %q: ambient source %q is not declared", n.Element, n.Ambient)
		}
	}
	for name, ref := range n.Names {
		if el, ok := strings.CutPrefix(ref, "element:"); ok {
			if !elements[el] {
				return fmt.Errorf("tree: node %q: name %q references unknown element %q", n.Element, name, el)
			}
		} else if _, ok := s.Sources[ref]; !ok {
			return fmt.Errorf("tree: node %q: name %q references unknown source %q", n.Element, name, ref)
		}
	}
	for _, c := range n.Children {
		if err := s.validateTreeRefs(c, elements); err != nil {
			return err
		}
	}
	return nil
}

func (d *SourceDef) validate(id string) error {
	switch d.Kind {
	case SourceRecord:
		if d.Items != nil {
			return fmt.Errorf("sources.%s: a record source takes fields, not items", id)
		}
	case SourceList:
		if d.Fields != nil {
			return fmt.Errorf("sources.%s: a list source takes items, not fields", id)
		}
	default:
		return fmt.Errorf("sources.%s: unknown kind %q", id, d.Kind)
	}
	return nil
}

func (b *BindingDef) validate(i int, sources map[string]*SourceDef, elements map[string]bool) error {
	if b.Target == "" {
		return fmt.Errorf("bindings[%d]: target is required", i)
	}
	if !elements[b.Target] {
		return fmt.Errorf("bindings[%d]: target %q is not an element in the tree", i, b.Target)
	}
	if b.Property == "" {
		return fmt.Errorf("bindings[%d]: property is required", i)
	}
	if err := validateSourceRef(b.Source, sources); err != nil {
		return fmt.Errorf("bindings[%d]: %w", i, err)
	}
	if b.Path != "" {
		if _, err := path.Parse(b.Path); err != nil {
			return fmt.Errorf("bindings[%d]: path: %w", i, err)
		}
	}
	switch b.Mode {
	case "", "one-way", "two-way", "one-time":
	default:
		return fmt.Errorf("bindings[%d]: unknown mode %q", i, b.Mode)
	}
	for _, k := range b.Kinds {
		if _, ok := decl.ParseKind(k); !ok {
			return fmt.Errorf("bindings[%d]: unknown change kind %q", i, k)
		}
	}
	if b.DebounceMS < 0 {
		return fmt.Errorf("bindings[%d]: debounce_ms must not be negative", i)
	}
	switch b.Filter {
	case "", SourceRecord, SourceList, "element":
	default:
		return fmt.Errorf("bindings[%d]: unknown filter %q", i, b.Filter)
	}
	if b.Indirect != nil {
		if err := validateSourceRef(b.Indirect.Source, sources); err != nil {
			return fmt.Errorf("bindings[%d]: indirect: %w", i, err)
		}
		if b.Indirect.Path == "" {
			return fmt.Errorf("bindings[%d]: indirect: path is required", i)
		}
		if _, err := path.Parse(b.Indirect.Path); err != nil {
			return fmt.Errorf("bindings[%d]: indirect path: %w", i, err)
		}
	}
	return nil
}

// validateSourceRef checks the compact source reference syntax.
func validateSourceRef(ref string, sources map[string]*SourceDef) error {
	switch {
	case ref == "ambient" || ref == "self":
		return nil
	case strings.HasPrefix(ref, "name:"):
		if strings.TrimPrefix(ref, "name:") == "" {
			return fmt.Errorf("source: name reference needs a name")
		}
		return nil
	case strings.HasPrefix(ref, "object:"):
		id := strings.TrimPrefix(ref, "object:")
		if _, ok := sources[id]; !ok {
			return fmt.Errorf("source: object reference %q is not a declared source", id)
		}
		return nil
	case strings.HasPrefix(ref, "ancestor:"):
		_, _, err := parseAncestorRef(ref)
		return err
	case ref == "":
		return fmt.Errorf("source is required")
	default:
		return fmt.Errorf("source: unknown reference %q", ref)
	}
}

// parseAncestorRef splits "ancestor:<level>", "ancestor:<kind>", or
// "ancestor:<level>:<kind>" into its parts. A zero level means the kind
// alone selects (nearest match).
func parseAncestorRef(ref string) (level int, kind string, err error) {
	spec := strings.TrimPrefix(ref, "ancestor:")
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 1:
		if n, convErr := strconv.Atoi(parts[0]); convErr == nil {
			level = n
		} else {
			kind = parts[0]
		}
	case 2:
		if level, err = strconv.Atoi(parts[0]); err != nil {
			return 0, "", fmt.Errorf("source: ancestor level %q is not a number", parts[0])
		}
		kind = parts[1]
	default:
		return 0, "", fmt.Errorf("source: malformed ancestor reference %q", ref)
	}
	if level < 0 || (kind == "" && level == 0) {
		return 0, "", fmt.Errorf("source: ancestor reference needs a positive level, a kind, or both")
	}
	switch kind {
	case "", SourceRecord, SourceList, "element":
	default:
		return 0, "", fmt.Errorf("source: unknown ancestor kind %q", kind)
	}
	return level, kind, nil
}

func (st *StepDef) validate(i int, sources map[string]*SourceDef, elements, sessions map[string]bool) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("steps[%d] %s: %s", i, st.Op, fmt.Sprintf(format, args...))
	}
	needElement := func() error {
		if st.Element == "" {
			return fail("element is required")
		}
		if !elements[st.Element] {
			return fail("unknown element %q", st.Element)
		}
		return nil
	}
	needSource := func(kind string) error {
		if st.Source == "" {
			return fail("source is required")
		}
		def, ok := sources[st.Source]
		if !ok {
			return fail("unknown source %q", st.Source)
		}
		if def.Kind != kind {
			return fail("source %q is a %s, need a %s", st.Source, def.Kind, kind)
		}
		return nil
	}
	needSession := func() error {
		if st.Session == "" {
			return fail("session is required")
		}
		if !sessions[st.Session] {
			return fail("unknown session token %q", st.Session)
		}
		return nil
	}

	switch st.Op {
	case OpMount, OpUnmount, OpInitialize, OpDetach:
		return needElement()
	case OpAttach:
		if err := needElement(); err != nil {
			return err
		}
		if st.Parent == "" {
			return fail("parent is required")
		}
		if !elements[st.Parent] {
			return fail("unknown parent %q", st.Parent)
		}
		return nil
	case OpSet:
		if err := needSource(SourceRecord); err != nil {
			return err
		}
		if st.Field == "" {
			return fail("field is required")
		}
		return nil
	case OpSetProp:
		if err := needElement(); err != nil {
			return err
		}
		if st.Property == "" {
			return fail("property is required")
		}
		return nil
	case OpSetAmbient:
		if err := needElement(); err != nil {
			return err
		}
		if st.Source != "" {
			if _, ok := sources[st.Source]; !ok {
				return fail("unknown source %q", st.Source)
			}
		}
		return nil
	case OpClearAmbient:
		return needElement()
	case OpAppend:
		return needSource(SourceList)
	case OpRemoveAt, OpReplaceAt:
		if err := needSource(SourceList); err != nil {
			return err
		}
		if st.Index == nil {
			return fail("index is required")
		}
		return nil
	case OpMove:
		if err := needSource(SourceList); err != nil {
			return err
		}
		if st.From == nil || st.To == nil {
			return fail("from and to are required")
		}
		return nil
	case OpReset:
		return needSource(SourceList)
	case OpAdvance:
		if st.MS <= 0 {
			return fail("ms must be positive")
		}
		return nil
	case OpWriteTarget, OpClose:
		return needSession()
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
}

func (a *AssertionDef) validate(i int, elements, sessions map[string]bool) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("assertions[%d] %s: %s", i, a.Type, fmt.Sprintf(format, args...))
	}
	needSession := func() error {
		if a.Session == "" {
			return fail("session is required")
		}
		if !sessions[a.Session] {
			return fail("unknown session token %q", a.Session)
		}
		return nil
	}

	switch a.Type {
	case AssertTraceContains:
		if err := needSession(); err != nil {
			return err
		}
		if a.Kind == "" {
			return fail("kind is required")
		}
		return nil
	case AssertTraceCount:
		if err := needSession(); err != nil {
			return err
		}
		if a.Kind == "" {
			return fail("kind is required")
		}
		if a.Count == nil {
			return fail("count is required")
		}
		if *a.Count < 0 {
			return fail("count must not be negative")
		}
		return nil
	case AssertTargetValue:
		if a.Element == "" {
			return fail("element is required")
		}
		if !elements[a.Element] {
			return fail("unknown element %q", a.Element)
		}
		if a.Property == "" {
			return fail("property is required")
		}
		return nil
	case AssertSessionState:
		if err := needSession(); err != nil {
			return err
		}
		if a.State == "" && a.Bound == nil {
			return fail("state or bound is required")
		}
		return nil
	case AssertNoLeaks:
		return nil
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
	}
}
