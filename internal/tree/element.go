package tree

// hookKind routes a registration to one lifecycle checkpoint.
type hookKind uint8

const (
	hookInitialized hookKind = iota + 1
	hookLoaded
	hookUnloaded
	hookAmbient
)

type hook struct {
	id      HookID
	kind    hookKind
	fn      func()
	ambient func(any)
}

// Element is the reference retained-tree node. It carries a property bag for
// binding targets, an optional name scope root, hierarchical ambient context
// inheritance, and handle-based lifecycle hooks.
//
// Element is intended to be embedded by richer node types. An embedder must
// call SetOwner(itself) so ancestor walks see the embedder's dynamic type
// rather than *Element:
//
//	type Panel struct{ *tree.Element }
//
//	func NewPanel(name string) *Panel {
//		p := &Panel{Element: tree.NewElement(name)}
//		p.SetOwner(p)
//		return p
//	}
type Element struct {
	name     string
	owner    Node
	parent   *Element
	children []*Element

	initialized bool
	attached    bool

	hasAmbient bool
	ambient    any

	scope      *Scope
	props      map[string]any
	restricted map[string]bool

	hooks    []*hook
	nextHook HookID
}

// NewElement creates a detached, uninitialized element.
func NewElement(name string) *Element {
	return &Element{
		name:  name,
		props: make(map[string]any),
	}
}

// SetOwner records the embedding node so Parent chains expose the embedder's
// type. Must be called before the element joins a tree.
func (e *Element) SetOwner(n Node) { e.owner = n }

// self returns the node identity to expose for e: the owner when embedded,
// otherwise the element itself.
func (e *Element) self() Node {
	if e.owner != nil {
		return e.owner
	}
	return e
}

// Name implements Node.
func (e *Element) Name() string { return e.name }

// Parent implements Node.
func (e *Element) Parent() Node {
	if e.parent == nil {
		return nil
	}
	return e.parent.self()
}

// Initialized implements Node.
func (e *Element) Initialized() bool { return e.initialized }

// Attached implements Node.
func (e *Element) Attached() bool { return e.attached }

// Children returns the child elements in insertion order. The returned slice
// must not be mutated.
func (e *Element) Children() []*Element { return e.children }

// Ambient implements Node: the element's own context when set, otherwise the
// nearest ancestor's.
func (e *Element) Ambient() any {
	for n := e; n != nil; n = n.parent {
		if n.hasAmbient {
			return n.ambient
		}
	}
	return nil
}

// SetAmbient sets the element's own ambient context and notifies the element
// and every descendant whose effective context changed (descent stops at
// subtrees with their own context).
func (e *Element) SetAmbient(v any) {
	e.hasAmbient = true
	e.ambient = v
	e.fireAmbientChanged()
}

// ClearAmbient removes the element's own context so it inherits again.
func (e *Element) ClearAmbient() {
	if !e.hasAmbient {
		return
	}
	e.hasAmbient = false
	e.ambient = nil
	e.fireAmbientChanged()
}

func (e *Element) fireAmbientChanged() {
	e.fire(hookAmbient, e.Ambient())
	for _, c := range e.children {
		if !c.hasAmbient {
			c.fireAmbientChanged()
		}
	}
}

// Prop reads a target property from the property bag.
func (e *Element) Prop(name string) any { return e.props[name] }

// SetProp writes a target property.
func (e *Element) SetProp(name string, v any) { e.props[name] = v }

// RestrictProperty marks a property as unable to host a deferred binding
// (a setter-like carrier construct). Attach fails fast on such properties.
func (e *Element) RestrictProperty(name string) {
	if e.restricted == nil {
		e.restricted = make(map[string]bool)
	}
	e.restricted[name] = true
}

// PropertyRestricted implements PropertyRestrictor.
func (e *Element) PropertyRestricted(name string) bool { return e.restricted[name] }

// SetScopeRoot makes this element a name scope root.
func (e *Element) SetScopeRoot(s *Scope) { e.scope = s }

// EnclosingScope implements Scoped: the nearest scope root at or above this
// element.
func (e *Element) EnclosingScope() NameScope {
	for n := e; n != nil; n = n.parent {
		if n.scope != nil {
			return n.scope
		}
	}
	return nil
}

// Initialize marks construction complete and fires the initialized
// checkpoint. Idempotent; only the first call fires.
func (e *Element) Initialize() {
	if e.initialized {
		return
	}
	e.initialized = true
	e.fire(hookInitialized, nil)
}

// AddChild links c under e. If e is attached, the new subtree is initialized
// and loaded immediately.
func (e *Element) AddChild(c *Element) {
	c.parent = e
	e.children = append(e.children, c)
	if e.attached {
		c.attachSubtree()
	}
}

// RemoveChild unloads and unlinks c. Unknown children are ignored.
func (e *Element) RemoveChild(c *Element) {
	idx := -1
	for i, ch := range e.children {
		if ch == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	if c.attached {
		c.detachSubtree()
	}
	e.children = append(e.children[:idx], e.children[idx+1:]...)
	c.parent = nil
}

// Mount attaches the element as a tree root: the whole subtree becomes
// attached, uninitialized elements are initialized, then loaded fires
// parent-first. Mounting an attached element is a no-op.
func (e *Element) Mount() {
	if e.attached {
		return
	}
	e.attachSubtree()
}

// Unmount detaches a mounted root: unloaded fires parent-first, then the
// subtree is marked detached. The structure itself is preserved, so a later
// Mount re-enters the tree.
func (e *Element) Unmount() {
	if !e.attached {
		return
	}
	e.detachSubtree()
}

// attachSubtree marks the subtree attached, then fires initialized and
// loaded. Attachment flags flip before any hook runs so ancestor chains are
// walkable from inside loaded callbacks.
func (e *Element) attachSubtree() {
	e.walk(func(n *Element) { n.attached = true })
	e.walk(func(n *Element) { n.Initialize() })
	e.walk(func(n *Element) { n.fire(hookLoaded, nil) })
}

// detachSubtree fires unloaded parent-first, then clears attachment flags.
// Hooks observe Attached() == true while unloading, matching "the node is
// leaving" rather than "has left".
func (e *Element) detachSubtree() {
	e.walk(func(n *Element) { n.fire(hookUnloaded, nil) })
	e.walk(func(n *Element) { n.attached = false })
}

// walk visits the subtree parent-first in insertion order.
func (e *Element) walk(visit func(*Element)) {
	visit(e)
	for _, c := range e.children {
		c.walk(visit)
	}
}

// OnInitialized implements Node.
func (e *Element) OnInitialized(fn func()) HookID {
	return e.register(&hook{kind: hookInitialized, fn: fn})
}

// OnLoaded implements Node.
func (e *Element) OnLoaded(fn func()) HookID {
	return e.register(&hook{kind: hookLoaded, fn: fn})
}

// OnUnloaded implements Node.
func (e *Element) OnUnloaded(fn func()) HookID {
	return e.register(&hook{kind: hookUnloaded, fn: fn})
}

// OnAmbientChanged implements Node.
func (e *Element) OnAmbientChanged(fn func(any)) HookID {
	return e.register(&hook{kind: hookAmbient, ambient: fn})
}

func (e *Element) register(h *hook) HookID {
	e.nextHook++
	h.id = e.nextHook
	e.hooks = append(e.hooks, h)
	return h.id
}

// RemoveHook implements Node.
func (e *Element) RemoveHook(id HookID) {
	for i, h := range e.hooks {
		if h.id == id {
			e.hooks = append(e.hooks[:i], e.hooks[i+1:]...)
			return
		}
	}
}

// HookCount returns the number of live registrations. Teardown tests assert
// this returns to its baseline.
func (e *Element) HookCount() int { return len(e.hooks) }

// fire runs the hooks of one kind in registration order. The hook list is
// snapshotted first and each entry is re-checked against the live table, so
// a callback may remove itself or its siblings mid-burst without stale
// firings.
func (e *Element) fire(kind hookKind, ambient any) {
	ids := make([]HookID, 0, len(e.hooks))
	for _, h := range e.hooks {
		if h.kind == kind {
			ids = append(ids, h.id)
		}
	}
	for _, id := range ids {
		h := e.lookup(id)
		if h == nil {
			continue
		}
		if kind == hookAmbient {
			h.ambient(ambient)
		} else {
			h.fn()
		}
	}
}

func (e *Element) lookup(id HookID) *hook {
	for _, h := range e.hooks {
		if h.id == id {
			return h
		}
	}
	return nil
}
