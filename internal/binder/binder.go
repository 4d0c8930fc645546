// Package binder is the engine's hand-off point: it takes a fully resolved
// source descriptor and pushes values onto a target property.
//
// The engine never writes targets itself. It produces Descriptors and gives
// them to a Binder; what "apply" means (single-value push, multi-binding,
// template expansion) is the binder's business. ValueBinder is the
// reference implementation used by the harness and tests.
package binder

import (
	"fmt"
	"reflect"

	"github.com/graftkit/graft/internal/decl"
	"github.com/graftkit/graft/internal/path"
)

// Descriptor is a fully specified binding ready for application: the
// resolved source, the effective path into it, and the declared mode.
//
// Identity marks the inert self placeholder installed when resolution has
// not produced a usable source or the type gate is closed. An identity
// descriptor carries no source and must leave the target's current value
// untouched.
type Descriptor struct {
	Source   any
	Path     path.Path
	Mode     decl.Mode
	Identity bool
}

// IdentityDescriptor returns the inert placeholder descriptor.
func IdentityDescriptor() Descriptor {
	return Descriptor{Identity: true}
}

// Same reports whether two descriptors would produce the same binding:
// identical source object, path, mode, and identity flag.
func (d Descriptor) Same(o Descriptor) bool {
	if d.Identity != o.Identity || d.Mode != o.Mode {
		return false
	}
	if d.Identity {
		return true
	}
	return decl.Identical(d.Source, o.Source) && d.Path.String() == o.Path.String()
}

// Binder applies resolved descriptors to target properties. All methods are
// invoked on the dispatch loop only.
type Binder interface {
	// Apply installs d on (target, property), replacing any previous
	// binding there. Applying an identity descriptor preserves the
	// target's last pushed value.
	Apply(target any, property string, d Descriptor) error
	// Clear removes the binding from (target, property). The target keeps
	// its last value; clearing never resets it.
	Clear(target any, property string) error
	// Refresh re-reads the bound source and pushes the current value.
	// No-op for identity descriptors and unbound targets.
	Refresh(target any, property string) error
}

// PropWriter is the target-side capability ValueBinder prefers for pushing
// values; tree elements implement it. Targets without it are written
// through the path accessor instead.
type PropWriter interface {
	SetProp(name string, v any)
}

type bindKey struct {
	target   any
	property string
}

type applied struct {
	desc Descriptor
}

// ValueBinder is a single-value push binder: on apply and refresh it reads
// the descriptor's path from its source and writes the result to the
// target property.
//
// Thread-safety: loop-confined, like everything downstream of the engine.
// No locks.
type ValueBinder struct {
	acc      path.Accessor
	bindings map[bindKey]*applied
}

// NewValueBinder creates a binder reading sources through acc. A nil acc
// uses the reflection accessor.
func NewValueBinder(acc path.Accessor) *ValueBinder {
	if acc == nil {
		acc = path.NewReflectAccessor()
	}
	return &ValueBinder{
		acc:      acc,
		bindings: make(map[bindKey]*applied),
	}
}

// Apply implements Binder.
func (b *ValueBinder) Apply(target any, property string, d Descriptor) error {
	if target == nil {
		return fmt.Errorf("apply binding: nil target")
	}
	// Targets key the binding table; an uncomparable one (map, slice,
	// func) would panic on insert.
	if !reflect.TypeOf(target).Comparable() {
		return fmt.Errorf("apply binding: target %T is not comparable", target)
	}
	b.bindings[bindKey{target, property}] = &applied{desc: d}
	if d.Identity {
		return nil
	}
	return b.push(target, property, d)
}

// Clear implements Binder.
func (b *ValueBinder) Clear(target any, property string) error {
	if !keyable(target) {
		return nil
	}
	delete(b.bindings, bindKey{target, property})
	return nil
}

// Refresh implements Binder.
func (b *ValueBinder) Refresh(target any, property string) error {
	a, ok := b.lookup(target, property)
	if !ok || a.desc.Identity {
		return nil
	}
	return b.push(target, property, a.desc)
}

// Applied returns the descriptor currently installed on (target, property).
func (b *ValueBinder) Applied(target any, property string) (Descriptor, bool) {
	a, ok := b.lookup(target, property)
	if !ok {
		return Descriptor{}, false
	}
	return a.desc, true
}

// keyable reports whether target can serve as a map key. Apply rejects
// anything that can't, so the read paths treat it as "never bound".
func keyable(target any) bool {
	return target != nil && reflect.TypeOf(target).Comparable()
}

func (b *ValueBinder) lookup(target any, property string) (*applied, bool) {
	if !keyable(target) {
		return nil, false
	}
	a, ok := b.bindings[bindKey{target, property}]
	return a, ok
}

// Count returns the number of installed bindings.
func (b *ValueBinder) Count() int { return len(b.bindings) }

func (b *ValueBinder) push(target any, property string, d Descriptor) error {
	v := d.Source
	if !d.Path.IsEmpty() {
		read, err := b.acc.Read(d.Source, d.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", d.Path, err)
		}
		v = read
	}

	if pw, ok := target.(PropWriter); ok {
		pw.SetProp(property, v)
		return nil
	}
	p, err := path.Parse(property)
	if err != nil {
		return fmt.Errorf("target property %q: %w", property, err)
	}
	return b.acc.Write(target, p, v)
}

// UpdateSource writes v back through the binding installed on (target,
// property), the push direction a TwoWay binding uses when the target
// changes. Identity and pathless descriptors cannot accept writes.
func (b *ValueBinder) UpdateSource(target any, property string, v any) error {
	a, ok := b.lookup(target, property)
	if !ok {
		return fmt.Errorf("update source: no binding on %q", property)
	}
	d := a.desc
	if d.Identity || d.Source == nil {
		return fmt.Errorf("update source: %q bound to placeholder", property)
	}
	if d.Path.IsEmpty() {
		return fmt.Errorf("update source: %q has no writable path", property)
	}
	return b.acc.Write(d.Source, d.Path, v)
}
