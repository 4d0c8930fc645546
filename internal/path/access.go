package path

import (
	"fmt"
	"reflect"
	"strconv"
)

// Accessor is the read/write primitive the engine uses to move values across
// a property path. The engine never walks object graphs itself; it hands the
// resolved source plus a Path to an Accessor.
//
// Implementations must treat a nil object as unreadable rather than
// panicking.
type Accessor interface {
	// Read returns the value at p inside obj.
	Read(obj any, p Path) (any, error)
	// Write stores v at p inside obj. The final path step must be settable.
	Write(obj any, p Path, v any) error
}

// AccessError describes a failed path traversal.
type AccessError struct {
	Path    Path
	Step    string // the segment or indexer that failed
	Message string
}

func (e *AccessError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("path %q: %s", e.Path.String(), e.Message)
	}
	return fmt.Sprintf("path %q at %q: %s", e.Path.String(), e.Step, e.Message)
}

// ReflectAccessor walks exported struct fields, string-keyed maps, slices and
// arrays via reflection. It is the reference Accessor used by the harness and
// the bundled value binder; UI frameworks embedding the engine typically
// substitute their own property system here.
type ReflectAccessor struct{}

// NewReflectAccessor returns the reflection-based Accessor.
func NewReflectAccessor() Accessor { return ReflectAccessor{} }

// Read implements Accessor.
func (ReflectAccessor) Read(obj any, p Path) (any, error) {
	v, err := walk(obj, p, len(p.Segments()))
	if err != nil {
		return nil, err
	}
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

// Write implements Accessor. The parent of the final step is resolved with
// Read semantics; the final step must name a settable struct field, map key,
// or slice/array element.
func (ReflectAccessor) Write(obj any, p Path, val any) error {
	segs := p.Segments()
	if len(segs) == 0 {
		return &AccessError{Path: p, Message: "cannot write to the empty path"}
	}

	// Resolve everything up to the last step.
	parent, err := walk(obj, p, len(segs)-1)
	if err != nil {
		return err
	}
	last := segs[len(segs)-1]

	cur := parent
	if last.Field != "" {
		if len(last.Indexes) > 0 {
			// Indexed write: resolve the field, then write into its last index.
			cur, err = field(cur, p, last.Field)
			if err != nil {
				return err
			}
			for _, ix := range last.Indexes[:len(last.Indexes)-1] {
				cur, err = index(cur, p, ix)
				if err != nil {
					return err
				}
			}
			return setIndex(cur, p, last.Indexes[len(last.Indexes)-1], val)
		}
		return setField(cur, p, last.Field, val)
	}
	for _, ix := range last.Indexes[:len(last.Indexes)-1] {
		cur, err = index(cur, p, ix)
		if err != nil {
			return err
		}
	}
	return setIndex(cur, p, last.Indexes[len(last.Indexes)-1], val)
}

// walk resolves the first n segments of p inside obj.
func walk(obj any, p Path, n int) (reflect.Value, error) {
	if obj == nil {
		return reflect.Value{}, &AccessError{Path: p, Message: "nil object"}
	}
	cur := reflect.ValueOf(obj)
	for _, seg := range p.Segments()[:n] {
		var err error
		if seg.Field != "" {
			cur, err = field(cur, p, seg.Field)
			if err != nil {
				return reflect.Value{}, err
			}
		}
		for _, ix := range seg.Indexes {
			cur, err = index(cur, p, ix)
			if err != nil {
				return reflect.Value{}, err
			}
		}
	}
	return cur, nil
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func field(v reflect.Value, p Path, name string) (reflect.Value, error) {
	v = deref(v)
	if !v.IsValid() {
		return reflect.Value{}, &AccessError{Path: p, Step: name, Message: "nil value on path"}
	}
	switch v.Kind() {
	case reflect.Struct:
		f := v.FieldByName(name)
		if !f.IsValid() {
			return reflect.Value{}, &AccessError{Path: p, Step: name, Message: fmt.Sprintf("no field %q on %s", name, v.Type())}
		}
		return f, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, &AccessError{Path: p, Step: name, Message: "map key type is not string"}
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return reflect.Value{}, &AccessError{Path: p, Step: name, Message: fmt.Sprintf("no key %q in map", name)}
		}
		return mv, nil
	default:
		return reflect.Value{}, &AccessError{Path: p, Step: name, Message: fmt.Sprintf("cannot access field on %s", v.Kind())}
	}
}

func index(v reflect.Value, p Path, key string) (reflect.Value, error) {
	v = deref(v)
	if !v.IsValid() {
		return reflect.Value{}, &AccessError{Path: p, Step: "[" + key + "]", Message: "nil value on path"}
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil {
			return reflect.Value{}, &AccessError{Path: p, Step: "[" + key + "]", Message: "indexer is not an integer"}
		}
		if i < 0 || i >= v.Len() {
			return reflect.Value{}, &AccessError{Path: p, Step: "[" + key + "]", Message: fmt.Sprintf("index out of range (len %d)", v.Len())}
		}
		return v.Index(i), nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, &AccessError{Path: p, Step: "[" + key + "]", Message: "map key type is not string"}
		}
		mv := v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return reflect.Value{}, &AccessError{Path: p, Step: "[" + key + "]", Message: fmt.Sprintf("no key %q in map", key)}
		}
		return mv, nil
	default:
		return reflect.Value{}, &AccessError{Path: p, Step: "[" + key + "]", Message: fmt.Sprintf("cannot index %s", v.Kind())}
	}
}

func setField(v reflect.Value, p Path, name string, val any) error {
	v = deref(v)
	if !v.IsValid() {
		return &AccessError{Path: p, Step: name, Message: "nil value on path"}
	}
	switch v.Kind() {
	case reflect.Struct:
		f := v.FieldByName(name)
		if !f.IsValid() {
			return &AccessError{Path: p, Step: name, Message: fmt.Sprintf("no field %q on %s", name, v.Type())}
		}
		if !f.CanSet() {
			return &AccessError{Path: p, Step: name, Message: "field is not settable (need addressable struct or pointer)"}
		}
		return assign(f, p, name, val)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &AccessError{Path: p, Step: name, Message: "map key type is not string"}
		}
		mv := reflect.ValueOf(val)
		if val == nil {
			mv = reflect.Zero(v.Type().Elem())
		} else if !mv.Type().AssignableTo(v.Type().Elem()) {
			return &AccessError{Path: p, Step: name, Message: fmt.Sprintf("cannot assign %T to map value %s", val, v.Type().Elem())}
		}
		v.SetMapIndex(reflect.ValueOf(name).Convert(v.Type().Key()), mv)
		return nil
	default:
		return &AccessError{Path: p, Step: name, Message: fmt.Sprintf("cannot write field on %s", v.Kind())}
	}
}

func setIndex(v reflect.Value, p Path, key string, val any) error {
	v = deref(v)
	if !v.IsValid() {
		return &AccessError{Path: p, Step: "[" + key + "]", Message: "nil value on path"}
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil {
			return &AccessError{Path: p, Step: "[" + key + "]", Message: "indexer is not an integer"}
		}
		if i < 0 || i >= v.Len() {
			return &AccessError{Path: p, Step: "[" + key + "]", Message: fmt.Sprintf("index out of range (len %d)", v.Len())}
		}
		el := v.Index(i)
		if !el.CanSet() {
			return &AccessError{Path: p, Step: "[" + key + "]", Message: "element is not settable"}
		}
		return assign(el, p, "["+key+"]", val)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &AccessError{Path: p, Step: "[" + key + "]", Message: "map key type is not string"}
		}
		mv := reflect.ValueOf(val)
		if val == nil {
			mv = reflect.Zero(v.Type().Elem())
		} else if !mv.Type().AssignableTo(v.Type().Elem()) {
			return &AccessError{Path: p, Step: "[" + key + "]", Message: fmt.Sprintf("cannot assign %T to map value %s", val, v.Type().Elem())}
		}
		v.SetMapIndex(reflect.ValueOf(key).Convert(v.Type().Key()), mv)
		return nil
	default:
		return &AccessError{Path: p, Step: "[" + key + "]", Message: fmt.Sprintf("cannot index %s", v.Kind())}
	}
}

func assign(dst reflect.Value, p Path, step string, val any) error {
	if val == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	sv := reflect.ValueOf(val)
	if !sv.Type().AssignableTo(dst.Type()) {
		if sv.Type().ConvertibleTo(dst.Type()) {
			dst.Set(sv.Convert(dst.Type()))
			return nil
		}
		return &AccessError{Path: p, Step: step, Message: fmt.Sprintf("cannot assign %T to %s", val, dst.Type())}
	}
	dst.Set(sv)
	return nil
}
