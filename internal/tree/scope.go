package tree

import "fmt"

// Scope is a flat name registry rooted at one element. Names are registered
// while the declarative structure is instantiated and never change afterward,
// which is why a failed lookup is a definitive null rather than a retry
// case.
type Scope struct {
	names map[string]any
}

// NewScope creates an empty name scope.
func NewScope() *Scope {
	return &Scope{names: make(map[string]any)}
}

// Register binds a name. Duplicate registration is a declaration error.
func (s *Scope) Register(name string, v any) error {
	if name == "" {
		return fmt.Errorf("register name: empty name")
	}
	if _, dup := s.names[name]; dup {
		return fmt.Errorf("register name %q: already registered in this scope", name)
	}
	s.names[name] = v
	return nil
}

// Unregister removes a name. Unknown names are ignored.
func (s *Scope) Unregister(name string) {
	delete(s.names, name)
}

// FindName implements NameScope.
func (s *Scope) FindName(name string) any {
	return s.names[name]
}

// Len returns the number of registered names.
func (s *Scope) Len() int { return len(s.names) }
