package module

import "fmt"

// Registry is the table of known modules in registration order.
type Registry struct {
	modules []Module
	index   map[string]int
}

// NewRegistry returns a registry holding mods.
func NewRegistry(mods ...Module) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(mods))}
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends m.
func (r *Registry) Register(m Module) error {
	name := m.Name()
	if name == "" {
		return fmt.Errorf("register: module has no name")
	}
	if _, dup := r.index[name]; dup {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateModule)
	}
	r.index[name] = len(r.modules)
	r.modules = append(r.modules, m)
	return nil
}

// Lookup returns the module called name.
func (r *Registry) Lookup(name string) (Module, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.modules[i], true
}

// Modules returns the modules in registration order.
func (r *Registry) Modules() []Module {
	return append([]Module(nil), r.modules...)
}

func (r *Registry) Len() int { return len(r.modules) }
