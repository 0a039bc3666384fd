package backend

import "github.com/kyujaq/hearth/internal/model"

// Registry maps backend names to their descriptor and client. Built once at
// startup; read-only afterwards.
type Registry struct {
	order   []string
	entries map[string]entry
}

type entry struct {
	desc   Descriptor
	client Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a backend. Later registrations with the same name overwrite.
func (r *Registry) Register(desc Descriptor, client Client) {
	if _, ok := r.entries[desc.Name]; !ok {
		r.order = append(r.order, desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc, client: client}
}

// Descriptor returns the descriptor for name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	e, ok := r.entries[name]
	return e.desc, ok
}

// Client returns the client for name.
func (r *Registry) Client(name string) (Client, bool) {
	e, ok := r.entries[name]
	return e.client, ok
}

// ByClass returns the first registered backend of the given class.
func (r *Registry) ByClass(class model.BackendClass) (Descriptor, bool) {
	for _, name := range r.order {
		if e := r.entries[name]; e.desc.Class == class {
			return e.desc, true
		}
	}
	return Descriptor{}, false
}

// Names returns backend names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
