package workload

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"fsmharness/internal/core"
)

var ErrUnknownWorkload = errors.New("unknown workload")

// Factory builds a fresh descriptor. It is called once per load so units
// never share mutable descriptor state.
type Factory func() *Descriptor

// Loader resolves a workload name to a normalized descriptor.
type Loader interface {
	Load(name string) (*Descriptor, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(name string) (*Descriptor, error)

func (f LoaderFunc) Load(name string) (*Descriptor, error) { return f(name) }

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.Errorf("workload %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register for package init code.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names returns registered workload names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Load(name string) (*Descriptor, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownWorkload, "%q", name)
	}
	d := f()
	if d == nil {
		return nil, errors.Errorf("workload %q factory returned nothing", name)
	}
	if d.Name == "" {
		d.Name = name
	}
	if err := d.Normalize(); err != nil {
		return nil, err
	}
	return d, nil
}

// Override replaces scheduling hints and layers data onto a workload.
// Zero values leave the descriptor's own settings in place.
type Override struct {
	ThreadCount int
	Iterations  int
	Data        core.Data
}

type overrideLoader struct {
	base      Loader
	overrides map[string]Override
}

// WithOverrides wraps base so every load applies the workload's override.
func WithOverrides(base Loader, overrides map[string]Override) Loader {
	return &overrideLoader{base: base, overrides: overrides}
}

func (l *overrideLoader) Load(name string) (*Descriptor, error) {
	d, err := l.base.Load(name)
	if err != nil {
		return nil, err
	}
	o, ok := l.overrides[name]
	if !ok {
		return d, nil
	}
	if o.ThreadCount > 0 {
		d.ThreadCount = o.ThreadCount
	}
	if o.Iterations > 0 {
		d.Iterations = o.Iterations
	}
	d.Data = core.Merge(d.Data, o.Data)
	if err := d.Normalize(); err != nil {
		return nil, err
	}
	return d, nil
}
