package demand

import (
	"fmt"
	"sort"
	"sync"
)

// Params carries the knobs a model factory may read.
type Params struct {
	Alpha  float64
	MaxBid float64
	// Choke overrides the linear choke price. Zero means twice MaxBid.
	Choke float64
}

// Factory builds a Model for one settlement.
type Factory func(p Params) Model

// Registry manages the named demand models that sessions may select. It is
// safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	choke     float64
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the logit and linear models.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("logit", func(p Params) Model {
		return NewLogit(p.Alpha)
	})
	r.Register("linear", func(p Params) Model {
		choke := p.Choke
		if choke <= 0 {
			choke = 2 * p.MaxBid
		}
		return NewLinear(choke)
	})
	return r
}

// WithChoke pins the linear choke price handed to factories whose Params do
// not set one. Zero keeps the twice-MaxBid default.
func (r *Registry) WithChoke(choke float64) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.choke = choke
	return r
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the named model. An empty name selects "logit".
func (r *Registry) New(name string, p Params) (Model, error) {
	if name == "" {
		name = "logit"
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	if p.Choke <= 0 {
		p.Choke = r.choke
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("demand model %q: not registered", name)
	}
	return f(p), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered model names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
