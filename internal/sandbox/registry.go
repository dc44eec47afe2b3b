package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a Backend from cfg. Registered once per backend name
// at process startup.
type Factory func(ctx context.Context, cfg Config, metrics MetricsRecorder) (Backend, error)

// Info describes one registered backend: its construction factory and a
// priority used only for Registry.ByPriority's deterministic ordering
// (diagnostic listing, not selection — selection is always by name).
type Info struct {
	Name     string
	Priority int
	Factory  Factory
}

// Registry is a name -> Backend-constructor lookup, the "registry of named
// backends selected at construction by a tagged variant" the design calls
// for in place of the source's dynamic submodule loading.
type Registry struct {
	mu    sync.RWMutex
	infos map[string]*Info
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{infos: make(map[string]*Info)}
}

// Register adds info to the registry. It panics on programmer error
// (malformed Info, duplicate name): these are wiring mistakes caught at
// init time, never a reason to fail gracefully at runtime.
func (r *Registry) Register(info *Info) {
	if info == nil {
		panic("sandbox: backend info cannot be nil")
	}
	if info.Name == "" {
		panic("sandbox: backend name cannot be empty")
	}
	if info.Factory == nil {
		panic("sandbox: backend factory cannot be nil")
	}
	if info.Priority < 0 {
		panic("sandbox: backend priority must be non-negative")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.infos[info.Name]; exists {
		panic("sandbox: backend already registered: " + info.Name)
	}
	r.infos[info.Name] = info
}

// Get returns the registered Info for name, or nil if unregistered.
func (r *Registry) Get(name string) *Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infos[name]
}

// IsRegistered reports whether name has a registered backend.
func (r *Registry) IsRegistered(name string) bool {
	return r.Get(name) != nil
}

// All returns every registered Info, in no particular order.
func (r *Registry) All() []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	return out
}

// ByPriority returns every registered Info ordered by ascending priority,
// breaking ties alphabetically by name for determinism.
func (r *Registry) ByPriority() []*Info {
	out := r.All()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// New constructs the named backend. An unrecognized name is a startup
// error, not a panic: unlike Register (a wiring mistake), this is
// operator-supplied configuration and must fail with a clear message
// rather than crash the process.
func (r *Registry) New(ctx context.Context, name string, cfg Config, metrics MetricsRecorder) (Backend, error) {
	info := r.Get(name)
	if info == nil {
		return nil, fmt.Errorf("sandbox: unknown backend %q (known: %v)", name, r.names())
	}
	return info.Factory(ctx, cfg, metrics)
}

func (r *Registry) names() []string {
	infos := r.ByPriority()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// DefaultRegistry is pre-populated with the two backends this package
// ships: the generic Docker backend and the hardened gVisor backend.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Info{
		Name:     Generic,
		Priority: 100,
		Factory: func(_ context.Context, cfg Config, metrics MetricsRecorder) (Backend, error) {
			return NewDockerBackend(cfg, metrics)
		},
	})
	r.Register(&Info{
		Name:     Hardened,
		Priority: 200,
		Factory: func(ctx context.Context, cfg Config, metrics MetricsRecorder) (Backend, error) {
			return NewHardenedBackend(ctx, cfg, metrics)
		},
	})
	return r
}
