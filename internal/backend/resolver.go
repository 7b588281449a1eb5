package backend

import (
	"fmt"
	"sync"
)

// Factory constructs an Adapter instance. Adapters register a Factory
// under their name via Register, normally from an init() in the adapter's
// own package (mirroring the teacher's blank-import registration of
// harness/claude, harness/codex, harness/generic from session.go).
type Factory func() Adapter

var (
	registryMu sync.Mutex
	factories  = make(map[string]Factory)
	inverted   = make(map[string]bool)
)

// Register adds a named adapter factory to the global registry. If
// invertedConn is true, NewResolver eagerly constructs a singleton
// instance when the Resolver is created, because the inverted
// adapter's rendezvous table must exist before any CLI dial-in arrives
// (spec §4.2).
func Register(name string, f Factory, invertedConn bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
	inverted[name] = invertedConn
}

// Names returns the closed set of registered adapter names.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	return out
}

// Resolver maps an adapter name to an adapter instance, enforcing a
// singleton for inverted adapters (spec §4.2).
type Resolver struct {
	mu          sync.Mutex
	defaultName string
	singletons  map[string]Adapter
}

// NewResolver constructs a Resolver. Inverted adapters are eagerly built
// immediately so their SocketRegistry exists before the coordinator
// starts accepting CLI dial-ins.
func NewResolver(defaultName string) *Resolver {
	r := &Resolver{
		defaultName: defaultName,
		singletons:  make(map[string]Adapter),
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	for name, isInverted := range inverted {
		if isInverted {
			r.singletons[name] = factories[name]()
		}
	}
	return r
}

// DefaultName returns the adapter name used when a session specifies none.
func (r *Resolver) DefaultName() string { return r.defaultName }

// Resolve returns the adapter instance for name: the shared singleton for
// inverted adapters, or a fresh instance per call otherwise.
func (r *Resolver) Resolve(name string) (Adapter, error) {
	if name == "" {
		name = r.defaultName
	}
	r.mu.Lock()
	if a, ok := r.singletons[name]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	registryMu.Lock()
	f, ok := factories[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("backend: unknown adapter %q (available: %v)", name, Names())
	}
	return f(), nil
}
