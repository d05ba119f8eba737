package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/deliverymux/core"
)

// Factory opens an engine from the given Config. cfg has its defaults
// applied. The engine must route every completion through cb with opaque.
type Factory func(cfg Config, cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named engine factory. Plugins call this from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create opens an engine by name using the registered factory.
func Create(name string, cfg Config, cb core.DeliveryCallback, opaque core.Handle) (core.Engine, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("deliverymux: unknown engine %q", name)
	}
	return f(cfg, cb, opaque)
}

// Names returns the registered engine names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
