package backend

import (
	"fmt"
	"sort"
	"sync"
)

// BackendFactory creates a new backend instance.
type BackendFactory func() RenderBackend

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
	// Priority order for backend selection (first available wins).
	// Vulkan > WGPU > Null (Null never draws, it only keeps headless runs alive).
	backendPriority = []string{BackendVulkan, BackendWGPU, BackendNull}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in priority order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return priority(names[i]) < priority(names[j])
	})
	return names
}

func priority(name string) int {
	for i, n := range backendPriority {
		if n == name {
			return i
		}
	}
	return len(backendPriority)
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a backend instance by name.
// Returns nil if the backend is not registered.
func Get(name string) RenderBackend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := backends[name]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the best available backend based on priority.
// Returns nil if no backends are registered.
func Default() RenderBackend {
	for _, name := range Available() {
		if b := Get(name); b != nil {
			return b
		}
	}
	return nil
}

// MustDefault returns the default backend or panics.
func MustDefault() RenderBackend {
	b := Default()
	if b == nil {
		panic("backend: no backend available")
	}
	return b
}

// InitDefault initializes the first backend, in priority order, whose
// Init succeeds. A backend that fails to open (no driver, no adapter) is
// logged and skipped.
func InitDefault() (RenderBackend, error) {
	return InitNamed("")
}

// InitNamed initializes the named backend, or the default one when name
// is empty.
func InitNamed(name string) (RenderBackend, error) {
	if name != "" {
		b := Get(name)
		if b == nil {
			return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
		}
		if err := b.Init(); err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		slogger().Info("backend initialized", "backend", name)
		return b, nil
	}

	for _, n := range Available() {
		b := Get(n)
		if b == nil {
			continue
		}
		if err := b.Init(); err != nil {
			slogger().Warn("backend unavailable", "backend", n, "err", err)
			continue
		}
		slogger().Info("backend initialized", "backend", n)
		return b, nil
	}
	return nil, ErrBackendNotAvailable
}
