package backend

import (
	"slices"

	"github.com/gogpu/gpucontext"
)

// Registered backend names.
const (
	NameVulkan = "vulkan"
	NameMetal  = "metal"
)

// registry holds backend factories. Metal wins over Vulkan when both are
// present, since Vulkan on Apple platforms runs through a translation layer.
var registry = gpucontext.NewRegistry[Backend](
	gpucontext.WithPriority(NameMetal, NameVulkan),
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory func() Backend) {
	registry.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	names := registry.Available()
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Get returns a backend instance by name, or nil if it is not registered.
func Get(name string) Backend {
	return registry.Get(name)
}

// Default returns the best available backend, or nil if none is registered.
func Default() Backend {
	return registry.Best()
}

// DefaultName returns the name Default would pick, or "".
func DefaultName() string {
	return registry.BestName()
}
