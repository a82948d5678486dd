// Package backend defines the capability contract every native GPU backend
// implements, and the registry through which backends are selected.
//
// Exactly two backends ship with rhi:
//
//	github.com/gogpu/rhi/backend/vulkan  (Linux, Windows, macOS via MoltenVK)
//	github.com/gogpu/rhi/backend/metal   (macOS, iOS)
//
// Each registers itself from init(). A Device binds to one Backend at
// construction and never switches, so the interfaces here are crossed only
// when a Device is opened, when an object is created, and once per queue
// submission. Recording commands never calls into a backend.
//
// # Backend Selection
//
//	b := backend.Get(backend.NameVulkan) // explicit
//	b := backend.Default()               // best available, Metal before Vulkan
package backend
