// Package halglue implements backend.Device on top of the wgpu hal layer.
//
// The Vulkan and Metal adapters differ only in a handful of traits (which
// barriers the native API needs, how bindless indices are numbered, which
// shader languages it consumes), so both are one implementation here
// parameterized by Traits.
//
// Bindless resources live in bind group 0, the heap: one binding per slot
// per resource class, with placeholders in unused slots. The indices named
// by BindResources are written into a per-submission uniform buffer bound
// as group 1 with a dynamic offset. Caller layouts follow from group 2.
package halglue
