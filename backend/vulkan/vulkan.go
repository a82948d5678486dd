//go:build !(js && wasm)

// Package vulkan adapts the wgpu Vulkan hal to the rhi backend contract.
//
// Vulkan needs every pipeline barrier spelled out, indexes each bindless
// resource class from zero, and consumes SPIR-V directly (WGSL is
// translated to SPIR-V by naga inside the hal). Opening fails with
// rhi.ErrBackendUnavailable when no Vulkan loader or driver is installed.
package vulkan

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/internal/halglue"
)

// Traits are the Vulkan backend traits.
var Traits = halglue.Traits{
	Name:         backend.NameVulkan,
	Variant:      gputypes.BackendVulkan,
	AcceptsSPIRV: true,
	PrefersSPIRV: true,
}

// Backend opens Vulkan devices.
type Backend struct{}

var _ backend.Backend = (*Backend)(nil)

// Name returns "vulkan".
func (*Backend) Name() string { return backend.NameVulkan }

// Variant returns gputypes.BackendVulkan.
func (*Backend) Variant() gputypes.Backend { return gputypes.BackendVulkan }

// Open opens the best Vulkan adapter.
func (*Backend) Open(opts backend.OpenOptions) (backend.Device, error) {
	d, err := halglue.Open(Traits, opts)
	if err != nil {
		return nil, fmt.Errorf("vulkan: %w", err)
	}
	return d, nil
}
