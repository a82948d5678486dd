//go:build !(js && wasm)

package vulkan

import (
	"github.com/gogpu/rhi/backend"

	// Registers the Vulkan hal backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// init registers the Vulkan backend on package import.
// This enables automatic backend selection when using backend.Default().
//
// The root rhi package imports this package, so an explicit import is only
// needed by programs that use the backend package directly:
//
//	import _ "github.com/gogpu/rhi/backend/vulkan"
func init() {
	backend.Register(backend.NameVulkan, func() backend.Backend {
		return &Backend{}
	})
}
