//go:build darwin && !(js && wasm)

package metal

import (
	"github.com/gogpu/rhi/backend"

	// Registers the Metal hal backend.
	_ "github.com/gogpu/wgpu/hal/metal"
)

// init registers the Metal backend on package import.
func init() {
	backend.Register(backend.NameMetal, func() backend.Backend {
		return &Backend{}
	})
}
