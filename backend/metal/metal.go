//go:build darwin && !(js && wasm)

package metal

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/internal/halglue"
)

// Traits are the Metal backend traits.
var Traits = halglue.Traits{
	Name:                 backend.NameMetal,
	Variant:              gputypes.BackendMetal,
	ElideBufferBarriers:  true,
	ElideTextureBarriers: true,
	FlatBindlessIndex:    true,
}

// Backend opens Metal devices.
type Backend struct{}

var _ backend.Backend = (*Backend)(nil)

// Name returns "metal".
func (*Backend) Name() string { return backend.NameMetal }

// Variant returns gputypes.BackendMetal.
func (*Backend) Variant() gputypes.Backend { return gputypes.BackendMetal }

// Open opens the system default Metal device.
func (*Backend) Open(opts backend.OpenOptions) (backend.Device, error) {
	d, err := halglue.Open(Traits, opts)
	if err != nil {
		return nil, fmt.Errorf("metal: %w", err)
	}
	return d, nil
}
