package halglue

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/types"
)

// classify wraps a hal error with the rhi sentinel it corresponds to.
// Errors hal does not classify are wrapped with fallback.
func classify(err error, fallback error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch {
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		sentinel = types.ErrOutOfMemory
	case errors.Is(err, hal.ErrDeviceLost), errors.Is(err, hal.ErrTimeout):
		sentinel = types.ErrDeviceLost
	case errors.Is(err, hal.ErrSurfaceLost), errors.Is(err, hal.ErrSurfaceOutdated):
		sentinel = types.ErrSurfaceLost
	case errors.Is(err, hal.ErrBackendNotFound):
		sentinel = types.ErrBackendUnavailable
	default:
		sentinel = fallback
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// bufferUsage maps a barrier state to the hal buffer usage it implies.
func bufferUsage(s types.ResourceState) gputypes.BufferUsage {
	switch s {
	case types.StateShaderRead, types.StateShaderWrite:
		return gputypes.BufferUsageStorage
	case types.StateCopySrc:
		return gputypes.BufferUsageCopySrc
	case types.StateCopyDst:
		return gputypes.BufferUsageCopyDst
	case types.StateVertexBuffer:
		return gputypes.BufferUsageVertex
	case types.StateIndexBuffer:
		return gputypes.BufferUsageIndex
	case types.StateIndirect:
		return gputypes.BufferUsageIndirect
	default:
		return gputypes.BufferUsageNone
	}
}

// textureUsage maps a barrier state to the hal texture usage it implies.
// Present maps to the attachment usage: hal performs the final transition
// to the presentation layout itself when the texture is presented.
func textureUsage(s types.ResourceState) gputypes.TextureUsage {
	switch s {
	case types.StateShaderRead, types.StateDepthRead:
		return gputypes.TextureUsageTextureBinding
	case types.StateShaderWrite:
		return gputypes.TextureUsageStorageBinding
	case types.StateRenderTarget, types.StateDepthWrite, types.StatePresent:
		return gputypes.TextureUsageRenderAttachment
	case types.StateCopySrc:
		return gputypes.TextureUsageCopySrc
	case types.StateCopyDst:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageNone
	}
}

// viewDimension picks the default view dimension for a texture.
func viewDimension(d *types.TextureDescriptor) gputypes.TextureViewDimension {
	switch d.Dimension {
	case gputypes.TextureDimension1D:
		return gputypes.TextureViewDimension1D
	case gputypes.TextureDimension3D:
		return gputypes.TextureViewDimension3D
	default:
		if d.DepthOrArrayLayers > 1 {
			return gputypes.TextureViewDimension2DArray
		}
		return gputypes.TextureViewDimension2D
	}
}

// arrayLayers returns the number of array layers of a texture.
func arrayLayers(d *types.TextureDescriptor) uint32 {
	if d.Dimension == gputypes.TextureDimension3D {
		return 1
	}
	return d.DepthOrArrayLayers
}

// adapterType maps a gputypes device type to the gpucontext adapter type.
func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}
