package backend

import (
	"context"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/command"
	"github.com/gogpu/rhi/types"
)

// Object is a backend-native resource. rhi never inspects it; it only hands
// it back to the backend that created it and releases it when the owning
// frame's fence has signaled.
type Object interface {
	// Release frees the native resource. It is called exactly once.
	Release()
}

// Backend opens Devices on one native API.
type Backend interface {
	// Name returns the registry name, e.g. "vulkan".
	Name() string

	// Variant returns the native API.
	Variant() gputypes.Backend

	// Open connects to the best adapter. Failure to find a driver or adapter
	// must wrap types.ErrBackendUnavailable and leave nothing allocated.
	Open(opts OpenOptions) (Device, error)
}

// OpenOptions configures Backend.Open.
type OpenOptions struct {
	// Validation enables native debug layers where available.
	Validation bool

	// BindlessCapacity is the number of bindless slots the device must hold.
	BindlessCapacity uint32

	// PowerPreference selects between integrated and discrete adapters.
	PowerPreference gputypes.PowerPreference
}

// AdapterInfo describes the adapter a Device was opened on.
type AdapterInfo struct {
	Name     string
	Vendor   string
	Driver   string
	VendorID uint32
	DeviceID uint32
	Backend  gputypes.Backend
	Type     gpucontext.AdapterType
	Limits   gputypes.Limits
}

// Capabilities are backend traits the device-independent layer must honor.
type Capabilities struct {
	// AcceptsSPIRV reports whether SPIR-V shader sources are consumable.
	AcceptsSPIRV bool

	// PrefersSPIRV reports whether WGSL is translated to SPIR-V anyway, which
	// makes SPIR-V the useful form to persist.
	PrefersSPIRV bool
}

// RenderPipelineDesc is a render pipeline with every reference resolved to
// a native object.
type RenderPipelineDesc struct {
	Label         string
	Vertex        Object
	VertexEntry   string
	Fragment      Object
	FragmentEntry string
	VertexBuffers []gputypes.VertexBufferLayout
	Primitive     gputypes.PrimitiveState
	DepthStencil  *types.DepthStencilState
	Multisample   gputypes.MultisampleState
	Targets       []gputypes.ColorTargetState

	// Layouts are caller bind group layouts. The backend prepends its own
	// bindless groups.
	Layouts []Object
}

// ComputePipelineDesc is a compute pipeline with resolved references.
type ComputePipelineDesc struct {
	Label   string
	Module  Object
	Entry   string
	Layouts []Object
}

// BindlessRef is a bindless slot resolved at the end of recording.
type BindlessRef struct {
	Kind  types.ResourceKind
	Index uint32
}

// Batch is one finished command list plus the snapshot of everything it
// references, taken when recording ended.
type Batch struct {
	List    *command.List
	Objects map[types.ResourceID]Object
	Slots   map[types.BindlessSlot]BindlessRef
}

// Device is an open connection to one adapter.
type Device interface {
	Info() AdapterInfo
	Capabilities() Capabilities

	CreateBuffer(desc *types.BufferDescriptor) (Object, error)
	CreateTexture(desc *types.TextureDescriptor) (Object, error)
	CreateSampler(desc *types.SamplerDescriptor) (Object, error)
	CreateBindGroupLayout(desc *types.BindGroupLayoutDescriptor) (Object, error)
	CreateShaderModule(src *types.ShaderSource) (Object, error)
	CreateRenderPipeline(desc *RenderPipelineDesc) (Object, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (Object, error)

	// WriteBuffer copies data into buf through the queue.
	WriteBuffer(buf Object, offset uint64, data []byte) error

	// BindlessSet places obj at index of the kind's bindless range.
	BindlessSet(kind types.ResourceKind, index uint32, obj Object) error

	// BindlessClear resets index to the backend's placeholder resource.
	BindlessClear(kind types.ResourceKind, index uint32)

	// Submit encodes every batch and hands them to the queue in order.
	// It returns the submission index that acts as the fence value.
	Submit(batches []Batch) (uint64, error)

	// Completed returns the highest finished submission index.
	Completed() uint64

	// Wait blocks until index completes. Exceeding timeout returns an error
	// wrapping types.ErrDeviceLost; a done ctx returns ctx.Err().
	Wait(ctx context.Context, index uint64, timeout time.Duration) error

	// WaitIdle blocks until the queue has drained.
	WaitIdle() error

	// CreateSurface wraps a native window for presentation.
	CreateSurface(display, window uintptr) (Surface, error)

	// Destroy releases the device. Every Object must be released first.
	Destroy()
}

// Surface is a presentable swapchain.
type Surface interface {
	// Configure (re)creates the swapchain images at the given size.
	Configure(width, height uint32, vsync bool) error

	// Format returns the texel format of acquired textures.
	Format() gputypes.TextureFormat

	// Acquire returns the next texture to render into. Outdated or lost
	// swapchains return an error wrapping types.ErrSurfaceLost.
	Acquire() (Object, error)

	// Present queues tex for display and consumes it.
	Present(tex Object) error

	// Discard returns an acquired texture without presenting it.
	Discard(tex Object)

	// Destroy releases the swapchain.
	Destroy()
}
