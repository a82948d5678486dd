// Package command defines the recorded form of GPU work.
//
// A List is an append-only sequence of Ops. Ops reference resources by
// types.ResourceID only; backends resolve the identifiers against the
// snapshot taken when recording ended, so a List never holds a native
// object.
package command

import (
	"iter"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/types"
)

// Op is one recorded command.
type Op interface {
	// Refs yields every resource the command touches.
	Refs(yield func(types.ResourceID) bool) bool
}

// List is an ordered command sequence scoped to one frame.
type List struct {
	Label string
	Ops   []Op
}

// Append adds op to the end of the list.
func (l *List) Append(op Op) { l.Ops = append(l.Ops, op) }

// Len returns the number of recorded commands.
func (l *List) Len() int { return len(l.Ops) }

// Reset empties the list, keeping its storage.
func (l *List) Reset(label string) {
	clear(l.Ops)
	l.Ops = l.Ops[:0]
	l.Label = label
}

// Refs yields every resource referenced by the list, possibly repeated.
func (l *List) Refs() iter.Seq[types.ResourceID] {
	return func(yield func(types.ResourceID) bool) {
		for _, op := range l.Ops {
			if !op.Refs(yield) {
				return
			}
		}
	}
}

func one(id types.ResourceID, yield func(types.ResourceID) bool) bool {
	if id.IsZero() {
		return true
	}
	return yield(id)
}

// ColorAttachment is one color target of a render pass.
type ColorAttachment struct {
	Texture types.ResourceID
	// Resolve is the optional single-sample resolve target.
	Resolve types.ResourceID
	Load    gputypes.LoadOp
	Store   gputypes.StoreOp
	Clear   gputypes.Color
}

// DepthAttachment is the depth/stencil target of a render pass.
type DepthAttachment struct {
	Texture      types.ResourceID
	DepthLoad    gputypes.LoadOp
	DepthStore   gputypes.StoreOp
	DepthClear   float32
	ReadOnly     bool
	StencilLoad  gputypes.LoadOp
	StencilStore gputypes.StoreOp
	StencilClear uint32
}

// BeginRenderPass opens a render pass.
type BeginRenderPass struct {
	Label string
	Color []ColorAttachment
	Depth *DepthAttachment
}

func (o *BeginRenderPass) Refs(yield func(types.ResourceID) bool) bool {
	for i := range o.Color {
		if !one(o.Color[i].Texture, yield) || !one(o.Color[i].Resolve, yield) {
			return false
		}
	}
	if o.Depth != nil {
		return one(o.Depth.Texture, yield)
	}
	return true
}

// EndRenderPass closes the open render pass.
type EndRenderPass struct{}

func (*EndRenderPass) Refs(func(types.ResourceID) bool) bool { return true }

// BindPipeline makes a render or compute pipeline current.
type BindPipeline struct {
	Pipeline types.ResourceID
	Compute  bool
}

func (o *BindPipeline) Refs(yield func(types.ResourceID) bool) bool { return one(o.Pipeline, yield) }

// MaxBoundSlots is the number of slots one BindResources may publish.
const MaxBoundSlots = 64

// BindResources publishes bindless slots to the shaders of following draws
// or dispatches. Shaders read the native index of Slots[i] at position i.
type BindResources struct {
	Slots []types.BindlessSlot
}

func (*BindResources) Refs(func(types.ResourceID) bool) bool { return true }

// SetVertexBuffer binds a vertex buffer to an input slot.
type SetVertexBuffer struct {
	Slot   uint32
	Buffer types.ResourceID
	Offset uint64
}

func (o *SetVertexBuffer) Refs(yield func(types.ResourceID) bool) bool { return one(o.Buffer, yield) }

// SetIndexBuffer binds the index buffer.
type SetIndexBuffer struct {
	Buffer types.ResourceID
	Format gputypes.IndexFormat
	Offset uint64
}

func (o *SetIndexBuffer) Refs(yield func(types.ResourceID) bool) bool { return one(o.Buffer, yield) }

// SetViewport sets the viewport transform.
type SetViewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

func (*SetViewport) Refs(func(types.ResourceID) bool) bool { return true }

// SetScissor sets the scissor rectangle.
type SetScissor struct {
	X, Y, Width, Height uint32
}

func (*SetScissor) Refs(func(types.ResourceID) bool) bool { return true }

// Draw issues a non-indexed draw.
type Draw struct {
	VertexCount, InstanceCount, FirstVertex, FirstInstance uint32
}

func (*Draw) Refs(func(types.ResourceID) bool) bool { return true }

// DrawIndexed issues an indexed draw.
type DrawIndexed struct {
	IndexCount, InstanceCount, FirstIndex uint32
	BaseVertex                            int32
	FirstInstance                         uint32
}

func (*DrawIndexed) Refs(func(types.ResourceID) bool) bool { return true }

// Dispatch issues a compute dispatch.
type Dispatch struct {
	X, Y, Z uint32
}

func (*Dispatch) Refs(func(types.ResourceID) bool) bool { return true }

// CopyBuffer copies a byte range between buffers.
type CopyBuffer struct {
	Src, Dst             types.ResourceID
	SrcOffset, DstOffset uint64
	Size                 uint64
}

func (o *CopyBuffer) Refs(yield func(types.ResourceID) bool) bool {
	return one(o.Src, yield) && one(o.Dst, yield)
}

// TextureRegion addresses a box inside one mip level of a texture.
type TextureRegion struct {
	MipLevel uint32
	X, Y, Z  uint32
	Width    uint32
	Height   uint32
	// DepthOrArrayLayers defaults to 1 when zero.
	DepthOrArrayLayers uint32
}

// BufferLayout describes texel data inside a buffer.
type BufferLayout struct {
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
}

// CopyBufferToTexture uploads texel data.
type CopyBufferToTexture struct {
	Src    types.ResourceID
	Dst    types.ResourceID
	Layout BufferLayout
	Region TextureRegion
}

func (o *CopyBufferToTexture) Refs(yield func(types.ResourceID) bool) bool {
	return one(o.Src, yield) && one(o.Dst, yield)
}

// CopyTextureToBuffer reads texel data back.
type CopyTextureToBuffer struct {
	Src    types.ResourceID
	Dst    types.ResourceID
	Region TextureRegion
	Layout BufferLayout
}

func (o *CopyTextureToBuffer) Refs(yield func(types.ResourceID) bool) bool {
	return one(o.Src, yield) && one(o.Dst, yield)
}

// Barrier is an explicit resource state transition.
type Barrier struct {
	Resource types.ResourceID
	From, To types.ResourceState
}

func (o *Barrier) Refs(yield func(types.ResourceID) bool) bool { return one(o.Resource, yield) }
