package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/command"
	"github.com/gogpu/rhi/types"
)

// Copy layout types shared with the command package.
type (
	BufferLayout  = command.BufferLayout
	TextureRegion = command.TextureRegion
)

// ColorAttachment is one color target of a render pass. A zero Load clears
// and a zero Store stores.
type ColorAttachment struct {
	Texture Handle[Texture]

	// Resolve is the optional single-sample resolve target.
	Resolve Handle[Texture]

	Load  gputypes.LoadOp
	Store gputypes.StoreOp
	Clear gputypes.Color
}

// DepthAttachment is the depth target of a render pass.
type DepthAttachment struct {
	Texture      Handle[Texture]
	DepthLoad    gputypes.LoadOp
	DepthStore   gputypes.StoreOp
	DepthClear   float32
	ReadOnly     bool
	StencilLoad  gputypes.LoadOp
	StencilStore gputypes.StoreOp
	StencilClear uint32
}

// RenderPassDesc describes the attachments of a render pass.
type RenderPassDesc struct {
	Label string
	Color []ColorAttachment
	Depth *DepthAttachment
}

// CommandRecorder records GPU work into a CommandBuffer.
//
// A recorder has a single writer. Recording never blocks and never touches
// the GPU, so independent recorders may run on separate goroutines.
//
// Recording methods do not return errors. The first failure is kept and
// every later call is ignored; End returns it. A failure aborts only this
// recorder's buffer.
type CommandRecorder struct {
	d     *Device
	frame *Frame
	list  command.List

	inPass       bool
	renderBound  bool
	computeBound bool
	slots        []BindlessSlot

	err   error
	ended bool
}

func newRecorder(f *Frame, label string) *CommandRecorder {
	return &CommandRecorder{d: f.d, frame: f, list: command.List{Label: label}}
}

// Err returns the first recording error, if any.
func (r *CommandRecorder) Err() error { return r.err }

// Len returns the number of recorded commands.
func (r *CommandRecorder) Len() int { return r.list.Len() }

func (r *CommandRecorder) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("rhi: record %q: %w", r.list.Label, err)
	}
}

func (r *CommandRecorder) stateErrorf(format string, args ...any) {
	r.fail(fmt.Errorf("%w: %s", ErrRecorderState, fmt.Sprintf(format, args...)))
}

// ok reports whether recording can continue.
func (r *CommandRecorder) ok() bool {
	if r.ended {
		if r.err == nil {
			r.stateErrorf("recording after End")
		}
		return false
	}
	return r.err == nil
}

// use resolves h and fails the recorder when it is invalid.
func (r *CommandRecorder) use(h AnyHandle) *resource {
	res, err := r.d.resolve(h)
	if err != nil {
		r.fail(err)
		return nil
	}
	return res
}

func (r *CommandRecorder) requirePass(op string) bool {
	if !r.inPass {
		r.stateErrorf("%s outside render pass", op)
		return false
	}
	return true
}

func (r *CommandRecorder) forbidPass(op string) bool {
	if r.inPass {
		r.stateErrorf("%s inside render pass", op)
		return false
	}
	return true
}

// =============================================================================
// Passes and pipelines
// =============================================================================

// BeginRenderPass opens a render pass on the given attachments.
func (r *CommandRecorder) BeginRenderPass(desc RenderPassDesc) {
	if !r.ok() || !r.forbidPass("BeginRenderPass") {
		return
	}
	if len(desc.Color) == 0 && desc.Depth == nil {
		r.fail(descriptorErrorf("render pass %q has no attachments", desc.Label))
		return
	}
	op := &command.BeginRenderPass{Label: desc.Label, Color: make([]command.ColorAttachment, len(desc.Color))}
	for i, c := range desc.Color {
		if !r.attachment(c.Texture, false) {
			return
		}
		if !c.Resolve.IsZero() && !r.attachment(c.Resolve, false) {
			return
		}
		op.Color[i] = command.ColorAttachment{
			Texture: c.Texture.id,
			Resolve: c.Resolve.id,
			Load:    loadOp(c.Load),
			Store:   storeOp(c.Store),
			Clear:   c.Clear,
		}
	}
	if dp := desc.Depth; dp != nil {
		if !r.attachment(dp.Texture, true) {
			return
		}
		op.Depth = &command.DepthAttachment{
			Texture:      dp.Texture.id,
			DepthLoad:    loadOp(dp.DepthLoad),
			DepthStore:   storeOp(dp.DepthStore),
			DepthClear:   dp.DepthClear,
			ReadOnly:     dp.ReadOnly,
			StencilLoad:  dp.StencilLoad,
			StencilStore: dp.StencilStore,
			StencilClear: dp.StencilClear,
		}
	}
	r.list.Append(op)
	r.inPass = true
	r.renderBound = false
}

func (r *CommandRecorder) attachment(h Handle[Texture], depth bool) bool {
	res := r.use(h)
	if res == nil {
		return false
	}
	desc, _ := res.desc.(TextureDescriptor)
	if desc.Usage&gputypes.TextureUsageRenderAttachment == 0 {
		r.fail(descriptorErrorf("texture %q is not a render attachment", desc.Label))
		return false
	}
	if depth != desc.Format.IsDepthStencil() {
		r.fail(descriptorErrorf("texture %q format %v used as wrong attachment kind", desc.Label, desc.Format))
		return false
	}
	return true
}

func loadOp(op gputypes.LoadOp) gputypes.LoadOp {
	if op == gputypes.LoadOpUndefined {
		return gputypes.LoadOpClear
	}
	return op
}

func storeOp(op gputypes.StoreOp) gputypes.StoreOp {
	if op == gputypes.StoreOpUndefined {
		return gputypes.StoreOpStore
	}
	return op
}

// EndRenderPass closes the open render pass.
func (r *CommandRecorder) EndRenderPass() {
	if !r.ok() || !r.requirePass("EndRenderPass") {
		return
	}
	r.list.Append(&command.EndRenderPass{})
	r.inPass = false
	r.renderBound = false
}

// BindPipeline makes p current. Render pipelines bind inside a render pass
// and stay bound until it ends; compute pipelines bind outside passes and
// stay bound for the rest of the buffer.
func (r *CommandRecorder) BindPipeline(p Handle[Pipeline]) {
	if !r.ok() {
		return
	}
	res := r.use(p)
	if res == nil {
		return
	}
	if res.compute {
		if !r.forbidPass("compute BindPipeline") {
			return
		}
		r.computeBound = true
	} else {
		if !r.requirePass("render BindPipeline") {
			return
		}
		r.renderBound = true
	}
	r.list.Append(&command.BindPipeline{Pipeline: p.id, Compute: res.compute})
}

// BindResources publishes bindless slots to following draws or dispatches.
// Shaders read the native index of slots[i] at position i.
//
// With validation enabled a stale slot fails the recorder here. Otherwise
// stale slots are published as an all-ones sentinel index.
func (r *CommandRecorder) BindResources(slots ...BindlessSlot) {
	if !r.ok() {
		return
	}
	if len(slots) > command.MaxBoundSlots {
		r.fail(descriptorErrorf("%d bound slots exceeds %d", len(slots), command.MaxBoundSlots))
		return
	}
	if r.d.opts.validation {
		for _, s := range slots {
			if err := r.d.bindless.Validate(s); err != nil {
				r.fail(err)
				return
			}
		}
	}
	cp := make([]BindlessSlot, len(slots))
	copy(cp, slots)
	r.slots = append(r.slots, cp...)
	r.list.Append(&command.BindResources{Slots: cp})
}

// =============================================================================
// Draw state
// =============================================================================

// SetVertexBuffer binds buf to vertex input slot.
func (r *CommandRecorder) SetVertexBuffer(slot uint32, buf Handle[Buffer], offset uint64) {
	if !r.ok() || !r.requirePass("SetVertexBuffer") {
		return
	}
	if !r.bufferUsage(buf, gputypes.BufferUsageVertex) {
		return
	}
	r.list.Append(&command.SetVertexBuffer{Slot: slot, Buffer: buf.id, Offset: offset})
}

// SetIndexBuffer binds the index buffer.
func (r *CommandRecorder) SetIndexBuffer(buf Handle[Buffer], format gputypes.IndexFormat, offset uint64) {
	if !r.ok() || !r.requirePass("SetIndexBuffer") {
		return
	}
	if !r.bufferUsage(buf, gputypes.BufferUsageIndex) {
		return
	}
	r.list.Append(&command.SetIndexBuffer{Buffer: buf.id, Format: format, Offset: offset})
}

// SetViewport sets the viewport transform.
func (r *CommandRecorder) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	if !r.ok() || !r.requirePass("SetViewport") {
		return
	}
	r.list.Append(&command.SetViewport{X: x, Y: y, Width: width, Height: height, MinDepth: minDepth, MaxDepth: maxDepth})
}

// SetScissor sets the scissor rectangle.
func (r *CommandRecorder) SetScissor(x, y, width, height uint32) {
	if !r.ok() || !r.requirePass("SetScissor") {
		return
	}
	r.list.Append(&command.SetScissor{X: x, Y: y, Width: width, Height: height})
}

// Draw issues a non-indexed draw with the bound render pipeline.
func (r *CommandRecorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !r.ok() || !r.requirePass("Draw") {
		return
	}
	if !r.renderBound {
		r.stateErrorf("Draw without render pipeline")
		return
	}
	r.list.Append(&command.Draw{
		VertexCount: vertexCount, InstanceCount: instanceCount,
		FirstVertex: firstVertex, FirstInstance: firstInstance,
	})
}

// DrawIndexed issues an indexed draw with the bound render pipeline.
func (r *CommandRecorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if !r.ok() || !r.requirePass("DrawIndexed") {
		return
	}
	if !r.renderBound {
		r.stateErrorf("DrawIndexed without render pipeline")
		return
	}
	r.list.Append(&command.DrawIndexed{
		IndexCount: indexCount, InstanceCount: instanceCount, FirstIndex: firstIndex,
		BaseVertex: baseVertex, FirstInstance: firstInstance,
	})
}

// Dispatch runs the bound compute pipeline over x*y*z workgroups.
func (r *CommandRecorder) Dispatch(x, y, z uint32) {
	if !r.ok() || !r.forbidPass("Dispatch") {
		return
	}
	if !r.computeBound {
		r.stateErrorf("Dispatch without compute pipeline")
		return
	}
	r.list.Append(&command.Dispatch{X: x, Y: y, Z: z})
}

// =============================================================================
// Copies and barriers
// =============================================================================

func (r *CommandRecorder) bufferDesc(h Handle[Buffer]) (BufferDescriptor, bool) {
	res := r.use(h)
	if res == nil {
		return BufferDescriptor{}, false
	}
	desc, _ := res.desc.(BufferDescriptor)
	return desc, true
}

func (r *CommandRecorder) bufferUsage(h Handle[Buffer], usage gputypes.BufferUsage) bool {
	desc, ok := r.bufferDesc(h)
	if !ok {
		return false
	}
	if desc.Usage&usage == 0 {
		r.fail(descriptorErrorf("buffer %q lacks usage %v", desc.Label, usage))
		return false
	}
	return true
}

func (r *CommandRecorder) textureDesc(h Handle[Texture], usage gputypes.TextureUsage) (TextureDescriptor, bool) {
	res := r.use(h)
	if res == nil {
		return TextureDescriptor{}, false
	}
	desc, _ := res.desc.(TextureDescriptor)
	if desc.Usage&usage == 0 {
		r.fail(descriptorErrorf("texture %q lacks usage %v", desc.Label, usage))
		return desc, false
	}
	return desc, true
}

// CopyBuffer copies size bytes between buffers. Offsets and size must be
// multiples of 4.
func (r *CommandRecorder) CopyBuffer(src Handle[Buffer], srcOffset uint64, dst Handle[Buffer], dstOffset, size uint64) {
	if !r.ok() || !r.forbidPass("CopyBuffer") {
		return
	}
	if !r.bufferUsage(src, gputypes.BufferUsageCopySrc) || !r.bufferUsage(dst, gputypes.BufferUsageCopyDst) {
		return
	}
	if srcOffset%4 != 0 || dstOffset%4 != 0 || size%4 != 0 {
		r.fail(descriptorErrorf("copy offsets and size must be 4-byte aligned"))
		return
	}
	sd, _ := r.bufferDesc(src)
	dd, _ := r.bufferDesc(dst)
	if !types.InRange(srcOffset, size, sd.Size) || !types.InRange(dstOffset, size, dd.Size) {
		r.fail(descriptorErrorf("copy of %d bytes overflows %q or %q", size, sd.Label, dd.Label))
		return
	}
	if src == dst && srcOffset < dstOffset+size && dstOffset < srcOffset+size {
		r.fail(descriptorErrorf("copy ranges overlap in %q", sd.Label))
		return
	}
	r.list.Append(&command.CopyBuffer{Src: src.id, Dst: dst.id, SrcOffset: srcOffset, DstOffset: dstOffset, Size: size})
}

// CopyBufferToTexture uploads texel data from src into a region of dst.
func (r *CommandRecorder) CopyBufferToTexture(src Handle[Buffer], layout BufferLayout, dst Handle[Texture], region TextureRegion) {
	if !r.ok() || !r.forbidPass("CopyBufferToTexture") {
		return
	}
	if !r.bufferUsage(src, gputypes.BufferUsageCopySrc) {
		return
	}
	desc, ok := r.textureDesc(dst, gputypes.TextureUsageCopyDst)
	if !ok || !r.region(&desc, region) || !r.layout(src, layout) {
		return
	}
	r.list.Append(&command.CopyBufferToTexture{Src: src.id, Dst: dst.id, Layout: layout, Region: region})
}

// CopyTextureToBuffer reads a region of src back into dst.
func (r *CommandRecorder) CopyTextureToBuffer(src Handle[Texture], region TextureRegion, dst Handle[Buffer], layout BufferLayout) {
	if !r.ok() || !r.forbidPass("CopyTextureToBuffer") {
		return
	}
	desc, ok := r.textureDesc(src, gputypes.TextureUsageCopySrc)
	if !ok || !r.region(&desc, region) {
		return
	}
	if !r.bufferUsage(dst, gputypes.BufferUsageCopyDst) || !r.layout(dst, layout) {
		return
	}
	r.list.Append(&command.CopyTextureToBuffer{Src: src.id, Dst: dst.id, Region: region, Layout: layout})
}

// layout checks that the texel data of a buffer copy starts inside buf.
func (r *CommandRecorder) layout(buf Handle[Buffer], layout BufferLayout) bool {
	desc, ok := r.bufferDesc(buf)
	if !ok {
		return false
	}
	if layout.Offset >= desc.Size {
		r.fail(descriptorErrorf("layout offset %d outside buffer %q of %d bytes", layout.Offset, desc.Label, desc.Size))
		return false
	}
	return true
}

// region checks that region lies inside its mip level.
func (r *CommandRecorder) region(desc *TextureDescriptor, region TextureRegion) bool {
	if region.MipLevel >= desc.MipLevelCount {
		r.fail(descriptorErrorf("texture %q has no mip level %d", desc.Label, region.MipLevel))
		return false
	}
	w := max(desc.Width>>region.MipLevel, 1)
	h := max(desc.Height>>region.MipLevel, 1)
	layers := max(region.DepthOrArrayLayers, 1)
	if region.Width == 0 || region.Height == 0 ||
		!types.InRange(region.X, region.Width, w) || !types.InRange(region.Y, region.Height, h) ||
		!types.InRange(region.Z, layers, desc.DepthOrArrayLayers) {
		r.fail(descriptorErrorf("region %+v outside texture %q mip %d (%dx%dx%d)",
			region, desc.Label, region.MipLevel, w, h, desc.DepthOrArrayLayers))
		return false
	}
	return true
}

// BufferBarrier transitions buf from one state to another. Backends that
// track buffer hazards themselves drop it.
func (r *CommandRecorder) BufferBarrier(buf Handle[Buffer], from, to ResourceState) {
	r.barrier(buf, types.KindBuffer, from, to)
}

// TextureBarrier transitions tex from one state to another.
func (r *CommandRecorder) TextureBarrier(tex Handle[Texture], from, to ResourceState) {
	r.barrier(tex, types.KindTexture, from, to)
}

func (r *CommandRecorder) barrier(h AnyHandle, kind types.ResourceKind, from, to ResourceState) {
	if !r.ok() || !r.forbidPass("Barrier") {
		return
	}
	if !from.Valid() || !to.Valid() || !from.AppliesTo(kind) || !to.AppliesTo(kind) {
		r.fail(descriptorErrorf("barrier %v -> %v invalid for %s", from, to, kind))
		return
	}
	if to == types.StateUndefined {
		r.fail(descriptorErrorf("barrier cannot enter %v", to))
		return
	}
	if r.use(h) == nil {
		return
	}
	r.list.Append(&command.Barrier{Resource: h.ID(), From: from, To: to})
}

// =============================================================================
// End
// =============================================================================

// CommandBuffer is a finished, immutable command list bound to the frame it
// was recorded in. It holds the native objects it references, so resources
// destroyed after End stay alive until the frame's fence signals.
type CommandBuffer struct {
	frame     *Frame
	list      *command.List
	objects   map[types.ResourceID]backend.Object
	slots     map[BindlessSlot]backend.BindlessRef
	surfaces  []*Surface
	submitted bool
}

// Label returns the label the recorder was begun with.
func (cb *CommandBuffer) Label() string { return cb.list.Label }

// Len returns the number of commands.
func (cb *CommandBuffer) Len() int { return cb.list.Len() }

// End finishes recording. It fails with the first recording error, with
// ErrRecorderState when a render pass is still open, and with
// ErrInvalidHandle when any referenced handle was destroyed before End.
func (r *CommandRecorder) End() (*CommandBuffer, error) {
	if r.ended {
		return nil, fmt.Errorf("rhi: record %q: %w: End called twice", r.list.Label, ErrRecorderState)
	}
	if r.err != nil {
		r.ended = true
		return nil, r.err
	}
	if r.inPass {
		r.stateErrorf("render pass still open at End")
		r.ended = true
		return nil, r.err
	}
	r.ended = true

	cb := &CommandBuffer{
		frame:   r.frame,
		list:    &r.list,
		objects: make(map[types.ResourceID]backend.Object),
		slots:   make(map[BindlessSlot]backend.BindlessRef, len(r.slots)),
	}
	for id := range r.list.Refs() {
		if _, seen := cb.objects[id]; seen {
			continue
		}
		res, ok := r.d.objects.Get(id)
		if !ok {
			r.fail(handleErrorf("%s destroyed before End", id))
			return nil, r.err
		}
		cb.objects[id] = res.obj
		if res.surface != nil {
			cb.surfaces = append(cb.surfaces, res.surface)
		}
	}
	for _, s := range r.slots {
		if _, seen := cb.slots[s]; seen {
			continue
		}
		id, err := r.d.bindless.Lookup(s)
		if err != nil {
			if r.d.opts.validation {
				r.fail(err)
				return nil, r.err
			}
			continue
		}
		cb.slots[s] = backend.BindlessRef{Kind: id.Kind(), Index: s.Index}
	}
	return cb, nil
}
