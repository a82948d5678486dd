package halglue

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/command"
	"github.com/gogpu/rhi/types"
)

// Submit encodes every batch into its own command buffer and submits them
// in order with one queue submission.
func (d *Device) Submit(batches []backend.Batch) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return 0, fmt.Errorf("%w: submit after destroy", types.ErrDeviceLost)
	}

	oldHeap, err := d.heap.rebuild(d.dev)
	if err != nil {
		return 0, classify(err, types.ErrOutOfMemory)
	}
	if oldHeap != nil {
		// The replaced group may still be read by earlier submissions.
		d.deferLocked(func() { d.dev.DestroyBindGroup(oldHeap) })
	}

	args, err := d.newArgs(batches)
	if err != nil {
		return 0, err
	}

	encoders := make([]hal.CommandEncoder, 0, len(batches))
	cmds := make([]hal.CommandBuffer, 0, len(batches))
	release := func() {
		for _, cb := range cmds {
			d.dev.FreeCommandBuffer(cb)
		}
		for _, enc := range encoders {
			enc.Destroy()
		}
		args.release(d.dev)
	}

	block := uint32(0)
	for i := range batches {
		enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: batches[i].List.Label})
		if err != nil {
			release()
			return 0, classify(err, types.ErrOutOfMemory)
		}
		encoders = append(encoders, enc)
		cb, err := d.encode(enc, &batches[i], args, &block)
		if err != nil {
			release()
			return 0, err
		}
		cmds = append(cmds, cb)
	}

	index, err := d.queue.Submit(cmds)
	if err != nil {
		release()
		return 0, classify(err, types.ErrDeviceLost)
	}
	d.submitted = index
	d.pending = append(d.pending, pendingRelease{after: index, fn: release})
	slogger().Debug("halglue: submitted", "index", index, "batches", len(batches))
	return index, nil
}

// args is the per-submission uniform buffer holding BindResources indices.
type args struct {
	buf   hal.Buffer
	group hal.BindGroup
}

func (d *Device) newArgs(batches []backend.Batch) (*args, error) {
	data := d.argsData(batches)
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "rhi bindless args",
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, classify(err, types.ErrOutOfMemory)
	}
	a := &args{buf: buf}
	if err := d.queue.WriteBuffer(buf, 0, data); err != nil {
		a.release(d.dev)
		return nil, classify(err, types.ErrOutOfMemory)
	}
	a.group, err = d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "rhi bindless args",
		Layout: d.heap.argsLayout,
		Entries: []gputypes.BindGroupEntry{{
			Binding:  0,
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Size: argsBlockSize},
		}},
	})
	if err != nil {
		a.release(d.dev)
		return nil, classify(err, types.ErrOutOfMemory)
	}
	return a, nil
}

func (a *args) release(dev hal.Device) {
	if a == nil {
		return
	}
	if a.group != nil {
		dev.DestroyBindGroup(a.group)
	}
	dev.DestroyBuffer(a.buf)
}

// encoder state for one batch.
type encodeState struct {
	d     *Device
	batch *backend.Batch
	args  *args
	block *uint32

	// offset is the dynamic offset of the current BindResources block.
	offset uint32

	rp  hal.RenderPassEncoder
	cp  hal.ComputePassEncoder
	rpp *renderPipelineObj
	cpp *computePipelineObj
}

func (d *Device) encode(enc hal.CommandEncoder, b *backend.Batch, a *args, block *uint32) (hal.CommandBuffer, error) {
	if err := enc.BeginEncoding(b.List.Label); err != nil {
		return nil, classify(err, types.ErrOutOfMemory)
	}
	s := &encodeState{d: d, batch: b, args: a, block: block}
	for i, op := range b.List.Ops {
		if err := s.op(enc, op); err != nil {
			s.endPasses()
			enc.DiscardEncoding()
			return nil, fmt.Errorf("encode %q op %d (%T): %w", b.List.Label, i, op, err)
		}
	}
	s.endPasses()
	cb, err := enc.EndEncoding()
	if err != nil {
		return nil, classify(err, types.ErrOutOfMemory)
	}
	return cb, nil
}

func (s *encodeState) endPasses() {
	if s.cp != nil {
		s.cp.End()
		s.cp = nil
	}
	if s.rp != nil {
		s.rp.End()
		s.rp = nil
	}
}

func (s *encodeState) object(id types.ResourceID) (backend.Object, error) {
	obj, ok := s.batch.Objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v not in batch snapshot", types.ErrInvalidHandle, id)
	}
	return obj, nil
}

func (s *encodeState) buffer(id types.ResourceID) (*bufferObj, error) {
	obj, err := s.object(id)
	if err != nil {
		return nil, err
	}
	b, ok := obj.(*bufferObj)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a buffer", types.ErrInvalidHandle, id)
	}
	return b, nil
}

func (s *encodeState) texture(id types.ResourceID) (*textureObj, error) {
	obj, err := s.object(id)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*textureObj)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a texture", types.ErrInvalidHandle, id)
	}
	return t, nil
}

func (s *encodeState) groups() []uint32 { return []uint32{s.offset} }

// outsideOnly reports whether op is invalid inside a render pass.
func outsideOnly(op command.Op) bool {
	switch o := op.(type) {
	case *command.BeginRenderPass, *command.Dispatch, *command.CopyBuffer,
		*command.CopyBufferToTexture, *command.CopyTextureToBuffer, *command.Barrier:
		return true
	case *command.BindPipeline:
		return o.Compute
	default:
		return false
	}
}

// passOnly reports whether op is only valid inside a render pass.
func passOnly(op command.Op) bool {
	switch o := op.(type) {
	case *command.SetVertexBuffer, *command.SetIndexBuffer, *command.SetViewport,
		*command.SetScissor, *command.Draw, *command.DrawIndexed:
		return true
	case *command.BindPipeline:
		return !o.Compute
	default:
		return false
	}
}

func (s *encodeState) op(enc hal.CommandEncoder, op command.Op) error {
	if passOnly(op) && s.rp == nil {
		return fmt.Errorf("%w: %T outside render pass", types.ErrRecorderState, op)
	}
	if outsideOnly(op) && s.rp != nil {
		return fmt.Errorf("%w: %T inside render pass", types.ErrRecorderState, op)
	}
	switch o := op.(type) {
	case *command.BeginRenderPass:
		return s.beginRenderPass(enc, o)
	case *command.EndRenderPass:
		if s.rp != nil {
			s.rp.End()
			s.rp, s.rpp = nil, nil
		}
	case *command.BindPipeline:
		return s.bindPipeline(enc, o)
	case *command.BindResources:
		s.offset = *s.block * argsBlockSize
		*s.block++
		if s.rp != nil && s.rpp != nil {
			s.rp.SetBindGroup(1, s.args.group, s.groups())
		}
		if s.cp != nil && s.cpp != nil {
			s.cp.SetBindGroup(1, s.args.group, s.groups())
		}
	case *command.SetVertexBuffer:
		b, err := s.buffer(o.Buffer)
		if err != nil {
			return err
		}
		s.rp.SetVertexBuffer(o.Slot, b.buf, o.Offset)
	case *command.SetIndexBuffer:
		b, err := s.buffer(o.Buffer)
		if err != nil {
			return err
		}
		s.rp.SetIndexBuffer(b.buf, o.Format, o.Offset)
	case *command.SetViewport:
		s.rp.SetViewport(o.X, o.Y, o.Width, o.Height, o.MinDepth, o.MaxDepth)
	case *command.SetScissor:
		s.rp.SetScissorRect(o.X, o.Y, o.Width, o.Height)
	case *command.Draw:
		if s.rpp == nil {
			return fmt.Errorf("%w: draw without render pipeline", types.ErrRecorderState)
		}
		s.rp.Draw(o.VertexCount, o.InstanceCount, o.FirstVertex, o.FirstInstance)
	case *command.DrawIndexed:
		if s.rpp == nil {
			return fmt.Errorf("%w: draw without render pipeline", types.ErrRecorderState)
		}
		s.rp.DrawIndexed(o.IndexCount, o.InstanceCount, o.FirstIndex, o.BaseVertex, o.FirstInstance)
	case *command.Dispatch:
		if s.cpp == nil {
			return fmt.Errorf("%w: dispatch without compute pipeline", types.ErrRecorderState)
		}
		s.openComputePass(enc)
		s.cp.Dispatch(o.X, o.Y, o.Z)
	case *command.CopyBuffer:
		src, err := s.buffer(o.Src)
		if err != nil {
			return err
		}
		dst, err := s.buffer(o.Dst)
		if err != nil {
			return err
		}
		s.closeComputePass()
		enc.CopyBufferToBuffer(src.buf, dst.buf, []hal.BufferCopy{{
			SrcOffset: o.SrcOffset, DstOffset: o.DstOffset, Size: o.Size,
		}})
	case *command.CopyBufferToTexture:
		src, err := s.buffer(o.Src)
		if err != nil {
			return err
		}
		dst, err := s.texture(o.Dst)
		if err != nil {
			return err
		}
		s.closeComputePass()
		enc.CopyBufferToTexture(src.buf, dst.tex, []hal.BufferTextureCopy{textureCopy(dst.tex, o.Layout, o.Region)})
	case *command.CopyTextureToBuffer:
		src, err := s.texture(o.Src)
		if err != nil {
			return err
		}
		dst, err := s.buffer(o.Dst)
		if err != nil {
			return err
		}
		s.closeComputePass()
		enc.CopyTextureToBuffer(src.tex, dst.buf, []hal.BufferTextureCopy{textureCopy(src.tex, o.Layout, o.Region)})
	case *command.Barrier:
		return s.barrier(enc, o)
	default:
		return fmt.Errorf("%w: unknown op %T", types.ErrRecorderState, op)
	}
	return nil
}

func (s *encodeState) beginRenderPass(enc hal.CommandEncoder, o *command.BeginRenderPass) error {
	s.closeComputePass()
	desc := &hal.RenderPassDescriptor{
		Label:            o.Label,
		ColorAttachments: make([]hal.RenderPassColorAttachment, len(o.Color)),
	}
	for i, c := range o.Color {
		t, err := s.texture(c.Texture)
		if err != nil {
			return err
		}
		att := hal.RenderPassColorAttachment{
			View:       t.view,
			LoadOp:     c.Load,
			StoreOp:    c.Store,
			ClearValue: c.Clear,
		}
		if !c.Resolve.IsZero() {
			r, err := s.texture(c.Resolve)
			if err != nil {
				return err
			}
			att.ResolveTarget = r.view
		}
		desc.ColorAttachments[i] = att
	}
	if o.Depth != nil {
		t, err := s.texture(o.Depth.Texture)
		if err != nil {
			return err
		}
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              t.view,
			DepthLoadOp:       o.Depth.DepthLoad,
			DepthStoreOp:      o.Depth.DepthStore,
			DepthClearValue:   o.Depth.DepthClear,
			DepthReadOnly:     o.Depth.ReadOnly,
			StencilLoadOp:     o.Depth.StencilLoad,
			StencilStoreOp:    o.Depth.StencilStore,
			StencilClearValue: o.Depth.StencilClear,
			StencilReadOnly:   o.Depth.ReadOnly,
		}
	}
	s.rp = enc.BeginRenderPass(desc)
	s.rpp = nil
	return nil
}

func (s *encodeState) bindPipeline(enc hal.CommandEncoder, o *command.BindPipeline) error {
	obj, err := s.object(o.Pipeline)
	if err != nil {
		return err
	}
	if o.Compute {
		p, ok := obj.(*computePipelineObj)
		if !ok {
			return fmt.Errorf("%w: %v is not a compute pipeline", types.ErrInvalidHandle, o.Pipeline)
		}
		s.cpp = p
		s.openComputePass(enc)
		s.cp.SetPipeline(p.pipeline)
		s.setComputeGroups()
		return nil
	}
	p, ok := obj.(*renderPipelineObj)
	if !ok {
		return fmt.Errorf("%w: %v is not a render pipeline", types.ErrInvalidHandle, o.Pipeline)
	}
	s.rpp = p
	s.rp.SetPipeline(p.pipeline)
	s.rp.SetBindGroup(0, s.d.heap.group, nil)
	s.rp.SetBindGroup(1, s.args.group, s.groups())
	return nil
}

// openComputePass starts a compute pass for a run of dispatches, restoring
// the current pipeline and groups when a copy or barrier closed the last one.
func (s *encodeState) openComputePass(enc hal.CommandEncoder) {
	if s.cp != nil {
		return
	}
	s.cp = enc.BeginComputePass(&hal.ComputePassDescriptor{Label: s.batch.List.Label})
	if s.cpp != nil {
		s.cp.SetPipeline(s.cpp.pipeline)
		s.setComputeGroups()
	}
}

func (s *encodeState) setComputeGroups() {
	s.cp.SetBindGroup(0, s.d.heap.group, nil)
	s.cp.SetBindGroup(1, s.args.group, s.groups())
}

func (s *encodeState) closeComputePass() {
	if s.cp != nil {
		s.cp.End()
		s.cp = nil
	}
}

func (s *encodeState) barrier(enc hal.CommandEncoder, o *command.Barrier) error {
	obj, err := s.object(o.Resource)
	if err != nil {
		return err
	}
	switch r := obj.(type) {
	case *bufferObj:
		if s.d.traits.ElideBufferBarriers {
			return nil
		}
		s.closeComputePass()
		enc.TransitionBuffers([]hal.BufferBarrier{{
			Buffer: r.buf,
			Usage: hal.BufferUsageTransition{
				OldUsage: bufferUsage(o.From),
				NewUsage: bufferUsage(o.To),
			},
		}})
	case *textureObj:
		if s.d.traits.ElideTextureBarriers && o.To != types.StatePresent {
			return nil
		}
		s.closeComputePass()
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: r.tex,
			Range: hal.TextureRange{
				Aspect:          gputypes.TextureAspectAll,
				MipLevelCount:   r.desc.MipLevelCount,
				ArrayLayerCount: arrayLayers(&r.desc),
			},
			Usage: hal.TextureUsageTransition{
				OldUsage: textureUsage(o.From),
				NewUsage: textureUsage(o.To),
			},
		}})
	default:
		return fmt.Errorf("%w: barrier on %v", types.ErrInvalidHandle, o.Resource)
	}
	return nil
}

func textureCopy(tex hal.Texture, l command.BufferLayout, r command.TextureRegion) hal.BufferTextureCopy {
	return hal.BufferTextureCopy{
		BufferLayout: hal.ImageDataLayout{
			Offset:       l.Offset,
			BytesPerRow:  l.BytesPerRow,
			RowsPerImage: l.RowsPerImage,
		},
		TextureBase: hal.ImageCopyTexture{
			Texture:  tex,
			MipLevel: r.MipLevel,
			Origin:   hal.Origin3D{X: r.X, Y: r.Y, Z: r.Z},
			Aspect:   gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{
			Width:              r.Width,
			Height:             r.Height,
			DepthOrArrayLayers: max(r.DepthOrArrayLayers, 1),
		},
	}
}
