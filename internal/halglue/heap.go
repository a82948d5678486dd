package halglue

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/command"
	"github.com/gogpu/rhi/types"
)

// argsBlockSize is the stride between BindResources records in the
// per-submission args buffer. It matches the largest dynamic offset
// alignment any adapter requires.
const argsBlockSize = 256

const allStages = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment | gputypes.ShaderStageCompute

// heap is bind group 0: every bindless slot of every class, with
// placeholder resources in empty slots.
type heap struct {
	capacity   uint32
	layout     hal.BindGroupLayout
	argsLayout hal.BindGroupLayout

	dummyBuf     hal.Buffer
	dummyTex     hal.Texture
	dummyView    hal.TextureView
	dummySampler hal.Sampler

	entries []gputypes.BindGroupEntry
	group   hal.BindGroup
	dirty   bool
}

func newHeap(dev hal.Device, capacity uint32) (h *heap, err error) {
	h = &heap{capacity: capacity, dirty: true}
	defer func() {
		if err != nil {
			h.destroy(dev)
		}
	}()

	layoutEntries := make([]gputypes.BindGroupLayoutEntry, 0, heapClasses*capacity)
	for i := range capacity {
		layoutEntries = append(layoutEntries, gputypes.BindGroupLayoutEntry{
			Binding:    i,
			Visibility: allStages,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
	}
	for i := range capacity {
		layoutEntries = append(layoutEntries, gputypes.BindGroupLayoutEntry{
			Binding:    capacity + i,
			Visibility: allStages,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		})
	}
	for i := range capacity {
		layoutEntries = append(layoutEntries, gputypes.BindGroupLayoutEntry{
			Binding:    2*capacity + i,
			Visibility: allStages,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		})
	}
	for i := range capacity {
		layoutEntries = append(layoutEntries, gputypes.BindGroupLayoutEntry{
			Binding:    uniformBinding(i, capacity),
			Visibility: allStages,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
	}
	if h.layout, err = dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "rhi bindless heap",
		Entries: layoutEntries,
	}); err != nil {
		return h, err
	}
	if h.argsLayout, err = dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "rhi bindless args",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: allStages,
			Buffer: &gputypes.BufferBindingLayout{
				Type:             gputypes.BufferBindingTypeUniform,
				HasDynamicOffset: true,
				MinBindingSize:   argsBlockSize,
			},
		}},
	}); err != nil {
		return h, err
	}

	if h.dummyBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "rhi bindless placeholder",
		Size:  argsBlockSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageUniform,
	}); err != nil {
		return h, err
	}
	if h.dummyTex, err = dev.CreateTexture(&hal.TextureDescriptor{
		Label:         "rhi bindless placeholder",
		Size:          hal.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding,
	}); err != nil {
		return h, err
	}
	if h.dummyView, err = dev.CreateTextureView(h.dummyTex, &hal.TextureViewDescriptor{
		Format:          gputypes.TextureFormatRGBA8Unorm,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	}); err != nil {
		return h, err
	}
	if h.dummySampler, err = dev.CreateSampler(&hal.SamplerDescriptor{
		Label:       "rhi bindless placeholder",
		MagFilter:   gputypes.FilterModeLinear,
		MinFilter:   gputypes.FilterModeLinear,
		LodMaxClamp: 32,
		Anisotropy:  1,
	}); err != nil {
		return h, err
	}

	h.entries = make([]gputypes.BindGroupEntry, heapClasses*capacity)
	for b := range h.entries {
		h.entries[b] = gputypes.BindGroupEntry{Binding: uint32(b)} //nolint:gosec // G115: bounded by heapClasses*capacity
		h.clear(uint32(b))                                          //nolint:gosec // G115: bounded by heapClasses*capacity
	}
	return h, nil
}

// clear puts the placeholder of the binding's class at binding.
func (h *heap) clear(binding uint32) {
	switch binding / h.capacity {
	case 0, uniformBase:
		h.entries[binding].Resource = gputypes.BufferBinding{Buffer: h.dummyBuf.NativeHandle(), Size: argsBlockSize}
	case 1:
		h.entries[binding].Resource = gputypes.TextureViewBinding{TextureView: h.dummyView.NativeHandle()}
	default:
		h.entries[binding].Resource = gputypes.SamplerBinding{Sampler: h.dummySampler.NativeHandle()}
	}
	h.dirty = true
}

// rebuild creates a new heap group when slots changed since the last one.
// It returns the group it replaced, which the caller must release once
// every submission that used it has completed.
func (h *heap) rebuild(dev hal.Device) (old hal.BindGroup, err error) {
	if !h.dirty && h.group != nil {
		return nil, nil
	}
	g, err := dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "rhi bindless heap",
		Layout:  h.layout,
		Entries: h.entries,
	})
	if err != nil {
		return nil, err
	}
	old, h.group, h.dirty = h.group, g, false
	return old, nil
}

func (h *heap) destroy(dev hal.Device) {
	if h.group != nil {
		dev.DestroyBindGroup(h.group)
	}
	if h.dummySampler != nil {
		dev.DestroySampler(h.dummySampler)
	}
	if h.dummyView != nil {
		dev.DestroyTextureView(h.dummyView)
	}
	if h.dummyTex != nil {
		dev.DestroyTexture(h.dummyTex)
	}
	if h.dummyBuf != nil {
		dev.DestroyBuffer(h.dummyBuf)
	}
	if h.argsLayout != nil {
		dev.DestroyBindGroupLayout(h.argsLayout)
	}
	if h.layout != nil {
		dev.DestroyBindGroupLayout(h.layout)
	}
}

// BindlessSet places obj in the heap slot index of kind.
func (d *Device) BindlessSet(kind types.ResourceKind, index uint32, obj backend.Object) error {
	binding, ok := heapBinding(kind, index, d.capacity)
	if !ok {
		return fmt.Errorf("%w: bindless %s slot %d outside heap of %d", types.ErrInvalidHandle, kind, index, d.capacity)
	}

	// The buffer range not chosen keeps its placeholder.
	mirror := uint32(0)
	hasMirror := false

	var res gputypes.BindingResource
	switch o := obj.(type) {
	case *bufferObj:
		if kind != types.KindBuffer {
			return fmt.Errorf("%w: bindless: buffer placed in %s range", types.ErrInvalidDescriptor, kind)
		}
		switch {
		case o.usage&gputypes.BufferUsageStorage != 0:
			mirror, hasMirror = uniformBinding(index, d.capacity), true
		case o.usage&gputypes.BufferUsageUniform != 0:
			if limit := d.info.Limits.MaxUniformBufferBindingSize; limit != 0 && o.size > limit {
				return fmt.Errorf("%w: bindless uniform buffer of %d bytes exceeds %d",
					types.ErrInvalidDescriptor, o.size, limit)
			}
			mirror, hasMirror = binding, true
			binding = uniformBinding(index, d.capacity)
		default:
			return fmt.Errorf("%w: bindless buffers need storage or uniform usage", types.ErrInvalidDescriptor)
		}
		res = gputypes.BufferBinding{Buffer: o.buf.NativeHandle(), Size: o.size}
	case *textureObj:
		if kind != types.KindTexture {
			return fmt.Errorf("%w: bindless: texture placed in %s range", types.ErrInvalidDescriptor, kind)
		}
		if o.desc.Usage&gputypes.TextureUsageTextureBinding == 0 || o.desc.SampleCount > 1 ||
			viewDimension(&o.desc) != gputypes.TextureViewDimension2D {
			return fmt.Errorf("%w: bindless textures must be sampled single-sample 2D", types.ErrInvalidDescriptor)
		}
		res = gputypes.TextureViewBinding{TextureView: o.view.NativeHandle()}
	case *samplerObj:
		if kind != types.KindSampler {
			return fmt.Errorf("%w: bindless: sampler placed in %s range", types.ErrInvalidDescriptor, kind)
		}
		res = gputypes.SamplerBinding{Sampler: o.sampler.NativeHandle()}
	default:
		return fmt.Errorf("%w: bindless: %T is not bindable", types.ErrInvalidHandle, obj)
	}

	d.mu.Lock()
	d.heap.entries[binding].Resource = res
	if hasMirror {
		d.heap.clear(mirror)
	}
	d.heap.dirty = true
	d.mu.Unlock()
	return nil
}

// BindlessClear resets the heap slot index of kind to its placeholder.
func (d *Device) BindlessClear(kind types.ResourceKind, index uint32) {
	binding, ok := heapBinding(kind, index, d.capacity)
	if !ok {
		return
	}
	d.mu.Lock()
	d.heap.clear(binding)
	if kind == types.KindBuffer {
		d.heap.clear(uniformBinding(index, d.capacity))
	}
	d.mu.Unlock()
}

// argsData packs the native indices of every BindResources op in batches,
// one block per op, in submission order. Slots the batch could not resolve
// are written as ^0 so shaders read a sentinel rather than a live slot.
func (d *Device) argsData(batches []backend.Batch) []byte {
	n := 0
	for i := range batches {
		for _, op := range batches[i].List.Ops {
			if _, ok := op.(*command.BindResources); ok {
				n++
			}
		}
	}
	data := make([]byte, max(n, 1)*argsBlockSize)
	block := 0
	for i := range batches {
		for _, op := range batches[i].List.Ops {
			br, ok := op.(*command.BindResources)
			if !ok {
				continue
			}
			base := block * argsBlockSize
			for j, slot := range br.Slots[:min(len(br.Slots), command.MaxBoundSlots)] {
				v := ^uint32(0)
				if ref, ok := batches[i].Slots[slot]; ok {
					v = d.traits.NativeIndex(ref.Kind, ref.Index, d.capacity)
				}
				binary.LittleEndian.PutUint32(data[base+4*j:], v)
			}
			block++
		}
	}
	return data
}
