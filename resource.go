package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/types"
)

// Descriptor and value types shared with the types package.
type (
	BufferDescriptor          = types.BufferDescriptor
	TextureDescriptor         = types.TextureDescriptor
	SamplerDescriptor         = types.SamplerDescriptor
	BindGroupLayoutDescriptor = types.BindGroupLayoutDescriptor
	ShaderSource              = types.ShaderSource
	DepthStencilState         = types.DepthStencilState
	ResourceState             = types.ResourceState
	BindlessSlot              = types.BindlessSlot
)

// =============================================================================
// Handle resolution
// =============================================================================

// lookup resolves h to its table entry. Foreign, stale and zero handles
// report ErrInvalidHandle; every handle reports the loss error once the
// device is lost.
func lookup[K Kind](d *Device, h Handle[K]) (*resource, error) {
	return d.resolve(h)
}

func (d *Device) resolve(h AnyHandle) (*resource, error) {
	id := h.ID()
	if id.IsZero() {
		return nil, handleErrorf("zero %s handle", id.Kind())
	}
	if h.device() != d.id {
		return nil, handleErrorf("%s belongs to another device", id)
	}
	if err := d.frames.Lost(); err != nil {
		return nil, err
	}
	r, ok := d.objects.Get(id)
	if !ok {
		return nil, handleErrorf("%s is destroyed or stale", id)
	}
	return r, nil
}

func insert[K Kind](d *Device, r *resource) Handle[K] {
	return Handle[K]{dev: d.id, id: d.objects.Insert(kindOf[K](), r)}
}

// destroy removes h from the table and releases its native object once
// every frame that may still reference it has completed.
func destroy[K Kind](d *Device, h Handle[K]) error {
	if err := d.check(); err != nil {
		return err
	}
	if _, err := lookup(d, h); err != nil {
		return err
	}
	r, ok := d.objects.Remove(h.id)
	if !ok {
		return handleErrorf("%s is destroyed or stale", h.id)
	}
	if h.id.Kind().Bindable() {
		d.bindless.forget(h.id)
	}
	d.frames.Defer(r.obj.Release)
	slogger().Debug("rhi: destroyed", "id", h.id)
	return nil
}

// =============================================================================
// Buffers
// =============================================================================

// CreateBuffer creates a buffer.
//
// Malformed descriptors return ErrInvalidDescriptor; allocation failure
// returns ErrOutOfMemory.
func (d *Device) CreateBuffer(desc BufferDescriptor) (Handle[Buffer], error) {
	if err := d.check(); err != nil {
		return Handle[Buffer]{}, err
	}
	if err := desc.Validate(d.info.Limits); err != nil {
		return Handle[Buffer]{}, fmt.Errorf("rhi: create buffer %q: %w", desc.Label, err)
	}
	obj, err := d.dev.CreateBuffer(&desc)
	if err != nil {
		return Handle[Buffer]{}, d.noteErr(fmt.Errorf("rhi: create buffer %q: %w", desc.Label, err))
	}
	h := insert[Buffer](d, &resource{obj: obj, desc: desc})
	slogger().Debug("rhi: buffer created", "id", h.id, "label", desc.Label, "size", desc.Size)
	return h, nil
}

// BufferInfo returns the descriptor the buffer was created with.
func (d *Device) BufferInfo(h Handle[Buffer]) (BufferDescriptor, error) {
	r, err := lookup(d, h)
	if err != nil {
		return BufferDescriptor{}, err
	}
	desc, _ := r.desc.(BufferDescriptor)
	return desc, nil
}

// DestroyBuffer destroys a buffer. Destroying it twice returns
// ErrInvalidHandle. A bindless slot held by the buffer is released.
func (d *Device) DestroyBuffer(h Handle[Buffer]) error { return destroy(d, h) }

// WriteBuffer copies data into the buffer at offset through the queue.
// The write is ordered before every frame submitted after it returns.
func (d *Device) WriteBuffer(h Handle[Buffer], offset uint64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	r, err := lookup(d, h)
	if err != nil {
		return err
	}
	desc, _ := r.desc.(BufferDescriptor)
	if !types.InRange(offset, uint64(len(data)), desc.Size) {
		return descriptorErrorf("write of %d bytes at %d overflows buffer %q of %d bytes",
			len(data), offset, desc.Label, desc.Size)
	}
	if err := d.dev.WriteBuffer(r.obj, offset, data); err != nil {
		return d.noteErr(fmt.Errorf("rhi: write buffer %q: %w", desc.Label, err))
	}
	return nil
}

// =============================================================================
// Textures
// =============================================================================

// CreateTexture creates a texture. Zero mip, sample and layer counts
// default to 1 and an undefined dimension defaults to 2D.
func (d *Device) CreateTexture(desc TextureDescriptor) (Handle[Texture], error) {
	if err := d.check(); err != nil {
		return Handle[Texture]{}, err
	}
	desc = desc.Normalized()
	if err := desc.Validate(d.info.Limits); err != nil {
		return Handle[Texture]{}, fmt.Errorf("rhi: create texture %q: %w", desc.Label, err)
	}
	obj, err := d.dev.CreateTexture(&desc)
	if err != nil {
		return Handle[Texture]{}, d.noteErr(fmt.Errorf("rhi: create texture %q: %w", desc.Label, err))
	}
	h := insert[Texture](d, &resource{obj: obj, desc: desc})
	slogger().Debug("rhi: texture created", "id", h.id, "label", desc.Label,
		"width", desc.Width, "height", desc.Height, "format", desc.Format)
	return h, nil
}

// TextureInfo returns the normalized descriptor of a texture.
func (d *Device) TextureInfo(h Handle[Texture]) (TextureDescriptor, error) {
	r, err := lookup(d, h)
	if err != nil {
		return TextureDescriptor{}, err
	}
	desc, _ := r.desc.(TextureDescriptor)
	return desc, nil
}

// DestroyTexture destroys a texture. Swapchain textures are returned with
// Surface.Present instead.
func (d *Device) DestroyTexture(h Handle[Texture]) error {
	if r, err := lookup(d, h); err == nil && r.surface != nil {
		return handleErrorf("%s is a swapchain texture; present it instead", h.id)
	}
	return destroy(d, h)
}

// =============================================================================
// Samplers and layouts
// =============================================================================

// CreateSampler creates a sampler.
func (d *Device) CreateSampler(desc SamplerDescriptor) (Handle[Sampler], error) {
	if err := d.check(); err != nil {
		return Handle[Sampler]{}, err
	}
	if err := desc.Validate(); err != nil {
		return Handle[Sampler]{}, fmt.Errorf("rhi: create sampler %q: %w", desc.Label, err)
	}
	obj, err := d.dev.CreateSampler(&desc)
	if err != nil {
		return Handle[Sampler]{}, d.noteErr(fmt.Errorf("rhi: create sampler %q: %w", desc.Label, err))
	}
	return insert[Sampler](d, &resource{obj: obj, desc: desc}), nil
}

// DestroySampler destroys a sampler.
func (d *Device) DestroySampler(h Handle[Sampler]) error { return destroy(d, h) }

// CreateBindGroupLayout creates a layout for caller-managed bind groups.
// Pipelines see caller layouts after the bindless groups.
func (d *Device) CreateBindGroupLayout(desc BindGroupLayoutDescriptor) (Handle[BindGroupLayout], error) {
	if err := d.check(); err != nil {
		return Handle[BindGroupLayout]{}, err
	}
	if err := desc.Validate(d.info.Limits); err != nil {
		return Handle[BindGroupLayout]{}, fmt.Errorf("rhi: create bind group layout %q: %w", desc.Label, err)
	}
	obj, err := d.dev.CreateBindGroupLayout(&desc)
	if err != nil {
		return Handle[BindGroupLayout]{}, d.noteErr(fmt.Errorf("rhi: create bind group layout %q: %w", desc.Label, err))
	}
	return insert[BindGroupLayout](d, &resource{obj: obj, desc: desc}), nil
}

// DestroyBindGroupLayout destroys a layout. Pipelines created with it keep
// working.
func (d *Device) DestroyBindGroupLayout(h Handle[BindGroupLayout]) error { return destroy(d, h) }
