package types

import (
	"math/bits"

	"github.com/gogpu/gputypes"
)

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage declares every way the buffer will be used.
	Usage gputypes.BufferUsage

	// MappedAtCreation requests CPU-visible contents at creation.
	// Size must be a multiple of 4.
	MappedAtCreation bool
}

// Validate checks the descriptor against the given limits.
func (d *BufferDescriptor) Validate(limits gputypes.Limits) error {
	if d == nil {
		return descriptorError("buffer", "descriptor is nil")
	}
	if d.Size == 0 {
		return descriptorError("buffer", "size is zero")
	}
	if limits.MaxBufferSize != 0 && d.Size > limits.MaxBufferSize {
		return descriptorError("buffer", "size %d exceeds limit %d", d.Size, limits.MaxBufferSize)
	}
	if d.Usage == 0 {
		return descriptorError("buffer", "usage is empty")
	}
	if d.Usage.ContainsUnknownBits() {
		return descriptorError("buffer", "usage has unknown bits %#x", uint64(d.Usage))
	}
	if d.Usage.Contains(gputypes.BufferUsageMapRead) &&
		d.Usage&^(gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst) != 0 {
		return descriptorError("buffer", "MapRead may only be combined with CopyDst")
	}
	if d.Usage.Contains(gputypes.BufferUsageMapWrite) &&
		d.Usage&^(gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc) != 0 {
		return descriptorError("buffer", "MapWrite may only be combined with CopySrc")
	}
	if d.MappedAtCreation && d.Size%4 != 0 {
		return descriptorError("buffer", "mapped size %d is not a multiple of 4", d.Size)
	}
	return nil
}

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Width, Height and DepthOrArrayLayers give the extent of mip level 0.
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32

	// MipLevelCount defaults to 1 when zero.
	MipLevelCount uint32

	// SampleCount defaults to 1 when zero. Only 1 and 4 are accepted.
	SampleCount uint32

	// Dimension defaults to 2D when undefined.
	Dimension gputypes.TextureDimension

	// Format is the texel format.
	Format gputypes.TextureFormat

	// Usage declares every way the texture will be used.
	Usage gputypes.TextureUsage
}

// Normalized returns a copy with zero fields replaced by their defaults.
func (d TextureDescriptor) Normalized() TextureDescriptor {
	if d.DepthOrArrayLayers == 0 {
		d.DepthOrArrayLayers = 1
	}
	if d.MipLevelCount == 0 {
		d.MipLevelCount = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	if d.Dimension == gputypes.TextureDimensionUndefined {
		d.Dimension = gputypes.TextureDimension2D
	}
	return d
}

// Validate checks a normalized descriptor against the given limits.
func (d *TextureDescriptor) Validate(limits gputypes.Limits) error {
	if d == nil {
		return descriptorError("texture", "descriptor is nil")
	}
	if d.Width == 0 || d.Height == 0 || d.DepthOrArrayLayers == 0 {
		return descriptorError("texture", "zero extent %dx%dx%d", d.Width, d.Height, d.DepthOrArrayLayers)
	}
	if d.Format == gputypes.TextureFormatUndefined {
		return descriptorError("texture", "format is undefined")
	}
	if d.Usage == 0 {
		return descriptorError("texture", "usage is empty")
	}

	var maxDim uint32
	switch d.Dimension {
	case gputypes.TextureDimension1D:
		maxDim = limits.MaxTextureDimension1D
		if d.Height != 1 {
			return descriptorError("texture", "1D texture height must be 1")
		}
	case gputypes.TextureDimension2D:
		maxDim = limits.MaxTextureDimension2D
		if limits.MaxTextureArrayLayers != 0 && d.DepthOrArrayLayers > limits.MaxTextureArrayLayers {
			return descriptorError("texture", "%d array layers exceeds limit %d", d.DepthOrArrayLayers, limits.MaxTextureArrayLayers)
		}
	case gputypes.TextureDimension3D:
		maxDim = limits.MaxTextureDimension3D
	default:
		return descriptorError("texture", "unknown dimension %d", d.Dimension)
	}
	if maxDim != 0 && (d.Width > maxDim || d.Height > maxDim) {
		return descriptorError("texture", "extent %dx%d exceeds limit %d", d.Width, d.Height, maxDim)
	}

	if d.MipLevelCount == 0 || d.MipLevelCount > MaxMipLevels(d.Width, d.Height, d.depth()) {
		return descriptorError("texture", "mip level count %d out of range", d.MipLevelCount)
	}

	switch d.SampleCount {
	case 1:
	case 4:
		if d.MipLevelCount != 1 || d.Dimension != gputypes.TextureDimension2D || d.DepthOrArrayLayers != 1 {
			return descriptorError("texture", "multisampled textures must be single-level single-layer 2D")
		}
		if d.Usage&gputypes.TextureUsageRenderAttachment == 0 {
			return descriptorError("texture", "multisampled textures must be render attachments")
		}
		if d.Usage&gputypes.TextureUsageStorageBinding != 0 {
			return descriptorError("texture", "multisampled textures cannot be storage bound")
		}
	default:
		return descriptorError("texture", "sample count %d unsupported", d.SampleCount)
	}

	if d.Format.IsDepthStencil() && d.Dimension != gputypes.TextureDimension2D {
		return descriptorError("texture", "depth formats require a 2D texture")
	}
	return nil
}

func (d *TextureDescriptor) depth() uint32 {
	if d.Dimension == gputypes.TextureDimension3D {
		return d.DepthOrArrayLayers
	}
	return 1
}

// MaxMipLevels returns the length of the full mip chain for an extent.
func MaxMipLevels(width, height, depth uint32) uint32 {
	m := max(width, height, depth)
	if m == 0 {
		return 0
	}
	return uint32(bits.Len32(m))
}

// SamplerDescriptor describes a sampler to create.
type SamplerDescriptor struct {
	Label string

	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode

	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode

	LodMinClamp float32
	LodMaxClamp float32

	// Compare makes this a comparison sampler when not undefined.
	Compare gputypes.CompareFunction

	// MaxAnisotropy is clamped to at least 1.
	MaxAnisotropy uint16
}

// Validate checks the sampler parameters.
func (d *SamplerDescriptor) Validate() error {
	if d == nil {
		return descriptorError("sampler", "descriptor is nil")
	}
	if d.LodMinClamp < 0 {
		return descriptorError("sampler", "negative lod min clamp %g", d.LodMinClamp)
	}
	if d.LodMaxClamp < d.LodMinClamp {
		return descriptorError("sampler", "lod max clamp %g below min %g", d.LodMaxClamp, d.LodMinClamp)
	}
	if d.MaxAnisotropy > 1 &&
		(d.MagFilter != gputypes.FilterModeLinear ||
			d.MinFilter != gputypes.FilterModeLinear ||
			d.MipmapFilter != gputypes.FilterModeLinear) {
		return descriptorError("sampler", "anisotropic filtering requires linear filters")
	}
	return nil
}

// BindGroupLayoutDescriptor describes a bind group layout.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []gputypes.BindGroupLayoutEntry
}

// Validate checks that bindings are unique and each entry declares exactly
// one binding type.
func (d *BindGroupLayoutDescriptor) Validate(limits gputypes.Limits) error {
	if d == nil {
		return descriptorError("bind group layout", "descriptor is nil")
	}
	if limits.MaxBindingsPerBindGroup != 0 && uint32(len(d.Entries)) > limits.MaxBindingsPerBindGroup {
		return descriptorError("bind group layout", "%d entries exceeds limit %d", len(d.Entries), limits.MaxBindingsPerBindGroup)
	}
	seen := make(map[uint32]struct{}, len(d.Entries))
	for i := range d.Entries {
		e := &d.Entries[i]
		if _, dup := seen[e.Binding]; dup {
			return descriptorError("bind group layout", "duplicate binding %d", e.Binding)
		}
		seen[e.Binding] = struct{}{}
		if e.Visibility == gputypes.ShaderStageNone {
			return descriptorError("bind group layout", "binding %d has no visibility", e.Binding)
		}
		n := 0
		if e.Buffer != nil {
			n++
		}
		if e.Sampler != nil {
			n++
		}
		if e.Texture != nil {
			n++
		}
		if e.StorageTexture != nil {
			n++
		}
		if n != 1 {
			return descriptorError("bind group layout", "binding %d declares %d binding types", e.Binding, n)
		}
	}
	return nil
}

// InRange reports whether [offset, offset+length) lies inside [0, size).
// It never overflows, so offsets near the top of the integer range fail.
func InRange[T ~uint32 | ~uint64](offset, length, size T) bool {
	return offset <= size && length <= size-offset
}
