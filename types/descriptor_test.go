package types

import (
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferDescriptorValidate(t *testing.T) {
	limits := gputypes.DefaultLimits()

	tests := []struct {
		name    string
		desc    BufferDescriptor
		wantErr bool
	}{
		{"uniform", BufferDescriptor{Size: 256, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst}, false},
		{"zero size", BufferDescriptor{Size: 0, Usage: gputypes.BufferUsageVertex}, true},
		{"no usage", BufferDescriptor{Size: 16}, true},
		{"too large", BufferDescriptor{Size: limits.MaxBufferSize + 1, Usage: gputypes.BufferUsageStorage}, true},
		{"readback", BufferDescriptor{Size: 64, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst}, false},
		{"map read with vertex", BufferDescriptor{Size: 64, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageVertex}, true},
		{"map write with copy src", BufferDescriptor{Size: 64, Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc}, false},
		{"mapped unaligned", BufferDescriptor{Size: 6, Usage: gputypes.BufferUsageVertex, MappedAtCreation: true}, true},
		{"unknown bits", BufferDescriptor{Size: 4, Usage: gputypes.BufferUsage(1 << 40)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate(limits)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDescriptor)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	var nilDesc *BufferDescriptor
	assert.ErrorIs(t, nilDesc.Validate(limits), ErrInvalidDescriptor)
}

func TestTextureDescriptorNormalized(t *testing.T) {
	d := TextureDescriptor{Width: 64, Height: 32, Format: gputypes.TextureFormatRGBA8Unorm}.Normalized()
	assert.Equal(t, uint32(1), d.DepthOrArrayLayers)
	assert.Equal(t, uint32(1), d.MipLevelCount)
	assert.Equal(t, uint32(1), d.SampleCount)
	assert.Equal(t, gputypes.TextureDimension2D, d.Dimension)
}

func TestTextureDescriptorValidate(t *testing.T) {
	limits := gputypes.DefaultLimits()
	base := TextureDescriptor{
		Width:  256,
		Height: 256,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}

	tests := []struct {
		name    string
		mutate  func(*TextureDescriptor)
		wantErr bool
	}{
		{"valid", func(*TextureDescriptor) {}, false},
		{"full mip chain", func(d *TextureDescriptor) { d.MipLevelCount = 9 }, false},
		{"mip chain too long", func(d *TextureDescriptor) { d.MipLevelCount = 10 }, true},
		{"zero width", func(d *TextureDescriptor) { d.Width = 0 }, true},
		{"undefined format", func(d *TextureDescriptor) { d.Format = gputypes.TextureFormatUndefined }, true},
		{"no usage", func(d *TextureDescriptor) { d.Usage = 0 }, true},
		{"too wide", func(d *TextureDescriptor) { d.Width = limits.MaxTextureDimension2D + 1 }, true},
		{"bad sample count", func(d *TextureDescriptor) { d.SampleCount = 3 }, true},
		{"msaa without attachment", func(d *TextureDescriptor) { d.SampleCount = 4 }, true},
		{"msaa attachment", func(d *TextureDescriptor) {
			d.SampleCount = 4
			d.Usage = gputypes.TextureUsageRenderAttachment
		}, false},
		{"1D with height", func(d *TextureDescriptor) { d.Dimension = gputypes.TextureDimension1D }, true},
		{"3D depth format", func(d *TextureDescriptor) {
			d.Dimension = gputypes.TextureDimension3D
			d.Format = gputypes.TextureFormatDepth24PlusStencil8
			d.Usage = gputypes.TextureUsageRenderAttachment
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			d = d.Normalized()
			err := d.Validate(limits)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDescriptor)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxMipLevels(t *testing.T) {
	assert.Equal(t, uint32(0), MaxMipLevels(0, 0, 0))
	assert.Equal(t, uint32(1), MaxMipLevels(1, 1, 1))
	assert.Equal(t, uint32(9), MaxMipLevels(256, 256, 1))
	assert.Equal(t, uint32(10), MaxMipLevels(512, 3, 1))
}

func TestSamplerDescriptorValidate(t *testing.T) {
	ok := SamplerDescriptor{LodMaxClamp: 32}
	require.NoError(t, ok.Validate())

	bad := SamplerDescriptor{LodMinClamp: 4, LodMaxClamp: 1}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidDescriptor)

	aniso := SamplerDescriptor{LodMaxClamp: 32, MaxAnisotropy: 8}
	assert.ErrorIs(t, aniso.Validate(), ErrInvalidDescriptor)

	aniso.MagFilter = gputypes.FilterModeLinear
	aniso.MinFilter = gputypes.FilterModeLinear
	aniso.MipmapFilter = gputypes.FilterModeLinear
	assert.NoError(t, aniso.Validate())
}

func TestBindGroupLayoutDescriptorValidate(t *testing.T) {
	limits := gputypes.DefaultLimits()
	uniform := &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}

	d := BindGroupLayoutDescriptor{Entries: []gputypes.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gputypes.ShaderStageVertex, Buffer: uniform},
		{Binding: 1, Visibility: gputypes.ShaderStageFragment, Sampler: &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}},
	}}
	require.NoError(t, d.Validate(limits))

	dup := BindGroupLayoutDescriptor{Entries: []gputypes.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gputypes.ShaderStageVertex, Buffer: uniform},
		{Binding: 0, Visibility: gputypes.ShaderStageVertex, Buffer: uniform},
	}}
	assert.ErrorIs(t, dup.Validate(limits), ErrInvalidDescriptor)

	none := BindGroupLayoutDescriptor{Entries: []gputypes.BindGroupLayoutEntry{{Binding: 0, Visibility: gputypes.ShaderStageVertex}}}
	assert.ErrorIs(t, none.Validate(limits), ErrInvalidDescriptor)

	invisible := BindGroupLayoutDescriptor{Entries: []gputypes.BindGroupLayoutEntry{{Binding: 0, Buffer: uniform}}}
	assert.ErrorIs(t, invisible.Validate(limits), ErrInvalidDescriptor)
}

func TestShaderSourceValidate(t *testing.T) {
	src := ShaderSource{Identity: "tri.vs", Stage: gputypes.ShaderStageVertex, EntryPoint: "vs_main", WGSL: "@vertex fn vs_main() {}"}
	require.NoError(t, src.Validate())

	both := src
	both.SPIRV = []uint32{0x07230203}
	assert.ErrorIs(t, both.Validate(), ErrInvalidDescriptor)

	multi := src
	multi.Stage = gputypes.ShaderStagesVertexFragment
	assert.ErrorIs(t, multi.Validate(), ErrInvalidDescriptor)

	anon := src
	anon.Identity = ""
	assert.ErrorIs(t, anon.Validate(), ErrInvalidDescriptor)

	other := src
	other.WGSL += "\n"
	assert.NotEqual(t, src.CodeHash(), other.CodeHash())
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange[uint64](8, 8, 16))
	assert.True(t, InRange[uint64](16, 0, 16))
	assert.False(t, InRange[uint64](12, 8, 16))
	assert.False(t, InRange[uint64](17, 0, 16))
	assert.False(t, InRange[uint64](math.MaxUint64-3, 8, 16))
	assert.False(t, InRange[uint32](math.MaxUint32, 2, 64))
	assert.True(t, InRange[uint32](56, 8, 64))
}
