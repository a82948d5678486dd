package halglue

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/types"
)

// =============================================================================
// Native objects
// =============================================================================

type bufferObj struct {
	dev   hal.Device
	buf   hal.Buffer
	size  uint64
	usage gputypes.BufferUsage
}

func (o *bufferObj) Release() { o.dev.DestroyBuffer(o.buf) }

// textureObj pairs a texture with its default view. Surface textures are
// owned by the swapchain; only their view is released here.
type textureObj struct {
	dev     hal.Device
	tex     hal.Texture
	view    hal.TextureView
	desc    types.TextureDescriptor
	surface hal.SurfaceTexture
}

func (o *textureObj) Release() {
	if o.view != nil {
		o.dev.DestroyTextureView(o.view)
	}
	if o.surface == nil {
		o.dev.DestroyTexture(o.tex)
	}
}

type samplerObj struct {
	dev     hal.Device
	sampler hal.Sampler
}

func (o *samplerObj) Release() { o.dev.DestroySampler(o.sampler) }

type layoutObj struct {
	dev    hal.Device
	layout hal.BindGroupLayout
}

func (o *layoutObj) Release() { o.dev.DestroyBindGroupLayout(o.layout) }

type shaderObj struct {
	dev    hal.Device
	module hal.ShaderModule
}

func (o *shaderObj) Release() { o.dev.DestroyShaderModule(o.module) }

type renderPipelineObj struct {
	dev      hal.Device
	pipeline hal.RenderPipeline
	layout   hal.PipelineLayout
}

func (o *renderPipelineObj) Release() {
	o.dev.DestroyRenderPipeline(o.pipeline)
	o.dev.DestroyPipelineLayout(o.layout)
}

type computePipelineObj struct {
	dev      hal.Device
	pipeline hal.ComputePipeline
	layout   hal.PipelineLayout
}

func (o *computePipelineObj) Release() {
	o.dev.DestroyComputePipeline(o.pipeline)
	o.dev.DestroyPipelineLayout(o.layout)
}

// =============================================================================
// Creation
// =============================================================================

// CreateBuffer creates a buffer.
func (d *Device) CreateBuffer(desc *types.BufferDescriptor) (backend.Object, error) {
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            desc.Usage,
		MappedAtCreation: desc.MappedAtCreation,
	})
	if err != nil {
		return nil, classify(err, types.ErrOutOfMemory)
	}
	slogger().Debug("halglue: buffer created", "label", desc.Label, "size", desc.Size)
	return &bufferObj{dev: d.dev, buf: buf, size: desc.Size, usage: desc.Usage}, nil
}

// CreateTexture creates a texture and its default view.
func (d *Device) CreateTexture(desc *types.TextureDescriptor) (backend.Object, error) {
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: desc.DepthOrArrayLayers,
		},
		MipLevelCount: desc.MipLevelCount,
		SampleCount:   desc.SampleCount,
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, classify(err, types.ErrOutOfMemory)
	}
	view, err := d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          desc.Format,
		Dimension:       viewDimension(desc),
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   desc.MipLevelCount,
		ArrayLayerCount: arrayLayers(desc),
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return nil, classify(err, types.ErrOutOfMemory)
	}
	slogger().Debug("halglue: texture created", "label", desc.Label,
		"width", desc.Width, "height", desc.Height, "format", desc.Format)
	return &textureObj{dev: d.dev, tex: tex, view: view, desc: *desc}, nil
}

// CreateSampler creates a sampler.
func (d *Device) CreateSampler(desc *types.SamplerDescriptor) (backend.Object, error) {
	s, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipmapFilter,
		LodMinClamp:  desc.LodMinClamp,
		LodMaxClamp:  desc.LodMaxClamp,
		Compare:      desc.Compare,
		Anisotropy:   max(desc.MaxAnisotropy, 1),
	})
	if err != nil {
		return nil, classify(err, types.ErrOutOfMemory)
	}
	return &samplerObj{dev: d.dev, sampler: s}, nil
}

// CreateBindGroupLayout creates a caller bind group layout.
func (d *Device) CreateBindGroupLayout(desc *types.BindGroupLayoutDescriptor) (backend.Object, error) {
	l, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: desc.Entries,
	})
	if err != nil {
		return nil, classify(err, types.ErrInvalidDescriptor)
	}
	return &layoutObj{dev: d.dev, layout: l}, nil
}

// CreateShaderModule creates a shader module. SPIR-V is used when the
// backend accepts it; otherwise the WGSL source is required.
func (d *Device) CreateShaderModule(src *types.ShaderSource) (backend.Object, error) {
	var hs hal.ShaderSource
	switch {
	case len(src.SPIRV) > 0 && d.traits.AcceptsSPIRV:
		hs.SPIRV = src.SPIRV
	case src.WGSL != "":
		hs.WGSL = src.WGSL
	default:
		return nil, fmt.Errorf("%w: shader %q: %s does not accept SPIR-V and no WGSL was given",
			types.ErrPipelineCreation, src.Identity, d.traits.Name)
	}
	m, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: src.Identity, Source: hs})
	if err != nil {
		return nil, classify(err, types.ErrPipelineCreation)
	}
	return &shaderObj{dev: d.dev, module: m}, nil
}

// pipelineLayout prepends the heap and args layouts to the caller layouts.
func (d *Device) pipelineLayout(label string, layouts []backend.Object) (hal.PipelineLayout, error) {
	groups := make([]hal.BindGroupLayout, 0, 2+len(layouts))
	groups = append(groups, d.heap.layout, d.heap.argsLayout)
	for i, obj := range layouts {
		l, ok := obj.(*layoutObj)
		if !ok {
			return nil, fmt.Errorf("%w: pipeline %q: layout %d is not a bind group layout", types.ErrInvalidHandle, label, i)
		}
		groups = append(groups, l.layout)
	}
	pl, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: groups,
	})
	if err != nil {
		return nil, classify(err, types.ErrPipelineCreation)
	}
	return pl, nil
}

func shaderModule(obj backend.Object, label string) (hal.ShaderModule, error) {
	s, ok := obj.(*shaderObj)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %q: not a shader module", types.ErrInvalidHandle, label)
	}
	return s.module, nil
}

// CreateRenderPipeline creates a render pipeline and its layout.
func (d *Device) CreateRenderPipeline(desc *backend.RenderPipelineDesc) (backend.Object, error) {
	vs, err := shaderModule(desc.Vertex, desc.Label)
	if err != nil {
		return nil, err
	}
	var frag *hal.FragmentState
	if desc.Fragment != nil {
		fs, err := shaderModule(desc.Fragment, desc.Label)
		if err != nil {
			return nil, err
		}
		frag = &hal.FragmentState{Module: fs, EntryPoint: desc.FragmentEntry, Targets: desc.Targets}
	}
	var ds *hal.DepthStencilState
	if desc.DepthStencil != nil {
		ds = &hal.DepthStencilState{
			Format:              desc.DepthStencil.Format,
			DepthWriteEnabled:   desc.DepthStencil.DepthWriteEnabled,
			DepthCompare:        desc.DepthStencil.DepthCompare,
			StencilFront:        hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
			StencilBack:         hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways},
			DepthBias:           desc.DepthStencil.DepthBias,
			DepthBiasSlopeScale: desc.DepthStencil.DepthBiasSlopeScale,
			DepthBiasClamp:      desc.DepthStencil.DepthBiasClamp,
		}
	}

	layout, err := d.pipelineLayout(desc.Label, desc.Layouts)
	if err != nil {
		return nil, err
	}
	p, err := d.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:        desc.Label,
		Layout:       layout,
		Vertex:       hal.VertexState{Module: vs, EntryPoint: desc.VertexEntry, Buffers: desc.VertexBuffers},
		Primitive:    desc.Primitive,
		DepthStencil: ds,
		Multisample:  desc.Multisample,
		Fragment:     frag,
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(layout)
		return nil, classify(err, types.ErrPipelineCreation)
	}
	slogger().Debug("halglue: render pipeline created", "label", desc.Label)
	return &renderPipelineObj{dev: d.dev, pipeline: p, layout: layout}, nil
}

// CreateComputePipeline creates a compute pipeline and its layout.
func (d *Device) CreateComputePipeline(desc *backend.ComputePipelineDesc) (backend.Object, error) {
	cs, err := shaderModule(desc.Module, desc.Label)
	if err != nil {
		return nil, err
	}
	layout, err := d.pipelineLayout(desc.Label, desc.Layouts)
	if err != nil {
		return nil, err
	}
	p, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Compute: hal.ComputeState{Module: cs, EntryPoint: desc.Entry, ZeroInitializeWorkgroupMemory: true},
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(layout)
		return nil, classify(err, types.ErrPipelineCreation)
	}
	slogger().Debug("halglue: compute pipeline created", "label", desc.Label)
	return &computePipelineObj{dev: d.dev, pipeline: p, layout: layout}, nil
}
