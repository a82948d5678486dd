package rhi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triangleWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i) - 1.0;
    return vec4<f32>(x, 0.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

const fillWGSL = `
@compute @workgroup_size(64)
fn cs_main(@builtin(global_invocation_id) id: vec3<u32>) {
}
`

func triangleDesc(format gputypes.TextureFormat) *RenderPipelineDesc {
	return &RenderPipelineDesc{
		Label: "triangle",
		Vertex: ShaderSource{
			Identity:   "triangle.wgsl",
			Stage:      gputypes.ShaderStageVertex,
			EntryPoint: "vs_main",
			WGSL:       triangleWGSL,
		},
		Fragment: &ShaderSource{
			Identity:   "triangle.wgsl",
			Stage:      gputypes.ShaderStageFragment,
			EntryPoint: "fs_main",
			WGSL:       triangleWGSL,
		},
		Primitive: gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList},
		Targets:   []gputypes.ColorTargetState{{Format: format, WriteMask: gputypes.ColorWriteMaskAll}},
	}
}

func fillDesc() *ComputePipelineDesc {
	return &ComputePipelineDesc{
		Label: "fill",
		Shader: ShaderSource{
			Identity:   "fill.wgsl",
			Stage:      gputypes.ShaderStageCompute,
			EntryPoint: "cs_main",
			WGSL:       fillWGSL,
		},
	}
}

func TestPipelineKeyIgnoresLabel(t *testing.T) {
	a := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	b := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	b.Label = "other"
	assert.Equal(t, a.Key(), b.Key())

	c := triangleDesc(gputypes.TextureFormatRGBA8Unorm)
	assert.NotEqual(t, a.Key(), c.Key())

	d := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	d.Multisample.Count = 1
	assert.Equal(t, a.Key(), d.Key(), "zero and one sample counts are the same pipeline")

	m := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	m.Multisample.Mask = ^uint64(0)
	assert.Equal(t, a.Key(), m.Key(), "a zero mask enables every sample")
	m.Multisample.Mask = 1
	assert.NotEqual(t, a.Key(), m.Key())

	e := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	e.Primitive.CullMode = gputypes.CullModeBack
	assert.NotEqual(t, a.Key(), e.Key())

	assert.Len(t, a.Key().String(), 16)
	assert.NotEqual(t, fillDesc().Key(), a.Key())
}

func TestGetOrCreateConcurrentSingleCompile(t *testing.T) {
	d, fd := newTestDevice(t)
	fd.pipelineDelay = 20 * time.Millisecond

	const callers = 32
	handles := make([]Handle[Pipeline], callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := d.Pipelines().GetOrCreate(triangleDesc(gputypes.TextureFormatBGRA8Unorm))
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fd.count("render"))
	assert.Equal(t, 1, fd.count("shader"), "both stages share one module identity")
	for _, h := range handles[1:] {
		assert.Equal(t, handles[0], h)
	}
	stats := d.Pipelines().Stats()
	assert.Equal(t, uint64(1), stats.Creates)
	assert.Equal(t, 1, stats.Size)
}

func TestGetOrCreateHitAndLookup(t *testing.T) {
	d, fd := newTestDevice(t)
	desc := triangleDesc(gputypes.TextureFormatBGRA8Unorm)

	h1, err := d.Pipelines().GetOrCreate(desc)
	require.NoError(t, err)
	h2, err := d.Pipelines().GetOrCreate(desc)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, fd.count("render"))

	got, ok := d.Pipelines().Lookup(desc.Key())
	require.True(t, ok)
	assert.Equal(t, h1, got)

	stats := d.Pipelines().Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, d.Stats().PipelineHitRate, 1e-9)
}

func TestGetOrCreateDefaultMultisampleShared(t *testing.T) {
	d, fd := newTestDevice(t)
	implicit := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	explicit := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	explicit.Multisample = gputypes.MultisampleState{Count: 1, Mask: ^uint64(0)}

	a, err := d.Pipelines().GetOrCreate(implicit)
	require.NoError(t, err)
	b, err := d.Pipelines().GetOrCreate(explicit)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, fd.count("render"))
}

func TestGetOrCreateFailureNotCached(t *testing.T) {
	d, fd := newTestDevice(t)
	desc := triangleDesc(gputypes.TextureFormatBGRA8Unorm)

	fd.pipelineErr = errFakeCompile
	_, err := d.Pipelines().GetOrCreate(desc)
	require.ErrorIs(t, err, ErrPipelineCreation)
	require.ErrorIs(t, err, errFakeCompile)
	_, ok := d.Pipelines().Lookup(desc.Key())
	assert.False(t, ok)

	fd.pipelineErr = nil
	h, err := d.Pipelines().GetOrCreate(desc)
	require.NoError(t, err)
	assert.False(t, h.IsZero())
	assert.Equal(t, 1, fd.count("render"))
}

func TestGetOrCreateBadShader(t *testing.T) {
	d, fd := newTestDevice(t)
	desc := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	desc.Vertex.Identity = "broken.wgsl"
	desc.Vertex.WGSL = "@vertex fn vs_main( -> {"

	_, err := d.Pipelines().GetOrCreate(desc)
	require.ErrorIs(t, err, ErrPipelineCreation)
	assert.Zero(t, fd.count("shader"))

	desc = triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	desc.Vertex.EntryPoint = "missing"
	_, err = d.Pipelines().GetOrCreate(desc)
	require.ErrorIs(t, err, ErrPipelineCreation)
}

func TestGetOrCreateInvalidDescriptor(t *testing.T) {
	d, _ := newTestDevice(t)

	noFragment := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	noFragment.Fragment = nil
	noTargets := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	noTargets.Targets = nil
	wrongStage := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	wrongStage.Vertex.Stage = gputypes.ShaderStageFragment
	samples := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	samples.Multisample.Count = 3
	badDepth := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	badDepth.DepthStencil = &DepthStencilState{Format: gputypes.TextureFormatRGBA8Unorm}

	l, err := d.CreateBindGroupLayout(BindGroupLayoutDescriptor{Label: "l"})
	require.NoError(t, err)
	tooManyLayouts := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	tooManyLayouts.Layouts = []Handle[BindGroupLayout]{l, l, l}

	for name, desc := range map[string]*RenderPipelineDesc{
		"targets without fragment": noFragment,
		"no targets":               noTargets,
		"wrong stage":              wrongStage,
		"sample count":             samples,
		"color depth format":       badDepth,
		"too many layouts":         tooManyLayouts,
		"nil":                      nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := d.Pipelines().GetOrCreate(desc)
			require.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestPipelineWithDestroyedLayout(t *testing.T) {
	d, _ := newTestDevice(t)
	l, err := d.CreateBindGroupLayout(BindGroupLayoutDescriptor{Label: "l"})
	require.NoError(t, err)
	require.NoError(t, d.DestroyBindGroupLayout(l))

	desc := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	desc.Layouts = []Handle[BindGroupLayout]{l}
	_, err = d.Pipelines().GetOrCreate(desc)
	require.ErrorIs(t, err, ErrInvalidHandle)
}

func TestPipelineEvict(t *testing.T) {
	d, fd := newTestDevice(t)
	desc := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	h, err := d.Pipelines().GetOrCreate(desc)
	require.NoError(t, err)

	assert.True(t, d.Pipelines().Evict(desc.Key()))
	assert.False(t, d.Pipelines().Evict(desc.Key()))
	_, ok := d.Pipelines().Lookup(desc.Key())
	assert.False(t, ok)
	require.ErrorIs(t, d.DestroyPipeline(h), ErrInvalidHandle)

	h2, err := d.Pipelines().GetOrCreate(desc)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.Equal(t, 2, fd.count("render"))
}

func TestDestroyPipelineEvictsCache(t *testing.T) {
	d, _ := newTestDevice(t)
	desc := triangleDesc(gputypes.TextureFormatBGRA8Unorm)
	h, err := d.Pipelines().GetOrCreate(desc)
	require.NoError(t, err)

	require.NoError(t, d.DestroyPipeline(h))
	_, ok := d.Pipelines().Lookup(desc.Key())
	assert.False(t, ok)
}

func TestPipelineWarm(t *testing.T) {
	d, fd := newTestDevice(t)
	descs := []RenderPipelineDesc{
		*triangleDesc(gputypes.TextureFormatBGRA8Unorm),
		*triangleDesc(gputypes.TextureFormatRGBA8Unorm),
		*triangleDesc(gputypes.TextureFormatRGBA16Float),
	}
	require.NoError(t, d.Pipelines().Warm(context.Background(), descs))
	assert.Equal(t, 3, fd.count("render"))
	assert.Equal(t, 3, d.Pipelines().Stats().Size)

	fd.pipelineErr = errFakeCompile
	descs = append(descs, *triangleDesc(gputypes.TextureFormatRGBA32Float))
	require.ErrorIs(t, d.Pipelines().Warm(context.Background(), descs), ErrPipelineCreation)
}

func TestGetOrCreateCompute(t *testing.T) {
	d, fd := newTestDevice(t)
	h1, err := d.Pipelines().GetOrCreateCompute(fillDesc())
	require.NoError(t, err)
	h2, err := d.Pipelines().GetOrCreateCompute(fillDesc())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, fd.count("compute"))

	wrong := fillDesc()
	wrong.Shader.Stage = gputypes.ShaderStageVertex
	_, err = d.Pipelines().GetOrCreateCompute(wrong)
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestShaderModuleIdentityConflict(t *testing.T) {
	d, fd := newTestDevice(t)
	src := fillDesc().Shader

	m1, err := d.CreateShaderModule(src)
	require.NoError(t, err)
	m2, err := d.CreateShaderModule(src)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
	assert.Equal(t, 1, fd.count("shader"))

	changed := src
	changed.WGSL = fillWGSL + "\n// edited\n"
	_, err = d.CreateShaderModule(changed)
	require.ErrorIs(t, err, ErrPipelineCreation)

	require.NoError(t, d.DestroyShaderModule(m1))
	m3, err := d.CreateShaderModule(changed)
	require.NoError(t, err, "destroying the module frees its identity")
	assert.NotEqual(t, m1, m3)
}

func TestPipelinesOutliveTheirModules(t *testing.T) {
	d, _ := newTestDevice(t)
	p, err := d.Pipelines().GetOrCreateCompute(fillDesc())
	require.NoError(t, err)

	m, err := d.CreateShaderModule(fillDesc().Shader)
	require.NoError(t, err)
	require.NoError(t, d.DestroyShaderModule(m))

	got, err := d.Pipelines().GetOrCreateCompute(fillDesc())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
