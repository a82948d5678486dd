package rhi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/fnv"
	"math"
	"runtime"
	"strconv"

	"github.com/gogpu/gputypes"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/internal/pipecache"
	"github.com/gogpu/rhi/internal/shader"
)

// reservedBindGroups is the number of bind groups the backends claim ahead
// of caller layouts: the bindless heap and the per-draw slot arguments.
const reservedBindGroups = 2

// PipelineKey is a content hash of everything that determines a compiled
// pipeline: shader identities and entry points, vertex layout, raster,
// depth, multisample and blend state, target formats and layouts.
// Debug labels do not take part.
type PipelineKey uint64

// String returns the key as 16 hex digits.
func (k PipelineKey) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// RenderPipelineDesc describes a render pipeline.
type RenderPipelineDesc struct {
	Label string

	Vertex ShaderSource

	// Fragment is nil for depth-only pipelines.
	Fragment *ShaderSource

	VertexBuffers []gputypes.VertexBufferLayout
	Primitive     gputypes.PrimitiveState
	DepthStencil  *DepthStencilState

	// Multisample.Count defaults to 1 when zero.
	Multisample gputypes.MultisampleState

	Targets []gputypes.ColorTargetState

	// Layouts are bind groups the caller manages itself. They follow the
	// bindless groups, so group i here is group i+2 in the shader.
	Layouts []Handle[BindGroupLayout]
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label   string
	Shader  ShaderSource
	Layouts []Handle[BindGroupLayout]
}

// =============================================================================
// Keys
// =============================================================================

// Key returns the pipeline key of desc.
func (desc *RenderPipelineDesc) Key() PipelineKey {
	h := fnv.New64a()
	hashWriteString(h, "render")

	hashWriteString(h, desc.Vertex.Identity)
	hashWriteString(h, desc.Vertex.EntryPoint)
	if desc.Fragment != nil {
		hashWriteBool(h, true)
		hashWriteString(h, desc.Fragment.Identity)
		hashWriteString(h, desc.Fragment.EntryPoint)
	} else {
		hashWriteBool(h, false)
	}

	//nolint:gosec // G115: vertex buffer and attribute counts are bounded by device limits
	hashWriteUint32(h, uint32(len(desc.VertexBuffers)))
	for _, vb := range desc.VertexBuffers {
		hashWriteUint64(h, vb.ArrayStride)
		hashWriteUint32(h, uint32(vb.StepMode))
		hashWriteUint32(h, uint32(len(vb.Attributes))) //nolint:gosec // G115: see above
		for _, a := range vb.Attributes {
			hashWriteUint32(h, uint32(a.Format))
			hashWriteUint64(h, a.Offset)
			hashWriteUint32(h, a.ShaderLocation)
		}
	}

	p := desc.Primitive
	hashWriteUint32(h, uint32(p.Topology))
	if p.StripIndexFormat != nil {
		hashWriteUint32(h, uint32(*p.StripIndexFormat))
	} else {
		hashWriteUint32(h, 0)
	}
	hashWriteUint32(h, uint32(p.FrontFace))
	hashWriteUint32(h, uint32(p.CullMode))
	hashWriteBool(h, p.UnclippedDepth)

	if ds := desc.DepthStencil; ds != nil {
		hashWriteBool(h, true)
		hashWriteUint32(h, uint32(ds.Format))
		hashWriteBool(h, ds.DepthWriteEnabled)
		hashWriteUint32(h, uint32(ds.DepthCompare))
		hashWriteUint32(h, uint32(ds.DepthBias)) //nolint:gosec // G115: bit pattern only
		hashWriteUint32(h, math.Float32bits(ds.DepthBiasSlopeScale))
		hashWriteUint32(h, math.Float32bits(ds.DepthBiasClamp))
	} else {
		hashWriteBool(h, false)
	}

	ms := normalizeMultisample(desc.Multisample)
	hashWriteUint32(h, ms.Count)
	hashWriteUint64(h, ms.Mask)
	hashWriteBool(h, desc.Multisample.AlphaToCoverageEnabled)

	//nolint:gosec // G115: color target count is bounded by device limits
	hashWriteUint32(h, uint32(len(desc.Targets)))
	for _, t := range desc.Targets {
		hashWriteUint32(h, uint32(t.Format))
		hashWriteUint32(h, uint32(t.WriteMask))
		if b := t.Blend; b != nil {
			hashWriteBool(h, true)
			for _, c := range []gputypes.BlendComponent{b.Color, b.Alpha} {
				hashWriteUint32(h, uint32(c.SrcFactor))
				hashWriteUint32(h, uint32(c.DstFactor))
				hashWriteUint32(h, uint32(c.Operation))
			}
		} else {
			hashWriteBool(h, false)
		}
	}

	hashLayouts(h, desc.Layouts)
	return PipelineKey(h.Sum64())
}

// normalizeMultisample applies the defaults for a zero count and mask.
func normalizeMultisample(ms gputypes.MultisampleState) gputypes.MultisampleState {
	ms.Count = max(ms.Count, 1)
	if ms.Mask == 0 {
		ms.Mask = ^uint64(0)
	}
	return ms
}

// Key returns the pipeline key of desc.
func (desc *ComputePipelineDesc) Key() PipelineKey {
	h := fnv.New64a()
	hashWriteString(h, "compute")
	hashWriteString(h, desc.Shader.Identity)
	hashWriteString(h, desc.Shader.EntryPoint)
	hashLayouts(h, desc.Layouts)
	return PipelineKey(h.Sum64())
}

func hashLayouts(h hash.Hash64, layouts []Handle[BindGroupLayout]) {
	//nolint:gosec // G115: bind group count is bounded by device limits
	hashWriteUint32(h, uint32(len(layouts)))
	for _, l := range layouts {
		hashWriteUint32(h, l.dev)
		hashWriteUint64(h, uint64(l.id))
	}
}

// hashWriteUint32 writes a uint32 to the hash.
func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteUint64 writes a uint64 to the hash.
func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteString writes a length-prefixed string to the hash.
//
//nolint:gosec // G115: identities and entry point names are short
func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}

// hashWriteBool writes a bool to the hash.
func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}

// =============================================================================
// Validation
// =============================================================================

func (desc *RenderPipelineDesc) validate(limits gputypes.Limits) error {
	if desc.Vertex.Stage != gputypes.ShaderStageVertex {
		return descriptorErrorf("pipeline %q: vertex shader %q has stage %v", desc.Label, desc.Vertex.Identity, desc.Vertex.Stage)
	}
	if desc.Fragment != nil && desc.Fragment.Stage != gputypes.ShaderStageFragment {
		return descriptorErrorf("pipeline %q: fragment shader %q has stage %v", desc.Label, desc.Fragment.Identity, desc.Fragment.Stage)
	}
	if len(desc.Targets) > 0 && desc.Fragment == nil {
		return descriptorErrorf("pipeline %q: color targets without a fragment shader", desc.Label)
	}
	if len(desc.Targets) == 0 && desc.DepthStencil == nil {
		return descriptorErrorf("pipeline %q: no color target and no depth state", desc.Label)
	}
	if limits.MaxColorAttachments != 0 && uint32(len(desc.Targets)) > limits.MaxColorAttachments { //nolint:gosec // G115: slice length
		return descriptorErrorf("pipeline %q: %d color targets exceeds limit %d", desc.Label, len(desc.Targets), limits.MaxColorAttachments)
	}
	for i, t := range desc.Targets {
		if t.Format == gputypes.TextureFormatUndefined {
			return descriptorErrorf("pipeline %q: target %d format is undefined", desc.Label, i)
		}
	}
	if ds := desc.DepthStencil; ds != nil && !ds.Format.IsDepthStencil() {
		return descriptorErrorf("pipeline %q: depth format %v is not a depth format", desc.Label, ds.Format)
	}
	switch desc.Multisample.Count {
	case 0, 1, 4:
	default:
		return descriptorErrorf("pipeline %q: sample count %d unsupported", desc.Label, desc.Multisample.Count)
	}
	return validateLayoutCount(desc.Label, len(desc.Layouts), limits)
}

func (desc *ComputePipelineDesc) validate(limits gputypes.Limits) error {
	if desc.Shader.Stage != gputypes.ShaderStageCompute {
		return descriptorErrorf("pipeline %q: compute shader %q has stage %v", desc.Label, desc.Shader.Identity, desc.Shader.Stage)
	}
	return validateLayoutCount(desc.Label, len(desc.Layouts), limits)
}

func validateLayoutCount(label string, n int, limits gputypes.Limits) error {
	if limits.MaxBindGroups != 0 && uint32(n+reservedBindGroups) > limits.MaxBindGroups { //nolint:gosec // G115: small count
		return descriptorErrorf("pipeline %q: %d layouts plus %d bindless groups exceeds limit %d",
			label, n, reservedBindGroups, limits.MaxBindGroups)
	}
	return nil
}

// =============================================================================
// Cache
// =============================================================================

// PipelineStats is a snapshot of pipeline cache counters.
type PipelineStats = pipecache.Stats

// Pipelines is the Device's pipeline cache. Pipelines live until evicted or
// until the Device closes.
//
// Concurrent misses on one key collapse into a single backend compile;
// every caller receives the same Handle. Failed compiles are not cached.
type Pipelines struct {
	d       *Device
	cache   *pipecache.Cache[Handle[Pipeline]]
	modules *pipecache.Cache[moduleEntry]

	// disk persists translated shader code; nil when disabled.
	disk *pipecache.DiskStore
}

type moduleEntry struct {
	handle   Handle[ShaderModule]
	codeHash uint64
}

func newPipelines(d *Device, disk *pipecache.DiskStore) *Pipelines {
	return &Pipelines{
		d:       d,
		cache:   pipecache.New[Handle[Pipeline]](),
		modules: pipecache.New[moduleEntry](),
		disk:    disk,
	}
}

// GetOrCreate returns the render pipeline for desc, compiling it on the
// first request for its key.
func (p *Pipelines) GetOrCreate(desc *RenderPipelineDesc) (Handle[Pipeline], error) {
	if err := p.d.check(); err != nil {
		return Handle[Pipeline]{}, err
	}
	if desc == nil {
		return Handle[Pipeline]{}, descriptorErrorf("render pipeline descriptor is nil")
	}
	if err := desc.validate(p.d.info.Limits); err != nil {
		return Handle[Pipeline]{}, err
	}
	key := desc.Key()
	h, created, err := p.cache.GetOrCreate(key.String(), func() (Handle[Pipeline], error) {
		return p.createRender(key, desc)
	})
	if err != nil {
		return Handle[Pipeline]{}, fmt.Errorf("rhi: pipeline %q: %w", desc.Label, err)
	}
	if created {
		slogger().Debug("rhi: render pipeline compiled", "label", desc.Label, "key", key)
	}
	return h, nil
}

// GetOrCreateCompute returns the compute pipeline for desc, compiling it on
// the first request for its key.
func (p *Pipelines) GetOrCreateCompute(desc *ComputePipelineDesc) (Handle[Pipeline], error) {
	if err := p.d.check(); err != nil {
		return Handle[Pipeline]{}, err
	}
	if desc == nil {
		return Handle[Pipeline]{}, descriptorErrorf("compute pipeline descriptor is nil")
	}
	if err := desc.validate(p.d.info.Limits); err != nil {
		return Handle[Pipeline]{}, err
	}
	key := desc.Key()
	h, created, err := p.cache.GetOrCreate(key.String(), func() (Handle[Pipeline], error) {
		return p.createCompute(key, desc)
	})
	if err != nil {
		return Handle[Pipeline]{}, fmt.Errorf("rhi: pipeline %q: %w", desc.Label, err)
	}
	if created {
		slogger().Debug("rhi: compute pipeline compiled", "label", desc.Label, "key", key)
	}
	return h, nil
}

// Lookup returns the cached pipeline for key without compiling.
func (p *Pipelines) Lookup(key PipelineKey) (Handle[Pipeline], bool) {
	return p.cache.Get(key.String())
}

// Evict drops the pipeline cached under key. Its native object is released
// once every in-flight frame that may use it has completed; handles to it
// become invalid immediately. Evict reports whether key was cached.
func (p *Pipelines) Evict(key PipelineKey) bool {
	h, ok := p.cache.Evict(key.String())
	if !ok {
		return false
	}
	if r, ok := p.d.objects.Remove(h.id); ok {
		p.d.frames.Defer(r.obj.Release)
	}
	slogger().Debug("rhi: pipeline evicted", "key", key)
	return true
}

// Warm compiles descs in parallel so later GetOrCreate calls hit the cache.
// It returns the first compile error; compiles not yet started are skipped.
func (p *Pipelines) Warm(ctx context.Context, descs []RenderPipelineDesc) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range descs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := p.GetOrCreate(&descs[i])
			return err
		})
	}
	return g.Wait()
}

// Stats returns the cache counters. Creates counts backend compiles.
func (p *Pipelines) Stats() PipelineStats { return p.cache.Stats() }

// reset forgets every cached entry. The Device releases the objects.
func (p *Pipelines) reset() {
	p.cache.Drain()
	p.modules.Drain()
}

func (p *Pipelines) createRender(key PipelineKey, desc *RenderPipelineDesc) (Handle[Pipeline], error) {
	vs, err := p.module(&desc.Vertex)
	if err != nil {
		return Handle[Pipeline]{}, err
	}
	bd := &backend.RenderPipelineDesc{
		Label:         desc.Label,
		Vertex:        vs,
		VertexEntry:   desc.Vertex.EntryPoint,
		VertexBuffers: desc.VertexBuffers,
		Primitive:     desc.Primitive,
		DepthStencil:  desc.DepthStencil,
		Multisample:   desc.Multisample,
		Targets:       desc.Targets,
	}
	bd.Multisample = normalizeMultisample(bd.Multisample)
	if desc.Fragment != nil {
		if bd.Fragment, err = p.module(desc.Fragment); err != nil {
			return Handle[Pipeline]{}, err
		}
		bd.FragmentEntry = desc.Fragment.EntryPoint
	}
	if bd.Layouts, err = p.layouts(desc.Layouts); err != nil {
		return Handle[Pipeline]{}, err
	}

	obj, err := p.d.dev.CreateRenderPipeline(bd)
	if err != nil {
		return Handle[Pipeline]{}, p.d.noteErr(pipelineError(err))
	}
	return insert[Pipeline](p.d, &resource{obj: obj, desc: *desc, cacheKey: key.String()}), nil
}

func (p *Pipelines) createCompute(key PipelineKey, desc *ComputePipelineDesc) (Handle[Pipeline], error) {
	cs, err := p.module(&desc.Shader)
	if err != nil {
		return Handle[Pipeline]{}, err
	}
	layouts, err := p.layouts(desc.Layouts)
	if err != nil {
		return Handle[Pipeline]{}, err
	}
	obj, err := p.d.dev.CreateComputePipeline(&backend.ComputePipelineDesc{
		Label:   desc.Label,
		Module:  cs,
		Entry:   desc.Shader.EntryPoint,
		Layouts: layouts,
	})
	if err != nil {
		return Handle[Pipeline]{}, p.d.noteErr(pipelineError(err))
	}
	return insert[Pipeline](p.d, &resource{obj: obj, desc: *desc, cacheKey: key.String(), compute: true}), nil
}

// pipelineError makes sure a backend compile failure wraps
// ErrPipelineCreation unless it already carries a more specific sentinel.
func pipelineError(err error) error {
	for _, sentinel := range []error{ErrPipelineCreation, ErrOutOfMemory, ErrDeviceLost, ErrInvalidHandle, ErrInvalidDescriptor} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrPipelineCreation, err)
}

func (p *Pipelines) layouts(hs []Handle[BindGroupLayout]) ([]backend.Object, error) {
	if len(hs) == 0 {
		return nil, nil
	}
	out := make([]backend.Object, len(hs))
	for i, h := range hs {
		r, err := lookup(p.d, h)
		if err != nil {
			return nil, err
		}
		out[i] = r.obj
	}
	return out, nil
}

// =============================================================================
// Shader modules
// =============================================================================

// module checks src and returns the native module for its identity,
// creating it on first use.
func (p *Pipelines) module(src *ShaderSource) (backend.Object, error) {
	if err := shader.Check(src, p.d.opts.validation); err != nil {
		return nil, err
	}
	h, err := p.moduleHandle(src)
	if err != nil {
		return nil, err
	}
	r, err := lookup(p.d, h)
	if err != nil {
		return nil, err
	}
	return r.obj, nil
}

func (p *Pipelines) moduleHandle(src *ShaderSource) (Handle[ShaderModule], error) {
	code := src.CodeHash()
	e, _, err := p.modules.GetOrCreate(src.Identity, func() (moduleEntry, error) {
		obj, err := p.d.dev.CreateShaderModule(p.nativeSource(src))
		if err != nil {
			return moduleEntry{}, p.d.noteErr(pipelineError(err))
		}
		h := insert[ShaderModule](p.d, &resource{obj: obj, desc: *src, cacheKey: src.Identity})
		slogger().Debug("rhi: shader module created", "identity", src.Identity)
		return moduleEntry{handle: h, codeHash: code}, nil
	})
	if err != nil {
		return Handle[ShaderModule]{}, err
	}
	if e.codeHash != code {
		return Handle[ShaderModule]{}, fmt.Errorf("%w: shader identity %q reused for different code",
			ErrPipelineCreation, src.Identity)
	}
	return e.handle, nil
}

// nativeSource returns the form of src handed to the backend. Backends that
// translate WGSL to SPIR-V anyway get SPIR-V from the disk cache, compiling
// and storing it on a miss. Any cache problem falls back to src.
func (p *Pipelines) nativeSource(src *ShaderSource) *ShaderSource {
	if p.disk == nil || src.WGSL == "" || !p.d.caps.PrefersSPIRV || !p.d.caps.AcceptsSPIRV {
		return src
	}
	key := "spirv/" + src.Identity + "/" + strconv.FormatUint(src.CodeHash(), 16)
	spirv := func(words []uint32) *ShaderSource {
		return &ShaderSource{Identity: src.Identity, Stage: src.Stage, EntryPoint: src.EntryPoint, SPIRV: words}
	}

	blob, ok, err := p.disk.Load(key)
	if err != nil {
		slogger().Warn("rhi: discarded pipeline cache blob", "identity", src.Identity, "err", err)
	}
	if ok && len(blob)%4 == 0 && len(blob) > 0 {
		words := make([]uint32, len(blob)/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(blob[i*4:])
		}
		if words[0] == shader.SPIRVMagic {
			return spirv(words)
		}
	}

	words, err := shader.CompileSPIRV(src.WGSL)
	if err != nil {
		slogger().Debug("rhi: SPIR-V translation skipped", "identity", src.Identity, "err", err)
		return src
	}
	blob = make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(blob[i*4:], w)
	}
	if err := p.disk.Store(key, blob); err != nil {
		slogger().Warn("rhi: pipeline cache store failed", "identity", src.Identity, "err", err)
	}
	return spirv(words)
}

// CreateShaderModule creates a shader module, or returns the existing one
// for src.Identity. Reusing an identity for different code returns
// ErrPipelineCreation.
func (d *Device) CreateShaderModule(src ShaderSource) (Handle[ShaderModule], error) {
	if err := d.check(); err != nil {
		return Handle[ShaderModule]{}, err
	}
	if err := shader.Check(&src, d.opts.validation); err != nil {
		return Handle[ShaderModule]{}, fmt.Errorf("rhi: shader module: %w", err)
	}
	return d.pipelines.moduleHandle(&src)
}

// DestroyShaderModule destroys a module. Pipelines already built from it
// keep working; the next pipeline that needs its identity recreates it.
func (d *Device) DestroyShaderModule(h Handle[ShaderModule]) error {
	r, err := lookup(d, h)
	if err != nil {
		return err
	}
	if e, ok := d.pipelines.modules.Get(r.cacheKey); ok && e.handle == h {
		d.pipelines.modules.Evict(r.cacheKey)
	}
	return destroy(d, h)
}

// DestroyPipeline evicts the pipeline from the cache and destroys it.
func (d *Device) DestroyPipeline(h Handle[Pipeline]) error {
	r, err := lookup(d, h)
	if err != nil {
		return err
	}
	if cached, ok := d.pipelines.cache.Get(r.cacheKey); ok && cached == h {
		d.pipelines.cache.Evict(r.cacheKey)
	}
	return destroy(d, h)
}
