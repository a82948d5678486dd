package rhi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/types"
)

// fakeBackend opens a fakeDevice. Tests drive GPU progress by hand through
// fakeDevice.complete unless autoComplete is set.
type fakeBackend struct {
	name    string
	dev     *fakeDevice
	openErr error
}

func (b *fakeBackend) Name() string              { return b.name }
func (b *fakeBackend) Variant() gputypes.Backend { return gputypes.BackendEmpty }

func (b *fakeBackend) Open(opts backend.OpenOptions) (backend.Device, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.dev.opts = opts
	return b.dev, nil
}

type fakeObject struct {
	dev      *fakeDevice
	kind     string
	label    string
	released atomic.Bool
}

func (o *fakeObject) Release() {
	if o.released.Swap(true) {
		panic(fmt.Sprintf("double release of %s %q", o.kind, o.label))
	}
	o.dev.releases.Add(1)
}

type fakeDevice struct {
	opts backend.OpenOptions

	mu           sync.Mutex
	creates      map[string]int
	submitted    uint64
	completed    uint64
	autoComplete bool
	batches      [][]backend.Batch
	heap         map[types.ResourceKind]map[uint32]backend.Object
	writes       int
	destroyed    bool

	// pipelineDelay slows pipeline creation so concurrent misses overlap.
	pipelineDelay time.Duration
	pipelineErr   error
	submitErr     error

	surface  *fakeSurface
	releases atomic.Int64
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		creates: make(map[string]int),
		heap:    make(map[types.ResourceKind]map[uint32]backend.Object),
	}
}

func (d *fakeDevice) object(kind, label string) *fakeObject {
	d.mu.Lock()
	d.creates[kind]++
	d.mu.Unlock()
	return &fakeObject{dev: d, kind: kind, label: label}
}

func (d *fakeDevice) count(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates[kind]
}

func (d *fakeDevice) Info() backend.AdapterInfo {
	return backend.AdapterInfo{
		Name:    "Fake Adapter",
		Backend: gputypes.BackendEmpty,
		Type:    gpucontext.AdapterTypeSoftware,
		Limits:  gputypes.DefaultLimits(),
	}
}

func (d *fakeDevice) Capabilities() backend.Capabilities { return backend.Capabilities{} }

func (d *fakeDevice) CreateBuffer(desc *types.BufferDescriptor) (backend.Object, error) {
	if desc.Size > 128<<20 {
		return nil, fmt.Errorf("%w: fake heap exhausted", types.ErrOutOfMemory)
	}
	return d.object("buffer", desc.Label), nil
}

func (d *fakeDevice) CreateTexture(desc *types.TextureDescriptor) (backend.Object, error) {
	return d.object("texture", desc.Label), nil
}

func (d *fakeDevice) CreateSampler(desc *types.SamplerDescriptor) (backend.Object, error) {
	return d.object("sampler", desc.Label), nil
}

func (d *fakeDevice) CreateBindGroupLayout(desc *types.BindGroupLayoutDescriptor) (backend.Object, error) {
	return d.object("layout", desc.Label), nil
}

func (d *fakeDevice) CreateShaderModule(src *types.ShaderSource) (backend.Object, error) {
	return d.object("shader", src.Identity), nil
}

func (d *fakeDevice) CreateRenderPipeline(desc *backend.RenderPipelineDesc) (backend.Object, error) {
	time.Sleep(d.pipelineDelay)
	if d.pipelineErr != nil {
		return nil, d.pipelineErr
	}
	return d.object("render", desc.Label), nil
}

func (d *fakeDevice) CreateComputePipeline(desc *backend.ComputePipelineDesc) (backend.Object, error) {
	time.Sleep(d.pipelineDelay)
	if d.pipelineErr != nil {
		return nil, d.pipelineErr
	}
	return d.object("compute", desc.Label), nil
}

func (d *fakeDevice) WriteBuffer(backend.Object, uint64, []byte) error {
	d.mu.Lock()
	d.writes++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) BindlessSet(kind types.ResourceKind, index uint32, obj backend.Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.heap[kind] == nil {
		d.heap[kind] = make(map[uint32]backend.Object)
	}
	d.heap[kind][index] = obj
	return nil
}

func (d *fakeDevice) BindlessClear(kind types.ResourceKind, index uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.heap[kind], index)
}

func (d *fakeDevice) heapAt(kind types.ResourceKind, index uint32) backend.Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heap[kind][index]
}

func (d *fakeDevice) Submit(batches []backend.Batch) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return 0, d.submitErr
	}
	d.submitted++
	d.batches = append(d.batches, batches)
	if d.autoComplete {
		d.completed = d.submitted
	}
	return d.submitted, nil
}

// complete marks every submission up to index finished.
func (d *fakeDevice) complete(index uint64) {
	d.mu.Lock()
	d.completed = max(d.completed, index)
	d.mu.Unlock()
}

func (d *fakeDevice) lastSubmitted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

func (d *fakeDevice) Completed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

func (d *fakeDevice) Wait(ctx context.Context, index uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for d.Completed() < index {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: fake fence %d timed out", types.ErrDeviceLost, index)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (d *fakeDevice) WaitIdle() error {
	d.mu.Lock()
	d.completed = d.submitted
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) CreateSurface(uintptr, uintptr) (backend.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.surface = &fakeSurface{dev: d}
	return d.surface, nil
}

func (d *fakeDevice) Destroy() {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
}

type fakeSurface struct {
	dev *fakeDevice

	mu         sync.Mutex
	configures []([2]uint32)
	outdated   int
	presented  int
	discarded  int
	destroyed  bool
}

func (s *fakeSurface) Configure(width, height uint32, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configures = append(s.configures, [2]uint32{width, height})
	return nil
}

func (s *fakeSurface) Format() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

func (s *fakeSurface) Acquire() (backend.Object, error) {
	s.mu.Lock()
	if s.outdated > 0 {
		s.outdated--
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: fake swapchain outdated", types.ErrSurfaceLost)
	}
	s.mu.Unlock()
	return s.dev.object("swapchain", "swapchain"), nil
}

func (s *fakeSurface) Present(tex backend.Object) error {
	s.mu.Lock()
	s.presented++
	s.mu.Unlock()
	tex.Release()
	return nil
}

func (s *fakeSurface) Discard(tex backend.Object) {
	s.mu.Lock()
	s.discarded++
	s.mu.Unlock()
	tex.Release()
}

func (s *fakeSurface) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}

func (s *fakeSurface) lastConfigure() [2]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configures[len(s.configures)-1]
}

// newTestDevice opens a Device on a fresh fakeDevice registered under a
// name unique to the test.
func newTestDevice(t *testing.T, opts ...Option) (*Device, *fakeDevice) {
	t.Helper()
	fd := newFakeDevice()
	name := "fake/" + t.Name()
	backend.Register(name, func() backend.Backend { return &fakeBackend{name: name, dev: fd} })
	t.Cleanup(func() { backend.Unregister(name) })

	d, err := New(append([]Option{WithBackend(name)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, fd
}

var errFakeCompile = errors.New("fake: compile failed")
