package rhi

import (
	"context"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi/types"
)

// resizeEvents captures the resize callback a Surface registers.
type resizeEvents struct {
	gpucontext.NullEventSource
	onResize func(w, h int)
}

func (e *resizeEvents) OnResize(fn func(w, h int)) { e.onResize = fn }

func attachSurface(t *testing.T, d *Device, events gpucontext.EventSource) *Surface {
	t.Helper()
	s, err := d.AttachSurface(1, 2, gpucontext.NullWindowProvider{W: 800, H: 600}, events)
	require.NoError(t, err)
	return s
}

// renderToSurface records a clear of the next swapchain texture and submits
// it, returning the texture for Present.
func renderToSurface(t *testing.T, d *Device, s *Surface) Handle[Texture] {
	t.Helper()
	tex, err := s.Acquire(t.Context())
	require.NoError(t, err)

	f := beginFrame(t, d)
	rec := f.Recorder("present")
	rec.BeginRenderPass(RenderPassDesc{Color: []ColorAttachment{{Texture: tex}}})
	rec.EndRenderPass()
	rec.TextureBarrier(tex, types.StateRenderTarget, types.StatePresent)
	cb, err := rec.End()
	require.NoError(t, err)
	require.NoError(t, f.Submit(cb))
	return tex
}

func TestAttachSurface(t *testing.T) {
	d, fd := newTestDevice(t)
	s := attachSurface(t, d, nil)

	w, h := s.Size()
	assert.Equal(t, uint32(800), w)
	assert.Equal(t, uint32(600), h)
	assert.Equal(t, gputypes.TextureFormatBGRA8Unorm, s.Format())
	assert.Equal(t, [2]uint32{800, 600}, fd.surface.lastConfigure())

	_, err := d.AttachSurface(1, 2, nil, nil)
	require.ErrorIs(t, err, ErrInvalidDescriptor)
	_, err = d.AttachSurface(1, 2, gpucontext.NullWindowProvider{}, nil)
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestSurfaceAcquirePresent(t *testing.T) {
	d, fd := newTestDevice(t)
	fd.autoComplete = true
	s := attachSurface(t, d, nil)

	tex := renderToSurface(t, d, s)
	info, err := d.TextureInfo(tex)
	require.NoError(t, err)
	assert.Equal(t, gputypes.TextureUsageRenderAttachment, info.Usage)
	assert.Equal(t, uint32(800), info.Width)

	require.ErrorIs(t, d.DestroyTexture(tex), ErrInvalidHandle, "swapchain textures are presented, not destroyed")
	require.NoError(t, s.Present(tex))
	assert.Equal(t, 1, fd.surface.presented)

	_, err = d.TextureInfo(tex)
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, s.Present(tex), ErrInvalidHandle)
}

func TestSurfaceSingleAcquire(t *testing.T) {
	d, _ := newTestDevice(t)
	s := attachSurface(t, d, nil)

	_, err := s.Acquire(t.Context())
	require.NoError(t, err)
	_, err = s.Acquire(t.Context())
	require.ErrorIs(t, err, ErrFrameState)
}

func TestSurfaceResizeWhileIdle(t *testing.T) {
	d, fd := newTestDevice(t)
	ev := &resizeEvents{}
	s := attachSurface(t, d, ev)
	require.NotNil(t, ev.onResize)

	ev.onResize(1024, 768)
	w, h := s.Size()
	assert.Equal(t, [2]uint32{1024, 768}, [2]uint32{w, h})
	assert.Equal(t, [2]uint32{1024, 768}, fd.surface.lastConfigure())
}

func TestSurfaceResizeRacesInFlightFrame(t *testing.T) {
	d, fd := newTestDevice(t)
	ev := &resizeEvents{}
	s := attachSurface(t, d, ev)

	tex := renderToSurface(t, d, s)
	require.NoError(t, s.Present(tex))

	// The frame that rendered into the old swapchain is still running.
	require.ErrorIs(t, s.Resize(1024, 768), ErrSurfaceLost)
	ev.onResize(1280, 720)
	w, h := s.Size()
	assert.Equal(t, [2]uint32{800, 600}, [2]uint32{w, h}, "swapchain kept until the frame completes")
	assert.Len(t, fd.surface.configures, 1)

	fd.complete(1)
	tex, err := s.Acquire(context.Background())
	require.NoError(t, err)
	w, h = s.Size()
	assert.Equal(t, [2]uint32{1280, 720}, [2]uint32{w, h}, "latest size wins")
	info, err := d.TextureInfo(tex)
	require.NoError(t, err)
	assert.Equal(t, uint32(1280), info.Width)
}

func TestSurfaceResizeWithAcquiredTexture(t *testing.T) {
	d, fd := newTestDevice(t)
	s := attachSurface(t, d, nil)

	tex, err := s.Acquire(t.Context())
	require.NoError(t, err)
	require.ErrorIs(t, s.Resize(640, 480), ErrSurfaceLost)

	require.NoError(t, s.Present(tex))
	_, err = s.Acquire(t.Context())
	require.NoError(t, err)
	assert.Equal(t, [2]uint32{640, 480}, fd.surface.lastConfigure())
}

func TestSurfaceMinimized(t *testing.T) {
	d, _ := newTestDevice(t)
	s := attachSurface(t, d, nil)

	require.NoError(t, s.Resize(0, 0))
	_, err := s.Acquire(t.Context())
	require.ErrorIs(t, err, ErrSurfaceLost)

	require.NoError(t, s.Resize(320, 200))
	_, err = s.Acquire(t.Context())
	require.NoError(t, err)
}

func TestSurfaceOutdatedSwapchainRecreated(t *testing.T) {
	d, fd := newTestDevice(t)
	s := attachSurface(t, d, nil)

	fd.surface.outdated = 1
	_, err := s.Acquire(t.Context())
	require.NoError(t, err)
	assert.Len(t, fd.surface.configures, 2)
}

func TestSurfaceOutdatedTwiceFails(t *testing.T) {
	d, fd := newTestDevice(t)
	s := attachSurface(t, d, nil)

	fd.surface.outdated = 2
	_, err := s.Acquire(t.Context())
	require.ErrorIs(t, err, ErrSurfaceLost)
}

func TestSurfaceDestroy(t *testing.T) {
	d, fd := newTestDevice(t)
	fd.autoComplete = true
	s := attachSurface(t, d, nil)
	tex := renderToSurface(t, d, s)
	require.NoError(t, s.Present(tex))

	require.NoError(t, s.Destroy())
	assert.True(t, fd.surface.destroyed)
	require.ErrorIs(t, s.Destroy(), ErrSurfaceLost)
	_, err := s.Acquire(t.Context())
	require.ErrorIs(t, err, ErrSurfaceLost)
}

func TestCloseDiscardsAcquiredTexture(t *testing.T) {
	d, fd := newTestDevice(t)
	s := attachSurface(t, d, nil)
	_, err := s.Acquire(t.Context())
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.Equal(t, 1, fd.surface.discarded)
	assert.True(t, fd.surface.destroyed)
	assert.Equal(t, int64(1), fd.releases.Load())
}
