package rhi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi/backend"
)

// Surface is a swapchain on a native window.
//
// Resizes arrive from the windowing collaborator through
// gpucontext.EventSource. A resize is applied immediately when no
// submitted frame references a swapchain texture; otherwise it reports
// ErrSurfaceLost and the swapchain is recreated at the next Acquire, after
// the frames using the old images complete.
type Surface struct {
	d      *Device
	native backend.Surface
	win    gpucontext.WindowProvider

	mu       sync.Mutex
	width    uint32
	height   uint32
	pendingW uint32
	pendingH uint32
	pending  bool

	// inflight is the newest submission that rendered into this surface.
	inflight uint64
	acquired Handle[Texture]
	released bool
}

// AttachSurface creates a swapchain for the window identified by display
// and window, sized from win. When events is not nil the swapchain follows
// its resize notifications.
func (d *Device) AttachSurface(display, window uintptr, win gpucontext.WindowProvider, events gpucontext.EventSource) (*Surface, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if win == nil {
		return nil, descriptorErrorf("attach surface: nil window provider")
	}
	w, h := win.Size()
	if w <= 0 || h <= 0 {
		return nil, descriptorErrorf("attach surface: window size %dx%d", w, h)
	}
	native, err := d.dev.CreateSurface(display, window)
	if err != nil {
		return nil, fmt.Errorf("rhi: attach surface: %w", err)
	}
	//nolint:gosec // G115: checked positive above
	width, height := uint32(w), uint32(h)
	if err := native.Configure(width, height, true); err != nil {
		native.Destroy()
		return nil, fmt.Errorf("rhi: attach surface: %w", err)
	}

	s := &Surface{d: d, native: native, win: win, width: width, height: height}
	d.surfMu.Lock()
	d.surfaces[s] = struct{}{}
	d.surfMu.Unlock()

	if events != nil {
		events.OnResize(func(w, h int) {
			err := s.Resize(w, h)
			switch {
			case err == nil, errors.Is(err, ErrSurfaceLost), errors.Is(err, ErrClosed):
			default:
				slogger().Warn("rhi: surface resize failed", "width", w, "height", h, "err", err)
			}
		})
	}
	slogger().Info("rhi: surface attached", "width", width, "height", height, "format", native.Format())
	return s, nil
}

// Format returns the texel format of swapchain textures.
func (s *Surface) Format() gputypes.TextureFormat { return s.native.Format() }

// Size returns the current swapchain extent.
func (s *Surface) Size() (width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Resize recreates the swapchain at the new size. If a submitted frame that
// rendered into the surface is still running, or a texture is acquired,
// the resize is deferred to the next Acquire and ErrSurfaceLost is
// returned. A zero size (a minimized window) is deferred the same way.
func (s *Surface) Resize(width, height int) error {
	if err := s.d.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("%w: surface destroyed", ErrSurfaceLost)
	}
	//nolint:gosec // G115: negative sizes clamp to zero
	s.pendingW, s.pendingH, s.pending = uint32(max(width, 0)), uint32(max(height, 0)), true
	if s.pendingW == 0 || s.pendingH == 0 {
		return nil
	}
	if !s.acquired.IsZero() || s.inflight > s.d.dev.Completed() {
		return fmt.Errorf("%w: resize to %dx%d raced a frame using the surface", ErrSurfaceLost, width, height)
	}
	return s.applyLocked()
}

func (s *Surface) applyLocked() error {
	if err := s.native.Configure(s.pendingW, s.pendingH, true); err != nil {
		return s.d.noteErr(fmt.Errorf("rhi: surface resize: %w", err))
	}
	s.width, s.height, s.pending = s.pendingW, s.pendingH, false
	slogger().Debug("rhi: surface reconfigured", "width", s.width, "height", s.height)
	return nil
}

// Acquire returns the next swapchain texture. It is a render attachment
// valid until Present. Only one texture may be acquired at a time.
//
// A deferred resize is applied first, waiting for frames that used the old
// swapchain. An outdated swapchain is recreated once before giving up with
// ErrSurfaceLost.
func (s *Surface) Acquire(ctx context.Context) (Handle[Texture], error) {
	if err := s.d.check(); err != nil {
		return Handle[Texture]{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return Handle[Texture]{}, fmt.Errorf("%w: surface destroyed", ErrSurfaceLost)
	}
	if !s.acquired.IsZero() {
		return Handle[Texture]{}, fmt.Errorf("%w: %s not presented yet", ErrFrameState, s.acquired.id)
	}
	if s.pending {
		if s.pendingW == 0 || s.pendingH == 0 {
			return Handle[Texture]{}, fmt.Errorf("%w: window has zero size", ErrSurfaceLost)
		}
		if err := s.d.dev.Wait(ctx, s.inflight, s.d.opts.fenceTimeout); err != nil {
			return Handle[Texture]{}, s.d.noteErr(err)
		}
		if err := s.applyLocked(); err != nil {
			return Handle[Texture]{}, err
		}
	}

	obj, err := s.native.Acquire()
	if errors.Is(err, ErrSurfaceLost) {
		if w, h := s.win.Size(); w > 0 && h > 0 {
			//nolint:gosec // G115: checked positive
			s.pendingW, s.pendingH = uint32(w), uint32(h)
		} else {
			s.pendingW, s.pendingH = s.width, s.height
		}
		if err := s.applyLocked(); err != nil {
			return Handle[Texture]{}, err
		}
		obj, err = s.native.Acquire()
	}
	if err != nil {
		return Handle[Texture]{}, s.d.noteErr(fmt.Errorf("rhi: acquire: %w", err))
	}

	h := insert[Texture](s.d, &resource{
		obj: obj,
		desc: TextureDescriptor{
			Label:              "swapchain",
			Width:              s.width,
			Height:             s.height,
			DepthOrArrayLayers: 1,
			MipLevelCount:      1,
			SampleCount:        1,
			Dimension:          gputypes.TextureDimension2D,
			Format:             s.native.Format(),
			Usage:              gputypes.TextureUsageRenderAttachment,
		},
		surface: s,
	})
	s.acquired = h
	return h, nil
}

// Present queues the acquired texture for display. Call it after the frame
// that rendered into tex was submitted; the handle is invalid afterwards.
func (s *Surface) Present(tex Handle[Texture]) error {
	if err := s.d.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tex.IsZero() || tex != s.acquired {
		return handleErrorf("%s is not the acquired texture of this surface", tex)
	}
	r, ok := s.d.objects.Remove(tex.id)
	s.acquired = Handle[Texture]{}
	if !ok {
		return handleErrorf("%s is destroyed or stale", tex.id)
	}
	if err := s.native.Present(r.obj); err != nil {
		return s.d.noteErr(fmt.Errorf("rhi: present: %w", err))
	}
	return nil
}

// markInFlight records that submission index rendered into the surface.
func (s *Surface) markInFlight(index uint64) {
	s.mu.Lock()
	s.inflight = max(s.inflight, index)
	s.mu.Unlock()
}

// Destroy waits for frames that used the surface and releases the
// swapchain.
func (s *Surface) Destroy() error {
	if err := s.d.check(); err != nil {
		return err
	}
	s.d.surfMu.Lock()
	_, ok := s.d.surfaces[s]
	delete(s.d.surfaces, s)
	s.d.surfMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: surface already destroyed", ErrSurfaceLost)
	}

	s.mu.Lock()
	inflight := s.inflight
	s.mu.Unlock()
	err := s.d.dev.Wait(context.Background(), inflight, s.d.opts.fenceTimeout)
	s.release()
	if err != nil {
		return s.d.noteErr(fmt.Errorf("rhi: destroy surface: %w", err))
	}
	return nil
}

// release drops an acquired texture and the native swapchain.
func (s *Surface) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	if !s.acquired.IsZero() {
		if r, ok := s.d.objects.Remove(s.acquired.id); ok {
			s.native.Discard(r.obj)
		}
		s.acquired = Handle[Texture]{}
	}
	s.native.Destroy()
	s.released = true
}
