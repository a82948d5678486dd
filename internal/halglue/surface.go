package halglue

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/types"
)

// Surface implements backend.Surface over a hal swapchain.
type Surface struct {
	d          *Device
	surf       hal.Surface
	format     gputypes.TextureFormat
	width      uint32
	height     uint32
	configured bool
}

var _ backend.Surface = (*Surface)(nil)

// preferredFormats lists swapchain formats in order of preference.
var preferredFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatRGBA8Unorm,
}

// CreateSurface wraps a native window.
func (d *Device) CreateSurface(display, window uintptr) (backend.Surface, error) {
	surf, err := d.inst.CreateSurface(display, window)
	if err != nil {
		return nil, classify(err, types.ErrSurfaceLost)
	}
	s := &Surface{d: d, surf: surf, format: gputypes.TextureFormatBGRA8Unorm}
	if caps := d.adapter.SurfaceCapabilities(surf); caps != nil && len(caps.Formats) > 0 {
		s.format = caps.Formats[0]
		for _, f := range preferredFormats {
			if slices.Contains(caps.Formats, f) {
				s.format = f
				break
			}
		}
	}
	return s, nil
}

// Format returns the swapchain texel format.
func (s *Surface) Format() gputypes.TextureFormat { return s.format }

// Configure (re)creates the swapchain at the given size.
func (s *Surface) Configure(width, height uint32, vsync bool) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: surface size %dx%d", types.ErrInvalidDescriptor, width, height)
	}
	mode := gputypes.PresentModeFifo
	alpha := gputypes.CompositeAlphaModeOpaque
	if caps := s.d.adapter.SurfaceCapabilities(s.surf); caps != nil {
		if !vsync {
			for _, m := range []gputypes.PresentMode{gputypes.PresentModeMailbox, gputypes.PresentModeImmediate} {
				if slices.Contains(caps.PresentModes, m) {
					mode = m
					break
				}
			}
		}
		if len(caps.AlphaModes) > 0 && !slices.Contains(caps.AlphaModes, alpha) {
			alpha = caps.AlphaModes[0]
		}
	}
	err := s.surf.Configure(s.d.dev, &hal.SurfaceConfiguration{
		Width:       width,
		Height:      height,
		Format:      s.format,
		Usage:       gputypes.TextureUsageRenderAttachment,
		PresentMode: mode,
		AlphaMode:   alpha,
	})
	if err != nil {
		return classify(err, types.ErrSurfaceLost)
	}
	s.width, s.height, s.configured = width, height, true
	slogger().Debug("halglue: surface configured", "width", width, "height", height, "present_mode", mode)
	return nil
}

// Acquire returns the next swapchain texture.
func (s *Surface) Acquire() (backend.Object, error) {
	if !s.configured {
		return nil, fmt.Errorf("%w: surface not configured", types.ErrSurfaceLost)
	}
	at, err := s.surf.AcquireTexture(nil)
	if err != nil {
		return nil, classify(err, types.ErrSurfaceLost)
	}
	if at.Suboptimal {
		slogger().Warn("halglue: suboptimal swapchain texture", "width", s.width, "height", s.height)
	}
	view, err := s.d.dev.CreateTextureView(at.Texture, &hal.TextureViewDescriptor{
		Label:           "rhi swapchain",
		Format:          s.format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		s.surf.DiscardTexture(at.Texture)
		return nil, classify(err, types.ErrOutOfMemory)
	}
	return &textureObj{
		dev:     s.d.dev,
		tex:     at.Texture,
		view:    view,
		surface: at.Texture,
		desc: types.TextureDescriptor{
			Label:              "rhi swapchain",
			Width:              s.width,
			Height:             s.height,
			DepthOrArrayLayers: 1,
			MipLevelCount:      1,
			SampleCount:        1,
			Dimension:          gputypes.TextureDimension2D,
			Format:             s.format,
			Usage:              gputypes.TextureUsageRenderAttachment,
		},
	}, nil
}

func swapchainTexture(obj backend.Object) (*textureObj, error) {
	t, ok := obj.(*textureObj)
	if !ok || t.surface == nil {
		return nil, fmt.Errorf("%w: not a swapchain texture", types.ErrInvalidHandle)
	}
	return t, nil
}

// Present queues tex for display. Its view is released once the last
// submission that may have rendered into it completes.
func (s *Surface) Present(tex backend.Object) error {
	t, err := swapchainTexture(tex)
	if err != nil {
		return err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	err = s.d.queue.Present(s.surf, t.surface, nil)
	s.d.deferLocked(t.Release)
	if err != nil {
		return classify(err, types.ErrSurfaceLost)
	}
	return nil
}

// Discard returns an acquired texture without presenting it.
func (s *Surface) Discard(tex backend.Object) {
	t, err := swapchainTexture(tex)
	if err != nil {
		return
	}
	s.surf.DiscardTexture(t.surface)
	s.d.mu.Lock()
	s.d.deferLocked(t.Release)
	s.d.mu.Unlock()
}

// Destroy releases the swapchain.
func (s *Surface) Destroy() {
	if s.configured {
		s.surf.Unconfigure(s.d.dev)
		s.configured = false
	}
	s.surf.Destroy()
}
