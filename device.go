package rhi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/internal/frame"
	"github.com/gogpu/rhi/internal/pipecache"
	"github.com/gogpu/rhi/internal/slotmap"
	"github.com/gogpu/rhi/types"
)

// deviceIDs issues the per-Device tag carried by every Handle.
var deviceIDs atomic.Uint32

// Device is an open connection to one GPU through exactly one backend.
// All resources, pipelines and frames belong to a Device.
//
// Device methods are safe for concurrent use.
type Device struct {
	id      uint32
	backend string
	opts    options

	dev  backend.Device
	info backend.AdapterInfo
	caps backend.Capabilities

	objects   *slotmap.Map[*resource]
	frames    *frame.Synchronizer
	bindless  *Bindless
	pipelines *Pipelines

	// lastSubmit is the newest submission index handed to the queue.
	lastSubmit atomic.Uint64

	closed atomic.Bool

	surfMu   sync.Mutex
	surfaces map[*Surface]struct{}
}

// resource is the table entry behind a Handle.
type resource struct {
	obj  backend.Object
	desc any

	// cacheKey is set for cached pipelines and shader modules.
	cacheKey string
	compute  bool

	// surface is set for swapchain textures until they are presented.
	surface *Surface
}

// New opens a Device. The backend is chosen once, from WithBackend, then
// the RHI_BACKEND environment variable, then the best registered backend.
// If the backend cannot be opened New returns an error wrapping
// ErrBackendUnavailable and nothing stays allocated.
func New(opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("rhi: new device: %w", err)
	}

	name := o.backend
	if name == "" {
		name = os.Getenv(BackendEnv)
	}
	if name == "" {
		name = backend.DefaultName()
	}
	if name == "" {
		return nil, fmt.Errorf("rhi: new device: %w: no backend registered", ErrBackendUnavailable)
	}
	b := backend.Get(name)
	if b == nil {
		return nil, fmt.Errorf("rhi: new device: %w: backend %q not registered (available %v)",
			ErrBackendUnavailable, name, backend.Available())
	}

	bd, err := b.Open(backend.OpenOptions{
		Validation:       o.validation,
		BindlessCapacity: o.bindlessCapacity,
		PowerPreference:  o.power,
	})
	if err != nil {
		if !errors.Is(err, ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		return nil, fmt.Errorf("rhi: open %s: %w", name, err)
	}

	d, err := newDevice(name, bd, o)
	if err != nil {
		bd.Destroy()
		return nil, err
	}
	slogger().Info("rhi: device opened",
		"backend", name,
		"adapter", d.info.Name,
		"type", d.info.Type,
		"frames_in_flight", o.framesInFlight)
	return d, nil
}

func newDevice(name string, bd backend.Device, o options) (*Device, error) {
	d := &Device{
		id:       deviceIDs.Add(1),
		backend:  name,
		opts:     o,
		dev:      bd,
		info:     bd.Info(),
		caps:     bd.Capabilities(),
		objects:  slotmap.New[*resource](256),
		surfaces: make(map[*Surface]struct{}),
	}
	frames, err := frame.New(o.framesInFlight, bd, o.fenceTimeout)
	if err != nil {
		return nil, fmt.Errorf("rhi: new device: %w", err)
	}
	d.frames = frames
	d.bindless = newBindless(d, o.bindlessCapacity)

	var disk *pipecache.DiskStore
	if o.cacheDir != "" {
		disk, err = pipecache.OpenDiskStore(o.cacheDir)
		if err != nil {
			slogger().Warn("rhi: pipeline disk cache disabled", "dir", o.cacheDir, "err", err)
			disk = nil
		}
	}
	d.pipelines = newPipelines(d, disk)
	return d, nil
}

// Backend returns the name of the backend the Device was opened on.
func (d *Device) Backend() string { return d.backend }

// Info returns the adapter the Device runs on.
func (d *Device) Info() backend.AdapterInfo { return d.info }

// Bindless returns the Device's bindless table.
func (d *Device) Bindless() *Bindless { return d.bindless }

// Pipelines returns the Device's pipeline cache.
func (d *Device) Pipelines() *Pipelines { return d.pipelines }

// FramesInFlight returns the number of frame slots.
func (d *Device) FramesInFlight() int { return d.frames.Len() }

// check reports ErrClosed after Close and the loss error after device loss.
func (d *Device) check() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := d.frames.Lost(); err != nil {
		return err
	}
	return nil
}

// noteErr marks the device lost when err says so, and returns err.
func (d *Device) noteErr(err error) error {
	if errors.Is(err, ErrDeviceLost) {
		if d.frames.Lost() == nil {
			slogger().Warn("rhi: device lost", "backend", d.backend, "err", err)
		}
		d.frames.MarkLost(err)
	}
	return err
}

// WaitIdle blocks until every submitted frame has completed, then runs the
// deferred releases they were holding.
func (d *Device) WaitIdle() error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.dev.WaitIdle(); err != nil {
		return d.noteErr(fmt.Errorf("rhi: wait idle: %w", err))
	}
	d.frames.Poll()
	return nil
}

// Wait blocks until the frame submitted at index completes or ctx is done.
// The configured fence timeout applies.
func (d *Device) Wait(ctx context.Context, index uint64) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.dev.Wait(ctx, index, d.opts.fenceTimeout); err != nil {
		return d.noteErr(err)
	}
	d.frames.Poll()
	return nil
}

// Completed returns the newest submission index the GPU has finished.
func (d *Device) Completed() uint64 { return d.dev.Completed() }

// Stats is a snapshot of Device bookkeeping.
type Stats struct {
	LiveResources    int
	PendingReleases  int
	FramesInFlight   int
	BindlessLive     int
	PipelinesCached  int
	PipelineHitRate  float64
	LastSubmission   uint64
	CompletedThrough uint64
}

// Stats returns current counters.
func (d *Device) Stats() Stats {
	ps := d.pipelines.Stats()
	return Stats{
		LiveResources:    d.objects.Len(),
		PendingReleases:  d.frames.Pending(),
		FramesInFlight:   d.frames.InFlight(),
		BindlessLive:     d.bindless.Len(),
		PipelinesCached:  ps.Size,
		PipelineHitRate:  ps.HitRate(),
		LastSubmission:   d.lastSubmit.Load(),
		CompletedThrough: d.dev.Completed(),
	}
}

// Close waits for the GPU, releases every object the Device still owns
// and closes the backend device. Later calls on the Device return
// ErrClosed. Close is idempotent.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	var waitErr error
	if d.frames.Lost() == nil {
		waitErr = d.dev.WaitIdle()
	}

	d.surfMu.Lock()
	surfaces := make([]*Surface, 0, len(d.surfaces))
	for s := range d.surfaces {
		surfaces = append(surfaces, s)
	}
	clear(d.surfaces)
	d.surfMu.Unlock()
	for _, s := range surfaces {
		s.release()
	}

	d.frames.Flush()
	d.pipelines.reset()
	released := 0
	d.objects.Drain(func(_ types.ResourceID, r *resource) {
		r.obj.Release()
		released++
	})
	d.dev.Destroy()
	slogger().Info("rhi: device closed", "backend", d.backend, "released", released)
	if waitErr != nil {
		return fmt.Errorf("rhi: close: %w", waitErr)
	}
	return nil
}
