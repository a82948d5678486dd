package halglue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/types"
)

// Device implements backend.Device over one hal device and queue.
type Device struct {
	traits   Traits
	inst     hal.Instance
	adapter  hal.Adapter
	dev      hal.Device
	queue    hal.Queue
	info     backend.AdapterInfo
	capacity uint32

	// mu serializes queue access, heap updates and the pending list.
	mu        sync.Mutex
	heap      *heap
	pending   []pendingRelease
	submitted uint64
	completed uint64
	destroyed bool
}

// pendingRelease is work that runs once submission index after completed.
type pendingRelease struct {
	after uint64
	fn    func()
}

var _ backend.Device = (*Device)(nil)

// Open creates an instance for the traits' hal backend, selects an adapter
// and opens a device on it. Every failure wraps types.ErrBackendUnavailable
// and releases whatever was created before it.
func Open(t Traits, opts backend.OpenOptions) (*Device, error) {
	hb, ok := hal.GetBackend(t.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: %s: hal backend not registered", types.ErrBackendUnavailable, t.Name)
	}

	flags := gputypes.InstanceFlagsNone
	if opts.Validation {
		flags |= gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	inst, err := hb.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.Backends(1 << t.Variant),
		Flags:    flags,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: create instance: %w", types.ErrBackendUnavailable, t.Name, err)
	}

	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		inst.Destroy()
		return nil, fmt.Errorf("%w: %s: no adapters", types.ErrBackendUnavailable, t.Name)
	}
	exposed := pickAdapter(adapters, opts.PowerPreference)

	capacity := opts.BindlessCapacity
	limits := exposed.Capabilities.Limits
	if capacity == 0 {
		inst.Destroy()
		return nil, fmt.Errorf("%w: bindless capacity is zero", types.ErrInvalidDescriptor)
	}
	if limits.MaxBindingsPerBindGroup != 0 && heapClasses*capacity > limits.MaxBindingsPerBindGroup {
		inst.Destroy()
		return nil, fmt.Errorf("%w: bindless capacity %d needs %d bindings, adapter allows %d",
			types.ErrInvalidDescriptor, capacity, heapClasses*capacity, limits.MaxBindingsPerBindGroup)
	}

	od, err := exposed.Adapter.Open(exposed.Features, limits)
	if err != nil {
		inst.Destroy()
		return nil, fmt.Errorf("%w: %s: open adapter %q: %w", types.ErrBackendUnavailable, t.Name, exposed.Info.Name, err)
	}

	d := &Device{
		traits:   t,
		inst:     inst,
		adapter:  exposed.Adapter,
		dev:      od.Device,
		queue:    od.Queue,
		capacity: capacity,
		info: backend.AdapterInfo{
			Name:     exposed.Info.Name,
			Vendor:   exposed.Info.Vendor,
			Driver:   exposed.Info.Driver,
			VendorID: exposed.Info.VendorID,
			DeviceID: exposed.Info.DeviceID,
			Backend:  exposed.Info.Backend,
			Type:     adapterType(exposed.Info.DeviceType),
			Limits:   limits,
		},
	}

	h, err := newHeap(d.dev, capacity)
	if err != nil {
		od.Device.Destroy()
		inst.Destroy()
		return nil, fmt.Errorf("%w: %s: bindless heap: %w", types.ErrBackendUnavailable, t.Name, err)
	}
	d.heap = h

	slogger().Info("halglue: device opened",
		"backend", t.Name,
		"adapter", exposed.Info.Name,
		"type", exposed.Info.DeviceType,
		"bindless_capacity", capacity)
	return d, nil
}

// pickAdapter honors the power preference, falling back to the first adapter.
func pickAdapter(adapters []hal.ExposedAdapter, pref gputypes.PowerPreference) *hal.ExposedAdapter {
	want := gputypes.DeviceTypeOther
	switch pref {
	case gputypes.PowerPreferenceHighPerformance:
		want = gputypes.DeviceTypeDiscreteGPU
	case gputypes.PowerPreferenceLowPower:
		want = gputypes.DeviceTypeIntegratedGPU
	}
	if want != gputypes.DeviceTypeOther {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

// Info returns the adapter description.
func (d *Device) Info() backend.AdapterInfo { return d.info }

// Capabilities returns the traits the device-independent layer honors.
func (d *Device) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		AcceptsSPIRV: d.traits.AcceptsSPIRV,
		PrefersSPIRV: d.traits.PrefersSPIRV,
	}
}

// Traits returns the traits the device was opened with.
func (d *Device) Traits() Traits { return d.traits }

// BindlessCapacity returns the number of heap slots per resource class.
func (d *Device) BindlessCapacity() uint32 { return d.capacity }

// WriteBuffer copies data into buf through the queue.
func (d *Device) WriteBuffer(buf backend.Object, offset uint64, data []byte) error {
	b, ok := buf.(*bufferObj)
	if !ok {
		return fmt.Errorf("%w: write buffer: not a buffer", types.ErrInvalidHandle)
	}
	if !types.InRange(offset, uint64(len(data)), b.size) {
		return fmt.Errorf("%w: write buffer: %d bytes at %d exceed size %d",
			types.ErrInvalidDescriptor, len(data), offset, b.size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return classify(err, types.ErrInvalidDescriptor)
	}
	return nil
}

// Completed returns the highest finished submission index and runs every
// release that was waiting on it.
func (d *Device) Completed() uint64 {
	d.mu.Lock()
	c := d.pollLocked()
	d.mu.Unlock()
	return c
}

func (d *Device) pollLocked() uint64 {
	if d.destroyed {
		return d.completed
	}
	c := d.queue.PollCompleted()
	if c > d.completed {
		d.completed = c
	}
	kept := d.pending[:0]
	for _, p := range d.pending {
		if p.after <= d.completed {
			p.fn()
			continue
		}
		kept = append(kept, p)
	}
	clear(d.pending[len(kept):])
	d.pending = kept
	return d.completed
}

// deferLocked runs fn once every submission made so far has completed.
func (d *Device) deferLocked(fn func()) {
	if d.submitted <= d.completed {
		fn()
		return
	}
	d.pending = append(d.pending, pendingRelease{after: d.submitted, fn: fn})
}

const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

// Wait blocks until index completes, polling the queue with backoff.
func (d *Device) Wait(ctx context.Context, index uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := minPollInterval
	for {
		if d.Completed() >= index {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: submission %d not complete after %v", types.ErrDeviceLost, index, timeout)
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		interval = min(interval*2, maxPollInterval)
	}
}

// WaitIdle blocks until the queue drains and runs every pending release.
func (d *Device) WaitIdle() error {
	if err := d.dev.WaitIdle(); err != nil {
		return classify(err, types.ErrDeviceLost)
	}
	d.Completed()
	return nil
}

// Destroy releases the device. Pending releases run first.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	if err := d.dev.WaitIdle(); err != nil {
		slogger().Warn("halglue: wait idle before destroy", "err", err)
	}
	d.pollLocked()
	for _, p := range d.pending {
		p.fn()
	}
	d.pending = nil
	d.heap.destroy(d.dev)
	d.destroyed = true
	d.dev.Destroy()
	d.adapter.Destroy()
	d.inst.Destroy()
	slogger().Info("halglue: device destroyed", "backend", d.traits.Name)
}
