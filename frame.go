package rhi

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/internal/frame"
)

// FrameState is the lifecycle state of a frame slot.
type FrameState = frame.State

// Frame slot states.
const (
	FrameIdle      = frame.Idle
	FrameRecording = frame.Recording
	FrameSubmitted = frame.Submitted
	FrameComplete  = frame.Complete
)

// Frame is one recording frame. Command buffers recorded for it can only be
// submitted with it, and resources destroyed while it records are released
// only after its submission completes.
//
// Recorders for one Frame may be used on separate goroutines; Submit and
// Discard must be called once, after every recorder has ended.
type Frame struct {
	d    *Device
	slot *frame.Slot

	mu   sync.Mutex
	done bool
}

// BeginFrame claims the next frame slot. It blocks only while every slot
// is submitted and incomplete, until the oldest completes, ctx is done or
// the fence timeout expires. A timeout returns ErrDeviceLost and the Device
// is unusable from then on.
//
// Only one frame records at a time: BeginFrame before the previous frame
// was submitted or discarded returns ErrFrameState.
func (d *Device) BeginFrame(ctx context.Context) (*Frame, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	slot, err := d.frames.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("rhi: begin frame: %w", d.noteErr(err))
	}
	return &Frame{d: d, slot: slot}, nil
}

// Serial returns the frame number, starting at 1.
func (f *Frame) Serial() uint64 { return f.slot.Serial() }

// Slot returns the slot index in [0, FramesInFlight).
func (f *Frame) Slot() int { return f.slot.Index() }

// Recorder starts a command recorder for this frame.
func (f *Frame) Recorder(label string) *CommandRecorder {
	r := newRecorder(f, label)
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done {
		r.fail(fmt.Errorf("%w: frame %d already finished", ErrFrameState, f.Serial()))
	}
	return r
}

// Submit hands cbs to the queue in order and ends the frame. Once Submit
// returns the buffers cannot be cancelled. Buffers from another frame or
// submitted before return ErrFrameState.
//
// A backend failure abandons the frame; a device-lost failure makes the
// Device unusable.
func (f *Frame) Submit(cbs ...*CommandBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return fmt.Errorf("rhi: submit: %w: frame %d already finished", ErrFrameState, f.Serial())
	}
	d := f.d
	if err := d.check(); err != nil {
		return err
	}

	batches := make([]backend.Batch, 0, len(cbs))
	seen := make(map[*CommandBuffer]struct{}, len(cbs))
	for i, cb := range cbs {
		switch {
		case cb == nil:
			return fmt.Errorf("rhi: submit: %w: command buffer %d is nil", ErrInvalidDescriptor, i)
		case cb.frame != f:
			return fmt.Errorf("rhi: submit: %w: %q was recorded for another frame", ErrFrameState, cb.Label())
		case cb.submitted:
			return fmt.Errorf("rhi: submit: %w: %q already submitted", ErrFrameState, cb.Label())
		}
		if _, dup := seen[cb]; dup {
			return fmt.Errorf("rhi: submit: %w: %q passed twice", ErrFrameState, cb.Label())
		}
		seen[cb] = struct{}{}
		batches = append(batches, backend.Batch{List: cb.list, Objects: cb.objects, Slots: cb.slots})
	}

	index := d.lastSubmit.Load()
	if len(batches) > 0 {
		var err error
		index, err = d.dev.Submit(batches)
		if err != nil {
			f.done = true
			_ = d.frames.Abandon(f.slot)
			return fmt.Errorf("rhi: submit frame %d: %w", f.Serial(), d.noteErr(err))
		}
		d.lastSubmit.Store(index)
	}
	for _, cb := range cbs {
		cb.submitted = true
		for _, s := range cb.surfaces {
			s.markInFlight(index)
		}
	}
	f.done = true
	if err := d.frames.Submit(f.slot, index); err != nil {
		return fmt.Errorf("rhi: submit frame %d: %w", f.Serial(), err)
	}
	slogger().Debug("rhi: frame submitted", "serial", f.Serial(), "slot", f.Slot(),
		"index", index, "buffers", len(cbs))
	return nil
}

// Discard ends the frame without submitting anything. Releases deferred
// during it move to the newest in-flight frame.
func (f *Frame) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return fmt.Errorf("rhi: discard: %w: frame %d already finished", ErrFrameState, f.Serial())
	}
	f.done = true
	return f.d.frames.Abandon(f.slot)
}

// FrameStates returns the state of every frame slot, in slot order.
func (d *Device) FrameStates() []FrameState { return d.frames.States() }
