package rhi

import (
	"fmt"
	"sync"

	"github.com/gogpu/rhi/internal/bindless"
	"github.com/gogpu/rhi/types"
)

// Bindless gives buffers, textures and samplers a small integer slot that
// shaders index directly, instead of per-draw descriptor binding.
//
// Register and Unregister are serialized; Lookup and Validate never lock,
// so recorders on other goroutines can check slots while resources are
// being registered.
//
// Slot contents are sampled when a frame is submitted: a frame sees the
// resource registered in a slot at Submit time.
type Bindless struct {
	d     *Device
	table *bindless.Table

	// mu orders table mutation with the matching backend heap write, so a
	// recycled index is never cleared after its new owner was placed.
	mu sync.Mutex
}

func newBindless(d *Device, capacity uint32) *Bindless {
	return &Bindless{d: d, table: bindless.New(capacity)}
}

// Register assigns a slot to a buffer, texture or sampler handle. Freed
// indices are reused first, with their generation incremented. Registering
// a handle that already holds a slot returns that slot.
//
// Every slot is live in exactly one table: a full table returns
// ErrBindlessFull, which wraps ErrOutOfMemory.
func (b *Bindless) Register(h AnyHandle) (BindlessSlot, error) {
	if err := b.d.check(); err != nil {
		return BindlessSlot{}, err
	}
	kind := h.ID().Kind()
	if !kind.Bindable() {
		return BindlessSlot{}, handleErrorf("%s cannot be registered bindless", h.ID())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.d.resolve(h)
	if err != nil {
		return BindlessSlot{}, err
	}
	if slot, ok := b.table.SlotOf(h.ID()); ok {
		return slot, nil
	}
	slot, err := b.table.Register(h.ID())
	if err != nil {
		return BindlessSlot{}, fmt.Errorf("rhi: bindless register %s: %w", h.ID(), err)
	}
	if err := b.d.dev.BindlessSet(kind, slot.Index, r.obj); err != nil {
		_, _ = b.table.Unregister(slot)
		return BindlessSlot{}, fmt.Errorf("rhi: bindless register %s: %w", h.ID(), err)
	}
	slogger().Debug("rhi: bindless registered", "id", h.ID(), "slot", slot)
	return slot, nil
}

// Unregister releases slot. Later lookups of slot fail with
// ErrInvalidHandle; the index is recycled with a new generation.
func (b *Bindless) Unregister(slot BindlessSlot) error {
	if err := b.d.check(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unregisterLocked(slot)
}

func (b *Bindless) unregisterLocked(slot BindlessSlot) error {
	id, err := b.table.Unregister(slot)
	if err != nil {
		return err
	}
	b.d.dev.BindlessClear(id.Kind(), slot.Index)
	slogger().Debug("rhi: bindless unregistered", "id", id, "slot", slot)
	return nil
}

// forget releases the slot held by a resource being destroyed, if any.
func (b *Bindless) forget(id types.ResourceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot, ok := b.table.SlotOf(id); ok {
		_ = b.unregisterLocked(slot)
	}
}

// Lookup returns the identity of the resource registered in slot. Stale
// and never-issued slots return ErrInvalidHandle.
func (b *Bindless) Lookup(slot BindlessSlot) (types.ResourceID, error) {
	return b.table.Lookup(slot)
}

// Validate reports whether slot is live.
func (b *Bindless) Validate(slot BindlessSlot) error {
	_, err := b.table.Lookup(slot)
	return err
}

// SlotOf returns the slot currently held by h.
func (b *Bindless) SlotOf(h AnyHandle) (BindlessSlot, bool) {
	return b.table.SlotOf(h.ID())
}

// Len returns the number of live slots.
func (b *Bindless) Len() int { return b.table.Len() }

// Cap returns the fixed number of slots.
func (b *Bindless) Cap() int { return b.table.Cap() }
