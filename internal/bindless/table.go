// Package bindless implements the fixed-capacity slot table that gives every
// registered resource a small integer index for shader-side access.
//
// Mutation (Register, Unregister) is serialized by a mutex. Lookups read an
// immutable per-slot record through an atomic pointer and never lock, so
// recorder goroutines can validate slots while resources are being created
// elsewhere.
package bindless

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi/types"
)

// record is the immutable state of one slot. A new record is published on
// every transition.
type record struct {
	gen  uint32
	live bool
	id   types.ResourceID
}

// Table maps resource identifiers to bindless slots.
type Table struct {
	mu sync.Mutex

	// slots has fixed length cap; only [0, high) have ever been issued.
	slots []atomic.Pointer[record]

	// free is a LIFO stack of released indices.
	free []uint32

	// high is the number of indices ever handed out.
	high atomic.Uint32

	// owners maps a live resource to its slot so Register is idempotent.
	owners map[types.ResourceID]uint32
}

// New creates a table that can hold capacity live slots.
func New(capacity uint32) *Table {
	return &Table{
		slots:  make([]atomic.Pointer[record], capacity),
		owners: make(map[types.ResourceID]uint32),
	}
}

// Register assigns a slot to id. A free index is reused first, with its
// generation incremented; otherwise the table grows by one. Registering an
// id that already holds a slot returns that slot.
func (t *Table) Register(id types.ResourceID) (types.BindlessSlot, error) {
	if id.IsZero() {
		return types.BindlessSlot{}, fmt.Errorf("%w: zero resource id", types.ErrInvalidHandle)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.owners[id]; ok {
		r := t.slots[idx].Load()
		return types.BindlessSlot{Index: idx, Generation: r.gen}, nil
	}

	var (
		idx uint32
		gen uint32
	)
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		gen = t.slots[idx].Load().gen + 1
	} else {
		idx = t.high.Load()
		//nolint:gosec // G115: capacity is configured as uint32
		if idx >= uint32(len(t.slots)) {
			return types.BindlessSlot{}, fmt.Errorf("%w (capacity %d)", types.ErrBindlessFull, len(t.slots))
		}
		t.high.Store(idx + 1)
	}

	t.slots[idx].Store(&record{gen: gen, live: true, id: id})
	t.owners[id] = idx
	return types.BindlessSlot{Index: idx, Generation: gen}, nil
}

// Unregister releases slot. The index returns to the free list and the slot
// is marked dead, so lookups with this generation fail from now on.
func (t *Table) Unregister(slot types.BindlessSlot) (types.ResourceID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.load(slot)
	if err != nil {
		return 0, err
	}
	t.slots[slot.Index].Store(&record{gen: r.gen, live: false})
	delete(t.owners, r.id)
	t.free = append(t.free, slot.Index)
	return r.id, nil
}

// Lookup returns the resource registered under slot. It never blocks.
func (t *Table) Lookup(slot types.BindlessSlot) (types.ResourceID, error) {
	r, err := t.load(slot)
	if err != nil {
		return 0, err
	}
	return r.id, nil
}

// SlotOf returns the live slot held by id, if any.
func (t *Table) SlotOf(id types.ResourceID) (types.BindlessSlot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.owners[id]
	if !ok {
		return types.BindlessSlot{}, false
	}
	return types.BindlessSlot{Index: idx, Generation: t.slots[idx].Load().gen}, true
}

// Len returns the number of live slots.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners)
}

// Cap returns the fixed capacity.
func (t *Table) Cap() int { return len(t.slots) }

func (t *Table) load(slot types.BindlessSlot) (*record, error) {
	if slot.Index >= t.high.Load() {
		return nil, fmt.Errorf("%w: bindless slot %v was never issued", types.ErrInvalidHandle, slot)
	}
	r := t.slots[slot.Index].Load()
	if r == nil || !r.live || r.gen != slot.Generation {
		return nil, fmt.Errorf("%w: stale bindless slot %v", types.ErrInvalidHandle, slot)
	}
	return r, nil
}
