// Package slotmap implements the generational table that maps handles to
// Device-owned objects.
//
// Indices are recycled through a free list; every reuse bumps the slot's
// generation so an identifier issued for a previous occupant no longer
// resolves.
package slotmap

import (
	"sync"

	"github.com/gogpu/rhi/types"
)

type entry[T any] struct {
	gen  uint32
	kind types.ResourceKind
	live bool
	val  T
}

// Map is a generational slot map. It is safe for concurrent use; lookups
// take a read lock only.
type Map[T any] struct {
	mu      sync.RWMutex
	entries []entry[T]
	free    []uint32
	live    int
}

// New creates an empty map with room for hint entries.
func New[T any](hint int) *Map[T] {
	return &Map[T]{entries: make([]entry[T], 0, hint)}
}

// Insert stores val and returns its identifier.
func (m *Map[T]) Insert(kind types.ResourceKind, val T) types.ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		//nolint:gosec // G115: table size is bounded by available memory, far below 2^32
		idx = uint32(len(m.entries))
		m.entries = append(m.entries, entry[T]{})
	}

	e := &m.entries[idx]
	e.gen = nextGen(e.gen)
	e.kind = kind
	e.live = true
	e.val = val
	m.live++
	return types.NewResourceID(kind, idx, e.gen)
}

// nextGen advances a generation, skipping zero so that the zero ResourceID
// is never issued.
func nextGen(g uint32) uint32 {
	g = (g + 1) & types.MaxGeneration
	if g == 0 {
		g = 1
	}
	return g
}

// Get returns the value stored under id.
func (m *Map[T]) Get(id types.ResourceID) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e := m.lookup(id); e != nil {
		return e.val, true
	}
	var zero T
	return zero, false
}

// Contains reports whether id is live.
func (m *Map[T]) Contains(id types.ResourceID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(id) != nil
}

// Update replaces the value stored under id.
func (m *Map[T]) Update(id types.ResourceID, fn func(*T)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(id)
	if e == nil {
		return false
	}
	fn(&e.val)
	return true
}

// Remove deletes id and returns the value it held. A second Remove of the
// same id reports false.
func (m *Map[T]) Remove(id types.ResourceID) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	e := m.lookup(id)
	if e == nil {
		return zero, false
	}
	val := e.val
	e.val = zero
	e.live = false
	m.free = append(m.free, id.Index())
	m.live--
	return val, true
}

// Len returns the number of live entries.
func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

// Drain removes every live entry and passes it to fn in index order.
func (m *Map[T]) Drain(fn func(types.ResourceID, T)) {
	m.mu.Lock()
	var (
		ids  []types.ResourceID
		vals []T
		zero T
	)
	for i := range m.entries {
		e := &m.entries[i]
		if !e.live {
			continue
		}
		//nolint:gosec // G115: index fits in uint32, see Insert
		ids = append(ids, types.NewResourceID(e.kind, uint32(i), e.gen))
		vals = append(vals, e.val)
		e.val = zero
		e.live = false
		//nolint:gosec // G115: index fits in uint32, see Insert
		m.free = append(m.free, uint32(i))
	}
	m.live = 0
	m.mu.Unlock()

	for i, id := range ids {
		fn(id, vals[i])
	}
}

func (m *Map[T]) lookup(id types.ResourceID) *entry[T] {
	idx := id.Index()
	if id.IsZero() || int(idx) >= len(m.entries) {
		return nil
	}
	e := &m.entries[idx]
	if !e.live || e.gen != id.Generation() || e.kind != id.Kind() {
		return nil
	}
	return e
}
