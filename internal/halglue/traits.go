package halglue

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/types"
)

// Traits captures how one native API differs from another.
type Traits struct {
	// Name is the registry name of the backend.
	Name string

	// Variant selects the hal backend.
	Variant gputypes.Backend

	// ElideBufferBarriers drops buffer transitions. Metal tracks buffer
	// hazards per command encoder.
	ElideBufferBarriers bool

	// ElideTextureBarriers drops texture transitions other than the one
	// into StatePresent.
	ElideTextureBarriers bool

	// FlatBindlessIndex numbers bindless slots across one flat argument
	// table: buffers first, then textures, then samplers. Otherwise each
	// class is indexed from zero.
	FlatBindlessIndex bool

	// AcceptsSPIRV reports whether SPIR-V modules can be consumed.
	AcceptsSPIRV bool

	// PrefersSPIRV reports whether WGSL is translated to SPIR-V internally.
	PrefersSPIRV bool
}

// heapClasses is the number of binding ranges in the heap: storage
// buffers, textures, samplers and uniform buffers. The uniform range
// mirrors the storage range, so buffer slot i is binding i or binding
// 3*capacity+i depending on the buffer's usage, with one native index.
const heapClasses = 4

// uniformBase is the position of the uniform buffer range.
const uniformBase = 3

// classBase returns the position of kind's range inside the heap.
func classBase(kind types.ResourceKind) (uint32, bool) {
	switch kind {
	case types.KindBuffer:
		return 0, true
	case types.KindTexture:
		return 1, true
	case types.KindSampler:
		return 2, true
	default:
		return 0, false
	}
}

// NativeIndex returns the index a shader uses to reach slot index of kind
// in a heap holding capacity slots per class.
func (t Traits) NativeIndex(kind types.ResourceKind, index, capacity uint32) uint32 {
	if !t.FlatBindlessIndex {
		return index
	}
	base, _ := classBase(kind)
	return base*capacity + index
}

// uniformBinding returns the heap binding of buffer slot index when the
// buffer is bound as a uniform.
func uniformBinding(index, capacity uint32) uint32 {
	return uniformBase*capacity + index
}

// heapBinding returns the heap binding number for slot index of kind.
func heapBinding(kind types.ResourceKind, index, capacity uint32) (uint32, bool) {
	base, ok := classBase(kind)
	if !ok || index >= capacity {
		return 0, false
	}
	return base*capacity + index, true
}
