package types

import "fmt"

// ResourceKind identifies the class of object a ResourceID refers to.
type ResourceKind uint8

const (
	KindInvalid ResourceKind = iota
	KindBuffer
	KindTexture
	KindSampler
	KindPipeline
	KindBindGroupLayout
	KindShaderModule
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindBuffer:
		return "Buffer"
	case KindTexture:
		return "Texture"
	case KindSampler:
		return "Sampler"
	case KindPipeline:
		return "Pipeline"
	case KindBindGroupLayout:
		return "BindGroupLayout"
	case KindShaderModule:
		return "ShaderModule"
	default:
		return fmt.Sprintf("ResourceKind(%d)", uint8(k))
	}
}

// Bindable reports whether resources of this kind can be registered in the
// bindless table.
func (k ResourceKind) Bindable() bool {
	return k == KindBuffer || k == KindTexture || k == KindSampler
}

// ResourceID is the packed identity behind every handle.
//
// Layout (high to low): kind (8 bits), generation (24 bits), index (32 bits).
// The zero value is never issued.
type ResourceID uint64

const (
	idIndexBits = 32
	idGenBits   = 24

	// MaxGeneration is the largest generation a ResourceID can carry.
	MaxGeneration = 1<<idGenBits - 1
)

// NewResourceID packs kind, index and generation.
func NewResourceID(kind ResourceKind, index, generation uint32) ResourceID {
	return ResourceID(uint64(kind)<<(idIndexBits+idGenBits) |
		uint64(generation&MaxGeneration)<<idIndexBits |
		uint64(index))
}

// Kind returns the resource kind.
func (id ResourceID) Kind() ResourceKind { return ResourceKind(id >> (idIndexBits + idGenBits)) }

// Index returns the slot index inside the owning table.
func (id ResourceID) Index() uint32 { return uint32(id) }

// Generation returns the reuse counter of the slot.
func (id ResourceID) Generation() uint32 { return uint32(id>>idIndexBits) & MaxGeneration }

// IsZero reports whether id is the zero value.
func (id ResourceID) IsZero() bool { return id == 0 }

// String formats id as Kind(index:generation).
func (id ResourceID) String() string {
	if id == 0 {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%d:%d)", id.Kind(), id.Index(), id.Generation())
}

// BindlessSlot is a (generation, index) pair issued by the bindless table.
// Index is what shaders consume; Generation detects use after reuse.
type BindlessSlot struct {
	Index      uint32
	Generation uint32
}

// String formats the slot as index@generation.
func (s BindlessSlot) String() string {
	return fmt.Sprintf("%d@%d", s.Index, s.Generation)
}
