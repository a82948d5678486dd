package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/types"
)

// Kind is the type parameter of Handle. It is implemented only by the
// marker types in this package.
type Kind interface {
	resourceKind() types.ResourceKind
}

// Handle kinds.
type (
	Buffer          struct{}
	Texture         struct{}
	Sampler         struct{}
	Pipeline        struct{}
	BindGroupLayout struct{}
	ShaderModule    struct{}
)

func (Buffer) resourceKind() types.ResourceKind          { return types.KindBuffer }
func (Texture) resourceKind() types.ResourceKind         { return types.KindTexture }
func (Sampler) resourceKind() types.ResourceKind         { return types.KindSampler }
func (Pipeline) resourceKind() types.ResourceKind        { return types.KindPipeline }
func (BindGroupLayout) resourceKind() types.ResourceKind { return types.KindBindGroupLayout }
func (ShaderModule) resourceKind() types.ResourceKind    { return types.KindShaderModule }

func kindOf[K Kind]() types.ResourceKind {
	var k K
	return k.resourceKind()
}

// Handle is an opaque, copyable reference to a Device-owned object.
// It is valid only for the Device that issued it and only until destroyed.
// The zero Handle never resolves.
type Handle[K Kind] struct {
	dev uint32
	id  types.ResourceID
}

// ID returns the packed resource identity.
func (h Handle[K]) ID() types.ResourceID { return h.id }

// IsZero reports whether h is the zero Handle.
func (h Handle[K]) IsZero() bool { return h.id.IsZero() }

// String formats the handle for diagnostics.
func (h Handle[K]) String() string {
	if h.IsZero() {
		return fmt.Sprintf("%s(<nil>)", kindOf[K]())
	}
	return fmt.Sprintf("dev%d/%s", h.dev, h.id)
}

func (h Handle[K]) device() uint32 { return h.dev }

// AnyHandle is implemented by every Handle instantiation. It lets APIs that
// accept several kinds, such as Bindless.Register, take any of them.
type AnyHandle interface {
	ID() types.ResourceID
	device() uint32
}
