package types

import "fmt"

// ResourceState is the single barrier vocabulary shared by all backends.
// A barrier names the state a resource leaves and the state it enters;
// backends translate the pair into their native transition primitives.
type ResourceState uint16

const (
	// StateUndefined discards previous contents.
	StateUndefined ResourceState = iota
	// StateShaderRead is sampled or read-only storage access.
	StateShaderRead
	// StateShaderWrite is read-write storage access.
	StateShaderWrite
	// StateRenderTarget is color attachment output.
	StateRenderTarget
	// StateDepthWrite is depth/stencil attachment output.
	StateDepthWrite
	// StateDepthRead is read-only depth testing or sampling of depth.
	StateDepthRead
	// StateCopySrc is the source of a copy.
	StateCopySrc
	// StateCopyDst is the destination of a copy or queue write.
	StateCopyDst
	// StateVertexBuffer is vertex input.
	StateVertexBuffer
	// StateIndexBuffer is index input.
	StateIndexBuffer
	// StateIndirect is indirect argument input.
	StateIndirect
	// StatePresent hands a surface texture to the presentation engine.
	StatePresent

	stateCount
)

var stateNames = [...]string{
	StateUndefined:    "Undefined",
	StateShaderRead:   "ShaderRead",
	StateShaderWrite:  "ShaderWrite",
	StateRenderTarget: "RenderTarget",
	StateDepthWrite:   "DepthWrite",
	StateDepthRead:    "DepthRead",
	StateCopySrc:      "CopySrc",
	StateCopyDst:      "CopyDst",
	StateVertexBuffer: "VertexBuffer",
	StateIndexBuffer:  "IndexBuffer",
	StateIndirect:     "Indirect",
	StatePresent:      "Present",
}

// String returns the state name.
func (s ResourceState) String() string {
	if s < stateCount {
		return stateNames[s]
	}
	return fmt.Sprintf("ResourceState(%d)", uint16(s))
}

// Valid reports whether s is a known state.
func (s ResourceState) Valid() bool { return s < stateCount }

// IsWrite reports whether the GPU may write the resource in this state.
func (s ResourceState) IsWrite() bool {
	switch s {
	case StateShaderWrite, StateRenderTarget, StateDepthWrite, StateCopyDst:
		return true
	default:
		return false
	}
}

// AppliesTo reports whether a resource of the given kind can be in state s.
func (s ResourceState) AppliesTo(kind ResourceKind) bool {
	switch s {
	case StateUndefined, StateShaderRead, StateShaderWrite, StateCopySrc, StateCopyDst:
		return kind == KindBuffer || kind == KindTexture
	case StateVertexBuffer, StateIndexBuffer, StateIndirect:
		return kind == KindBuffer
	case StateRenderTarget, StateDepthWrite, StateDepthRead, StatePresent:
		return kind == KindTexture
	default:
		return false
	}
}
