package types

import (
	"hash/fnv"

	"github.com/gogpu/gputypes"
)

// ShaderSource is precompiled shader input supplied by the shader
// collaborator. The bytecode is opaque to rhi; Identity is the caller's name
// or content hash for it and is what pipeline keys are built from.
//
// Exactly one of WGSL or SPIRV must be set.
type ShaderSource struct {
	// Identity uniquely names the bytecode, e.g. "blit.wgsl#v3" or a digest.
	Identity string

	// Stage is the single pipeline stage this entry point runs in.
	Stage gputypes.ShaderStage

	// EntryPoint is the function name inside the module.
	EntryPoint string

	WGSL  string
	SPIRV []uint32
}

// Validate checks that the source is usable for pipeline creation.
func (s *ShaderSource) Validate() error {
	if s == nil {
		return descriptorError("shader", "source is nil")
	}
	if s.Identity == "" {
		return descriptorError("shader", "identity is empty")
	}
	if s.EntryPoint == "" {
		return descriptorError("shader", "%q has no entry point", s.Identity)
	}
	switch s.Stage {
	case gputypes.ShaderStageVertex, gputypes.ShaderStageFragment, gputypes.ShaderStageCompute:
	default:
		return descriptorError("shader", "%q has stage %v, want exactly one stage", s.Identity, s.Stage)
	}
	hasWGSL, hasSPIRV := s.WGSL != "", len(s.SPIRV) > 0
	if hasWGSL == hasSPIRV {
		return descriptorError("shader", "%q must carry exactly one of WGSL or SPIR-V", s.Identity)
	}
	return nil
}

// CodeHash returns an FNV-1a digest of the bytecode. It is used to detect a
// caller reusing one Identity for different code.
func (s *ShaderSource) CodeHash() uint64 {
	h := fnv.New64a()
	if s.WGSL != "" {
		_, _ = h.Write([]byte(s.WGSL))
		return h.Sum64()
	}
	var buf [4]byte
	for _, w := range s.SPIRV {
		buf[0], buf[1], buf[2], buf[3] = byte(w), byte(w>>8), byte(w>>16), byte(w>>24)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
