// Package shader checks shader inputs before they reach a backend, so that
// every malformed module fails the same way regardless of which native API
// would have rejected it.
//
// WGSL is parsed and lowered with github.com/gogpu/naga; SPIR-V is checked
// for a well-formed header only.
package shader

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/rhi/types"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic = 0x07230203

// spirvHeaderWords is magic, version, generator, bound, schema.
const spirvHeaderWords = 5

// Check verifies that src can produce its declared entry point. With
// validate set, the lowered WGSL module is also run through the naga
// validator. Failures wrap types.ErrPipelineCreation.
func Check(src *types.ShaderSource, validate bool) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if src.WGSL != "" {
		return checkWGSL(src, validate)
	}
	return checkSPIRV(src)
}

func checkWGSL(src *types.ShaderSource, validate bool) error {
	ast, err := naga.Parse(src.WGSL)
	if err != nil {
		return fmt.Errorf("%w: shader %q: %w", types.ErrPipelineCreation, src.Identity, err)
	}
	module, err := naga.LowerWithSource(ast, src.WGSL)
	if err != nil {
		return fmt.Errorf("%w: shader %q: %w", types.ErrPipelineCreation, src.Identity, err)
	}

	ep := findEntryPoint(module, src.EntryPoint)
	if ep == nil {
		return fmt.Errorf("%w: shader %q has no entry point %q", types.ErrPipelineCreation, src.Identity, src.EntryPoint)
	}
	if want := irStage(src.Stage); ep.Stage != want {
		return fmt.Errorf("%w: shader %q entry point %q is not a %v shader",
			types.ErrPipelineCreation, src.Identity, src.EntryPoint, src.Stage)
	}

	if validate {
		problems, err := naga.Validate(module)
		if err != nil {
			return fmt.Errorf("%w: shader %q: %w", types.ErrPipelineCreation, src.Identity, err)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%w: shader %q: %w (and %d more)",
				types.ErrPipelineCreation, src.Identity, &problems[0], len(problems)-1)
		}
	}
	return nil
}

func checkSPIRV(src *types.ShaderSource) error {
	if len(src.SPIRV) < spirvHeaderWords {
		return fmt.Errorf("%w: shader %q: SPIR-V shorter than its header", types.ErrPipelineCreation, src.Identity)
	}
	if src.SPIRV[0] != SPIRVMagic {
		return fmt.Errorf("%w: shader %q: bad SPIR-V magic %#08x", types.ErrPipelineCreation, src.Identity, src.SPIRV[0])
	}
	return nil
}

func findEntryPoint(m *ir.Module, name string) *ir.EntryPoint {
	for i := range m.EntryPoints {
		if m.EntryPoints[i].Name == name {
			return &m.EntryPoints[i]
		}
	}
	return nil
}

func irStage(s gputypes.ShaderStage) ir.ShaderStage {
	switch s {
	case gputypes.ShaderStageFragment:
		return ir.StageFragment
	case gputypes.ShaderStageCompute:
		return ir.StageCompute
	default:
		return ir.StageVertex
	}
}

// CompileSPIRV translates WGSL to SPIR-V words with naga. It is used to
// produce the persisted form of pipelines for backends that consume SPIR-V.
func CompileSPIRV(wgsl string) ([]uint32, error) {
	opts := naga.DefaultOptions()
	opts.Validate = false
	raw, err := naga.CompileWithOptions(wgsl, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPipelineCreation, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: SPIR-V output not word aligned", types.ErrPipelineCreation)
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}
