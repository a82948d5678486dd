package types

import "github.com/gogpu/gputypes"

// DepthStencilState configures depth testing for a render pipeline.
type DepthStencilState struct {
	Format              gputypes.TextureFormat
	DepthWriteEnabled   bool
	DepthCompare        gputypes.CompareFunction
	DepthBias           int32
	DepthBiasSlopeScale float32
	DepthBiasClamp      float32
}
