package rhi

// Register the native backends. Metal only builds on darwin.
import (
	_ "github.com/gogpu/rhi/backend/metal"
	_ "github.com/gogpu/rhi/backend/vulkan"
)
