package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/types"
)

// Error taxonomy. Every error returned by rhi wraps exactly one of these;
// match with errors.Is.
var (
	ErrInvalidHandle      = types.ErrInvalidHandle
	ErrInvalidDescriptor  = types.ErrInvalidDescriptor
	ErrOutOfMemory        = types.ErrOutOfMemory
	ErrPipelineCreation   = types.ErrPipelineCreation
	ErrDeviceLost         = types.ErrDeviceLost
	ErrSurfaceLost        = types.ErrSurfaceLost
	ErrBackendUnavailable = types.ErrBackendUnavailable
)

// Usage errors.
var (
	ErrClosed        = types.ErrClosed
	ErrRecorderState = types.ErrRecorderState
	ErrFrameState    = types.ErrFrameState
	ErrBindlessFull  = types.ErrBindlessFull
)

func descriptorErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, args...))
}

func handleErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidHandle, fmt.Sprintf(format, args...))
}
