package types

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by rhi wraps exactly one of these,
// so callers branch with errors.Is.
var (
	// ErrInvalidHandle is returned for stale, foreign or double-destroyed
	// handles and for stale bindless slots.
	ErrInvalidHandle = errors.New("rhi: invalid handle")

	// ErrInvalidDescriptor is returned when creation parameters are malformed.
	ErrInvalidDescriptor = errors.New("rhi: invalid descriptor")

	// ErrOutOfMemory is returned when the backend cannot allocate memory.
	ErrOutOfMemory = errors.New("rhi: out of memory")

	// ErrPipelineCreation is returned when a shader or pipeline fails to
	// compile or link.
	ErrPipelineCreation = errors.New("rhi: pipeline creation failed")

	// ErrDeviceLost is returned after a fence wait timed out or the driver
	// reported device loss. The Device and all its handles are unusable.
	ErrDeviceLost = errors.New("rhi: device lost")

	// ErrSurfaceLost is returned when a window surface was invalidated.
	ErrSurfaceLost = errors.New("rhi: surface lost")

	// ErrBackendUnavailable is returned when the requested backend is not
	// supported on the current hardware or OS.
	ErrBackendUnavailable = errors.New("rhi: backend unavailable")
)

// Usage errors.
var (
	// ErrClosed is returned by every Device method after Close.
	ErrClosed = errors.New("rhi: device closed")

	// ErrRecorderState is returned when recorder calls arrive out of order,
	// for example a draw outside a render pass.
	ErrRecorderState = errors.New("rhi: invalid recorder state")

	// ErrFrameState is returned when a frame is submitted twice or a second
	// frame is begun while one is still recording.
	ErrFrameState = errors.New("rhi: invalid frame state")
)

// ErrBindlessFull is returned by Register when every slot is live.
var ErrBindlessFull = fmt.Errorf("%w: bindless table full", ErrOutOfMemory)

// descriptorError formats an ErrInvalidDescriptor with context.
func descriptorError(what, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDescriptor, what, fmt.Sprintf(format, args...))
}
