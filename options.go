package rhi

import (
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultFramesInFlight   = 2
	DefaultFenceTimeout     = 5 * time.Second
	DefaultBindlessCapacity = 250 // four heap ranges fit the 1000 bindings per group every adapter allows

	// MaxFramesInFlight is the largest accepted frames-in-flight count.
	MaxFramesInFlight = 3
)

// BackendEnv names the environment variable consulted when no backend is
// configured explicitly.
const BackendEnv = "RHI_BACKEND"

// Option configures a Device during creation.
//
// Example:
//
//	dev, err := rhi.New(
//	    rhi.WithBackend("vulkan"),
//	    rhi.WithFramesInFlight(3),
//	)
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	backend          string
	framesInFlight   int
	fenceTimeout     time.Duration
	validation       bool
	bindlessCapacity uint32
	cacheDir         string
	logger           *slog.Logger
	power            gputypes.PowerPreference
}

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		framesInFlight:   DefaultFramesInFlight,
		fenceTimeout:     DefaultFenceTimeout,
		bindlessCapacity: DefaultBindlessCapacity,
		power:            gputypes.PowerPreferenceHighPerformance,
	}
}

// WithBackend selects a registered backend by name ("vulkan", "metal").
// Without it, RHI_BACKEND is consulted, then the best registered backend.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithFramesInFlight sets how many frames may be submitted but not yet
// complete. BeginFrame blocks once n frames are in flight. Valid values are
// 1 through 3.
func WithFramesInFlight(n int) Option {
	return func(o *options) {
		o.framesInFlight = n
	}
}

// WithFenceTimeout bounds every fence wait. A wait that exceeds it reports
// ErrDeviceLost.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fenceTimeout = d
	}
}

// WithValidation enables native debug layers and strict handle checks.
// With validation on, recording a BindResources with a stale slot fails
// the command buffer instead of publishing a sentinel index.
func WithValidation(enabled bool) Option {
	return func(o *options) {
		o.validation = enabled
	}
}

// WithBindlessCapacity sets the number of bindless slots per resource class.
func WithBindlessCapacity(n uint32) Option {
	return func(o *options) {
		o.bindlessCapacity = n
	}
}

// WithPipelineCacheDir enables the on-disk shader cache rooted at dir.
// Files there may be deleted at any time.
func WithPipelineCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithLogger installs l as the rhi logger, as SetLogger does.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPowerPreference chooses between integrated and discrete adapters.
func WithPowerPreference(p gputypes.PowerPreference) Option {
	return func(o *options) {
		o.power = p
	}
}

// validate checks the combined options.
func (o *options) validate() error {
	if o.framesInFlight < 1 || o.framesInFlight > MaxFramesInFlight {
		return descriptorErrorf("frames in flight %d outside [1,%d]", o.framesInFlight, MaxFramesInFlight)
	}
	if o.fenceTimeout <= 0 {
		return descriptorErrorf("fence timeout %v must be positive", o.fenceTimeout)
	}
	if o.bindlessCapacity == 0 {
		return descriptorErrorf("bindless capacity must be positive")
	}
	return nil
}
