package rhi

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the Device options.
//
// A TOML example:
//
//	backend = "vulkan"
//	frames_in_flight = 3
//	fence_timeout = "2s"
//	validation = true
//	bindless_capacity = 128
//	pipeline_cache_dir = "/var/cache/myapp/pipelines"
//	power_preference = "low-power"
type Config struct {
	Backend          string `toml:"backend" yaml:"backend"`
	FramesInFlight   int    `toml:"frames_in_flight" yaml:"frames_in_flight"`
	FenceTimeout     string `toml:"fence_timeout" yaml:"fence_timeout"`
	Validation       bool   `toml:"validation" yaml:"validation"`
	BindlessCapacity uint32 `toml:"bindless_capacity" yaml:"bindless_capacity"`
	PipelineCacheDir string `toml:"pipeline_cache_dir" yaml:"pipeline_cache_dir"`

	// PowerPreference is "", "low-power" or "high-performance".
	PowerPreference string `toml:"power_preference" yaml:"power_preference"`
}

// DefaultConfig returns the configuration New uses without options.
func DefaultConfig() Config {
	return Config{
		FramesInFlight:   DefaultFramesInFlight,
		FenceTimeout:     DefaultFenceTimeout.String(),
		BindlessCapacity: DefaultBindlessCapacity,
		PowerPreference:  "high-performance",
	}
}

// LoadConfig reads a TOML (.toml) or YAML (.yaml, .yml) file. Fields the
// file omits keep their DefaultConfig values. The result is validated.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rhi: read config: %w", err)
	}
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
	default:
		return Config{}, descriptorErrorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: config %s: %w", ErrInvalidDescriptor, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and parses the string-typed fields.
func (c *Config) Validate() error {
	if c.FramesInFlight < 1 || c.FramesInFlight > MaxFramesInFlight {
		return descriptorErrorf("frames_in_flight %d outside [1,%d]", c.FramesInFlight, MaxFramesInFlight)
	}
	if _, err := c.timeout(); err != nil {
		return err
	}
	if c.BindlessCapacity == 0 {
		return descriptorErrorf("bindless_capacity must be positive")
	}
	if _, err := c.power(); err != nil {
		return err
	}
	return nil
}

func (c *Config) timeout() (time.Duration, error) {
	if c.FenceTimeout == "" {
		return DefaultFenceTimeout, nil
	}
	d, err := time.ParseDuration(c.FenceTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: fence_timeout: %w", ErrInvalidDescriptor, err)
	}
	if d <= 0 {
		return 0, descriptorErrorf("fence_timeout %v must be positive", d)
	}
	return d, nil
}

func (c *Config) power() (gputypes.PowerPreference, error) {
	switch c.PowerPreference {
	case "":
		return gputypes.PowerPreferenceNone, nil
	case "low-power":
		return gputypes.PowerPreferenceLowPower, nil
	case "high-performance":
		return gputypes.PowerPreferenceHighPerformance, nil
	default:
		return 0, descriptorErrorf("power_preference %q unknown", c.PowerPreference)
	}
}

// Options converts the configuration to Device options. Invalid string
// fields fall back to their defaults; call Validate first to reject them.
func (c *Config) Options() []Option {
	timeout, err := c.timeout()
	if err != nil {
		timeout = DefaultFenceTimeout
	}
	power, err := c.power()
	if err != nil {
		power = gputypes.PowerPreferenceHighPerformance
	}
	opts := []Option{
		WithFramesInFlight(c.FramesInFlight),
		WithFenceTimeout(timeout),
		WithValidation(c.Validation),
		WithBindlessCapacity(c.BindlessCapacity),
		WithPowerPreference(power),
	}
	if c.Backend != "" {
		opts = append(opts, WithBackend(c.Backend))
	}
	if c.PipelineCacheDir != "" {
		opts = append(opts, WithPipelineCacheDir(c.PipelineCacheDir))
	}
	return opts
}
