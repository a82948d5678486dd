package rhi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "rhi.toml", `
backend = "vulkan"
frames_in_flight = 3
fence_timeout = "2s"
validation = true
bindless_capacity = 128
pipeline_cache_dir = "/var/cache/pipelines"
power_preference = "low-power"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Backend:          "vulkan",
		FramesInFlight:   3,
		FenceTimeout:     "2s",
		Validation:       true,
		BindlessCapacity: 128,
		PipelineCacheDir: "/var/cache/pipelines",
		PowerPreference:  "low-power",
	}, cfg)

	o := defaultOptions()
	for _, opt := range cfg.Options() {
		opt(&o)
	}
	assert.Equal(t, "vulkan", o.backend)
	assert.Equal(t, 3, o.framesInFlight)
	assert.Equal(t, 2*time.Second, o.fenceTimeout)
	assert.True(t, o.validation)
	assert.Equal(t, uint32(128), o.bindlessCapacity)
	assert.Equal(t, "/var/cache/pipelines", o.cacheDir)
	assert.Equal(t, gputypes.PowerPreferenceLowPower, o.power)
}

func TestLoadConfigYAMLKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "rhi.yaml", "frames_in_flight: 1\nvalidation: true\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.FramesInFlight = 1
	want.Validation = true
	assert.Equal(t, want, cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown toml field", "a.toml", "frames = 2\n"},
		{"unknown yaml field", "a.yml", "frames: 2\n"},
		{"malformed toml", "a.toml", "frames_in_flight = \n"},
		{"frames out of range", "a.toml", "frames_in_flight = 7\n"},
		{"bad timeout", "a.yaml", "fence_timeout: soon\n"},
		{"negative timeout", "a.yaml", "fence_timeout: -1s\n"},
		{"zero capacity", "a.toml", "bindless_capacity = 0\n"},
		{"unknown power", "a.toml", "power_preference = \"turbo\"\n"},
		{"unsupported extension", "a.json", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			require.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultConfigMatchesDefaultOptions(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	got := options{}
	for _, opt := range cfg.Options() {
		opt(&got)
	}
	assert.Equal(t, defaultOptions(), got)
}
