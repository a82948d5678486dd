package backend

import (
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct{ name string }

func (b stubBackend) Name() string                { return b.name }
func (stubBackend) Variant() gputypes.Backend      { return gputypes.BackendEmpty }
func (stubBackend) Open(OpenOptions) (Device, error) { return nil, nil }

func TestRegistryPriority(t *testing.T) {
	// Isolate from backends registered by other imports.
	saved := registry
	registry = newTestRegistry()
	t.Cleanup(func() { registry = saved })

	assert.Nil(t, Default())
	assert.Equal(t, "", DefaultName())

	Register(NameVulkan, func() Backend { return stubBackend{NameVulkan} })
	require.True(t, IsRegistered(NameVulkan))
	assert.Equal(t, NameVulkan, Default().Name())

	Register(NameMetal, func() Backend { return stubBackend{NameMetal} })
	assert.Equal(t, NameMetal, DefaultName())
	assert.Equal(t, []string{NameMetal, NameVulkan}, Available())

	Unregister(NameMetal)
	assert.False(t, IsRegistered(NameMetal))
	assert.Nil(t, Get(NameMetal))
	assert.Equal(t, NameVulkan, Get(NameVulkan).Name())
}

func newTestRegistry() *gpucontext.Registry[Backend] {
	return gpucontext.NewRegistry[Backend](gpucontext.WithPriority(NameMetal, NameVulkan))
}
