package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/internal/config"
	"lanchat/internal/discovery"
	"lanchat/internal/discovery/memory"
)

func TestNewBackend(t *testing.T) {
	cfg := config.Default().Discovery

	reg, browser, err := NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &discovery.Zeroconf{}, reg)
	assert.Same(t, reg, browser)

	cfg.Backend = config.BackendHashicorp
	reg, _, err = NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &discovery.Hashicorp{}, reg)

	cfg.Backend = config.BackendMemory
	reg, _, err = NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Network{}, reg)

	cfg.Backend = "bonjour"
	_, _, err = NewBackend(cfg, nil)
	assert.Error(t, err)
}
