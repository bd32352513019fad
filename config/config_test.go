// config/config_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Settlement.Cooldown)
	assert.Equal(t, int64(1000), cfg.Settlement.MaxYieldDeltaBps)
	assert.Equal(t, 4*time.Hour, cfg.Batch.CutoffDuration)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.True(t, cfg.Relayer.Enabled)
	require.NotEmpty(t, cfg.Vaults)
	assert.Equal(t, "kUSD", cfg.Vaults[0].KTokenSymbol)

	assert.NoError(t, cfg.Validate())
}

func TestValidateCeilings(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Settlement.Cooldown = MaxSettlementCooldown + time.Second
	assert.Error(t, cfg.Validate(), "Cooldown beyond the protocol ceiling must fail")

	cfg.Settlement.Cooldown = MaxSettlementCooldown
	assert.NoError(t, cfg.Validate(), "Cooldown at the ceiling is allowed")

	cfg.Settlement.Cooldown = 0
	assert.Error(t, cfg.Validate())

	cfg, err = Load()
	require.NoError(t, err)
	cfg.Settlement.MaxYieldDeltaBps = MaxYieldDeltaBps + 1
	assert.Error(t, cfg.Validate())

	cfg.Settlement.MaxYieldDeltaBps = 0
	assert.Error(t, cfg.Validate())

	cfg, err = Load()
	require.NoError(t, err)
	cfg.Batch.CutoffDuration = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kam.yaml")

	yaml := `
node_id: router-7
settlement:
  cooldown: 2h
  max_yield_delta_bps: 500
api:
  listen_addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "router-7", cfg.NodeID)
	assert.Equal(t, 2*time.Hour, cfg.Settlement.Cooldown)
	assert.Equal(t, int64(500), cfg.Settlement.MaxYieldDeltaBps)
	assert.Equal(t, ":9090", cfg.API.ListenAddr)

	// Untouched fields keep their defaults
	assert.Equal(t, 4*time.Hour, cfg.Batch.CutoffDuration)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kam.yaml")

	yaml := `
settlement:
  cooldown: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err, "Overlay exceeding a ceiling must be rejected")

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
