package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.ListenAddr)
	assert.Equal(t, uint64(10), cfg.Engine.DefaultIterations)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9999"
engine:
  min_claim_amount: "250000"
  late_window: 48h
`), 0o644))
	t.Setenv("LISTEN_ADDR", ":8080")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "250000", cfg.Engine.MinClaimAmount)
	assert.Equal(t, Duration(48*time.Hour), cfg.Engine.LateWindow)
	// Untouched knobs keep their defaults.
	assert.Equal(t, uint64(500), cfg.Engine.PenaltyRateBps)
}

func TestEngineOptions(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), opts.MinClaimAmount.Int64())
	assert.Equal(t, 72*time.Hour, opts.LateWindow)

	cfg.Engine.ClaimFee = "not-a-number"
	_, err = cfg.EngineOptions()
	assert.Error(t, err)
}
