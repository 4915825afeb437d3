package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

func TestDefault_FenceAfter(t *testing.T) {
	cfg := Default()
	require.Equal(t, 30*time.Second, cfg.FenceAfter())
}

func TestValidate_RequiresNodeID(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/pvcd"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsUnknownDaemonMode(t *testing.T) {
	cfg := Default()
	cfg.NodeID = "cx1"
	cfg.DataDir = "/tmp/pvcd"
	cfg.DaemonMode = types.DaemonMode("bogus")
	require.Error(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().KeepaliveInterval, cfg.KeepaliveInterval)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pvcd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: cx1\ndaemon_mode: coordinator\nfence_multiplier: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "cx1", cfg.NodeID)
	require.Equal(t, types.DaemonModeCoordinator, cfg.DaemonMode)
	require.Equal(t, 3, cfg.FenceMultiplier)
	// Untouched fields keep their default.
	require.Equal(t, Default().VMShutdownTimeout, cfg.VMShutdownTimeout)
}
