package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "balanced", cfg.Consolidation.Strategy)
	assert.Equal(t, 9, cfg.WorkingSet.Capacity)
}

func TestLoadWithFile_YAMLOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen: ":8181"
workingset:
  capacity: 5
consolidation:
  strategy: aggressive
  window_days: 3
  min_frequency: 4
saliency:
  recency_half_life_days: 14
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8181", cfg.Server.Listen)
	assert.Equal(t, 5, cfg.WorkingSet.Capacity)
	assert.Equal(t, "aggressive", cfg.Consolidation.Strategy)
	assert.Equal(t, 3, cfg.Consolidation.Window())
	assert.Equal(t, 4, cfg.Consolidation.MinFrequency)
	assert.InDelta(t, 14.0, cfg.Saliency.RecencyHalfLifeDays, 1e-12)

	// Untouched sections still get defaults.
	assert.InDelta(t, 0.30, cfg.Saliency.WeightFrequency, 1e-12)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadWithFile_ExplicitZeroWindowSurvives(t *testing.T) {
	path := writeConfigFile(t, `
consolidation:
  window_days: 0
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Consolidation.Window(), "explicit zero must not be replaced by the default")
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
workingset:
  capacity: 5
`, 0600)

	t.Setenv("WORKINGSET_CAPACITY", "12")
	t.Setenv("CONSOLIDATION_MIN_FREQUENCY", "3")
	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.WorkingSet.Capacity, "env beats file")
	assert.Equal(t, 3, cfg.Consolidation.MinFrequency)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithFile_RejectsWorldReadable(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  level: info\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, `
consolidation:
  window_days: -2
`, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "consolidation.window_days", verr.Field)
}

func TestEnvTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_LISTEN", "server.listen"},
		{"CONSOLIDATION_MIN_SUCCESS_RATE", "consolidation.min_success_rate"},
		{"SALIENCY_WEIGHT_FREQUENCY", "saliency.weight_frequency"},
		{"TERM", "term"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in), "transform of %s", tt.in)
	}
}

func TestExpandPath(t *testing.T) {
	t.Parallel()

	abs, err := ExpandPath("/var/lib/engramd/db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/engramd/db", abs)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expanded, err := ExpandPath("~/.config/engramd/engramd.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/engramd/engramd.db"), expanded)
}
