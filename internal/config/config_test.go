package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volumeguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ensemble.DefaultStrength, cfg.Strength)
	assert.Nil(t, cfg.Seed)
	assert.Equal(t, "table", cfg.Output.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
	assert.Empty(t, cfg.Ensemble.Models)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
strength: 0.8
seed: 7
workers: 4
ensemble:
  mode: combined
  models:
    - name: change_point
      enabled: true
      params:
        penalty: 3
    - name: isolation_forest
      enabled: true
      params:
        contamination: 0.1
output:
  format: json
logging:
  level: debug
  format: json
metrics:
  textfile: /tmp/volumeguard.prom
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.8, cfg.Strength, 1e-12)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(7), *cfg.Seed)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, "/tmp/volumeguard.prom", cfg.Metrics.Textfile)

	merged, err := ensemble.Merge(cfg.Ensemble)
	require.NoError(t, err)
	assert.Equal(t, ensemble.ModeCombined, merged.Mode)

	cp, ok := merged.Model("change_point")
	require.True(t, ok)
	assert.True(t, cp.Enabled)
	assert.Equal(t, 3.0, cp.Params["penalty"])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VOLUMEGUARD_LOGGING_LEVEL", "warn")
	t.Setenv("VOLUMEGUARD_STRENGTH", "0.25")

	cfg, err := Load(writeConfig(t, "strength: 0.9\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.InDelta(t, 0.25, cfg.Strength, 1e-12)
}

func TestLoadFlagOverrides(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("mode", "", "")
	flags.String("format", "table", "")
	flags.Int64("seed", 0, "")
	require.NoError(t, flags.Parse([]string{"--mode", "combined", "--format", "yaml"}))

	cfg, err := Load(writeConfig(t, "ensemble:\n  mode: any\n"), flags)
	require.NoError(t, err)

	assert.Equal(t, ensemble.ModeCombined, cfg.Ensemble.Mode)
	assert.Equal(t, "yaml", cfg.Output.Format)
	assert.Nil(t, cfg.Seed, "unset seed flag must not pin the forest")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"strength above range", "strength: 1.5\n", ErrInvalidStrength},
		{"negative strength", "strength: -0.1\n", ErrInvalidStrength},
		{"negative workers", "workers: -1\n", ErrInvalidWorkers},
		{"bad level", "logging:\n  level: loud\n", ErrInvalidLogLevel},
		{"bad format", "logging:\n  format: xml\n", ErrInvalidLogFormat},
		{"bad mode", "ensemble:\n  mode: majority\n", ensemble.ErrConfiguration},
		{
			"non-numeric param",
			"ensemble:\n  models:\n    - name: zscore\n      params:\n        threshold: high\n",
			ensemble.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
