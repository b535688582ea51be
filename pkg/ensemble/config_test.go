package ensemble

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/volumeguard/pkg/detectors"
)

func boolPtr(b bool) *bool { return &b }

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Len(t, cfg.Models, 3)
	assert.Equal(t, ModeAny, cfg.Mode)
	assert.Equal(t, []detectors.Kind{detectors.KindZScore, detectors.KindChangePoint, detectors.KindIsolationForest},
		[]detectors.Kind{cfg.Models[0].Name, cfg.Models[1].Name, cfg.Models[2].Name})
	assert.True(t, cfg.Models[0].Enabled)
	assert.False(t, cfg.Models[1].Enabled)
	assert.False(t, cfg.Models[2].Enabled)
	assert.Equal(t, 3.0, cfg.Models[0].Params["threshold"])
	assert.Equal(t, 10.0, cfg.Models[1].Params["penalty"])
	assert.Equal(t, 0.05, cfg.Models[2].Params["contamination"])
}

func TestDefaultConfigIsFresh(t *testing.T) {
	a := DefaultConfig()
	a.Models[0].Params["threshold"] = 99
	a.Models[1].Enabled = true

	b := DefaultConfig()
	assert.Equal(t, 3.0, b.Models[0].Params["threshold"])
	assert.False(t, b.Models[1].Enabled)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		partial PartialConfig
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:    "empty keeps defaults",
			partial: PartialConfig{},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "param override keeps enabled flag and siblings",
			partial: PartialConfig{Models: []PartialDetectorConfig{
				{Name: "zscore", Params: map[string]any{"threshold": 2.0}},
			}},
			check: func(t *testing.T, cfg Config) {
				def := DefaultConfig()
				z, _ := cfg.Model(detectors.KindZScore)
				assert.True(t, z.Enabled)
				assert.Equal(t, detectors.Params{"threshold": 2.0}, z.Params)
				assert.Equal(t, def.Models[1], cfg.Models[1])
				assert.Equal(t, def.Models[2], cfg.Models[2])
				assert.Equal(t, ModeAny, cfg.Mode)
			},
		},
		{
			name: "params merge per key",
			partial: PartialConfig{Models: []PartialDetectorConfig{
				{Name: "isolation_forest", Enabled: boolPtr(true), Params: map[string]any{"seed": 7}},
			}},
			check: func(t *testing.T, cfg Config) {
				m, _ := cfg.Model(detectors.KindIsolationForest)
				assert.True(t, m.Enabled)
				assert.Equal(t, detectors.Params{"contamination": 0.05, "seed": 7}, m.Params)
			},
		},
		{
			name: "enabled override only",
			partial: PartialConfig{Models: []PartialDetectorConfig{
				{Name: "zscore", Enabled: boolPtr(false)},
				{Name: "change_point", Enabled: boolPtr(true)},
			}},
			check: func(t *testing.T, cfg Config) {
				assert.False(t, cfg.Models[0].Enabled)
				assert.True(t, cfg.Models[1].Enabled)
				assert.Equal(t, 10.0, cfg.Models[1].Params["penalty"])
			},
		},
		{
			name: "unknown detector ignored",
			partial: PartialConfig{Models: []PartialDetectorConfig{
				{Name: "prophet", Enabled: boolPtr(true), Params: map[string]any{"x": "not a number"}},
			}},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name:    "mode replaces default",
			partial: PartialConfig{Mode: ModeCombined},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, ModeCombined, cfg.Mode)
			},
		},
		{
			name: "numeric params of any width",
			partial: PartialConfig{Models: []PartialDetectorConfig{
				{Name: "change_point", Params: map[string]any{"penalty": int64(4)}},
				{Name: "zscore", Params: map[string]any{"threshold": json.Number("2.5")}},
			}},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 4.0, cfg.Models[1].Params["penalty"])
				assert.Equal(t, 2.5, cfg.Models[0].Params["threshold"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Merge(tt.partial)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestMergeErrors(t *testing.T) {
	tests := []struct {
		name    string
		partial PartialConfig
	}{
		{name: "unknown mode", partial: PartialConfig{Mode: "majority"}},
		{name: "string param", partial: PartialConfig{Models: []PartialDetectorConfig{
			{Name: "zscore", Params: map[string]any{"threshold": "high"}},
		}}},
		{name: "bool param", partial: PartialConfig{Models: []PartialDetectorConfig{
			{Name: "change_point", Params: map[string]any{"penalty": true}},
		}}},
		{name: "malformed json number", partial: PartialConfig{Models: []PartialDetectorConfig{
			{Name: "zscore", Params: map[string]any{"threshold": json.Number("3x")}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.partial)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	partials := []PartialConfig{
		{},
		{Mode: ModeCombined},
		{Models: []PartialDetectorConfig{{Name: "zscore", Params: map[string]any{"threshold": 2.0}}}},
		{Models: []PartialDetectorConfig{
			{Name: "change_point", Enabled: boolPtr(true), Params: map[string]any{"penalty": 3}},
			{Name: "isolation_forest", Enabled: boolPtr(true), Params: map[string]any{"contamination": 0.1, "seed": 1}},
		}, Mode: ModeAny},
	}

	for _, p := range partials {
		once, err := Merge(p)
		require.NoError(t, err)

		twice, err := Merge(once.Partial())
		require.NoError(t, err)

		assert.Equal(t, once, twice)
	}
}

func TestMergeDoesNotAliasPartial(t *testing.T) {
	params := map[string]any{"threshold": 2.0}
	cfg, err := Merge(PartialConfig{Models: []PartialDetectorConfig{{Name: "zscore", Params: params}}})
	require.NoError(t, err)

	params["threshold"] = 9.0
	assert.Equal(t, 2.0, cfg.Models[0].Params["threshold"])
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Models[0].Params["threshold"] = 1
	clone.Mode = ModeCombined

	assert.Equal(t, 3.0, cfg.Models[0].Params["threshold"])
	assert.Equal(t, ModeAny, cfg.Mode)
}

func TestPartialConfigDecodesFromYAML(t *testing.T) {
	src := `
mode: combined
models:
  - name: zscore
    params:
      threshold: 2
  - name: isolation_forest
    enabled: true
`
	var p PartialConfig
	require.NoError(t, yaml.Unmarshal([]byte(src), &p))

	cfg, err := Merge(p)
	require.NoError(t, err)

	assert.Equal(t, ModeCombined, cfg.Mode)
	assert.Equal(t, 2.0, cfg.Models[0].Params["threshold"])
	assert.True(t, cfg.Models[0].Enabled)
	assert.True(t, cfg.Models[2].Enabled)
}
