package ensemble

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/hed1ad/volumeguard/pkg/detectors"
	"github.com/hed1ad/volumeguard/pkg/detectors/changepoint"
	"github.com/hed1ad/volumeguard/pkg/detectors/iforest"
	"github.com/hed1ad/volumeguard/pkg/detectors/zscore"
)

// Mode selects how per-detector verdicts combine into one decision.
type Mode string

// Aggregation modes.
const (
	// ModeAny flags an observation when at least one detector flags it.
	ModeAny Mode = "any"
	// ModeCombined averages normalized detector scores and flags above 0.5.
	ModeCombined Mode = "combined"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAny || m == ModeCombined
}

// DetectorConfig is the effective configuration of one detector.
type DetectorConfig struct {
	Name    detectors.Kind   `json:"name" yaml:"name"`
	Enabled bool             `json:"enabled" yaml:"enabled"`
	Params  detectors.Params `json:"params" yaml:"params"`
}

// Config is a fully populated ensemble configuration. Obtain one from
// DefaultConfig or Merge; treat it as a value.
type Config struct {
	Models []DetectorConfig `json:"models" yaml:"models"`
	Mode   Mode             `json:"mode" yaml:"mode"`
}

// DefaultConfig returns a fresh copy of the canonical defaults: z-score on,
// change point and isolation forest off, mode "any".
func DefaultConfig() Config {
	return Config{
		Models: []DetectorConfig{
			{
				Name:    detectors.KindZScore,
				Enabled: true,
				Params:  detectors.Params{zscore.ParamThreshold: zscore.DefaultThreshold},
			},
			{
				Name:    detectors.KindChangePoint,
				Enabled: false,
				Params:  detectors.Params{changepoint.ParamPenalty: changepoint.DefaultPenalty},
			},
			{
				Name:    detectors.KindIsolationForest,
				Enabled: false,
				Params:  detectors.Params{iforest.ParamContamination: iforest.DefaultContamination},
			},
		},
		Mode: ModeAny,
	}
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := Config{Mode: c.Mode, Models: make([]DetectorConfig, len(c.Models))}
	for i, m := range c.Models {
		out.Models[i] = DetectorConfig{Name: m.Name, Enabled: m.Enabled, Params: m.Params.Clone()}
	}
	return out
}

// Model returns the entry for kind.
func (c Config) Model(kind detectors.Kind) (DetectorConfig, bool) {
	i := c.index(kind)
	if i < 0 {
		return DetectorConfig{}, false
	}
	return c.Models[i], true
}

// Enabled returns the enabled entries in configuration order.
func (c Config) Enabled() []DetectorConfig {
	var out []DetectorConfig
	for _, m := range c.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// Partial converts c back into overrides that reproduce it when merged.
func (c Config) Partial() PartialConfig {
	p := PartialConfig{Mode: c.Mode, Models: make([]PartialDetectorConfig, len(c.Models))}
	for i, m := range c.Models {
		enabled := m.Enabled
		params := make(map[string]any, len(m.Params))
		for k, v := range m.Params {
			params[k] = v
		}
		p.Models[i] = PartialDetectorConfig{Name: string(m.Name), Enabled: &enabled, Params: params}
	}
	return p
}

func (c Config) index(kind detectors.Kind) int {
	return slices.IndexFunc(c.Models, func(m DetectorConfig) bool { return m.Name == kind })
}

// PartialDetectorConfig overrides one detector. Nil Enabled keeps the
// default flag; params merge key by key.
type PartialDetectorConfig struct {
	Name    string         `json:"name" yaml:"name" mapstructure:"name"`
	Enabled *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty" mapstructure:"enabled"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
}

// PartialConfig is a user-supplied set of overrides. An empty Mode keeps the
// default mode.
type PartialConfig struct {
	Models []PartialDetectorConfig `json:"models,omitempty" yaml:"models,omitempty" mapstructure:"models"`
	Mode   Mode                    `json:"mode,omitempty" yaml:"mode,omitempty" mapstructure:"mode"`
}

// Merge layers partial over DefaultConfig. Entries for unknown detectors are
// ignored; entries for the same detector apply in order. It fails with
// ErrConfiguration on an unknown mode or a non-numeric param.
func Merge(partial PartialConfig) (Config, error) {
	merged := DefaultConfig()

	for _, user := range partial.Models {
		i := merged.index(detectors.Kind(user.Name))
		if i < 0 {
			continue
		}

		if user.Enabled != nil {
			merged.Models[i].Enabled = *user.Enabled
		}

		for key, raw := range user.Params {
			v, err := toFloat(raw)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s.params.%s: %w", ErrConfiguration, user.Name, key, err)
			}
			merged.Models[i].Params[key] = v
		}
	}

	if partial.Mode != "" {
		if !partial.Mode.Valid() {
			return Config{}, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, partial.Mode)
		}
		merged.Mode = partial.Mode
	}

	return merged, nil
}

func toFloat(raw any) (float64, error) {
	var v float64

	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int8:
		v = float64(n)
	case int16:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint8:
		v = float64(n)
	case uint16:
		v = float64(n)
	case uint32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		v = f
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", raw, raw)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}

	return v, nil
}
