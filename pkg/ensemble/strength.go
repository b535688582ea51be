package ensemble

import (
	"fmt"
	"math"
)

// DefaultStrength is the sensitivity callers pass when they have no opinion.
const DefaultStrength = 0.5

// AdjustedParams are the detector parameters a strength would map to.
//
// Strength is accepted by every entry point but is not applied yet: detectors
// always run with their configured parameters. The mapping is kept so the
// engine can report what strength would change.
type AdjustedParams struct {
	ZScoreThreshold              float64 `json:"zscore_threshold" yaml:"zscore_threshold"`
	ChangePointPenalty           float64 `json:"change_point_penalty" yaml:"change_point_penalty"`
	IsolationForestContamination float64 `json:"isolation_forest_contamination" yaml:"isolation_forest_contamination"`
}

// AdjustParams maps strength in [0, 1] (0 least sensitive, 1 most) onto
// detector parameters.
func AdjustParams(strength float64) AdjustedParams {
	return AdjustedParams{
		ZScoreThreshold:              5.0 - 4.0*strength,
		ChangePointPenalty:           10 * (1.0 - strength),
		IsolationForestContamination: math.Max(0.1*strength, 0.01),
	}
}

func validateStrength(strength float64) error {
	if math.IsNaN(strength) || strength < 0 || strength > 1 {
		return fmt.Errorf("%w: strength must be in [0, 1], got %v", ErrConfiguration, strength)
	}
	return nil
}
