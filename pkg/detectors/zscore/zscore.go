// Package zscore flags observations whose distance from the series mean,
// measured in population standard deviations, exceeds a threshold.
package zscore

import (
	"fmt"
	"math"

	"github.com/hed1ad/volumeguard/pkg/detectors"
	"github.com/hed1ad/volumeguard/pkg/stats"
)

// ParamThreshold is the params key for the z-score cut-off.
const ParamThreshold = "threshold"

// DefaultThreshold is used when params carry no threshold.
const DefaultThreshold = 3.0

// Verdict is the z-score evidence for one observation.
type Verdict struct {
	IsAnomalous bool    `json:"is_anomalous" yaml:"is_anomalous"`
	ZScore      float64 `json:"zscore" yaml:"zscore"`
	Mean        float64 `json:"mean" yaml:"mean"`
	Stdv        float64 `json:"stdv" yaml:"stdv"`
	Threshold   float64 `json:"threshold" yaml:"threshold"`
}

// Anomalous implements detectors.Verdict.
func (v Verdict) Anomalous() bool { return v.IsAnomalous }

// Score implements detectors.Verdict.
func (v Verdict) Score() float64 { return v.ZScore }

// Detector is the z-score method. It is stateless.
type Detector struct{}

// New returns a z-score detector.
func New() *Detector {
	return &Detector{}
}

// Kind implements detectors.Detector.
func (d *Detector) Kind() detectors.Kind { return detectors.KindZScore }

// Scaling implements detectors.Detector.
func (d *Detector) Scaling() detectors.Scaling { return detectors.ScaleByMax }

// Detect scores every observation against the mean and standard deviation
// of the window. With opts.ExcludeLast the baseline leaves out the final
// observation and all observations are scored against that shared baseline.
func (d *Detector) Detect(counts []float64, params detectors.Params, opts detectors.Options) ([]detectors.Verdict, error) {
	threshold := params.Get(ParamThreshold, DefaultThreshold)
	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: %s must be positive, got %v", detectors.ErrInvalidParams, ParamThreshold, threshold)
	}

	baseline := counts
	if opts.ExcludeLast && len(counts) > 0 {
		baseline = counts[:len(counts)-1]
	}

	mean, stdv := stats.MeanStdDev(baseline)

	verdicts := make([]detectors.Verdict, len(counts))
	for i, c := range counts {
		z := Score(c, mean, stdv)
		verdicts[i] = Verdict{
			IsAnomalous: z > threshold,
			ZScore:      z,
			Mean:        mean,
			Stdv:        stdv,
			Threshold:   threshold,
		}
	}

	return verdicts, nil
}

// Score returns |value - mean| / stdv, or 0 when stdv is 0.
func Score(value, mean, stdv float64) float64 {
	if stdv == 0 {
		return 0
	}
	return math.Abs(value-mean) / stdv
}
