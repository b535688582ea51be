// Package ensemble runs the configured anomaly detectors over a series of
// observation counts and combines their verdicts into one decision per
// observation.
package ensemble

import (
	"errors"

	"github.com/hed1ad/volumeguard/pkg/detectors"
)

// Errors returned by the ensemble.
var (
	// ErrConfiguration reports an unusable configuration or argument.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidObservation reports an observation with a negative count.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrLengthMismatch reports a detector that returned a different number
	// of verdicts than observations. It is a programming error.
	ErrLengthMismatch = errors.New("detector result length mismatch")
)

// Observation is one sample of monitored volume.
type Observation struct {
	Count      int    `json:"count" yaml:"count"`
	TimeBucket *int64 `json:"time_bucket,omitempty" yaml:"time_bucket,omitempty"`
}

// NewObservation returns an observation with a time bucket.
func NewObservation(count int, bucket int64) Observation {
	return Observation{Count: count, TimeBucket: &bucket}
}

// Counts returns the observation counts of a series, as float64 samples.
func Counts(series []Observation) []float64 {
	counts := make([]float64, len(series))
	for i, o := range series {
		counts[i] = float64(o.Count)
	}
	return counts
}

// AnomalyResult is the ensemble decision for one observation. Details holds
// the verdict of each detector that ran, keyed by detector name.
type AnomalyResult struct {
	IsAnomalous bool                         `json:"is_anomalous" yaml:"is_anomalous"`
	Count       int                          `json:"count" yaml:"count"`
	TimeBucket  *int64                       `json:"time_bucket" yaml:"time_bucket"`
	Details     map[string]detectors.Verdict `json:"details" yaml:"details"`
}

// Degradation records a detector that was skipped for one evaluation.
type Degradation struct {
	Detector detectors.Kind `json:"detector" yaml:"detector"`
	Reason   string         `json:"reason" yaml:"reason"`
}

// Evaluation is the full outcome of running the ensemble over one series.
type Evaluation struct {
	Results  []AnomalyResult `json:"results" yaml:"results"`
	Degraded []Degradation   `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Anomalies returns the number of flagged observations.
func (e Evaluation) Anomalies() int {
	n := 0
	for _, r := range e.Results {
		if r.IsAnomalous {
			n++
		}
	}
	return n
}
