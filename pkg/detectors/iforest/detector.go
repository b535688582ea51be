package iforest

import (
	"fmt"
	"math"

	"github.com/hed1ad/volumeguard/pkg/detectors"
)

// Params keys understood by Detector.
const (
	ParamContamination = "contamination"
	ParamTrees         = "n_trees"
	ParamSampleSize    = "sample_size"
	ParamSeed          = "seed"
)

// Upper bounds on the integer params.
const (
	MaxTrees      = 10000
	MaxSampleSize = 1 << 20
)

// Verdict is the isolation forest evidence for one observation.
// IsolationScore is the negated decision function: positive means outlier.
type Verdict struct {
	IsAnomalous    bool    `json:"is_anomalous" yaml:"is_anomalous"`
	IsolationScore float64 `json:"isolation_score" yaml:"isolation_score"`
	Contamination  float64 `json:"contamination" yaml:"contamination"`
}

// Anomalous implements detectors.Verdict.
func (v Verdict) Anomalous() bool { return v.IsAnomalous }

// Score implements detectors.Verdict.
func (v Verdict) Score() float64 { return v.IsolationScore }

// Detector fits a fresh forest on every call, treating each count as an
// independent one-dimensional sample.
type Detector struct {
	seed    int64
	hasSeed bool
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithDetectorSeed fixes the seed of every forest the detector fits.
// A "seed" entry in params still takes precedence.
func WithDetectorSeed(seed int64) DetectorOption {
	return func(d *Detector) {
		d.seed = seed
		d.hasSeed = true
	}
}

// NewDetector returns an isolation forest detector.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Kind implements detectors.Detector.
func (d *Detector) Kind() detectors.Kind { return detectors.KindIsolationForest }

// Scaling implements detectors.Detector.
func (d *Detector) Scaling() detectors.Scaling { return detectors.ScaleByMax }

// Detect fits the forest over all counts. opts is ignored: the fit always
// includes every observation.
func (d *Detector) Detect(counts []float64, params detectors.Params, _ detectors.Options) ([]detectors.Verdict, error) {
	contamination := params.Get(ParamContamination, DefaultContamination)
	if !(contamination > 0 && contamination <= 0.5) {
		return nil, fmt.Errorf("%w: %s must be in (0, 0.5], got %v", detectors.ErrInvalidParams, ParamContamination, contamination)
	}

	trees, err := intParam(params, ParamTrees, DefaultTrees, MaxTrees)
	if err != nil {
		return nil, err
	}
	sampleSize, err := intParam(params, ParamSampleSize, DefaultSampleSize, MaxSampleSize)
	if err != nil {
		return nil, err
	}

	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: isolation forest needs at least 1 observation", detectors.ErrInsufficientData)
	}

	opts := []Option{
		WithTrees(trees),
		WithSampleSize(sampleSize),
		WithContamination(contamination),
	}
	if seed, ok := params[ParamSeed]; ok {
		opts = append(opts, WithSeed(int64(seed)))
	} else if d.hasSeed {
		opts = append(opts, WithSeed(d.seed))
	}

	samples := make([][]float64, len(counts))
	for i, c := range counts {
		samples[i] = []float64{c}
	}

	forest := New(opts...)
	if err := forest.Fit(samples); err != nil {
		return nil, &detectors.FitError{Detector: detectors.KindIsolationForest, Err: err}
	}

	decisions, err := forest.Decision(samples)
	if err != nil {
		return nil, &detectors.FitError{Detector: detectors.KindIsolationForest, Err: err}
	}

	verdicts := make([]detectors.Verdict, len(counts))
	for i, score := range decisions {
		verdicts[i] = Verdict{
			IsAnomalous:    score > 0,
			IsolationScore: score,
			Contamination:  contamination,
		}
	}

	return verdicts, nil
}

// intParam reads a whole-number param in [1, limit].
func intParam(params detectors.Params, key string, def, limit int) (int, error) {
	v := params.Get(key, float64(def))
	if math.IsNaN(v) || v != math.Trunc(v) || v < 1 || v > float64(limit) {
		return 0, fmt.Errorf("%w: %s must be a whole number in [1, %d], got %v", detectors.ErrInvalidParams, key, limit, v)
	}
	return int(v), nil
}
