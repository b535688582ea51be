// Package detectors provides the per-method anomaly detectors that the
// ensemble runs over a series of observation counts.
package detectors

import (
	"errors"
	"fmt"
	"maps"
)

// Kind identifies a detector method.
type Kind string

// Known detector kinds.
const (
	KindZScore          Kind = "zscore"
	KindChangePoint     Kind = "change_point"
	KindIsolationForest Kind = "isolation_forest"
)

// Kinds returns the known detector kinds in canonical order.
func Kinds() []Kind {
	return []Kind{KindZScore, KindChangePoint, KindIsolationForest}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindZScore, KindChangePoint, KindIsolationForest:
		return true
	}
	return false
}

// Sentinel errors shared by all detectors.
var (
	// ErrInsufficientData means the series is too short for the detector.
	// The ensemble skips the detector for that call instead of failing.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidParams means a detector parameter is out of range.
	ErrInvalidParams = errors.New("invalid detector params")
)

// FitError wraps a failure inside a detector's model fitting step.
type FitError struct {
	Detector Kind
	Err      error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("detector %s: fit failed: %v", e.Detector, e.Err)
}

func (e *FitError) Unwrap() error {
	return e.Err
}

// Scaling describes how a detector's raw scores enter the combined score.
type Scaling int

const (
	// ScaleByMax divides each score by the series maximum.
	ScaleByMax Scaling = iota
	// ScaleNone uses the score as-is; the detector already emits 0 or 1.
	ScaleNone
)

// Detector is the common interface for all anomaly detection methods.
type Detector interface {
	// Kind returns the method identifier used as the details key.
	Kind() Kind

	// Scaling returns how Score values are normalized in combined mode.
	Scaling() Scaling

	// Detect evaluates every observation of counts and returns exactly one
	// verdict per observation, in order.
	Detect(counts []float64, params Params, opts Options) ([]Verdict, error)
}

// Verdict is one detector's decision for one observation.
// Implementations carry their evidence as exported, serializable fields.
type Verdict interface {
	// Anomalous reports whether the detector flagged the observation.
	Anomalous() bool

	// Score is the raw per-observation score; larger is more anomalous.
	Score() float64
}

// Options tunes a single Detect call.
type Options struct {
	// ExcludeLast asks the detector to keep the final observation out of
	// its baseline. Detectors that cannot honour it ignore it.
	ExcludeLast bool
}

// Params holds numeric detector parameters keyed by name.
type Params map[string]float64

// Get returns the value for key, or def when the key is absent.
func (p Params) Get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Clone returns an independent copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Registry maps kinds to detector implementations.
type Registry map[Kind]Detector

// Register adds d, replacing any detector of the same kind.
func (r Registry) Register(d Detector) {
	r[d.Kind()] = d
}

// Lookup returns the detector for kind.
func (r Registry) Lookup(kind Kind) (Detector, bool) {
	d, ok := r[kind]
	return d, ok
}
