// Package changepoint flags the indices where the distribution of a series
// shifts, using penalized exact segmentation (PELT) with an RBF kernel cost.
//
// The kernel cost keeps O(n²) float64 state: roughly 12n² bytes, so 20,000
// observations need over 3 GB. Cap or downsample long histories.
package changepoint

import (
	"fmt"
	"math"
	"slices"

	"github.com/hed1ad/volumeguard/pkg/detectors"
	"github.com/hed1ad/volumeguard/pkg/stats"
)

// ParamPenalty is the params key for the per-breakpoint penalty.
const ParamPenalty = "penalty"

// DefaultPenalty is used when params carry no penalty.
const DefaultPenalty = 10.0

// Segmentation defaults.
const (
	DefaultMinSize = 2
	DefaultJump    = 5
)

// Verdict is the change-point evidence for one observation. ChangePoints is
// the breakpoint list of the whole series, shared by every observation.
type Verdict struct {
	IsAnomalous  bool    `json:"is_anomalous" yaml:"is_anomalous"`
	ChangePoints []int   `json:"change_points" yaml:"change_points"`
	Penalty      float64 `json:"penalty" yaml:"penalty"`
}

// Anomalous implements detectors.Verdict.
func (v Verdict) Anomalous() bool { return v.IsAnomalous }

// Score implements detectors.Verdict. Change points are binary.
func (v Verdict) Score() float64 {
	if v.IsAnomalous {
		return 1
	}
	return 0
}

// Detector is the change-point method.
type Detector struct {
	minSize int
	jump    int
}

// Option configures a Detector.
type Option func(*Detector)

// WithMinSize sets the minimum segment length.
func WithMinSize(n int) Option {
	return func(d *Detector) {
		d.minSize = n
	}
}

// WithJump sets the grid step of candidate breakpoints.
func WithJump(n int) Option {
	return func(d *Detector) {
		d.jump = n
	}
}

// New creates a change-point detector with the given options.
func New(opts ...Option) *Detector {
	d := &Detector{
		minSize: DefaultMinSize,
		jump:    DefaultJump,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.minSize = max(d.minSize, 1)
	d.jump = max(d.jump, 1)

	return d
}

// Kind implements detectors.Detector.
func (d *Detector) Kind() detectors.Kind { return detectors.KindChangePoint }

// Scaling implements detectors.Detector.
func (d *Detector) Scaling() detectors.Scaling { return detectors.ScaleNone }

// Detect segments the whole series and flags every observation sitting at a
// breakpoint. opts is ignored: the segmentation always sees every point.
func (d *Detector) Detect(counts []float64, params detectors.Params, _ detectors.Options) ([]detectors.Verdict, error) {
	penalty := params.Get(ParamPenalty, DefaultPenalty)
	if penalty < 0 || math.IsNaN(penalty) {
		return nil, fmt.Errorf("%w: %s must be non-negative, got %v", detectors.ErrInvalidParams, ParamPenalty, penalty)
	}

	if len(counts) < max(d.minSize, 2) {
		return nil, fmt.Errorf("%w: change point needs at least %d observations, got %d",
			detectors.ErrInsufficientData, max(d.minSize, 2), len(counts))
	}

	bkps := d.Breakpoints(counts, penalty)

	verdicts := make([]detectors.Verdict, len(counts))
	for i := range counts {
		_, found := slices.BinarySearch(bkps, i)
		verdicts[i] = Verdict{
			IsAnomalous:  found,
			ChangePoints: bkps,
			Penalty:      penalty,
		}
	}

	return verdicts, nil
}

// Breakpoints returns the sorted segment end indices of counts, the last one
// being len(counts). A constant series has no breakpoints at all.
func (d *Detector) Breakpoints(counts []float64, penalty float64) []int {
	n := len(counts)
	if n < max(d.minSize, 2) || stats.IsConstant(counts) {
		return []int{}
	}

	cost := newRBFCost(counts)

	// partitions[b] is the best segmentation of [0, b): its total penalized
	// cost and the end index of each segment.
	type partition struct {
		cost float64
		ends []int
	}

	partitions := map[int]partition{0: {}}
	var admissible []int

	candidates := make([]int, 0, n/d.jump+1)
	for k := 0; k < n; k += d.jump {
		if k >= d.minSize {
			candidates = append(candidates, k)
		}
	}
	candidates = append(candidates, n)

	for _, bkp := range candidates {
		admissible = append(admissible, (bkp-d.minSize)/d.jump*d.jump)

		type subproblem struct {
			start int
			part  partition
		}

		var subs []subproblem
		for _, t := range admissible {
			prev, ok := partitions[t]
			if !ok {
				continue
			}
			subs = append(subs, subproblem{
				start: t,
				part: partition{
					cost: prev.cost + cost.segment(t, bkp) + penalty,
					ends: append(slices.Clip(prev.ends), bkp),
				},
			})
		}

		if len(subs) == 0 {
			continue
		}

		best := subs[0].part
		for _, s := range subs[1:] {
			if s.part.cost < best.cost {
				best = s.part
			}
		}
		partitions[bkp] = best

		// prune starts that can no longer lead to an optimal segmentation
		pruned := admissible[:0]
		for _, s := range subs {
			if s.part.cost <= best.cost+penalty {
				pruned = append(pruned, s.start)
			}
		}
		admissible = pruned
	}

	return slices.Clone(partitions[n].ends)
}

// rbfCost evaluates the kernel segment cost in O(1) from prefix sums of the
// Gram matrix.
type rbfCost struct {
	// prefix[i][j] = sum of gram[a][b] for a < i, b < j.
	prefix [][]float64
}

// Kernel distance clipping bounds.
const (
	clipLow  = 1e-2
	clipHigh = 1e2
)

func newRBFCost(counts []float64) *rbfCost {
	n := len(counts)

	sq := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			diff := counts[i] - counts[j]
			sq = append(sq, diff*diff)
		}
	}

	gamma := 1.0
	if med := stats.Median(sq); med != 0 {
		gamma = 1 / med
	}

	prefix := make([][]float64, n+1)
	for i := range prefix {
		prefix[i] = make([]float64, n+1)
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := 1.0
			if i != j {
				diff := counts[i] - counts[j]
				k = math.Exp(-min(max(gamma*diff*diff, clipLow), clipHigh))
			}
			prefix[i+1][j+1] = k + prefix[i][j+1] + prefix[i+1][j] - prefix[i][j]
		}
	}

	return &rbfCost{prefix: prefix}
}

// segment returns the cost of [start, end): the diagonal sum minus the block
// sum divided by the segment length.
func (c *rbfCost) segment(start, end int) float64 {
	length := float64(end - start)
	block := c.prefix[end][end] - c.prefix[start][end] - c.prefix[end][start] + c.prefix[start][start]
	return length - block/length
}
