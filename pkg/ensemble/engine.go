package ensemble

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/volumeguard/pkg/detectors"
	"github.com/hed1ad/volumeguard/pkg/detectors/changepoint"
	"github.com/hed1ad/volumeguard/pkg/detectors/iforest"
	"github.com/hed1ad/volumeguard/pkg/detectors/zscore"
	"github.com/hed1ad/volumeguard/pkg/metrics"
	"github.com/hed1ad/volumeguard/pkg/stats"
)

// combinedThreshold is the combined score above which an observation is anomalous.
const combinedThreshold = 0.5

// Engine evaluates series against an ensemble configuration. It holds no
// per-call state and is safe for concurrent use.
type Engine struct {
	registry detectors.Registry
	logger   *zap.Logger
	metrics  *metrics.Collector
	workers  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records evaluations on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithWorkers bounds how many series EvaluateMany runs at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithSeed fixes the isolation forest seed so results are reproducible.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.registry.Register(iforest.NewDetector(iforest.WithDetectorSeed(seed)))
	}
}

// WithDetector replaces the implementation used for d.Kind().
func WithDetector(d detectors.Detector) Option {
	return func(e *Engine) {
		e.registry.Register(d)
	}
}

// DefaultRegistry returns a registry holding every built-in detector.
func DefaultRegistry() detectors.Registry {
	r := detectors.Registry{}
	r.Register(zscore.New())
	r.Register(changepoint.New())
	r.Register(iforest.NewDetector())
	return r
}

// New creates an Engine with the built-in detectors.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: DefaultRegistry(),
		logger:   zap.NewNop(),
		workers:  runtime.GOMAXPROCS(0),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.workers = max(e.workers, 1)

	return e
}

// EvaluateSeries merges cfg over the defaults and evaluates every
// observation of history. strength does not change detector params, but a
// value outside [0, 1] is rejected with ErrConfiguration.
func (e *Engine) EvaluateSeries(history []Observation, strength float64, cfg PartialConfig) ([]AnomalyResult, error) {
	merged, err := e.prepare(strength, cfg)
	if err != nil {
		return nil, err
	}

	eval, err := e.Evaluate(history, merged, detectors.Options{})
	if err != nil {
		return nil, err
	}
	return eval.Results, nil
}

// EvaluateMany evaluates each series independently, up to the engine's
// worker limit at a time. Results keep the input order.
func (e *Engine) EvaluateMany(ctx context.Context, histories [][]Observation, strength float64, cfg PartialConfig) ([][]AnomalyResult, error) {
	evals, err := e.EvaluateBatch(ctx, histories, strength, cfg)
	if err != nil {
		return nil, err
	}

	results := make([][]AnomalyResult, len(evals))
	for i, eval := range evals {
		results[i] = eval.Results
	}
	return results, nil
}

// EvaluateBatch is EvaluateMany keeping each series' degradations.
func (e *Engine) EvaluateBatch(ctx context.Context, histories [][]Observation, strength float64, cfg PartialConfig) ([]Evaluation, error) {
	merged, err := e.prepare(strength, cfg)
	if err != nil {
		return nil, err
	}

	evals := make([]Evaluation, len(histories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, history := range histories {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			eval, err := e.Evaluate(history, merged.Clone(), detectors.Options{})
			if err != nil {
				return fmt.Errorf("series %d: %w", i, err)
			}
			evals[i] = eval
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return evals, nil
}

// EvaluateNewPoint appends point to history and returns the verdict for
// point alone. Only detectors that support it keep point out of their
// baseline (currently z-score); the others fit over the appended series.
func (e *Engine) EvaluateNewPoint(history []Observation, point Observation, strength float64, cfg PartialConfig) (AnomalyResult, error) {
	merged, err := e.prepare(strength, cfg)
	if err != nil {
		return AnomalyResult{}, err
	}

	series := append(slices.Clip(history), point)

	eval, err := e.Evaluate(series, merged, detectors.Options{ExcludeLast: true})
	if err != nil {
		return AnomalyResult{}, err
	}
	return eval.Results[len(eval.Results)-1], nil
}

func (e *Engine) prepare(strength float64, cfg PartialConfig) (Config, error) {
	if err := validateStrength(strength); err != nil {
		return Config{}, err
	}

	merged, err := Merge(cfg)
	if err != nil {
		return Config{}, err
	}

	e.logger.Debug("strength is not applied to detector params",
		zap.Float64("strength", strength),
		zap.Any("would_apply", AdjustParams(strength)),
	)

	return merged, nil
}

// run is one detector's verdicts over the whole series.
type run struct {
	detector detectors.Detector
	verdicts []detectors.Verdict
}

// Evaluate runs every enabled detector of cfg over history and combines the
// verdicts per cfg.Mode. Detectors without enough data are skipped and
// reported in Degraded; any other detector failure aborts the call.
func (e *Engine) Evaluate(history []Observation, cfg Config, opts detectors.Options) (Evaluation, error) {
	if !cfg.Mode.Valid() {
		return Evaluation{}, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, cfg.Mode)
	}

	for i, o := range history {
		if o.Count < 0 {
			return Evaluation{}, fmt.Errorf("%w: index %d has negative count %d", ErrInvalidObservation, i, o.Count)
		}
	}

	eval := Evaluation{Results: make([]AnomalyResult, len(history))}
	if len(history) == 0 {
		return eval, nil
	}

	counts := Counts(history)

	var runs []run
	for _, m := range cfg.Enabled() {
		d, ok := e.registry.Lookup(m.Name)
		if !ok {
			return Evaluation{}, fmt.Errorf("%w: no detector registered for %q", ErrConfiguration, m.Name)
		}

		start := time.Now()
		verdicts, err := d.Detect(counts, m.Params, opts)
		e.metrics.ObserveDetector(string(m.Name), time.Since(start))

		switch {
		case err == nil:
		case errors.Is(err, detectors.ErrInsufficientData):
			e.logger.Warn("detector skipped",
				zap.String("detector", string(m.Name)),
				zap.Int("observations", len(counts)),
				zap.Error(err),
			)
			e.metrics.DetectorSkipped(string(m.Name))
			eval.Degraded = append(eval.Degraded, Degradation{Detector: m.Name, Reason: err.Error()})
			continue
		case errors.Is(err, detectors.ErrInvalidParams):
			return Evaluation{}, fmt.Errorf("%w: %s: %w", ErrConfiguration, m.Name, err)
		default:
			var fitErr *detectors.FitError
			if errors.As(err, &fitErr) {
				return Evaluation{}, err
			}
			return Evaluation{}, &detectors.FitError{Detector: m.Name, Err: err}
		}

		if len(verdicts) != len(history) {
			return Evaluation{}, fmt.Errorf("%w: %s returned %d verdicts for %d observations",
				ErrLengthMismatch, m.Name, len(verdicts), len(history))
		}

		runs = append(runs, run{detector: d, verdicts: verdicts})
	}

	for i, o := range history {
		details := make(map[string]detectors.Verdict, len(runs))
		for _, r := range runs {
			details[string(r.detector.Kind())] = r.verdicts[i]
		}
		eval.Results[i] = AnomalyResult{
			Count:      o.Count,
			TimeBucket: o.TimeBucket,
			Details:    details,
		}
	}

	switch cfg.Mode {
	case ModeAny:
		flagAny(eval.Results, runs)
	case ModeCombined:
		flagCombined(eval.Results, runs)
	}

	e.metrics.ObserveEvaluation(string(cfg.Mode), len(history), eval.Anomalies())
	e.logger.Debug("series evaluated",
		zap.String("mode", string(cfg.Mode)),
		zap.Int("observations", len(history)),
		zap.Int("detectors", len(runs)),
		zap.Int("anomalies", eval.Anomalies()),
	)

	return eval, nil
}

func flagAny(results []AnomalyResult, runs []run) {
	for i := range results {
		for _, r := range runs {
			if r.verdicts[i].Anomalous() {
				results[i].IsAnomalous = true
				break
			}
		}
	}
}

func flagCombined(results []AnomalyResult, runs []run) {
	if len(runs) == 0 {
		return
	}

	combined := make([]float64, len(results))
	for _, r := range runs {
		for i, score := range normalize(r) {
			combined[i] += score
		}
	}

	for i := range results {
		results[i].IsAnomalous = combined[i]/float64(len(runs)) > combinedThreshold
	}
}

// normalize maps a run's scores into the combined scale.
func normalize(r run) []float64 {
	scores := make([]float64, len(r.verdicts))
	for i, v := range r.verdicts {
		scores[i] = v.Score()
	}

	if r.detector.Scaling() == detectors.ScaleNone {
		return scores
	}

	top := stats.MaxOf(scores)
	for i := range scores {
		if top <= 0 {
			scores[i] = 0
			continue
		}
		scores[i] /= top
	}
	return scores
}

// EvaluateSeries runs a default Engine. See Engine.EvaluateSeries.
func EvaluateSeries(history []Observation, strength float64, cfg PartialConfig) ([]AnomalyResult, error) {
	return New().EvaluateSeries(history, strength, cfg)
}

// EvaluateMany runs a default Engine. See Engine.EvaluateMany.
func EvaluateMany(ctx context.Context, histories [][]Observation, strength float64, cfg PartialConfig) ([][]AnomalyResult, error) {
	return New().EvaluateMany(ctx, histories, strength, cfg)
}

// EvaluateNewPoint runs a default Engine. See Engine.EvaluateNewPoint.
func EvaluateNewPoint(history []Observation, point Observation, strength float64, cfg PartialConfig) (AnomalyResult, error) {
	return New().EvaluateNewPoint(history, point, strength, cfg)
}
