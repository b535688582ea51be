// Package commands implements the volumeguard subcommands.
package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/volumeguard/internal/config"
	"github.com/hed1ad/volumeguard/internal/logging"
	"github.com/hed1ad/volumeguard/pkg/ensemble"
	vgio "github.com/hed1ad/volumeguard/pkg/io"
	"github.com/hed1ad/volumeguard/pkg/metrics"
)

// NewRootCommand builds the volumeguard command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "volumeguard",
		Short: "Ensemble anomaly detection over event-volume series",
		Long: `volumeguard flags anomalous observations in a series of per-bucket
counts by running z-score, change-point and isolation forest detectors
and combining their verdicts.

Commands:
  series    Evaluate every observation of one or more CSV series
  point     Evaluate a new observation against a CSV history
  pcap      Bucket a packet capture into counts and evaluate it
  config    Print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default: ./volumeguard.yaml)")
	flags.Float64("strength", ensemble.DefaultStrength, "detection strength in [0, 1]")
	flags.Int64("seed", 0, "isolation forest seed for reproducible runs")
	flags.Int("workers", 0, "series evaluated concurrently (0 = GOMAXPROCS)")
	flags.String("mode", "", "aggregation mode: any or combined")
	flags.StringP("format", "o", "", "output format: table, json or yaml")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile after the run")

	root.AddCommand(newSeriesCommand())
	root.AddCommand(newPointCommand())
	root.AddCommand(newPcapCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// session is the per-invocation state shared by the evaluating commands.
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   *ensemble.Engine
	closeLog func() error
}

func newSession(cmd *cobra.Command) (*session, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", uuid.NewString()), zap.String("command", cmd.Name()))

	registry := prometheus.NewRegistry()
	collector, err := metrics.New(registry)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	opts := []ensemble.Option{
		ensemble.WithLogger(logger),
		ensemble.WithMetrics(collector),
	}
	if cfg.Workers > 0 {
		opts = append(opts, ensemble.WithWorkers(cfg.Workers))
	}
	if cfg.Seed != nil {
		opts = append(opts, ensemble.WithSeed(*cfg.Seed))
	}

	return &session{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		engine:   ensemble.New(opts...),
		closeLog: closeLog,
	}, nil
}

func (s *session) writer(cmd *cobra.Command) (vgio.Writer, error) {
	return vgio.NewWriter(cmd.OutOrStdout(), vgio.Format(s.cfg.Output.Format))
}

// report writes reports in the configured format.
func (s *session) report(cmd *cobra.Command, reports []vgio.Report) error {
	w, err := s.writer(cmd)
	if err != nil {
		return err
	}

	for _, r := range reports {
		s.logger.Info("series evaluated",
			zap.String("source", r.Source),
			zap.Int("observations", len(r.Results)),
			zap.Int("anomalies", r.Anomalies()),
			zap.Int("skipped_detectors", len(r.Degraded)),
		)
	}

	if err := w.WriteAll(reports); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return w.Close()
}

func (s *session) close() error {
	var errs []error
	if s.cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(s.cfg.Metrics.Textfile, s.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	errs = append(errs, s.closeLog())
	return errors.Join(errs...)
}

// evaluate runs the engine over named series and reports the results.
func (s *session) evaluate(cmd *cobra.Command, sources []string, histories [][]ensemble.Observation) error {
	evals, err := s.engine.EvaluateBatch(cmd.Context(), histories, s.cfg.Strength, s.cfg.Ensemble)
	if err != nil {
		return err
	}

	reports := make([]vgio.Report, len(evals))
	for i, eval := range evals {
		reports[i] = vgio.Report{Source: sources[i], Results: eval.Results, Degraded: eval.Degraded}
	}
	return s.report(cmd, reports)
}

// withSession wraps a command body with session setup and teardown.
func withSession(fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, s.close())
		}()
		return fn(cmd, args, s)
	}
}

func readAll(r vgio.Reader) ([]ensemble.Observation, error) {
	defer r.Close()
	return r.Read()
}
