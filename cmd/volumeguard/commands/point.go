package commands

import (
	"github.com/spf13/cobra"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
	vgio "github.com/hed1ad/volumeguard/pkg/io"
)

func newPointCommand() *cobra.Command {
	var (
		flags  csvFlags
		count  int
		bucket int64
	)

	cmd := &cobra.Command{
		Use:   "point HISTORY.csv --count N",
		Short: "Evaluate a new observation against a CSV history",
		Long: `Evaluate a single new observation. The z-score baseline is taken from
the history alone; the other detectors fit over the history plus the
new observation.`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			history, err := flags.read(args[0])
			if err != nil {
				return err
			}

			point := ensemble.Observation{Count: count}
			if cmd.Flags().Changed("bucket") {
				point = ensemble.NewObservation(count, bucket)
			}

			result, err := s.engine.EvaluateNewPoint(history, point, s.cfg.Strength, s.cfg.Ensemble)
			if err != nil {
				return err
			}

			return s.report(cmd, []vgio.Report{{Source: args[0], Results: []ensemble.AnomalyResult{result}}})
		}),
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&count, "count", 0, "count of the new observation")
	cmd.Flags().Int64Var(&bucket, "bucket", 0, "time bucket of the new observation")
	_ = cmd.MarkFlagRequired("count")

	return cmd
}
