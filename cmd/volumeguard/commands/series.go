package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
	"github.com/hed1ad/volumeguard/pkg/io/csv"
)

type csvFlags struct {
	noHeader      bool
	countColumn   int
	bucketColumn  int
	skipMalformed bool
}

func (f *csvFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noHeader, "no-header", false, "CSV has no header row")
	cmd.Flags().IntVar(&f.countColumn, "count-column", 0, "zero-based column holding the count")
	cmd.Flags().IntVar(&f.bucketColumn, "bucket-column", 1, "zero-based column holding the time bucket (-1 for none)")
	cmd.Flags().BoolVar(&f.skipMalformed, "skip-malformed", false, "skip rows that fail to parse")
}

func (f *csvFlags) read(path string) ([]ensemble.Observation, error) {
	r, err := csv.NewReader(path,
		csv.WithHeader(!f.noHeader),
		csv.WithColumns(f.countColumn, f.bucketColumn),
		csv.WithSkipMalformed(f.skipMalformed),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	series, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return series, nil
}

func newSeriesCommand() *cobra.Command {
	var flags csvFlags

	cmd := &cobra.Command{
		Use:   "series FILE.csv [FILE.csv...]",
		Short: "Evaluate every observation of one or more CSV series",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			histories := make([][]ensemble.Observation, len(args))
			for i, path := range args {
				series, err := flags.read(path)
				if err != nil {
					return err
				}
				histories[i] = series
			}

			return s.evaluate(cmd, args, histories)
		}),
	}

	flags.register(cmd)

	return cmd
}
