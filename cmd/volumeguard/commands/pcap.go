package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
	"github.com/hed1ad/volumeguard/pkg/io/pcap"
)

func newPcapCommand() *cobra.Command {
	var (
		protocol string
		bpf      string
	)
	interval := pcap.DefaultInterval

	cmd := &cobra.Command{
		Use:   "pcap FILE.pcap",
		Short: "Bucket a packet capture into counts and evaluate it",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			proto, err := pcap.ParseProtocol(protocol)
			if err != nil {
				return err
			}

			r, err := pcap.NewFileReader(args[0],
				pcap.WithInterval(interval),
				pcap.WithProtocol(proto),
				pcap.WithBPF(bpf),
			)
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}

			series, err := readAll(r)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			return s.evaluate(cmd, args, [][]ensemble.Observation{series})
		}),
	}

	cmd.Flags().DurationVar(&interval, "interval", interval, "bucket width")
	cmd.Flags().StringVar(&protocol, "protocol", string(pcap.ProtocolAll), "count only all, tcp, udp or icmp packets")
	cmd.Flags().StringVar(&bpf, "bpf", "", "BPF filter applied before counting")

	return cmd
}
