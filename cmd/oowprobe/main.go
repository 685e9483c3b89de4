// Command oowprobe establishes a connection and measures a peer's
// acceptance of out-of-window sequence numbers (spec.md §4.7).
package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hollowpoint-sec/natattack/cmd/internal/rootflags"
	"github.com/hollowpoint-sec/natattack/internal/attack/oowprobe"
	"github.com/hollowpoint-sec/natattack/internal/iface"
)

func main() {
	var seqOffset, ackOffset int

	cmd := &cobra.Command{
		Use:   "oowprobe",
		Short: "Probe a peer's acceptance of an out-of-window segment",
		Args:  cobra.NoArgs,
	}
	flags := rootflags.Register(cmd)
	cmd.Flags().IntVar(&seqOffset, "seq-offset", 0, "sequence number offset applied to the probe segment")
	cmd.Flags().IntVar(&ackOffset, "ack-offset", 0, "acknowledgement number offset applied to the probe segment")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(flags, int32(seqOffset), int32(ackOffset))
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags *rootflags.Common, seqOffset, ackOffset int32) error {
	topo, err := flags.Topology()
	if err != nil {
		return err
	}
	logger := flags.Logger()

	dev, err := iface.NewInterface(topo.Interface, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	opts := oowprobe.Options{
		Timeout:   flags.Timeout(),
		SeqOffset: seqOffset,
		AckOffset: ackOffset,
	}
	result, err := oowprobe.Run(dev, flags.Policy(), *topo, opts, logger)
	if err != nil {
		return err
	}

	fmt.Printf("advertised window: %d\n", result.AdvertisedWindow)
	if result.GotResponse {
		pterm.Success.Printf("Got response. Delta: %d\n", result.AckDelta)
	} else {
		pterm.Warning.Println("no response")
	}
	return nil
}
