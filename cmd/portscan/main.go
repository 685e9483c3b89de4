// Command portscan enumerates which ephemeral ports on a NAT router
// currently carry live mappings to a victim server (spec.md §4.5).
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hollowpoint-sec/natattack/cmd/internal/rootflags"
	"github.com/hollowpoint-sec/natattack/internal/attack/portscan"
	"github.com/hollowpoint-sec/natattack/internal/iface"
)

func main() {
	var dumbTerminal bool

	cmd := &cobra.Command{
		Use:   "portscan START [END]",
		Short: "Scan a port range for live NAT mappings to the victim server",
		Args:  cobra.RangeArgs(1, 2),
	}
	flags := rootflags.Register(cmd)
	cmd.Flags().BoolVar(&dumbTerminal, "dumb-terminal", false, "disable interactive progress control codes; print only OCCUPIED ports")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(flags, dumbTerminal, args)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags *rootflags.Common, dumbTerminal bool, args []string) error {
	start, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid START port %q: %w", args[0], err)
	}
	end := start
	if len(args) == 2 {
		end, err = strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid END port %q: %w", args[1], err)
		}
	}

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

	opts := portscan.Options{
		Start:        uint16(start),
		End:          uint16(end),
		Timeout:      flags.Timeout(),
		DumbTerminal: dumbTerminal,
	}
	results, err := portscan.Scan(dev, flags.Policy(), *topo, opts, os.Stdout, logger)
	if err != nil {
		return err
	}

	if !dumbTerminal {
		occupied := 0
		for _, r := range results {
			if r.Occupied {
				occupied++
			}
		}
		pterm.Success.Printf("scanned %d ports, %d occupied\n", len(results), occupied)
	}
	return nil
}
