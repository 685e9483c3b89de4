// Package rootflags registers the flag set common to every attack
// binary (spec.md §6: "common flags") and resolves it into the
// topology, send policy, and logger each attack needs.
package rootflags

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hollowpoint-sec/natattack/internal/sendpolicy"
	"github.com/hollowpoint-sec/natattack/internal/topology"
)

// Common holds the flag values shared by every attack command.
type Common struct {
	TopologyPath string
	TimeoutMS    int
	DelayMS      int
	Redundancy   int
	Verbose      bool
}

// Register binds the common persistent flags onto cmd and returns the
// struct cobra will populate on Execute.
func Register(cmd *cobra.Command) *Common {
	c := &Common{}
	cmd.PersistentFlags().StringVar(&c.TopologyPath, "topology", "", "path to the topology file (required)")
	cmd.PersistentFlags().IntVar(&c.TimeoutMS, "timeout", 500, "receive timeout in milliseconds")
	cmd.PersistentFlags().IntVar(&c.DelayMS, "delay", 100, "delay between redundant sends in milliseconds")
	cmd.PersistentFlags().IntVar(&c.Redundancy, "redundancy", 2, "number of times each logical packet is sent")
	cmd.PersistentFlags().BoolVar(&c.Verbose, "verbose", false, "enable debug-level logging")
	cmd.MarkPersistentFlagRequired("topology")
	return c
}

// Timeout converts TimeoutMS to a Duration.
func (c *Common) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Policy builds the send policy from Redundancy/DelayMS.
func (c *Common) Policy() sendpolicy.Policy {
	return sendpolicy.Policy{Redundancy: c.Redundancy, Delay: time.Duration(c.DelayMS) * time.Millisecond}
}

// Topology loads and validates the topology file named on the command
// line.
func (c *Common) Topology() (*topology.Topology, error) {
	topo, err := topology.Load(c.TopologyPath)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	return topo, nil
}

// Logger builds the logrus logger used throughout one invocation.
func (c *Common) Logger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	if c.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
