// Package oowprobe implements the out-of-window probe (spec.md §4.7):
// complete a handshake, then send a segment whose sequence and
// acknowledgement numbers are deliberately skewed from what the peer
// would accept, to infer whether it still answers.
package oowprobe

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hollowpoint-sec/natattack/internal/iface"
	"github.com/hollowpoint-sec/natattack/internal/packet"
	"github.com/hollowpoint-sec/natattack/internal/randgen"
	"github.com/hollowpoint-sec/natattack/internal/sendpolicy"
	"github.com/hollowpoint-sec/natattack/internal/topology"
)

// Options configures one probe run. SeqOffset and AckOffset are the
// configured skews applied to the probing segment's sequence and
// acknowledgement numbers.
type Options struct {
	Timeout   time.Duration
	SeqOffset int32
	AckOffset int32
}

// Result reports the probe's advertised window and response outcome.
type Result struct {
	// AdvertisedWindow is the window size carried on the handshake's
	// SYN-ACK.
	AdvertisedWindow uint16
	// GotResponse reports whether a duplicate-ACK-shaped response
	// arrived within Options.Timeout.
	GotResponse bool
	// AckDelta is the observed response's ackno minus the attacker's
	// ISN, meaningful only when GotResponse is true.
	AckDelta int64
}

// Run performs the handshake, the skewed probe, and the RST cleanup,
// per spec.md §4.7.
func Run(dev iface.Device, policy sendpolicy.Policy, topo topology.Topology, opts Options, logger logrus.FieldLogger) (Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	attackerISN := randgen.Uint32()
	srcPort := randgen.EphemeralPort()
	attacker := packet.Address{IP: topo.Attacker, Port: srcPort}

	syn := packet.New()
	syn.Src = attacker
	syn.Dst = topo.Server
	syn.Seq = attackerISN
	syn.SYN = true
	if err := policy.Emit(dev, &syn); err != nil {
		return Result{}, err
	}

	attackerAck := attackerISN + 1
	synAck, err := dev.Receive(func(p *packet.Packet) bool {
		return p.SYN && !p.RST && p.Src == topo.Server && p.Dst == attacker &&
			p.Ack != nil && *p.Ack == attackerAck
	}, opts.Timeout)
	if err != nil {
		return Result{}, err
	}
	if synAck == nil {
		logger.WithField("port", srcPort).Warn("oowprobe: handshake SYN-ACK never arrived")
		return Result{}, nil
	}

	serverISN := synAck.Seq
	advertisedWindow := synAck.Window

	finalAck := packet.New()
	finalAck.Src = attacker
	finalAck.Dst = topo.Server
	finalAck.Seq = attackerAck
	serverAck := serverISN + 1
	finalAck.Ack = &serverAck
	if err := policy.Emit(dev, &finalAck); err != nil {
		return Result{}, err
	}

	probe := packet.New()
	probe.Src = attacker
	probe.Dst = topo.Server
	probe.Seq = uint32(int64(attackerISN) + 1 + int64(opts.SeqOffset))
	probeAck := uint32(int64(serverISN) + 1 + int64(opts.AckOffset))
	probe.Ack = &probeAck
	probe.PSH = true
	if err := policy.Emit(dev, &probe); err != nil {
		return Result{}, err
	}

	expectedSeq := serverISN + 1
	resp, err := dev.Receive(func(p *packet.Packet) bool {
		return !p.RST && p.Src == topo.Server && p.Dst == attacker && p.Seq == expectedSeq
	}, opts.Timeout)
	if err != nil {
		return Result{}, err
	}

	result := Result{AdvertisedWindow: advertisedWindow}
	if resp != nil {
		result.GotResponse = true
		if resp.Ack != nil {
			result.AckDelta = int64(*resp.Ack) - int64(attackerISN)
		}
	}

	rst := packet.New()
	rst.Src = attacker
	rst.Dst = topo.Server
	rst.TTL = topo.TTLDrop
	rst.Seq = uint32(int64(attackerISN) + 2 + int64(opts.SeqOffset))
	if err := policy.Emit(dev, &rst); err != nil {
		return result, err
	}

	logger.WithFields(logrus.Fields{
		"port":         srcPort,
		"got_response": result.GotResponse,
		"ack_delta":    result.AckDelta,
	}).Info("oowprobe: probe complete")

	return result, nil
}
