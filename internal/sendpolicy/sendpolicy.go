// Package sendpolicy implements the duplicate-and-space emission
// policy (spec.md §4.4): every logical packet is sent several times
// in a row, with a fixed delay between sends, to compensate for loss
// on the TUN<->router path without tracking ACKs.
package sendpolicy

import (
	"time"

	"github.com/hollowpoint-sec/natattack/internal/packet"
)

// Sender is the subset of iface.Interface that Emit needs. Attacks
// and tests depend on this interface rather than a concrete type.
type Sender interface {
	Send(p *packet.Packet) (bool, error)
}

// Policy configures one emit call's redundancy and inter-send delay.
type Policy struct {
	Redundancy int
	Delay      time.Duration
}

// Emit calls sender.Send exactly policy.Redundancy times in sequence,
// sleeping Delay after each send including the last. A serialization
// refusal (Send returning ok=false, err=nil) is tolerated silently; an
// I/O error aborts the remaining sends and is returned to the caller.
func (policy Policy) Emit(sender Sender, p *packet.Packet) error {
	for i := 0; i < policy.Redundancy; i++ {
		if _, err := sender.Send(p); err != nil {
			return err
		}
		time.Sleep(policy.Delay)
	}
	return nil
}
