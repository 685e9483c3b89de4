// Package iface owns the virtual network interface lifecycle: opening
// the layer-3 TUN device, synchronizing on kernel link-up
// notifications, and the blocking-with-timeout, filtered receive loop
// (spec.md §4.3).
package iface

import (
	"errors"
	"time"

	"github.com/hollowpoint-sec/natattack/internal/packet"
)

// ErrSendFailed wraps a write failure on the tap descriptor, distinct
// from a serialization refusal (which Send reports as ok=false with a
// nil error).
var ErrSendFailed = errors.New("iface: send failed")

// ErrReceiveFailed wraps an unrecoverable read failure. Signal/retry
// interruptions are not reported this way; they are retried inside
// Receive.
var ErrReceiveFailed = errors.New("iface: receive failed")

// ErrSetupFailed wraps any failure constructing the interface: open,
// bind, or link-up wait.
var ErrSetupFailed = errors.New("iface: setup failed")

// Filter decides whether a deserialized Packet satisfies a Receive
// call's criteria.
type Filter func(p *packet.Packet) bool

// Sender is the write half of Interface.
type Sender interface {
	Send(p *packet.Packet) (bool, error)
}

// Receiver is the read half of Interface.
type Receiver interface {
	Receive(filter Filter, timeout time.Duration) (*packet.Packet, error)
}

// Device is the full surface an attack needs: send, filtered receive
// with a deadline, and a descriptor suitable for multiplexing with
// other readiness sources (e.g. standard input in the hijack relay).
type Device interface {
	Sender
	Receiver
	FD() int
	Close() error
}

const readBufferSize = 4096

// normalizeTimeout clamps a negative timeout to zero, per spec.md
// §4.3: "negative is normalized to zero; zero means poll once and
// return immediately."
func normalizeTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// debit computes how much of the remaining receive budget an
// iteration consumed. Elapsed wall-clock time is rounded up to whole
// milliseconds; if the measured elapsed time was exactly zero, an
// extra 1ms is debited so the loop is guaranteed to terminate even
// when the kernel returns instantly every time.
func debit(elapsed time.Duration) time.Duration {
	if elapsed <= 0 {
		return time.Millisecond
	}
	ms := elapsed / time.Millisecond
	if elapsed%time.Millisecond != 0 {
		ms++
	}
	return ms * time.Millisecond
}
