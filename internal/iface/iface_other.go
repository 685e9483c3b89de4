//go:build !linux

package iface

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hollowpoint-sec/natattack/internal/packet"
)

// Interface is a non-functional stand-in on platforms without a Linux
// TUN clone device. The toolkit's attacks are Linux-only by nature
// (spec.md §6: "a kernel-provided point-to-point virtual interface");
// this file exists only so the module still type-checks elsewhere.
type Interface struct{}

// NewInterface always fails on non-Linux platforms.
func NewInterface(name string, logger logrus.FieldLogger) (*Interface, error) {
	return nil, fmt.Errorf("%w: TUN devices are only supported on linux", ErrSetupFailed)
}

func (i *Interface) Send(p *packet.Packet) (bool, error) { return false, ErrSendFailed }

func (i *Interface) Receive(filter Filter, timeout time.Duration) (*packet.Packet, error) {
	return nil, ErrReceiveFailed
}

func (i *Interface) FD() int { return -1 }

func (i *Interface) Close() error { return nil }

// Poll is unsupported outside Linux.
func Poll(fds []int, timeout time.Duration) ([]bool, error) {
	return nil, fmt.Errorf("%w: poll is only supported on linux", ErrReceiveFailed)
}
