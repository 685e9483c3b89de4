//go:build linux

package iface

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/hollowpoint-sec/natattack/internal/packet"
)

const (
	cloneDevicePath   = "/dev/net/tun"
	ifReqSize         = unix.IFNAMSIZ + 64
	linkUpWaitTimeout = 10 * time.Second
)

// Interface owns a single open file descriptor to a layer-3 TUN
// device. It is built with NewInterface and is not copyable in spirit
// (callers must treat it as a single-owner value and never duplicate
// the fd); Close invalidates it for the rest of the program.
type Interface struct {
	fd     int
	name   string
	logger logrus.FieldLogger
}

// NewInterface opens the named TUN device (default "tun0" if empty),
// following spec.md §4.3's five-step construction: bind a netlink
// link-state subscription first, open and configure the TUN clone
// device, resolve its kernel ifindex, wait for a lower-layer-up
// notification for that index, then close the netlink channel.
func NewInterface(name string, logger logrus.FieldLogger) (*Interface, error) {
	if name == "" {
		name = "tun0"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return nil, fmt.Errorf("%w: subscribe to link-state events: %v", ErrSetupFailed, err)
	}
	netlinkClosed := false
	closeNetlink := func() {
		if !netlinkClosed {
			close(done)
			netlinkClosed = true
		}
	}
	defer closeNetlink()

	fd, err := unix.Open(cloneDevicePath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSetupFailed, cloneDevicePath, err)
	}

	var ifr [ifReqSize]byte
	copy(ifr[:], name)
	flags := uint16(unix.IFF_TUN | unix.IFF_NO_PI)
	*(*uint16)(unsafe.Pointer(&ifr[unix.IFNAMSIZ])) = flags

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&ifr[0]))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: TUNSETIFF %s: %v", ErrSetupFailed, name, errno)
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: resolve ifindex for %s: %v", ErrSetupFailed, name, err)
	}
	ifindex := link.Attrs().Index

	if err := waitLinkUp(updates, ifindex, linkUpWaitTimeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	logger.WithFields(logrus.Fields{"device": name, "ifindex": ifindex}).Info("tun interface is up")

	return &Interface{fd: fd, name: name, logger: logger}, nil
}

func waitLinkUp(updates chan netlink.LinkUpdate, ifindex int, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case upd, ok := <-updates:
			if !ok {
				return fmt.Errorf("netlink channel closed before link-up was observed")
			}
			if int(upd.Index) == ifindex && upd.Flags&unix.IFF_LOWER_UP != 0 {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for link-up on ifindex %d", ifindex)
		}
	}
}

// Send implements Sender.
func (i *Interface) Send(p *packet.Packet) (bool, error) {
	frame, err := p.Serialize()
	if err != nil {
		return false, nil
	}
	if _, err := unix.Write(i.fd, frame); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return true, nil
}

// Receive implements Receiver, per spec.md §4.3's receive contract.
func (i *Interface) Receive(filter Filter, timeout time.Duration) (*packet.Packet, error) {
	remaining := normalizeTimeout(timeout)
	buf := make([]byte, readBufferSize)
	pfd := []unix.PollFd{{Fd: int32(i.fd), Events: unix.POLLIN}}

	for {
		msLeft := int(remaining / time.Millisecond)
		start := time.Now()
		n, err := unix.Poll(pfd, msLeft)
		elapsed := time.Since(start)

		if err != nil {
			if err == unix.EINTR {
				remaining -= debit(elapsed)
				if remaining <= 0 {
					return nil, nil
				}
				continue
			}
			return nil, fmt.Errorf("%w: poll: %v", ErrReceiveFailed, err)
		}

		if n == 0 {
			return nil, nil
		}

		rn, rerr := unix.Read(i.fd, buf)
		if rerr != nil {
			if rerr == unix.EINTR {
				remaining -= debit(elapsed)
				if remaining <= 0 {
					return nil, nil
				}
				continue
			}
			return nil, fmt.Errorf("%w: read: %v", ErrReceiveFailed, rerr)
		}

		remaining -= debit(elapsed)

		if pkt, derr := packet.Deserialize(buf[:rn]); derr == nil && filter(pkt) {
			return pkt, nil
		}

		if remaining <= 0 {
			return nil, nil
		}
	}
}

// FD returns the raw TUN descriptor, suitable for composing into a
// multi-descriptor poll (e.g. the hijack relay's stdin+tap loop).
func (i *Interface) FD() int {
	return i.fd
}

// Close closes the tap descriptor. The Interface must not be used
// afterward.
func (i *Interface) Close() error {
	return unix.Close(i.fd)
}

// Poll blocks until any of fds is readable or timeout elapses,
// retrying transient signal interruptions, and reports which
// descriptors became readable. A hang-up or error condition counts as
// readable, since a read on that descriptor returns at once (e.g. EOF
// on a pipe whose writer has closed).
func Poll(fds []int, timeout time.Duration) ([]bool, error) {
	pfds := make([]unix.PollFd, len(fds))
	for idx, fd := range fds {
		pfds[idx] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	ms := int(timeout / time.Millisecond)
	for {
		_, err := unix.Poll(pfds, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("%w: poll: %v", ErrReceiveFailed, err)
		}
		break
	}
	readable := make([]bool, len(fds))
	for idx, pfd := range pfds {
		readable[idx] = pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
	return readable, nil
}
