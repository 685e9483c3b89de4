// Package packet implements the hand-written IPv4+TCP wire codec: a
// fixed-feature serializer/deserializer with no IP options, no TCP
// options, and exactly the flag subset this toolkit's attacks need
// (SYN, ACK, FIN, RST, PSH).
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hollowpoint-sec/natattack/internal/checksum"
)

const (
	ipHeaderLen  = 20
	tcpHeaderLen = 20
	headerLen    = ipHeaderLen + tcpHeaderLen
	maxPayload   = 256

	protoTCP = 0x06

	flagFIN = 0x01
	flagSYN = 0x02
	flagRST = 0x04
	flagPSH = 0x08
	flagACK = 0x10
)

// ErrPayloadTooLarge is returned by Serialize when a non-RST packet
// carries more than 256 bytes of payload.
var ErrPayloadTooLarge = errors.New("packet: payload exceeds 256 bytes")

// ErrNotAPacket is returned by Deserialize for any input that fails
// to parse as a well-formed IPv4+TCP frame. It is never a crash: every
// rejection path in Deserialize returns this error (or one that wraps
// it), never a panic.
var ErrNotAPacket = errors.New("packet: not a valid IPv4/TCP frame")

// Address is a 5-tuple half: a 32-bit IP in big-endian numeric order
// (the low 8 bits are the last dotted octet) plus a 16-bit port.
type Address struct {
	IP   uint32
	Port uint16
}

// Packet is the in-memory representation of one emittable or received
// IPv4+TCP frame.
type Packet struct {
	Src, Dst Address
	TTL      uint8
	Window   uint16
	Seq      uint32
	Ack      *uint32
	SYN      bool
	FIN      bool
	RST      bool
	PSH      bool
	Data     []byte
}

// New returns a Packet with the default TTL and window size spec.md
// §3 names (64 and 65535 respectively).
func New() Packet {
	return Packet{TTL: 64, Window: 65535}
}

// ackPresent reports whether the ACK flag bit is set on emission: the
// Ack field is populated and RST is not set. RST always clears ACK
// regardless of what the caller put in Ack.
func (p *Packet) ackPresent() bool {
	return p.Ack != nil && !p.RST
}

// Serialize encodes p into a wire-format IPv4+TCP frame. If p.RST is
// true, the payload is forced empty and the SYN/FIN/PSH flags are
// forced false before encoding, regardless of what the caller set.
func (p *Packet) Serialize() ([]byte, error) {
	data := p.Data
	syn, fin, psh := p.SYN, p.FIN, p.PSH
	if p.RST {
		data = nil
		syn, fin, psh = false, false, false
	} else if len(data) > maxPayload {
		return nil, ErrPayloadTooLarge
	}

	totalLen := headerLen + len(data)
	buf := make([]byte, totalLen)

	// IPv4 header.
	buf[0] = 0x45
	buf[1] = 0x00
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], 0)
	binary.BigEndian.PutUint16(buf[6:8], 0x4000)
	buf[8] = p.TTL
	buf[9] = protoTCP
	binary.BigEndian.PutUint16(buf[10:12], 0)
	binary.BigEndian.PutUint32(buf[12:16], p.Src.IP)
	binary.BigEndian.PutUint32(buf[16:20], p.Dst.IP)

	ipChecksum := checksum.Sum16(buf[0:20])
	binary.BigEndian.PutUint16(buf[10:12], ipChecksum)

	// TCP header.
	tcp := buf[20:40]
	binary.BigEndian.PutUint16(tcp[0:2], p.Src.Port)
	binary.BigEndian.PutUint16(tcp[2:4], p.Dst.Port)
	binary.BigEndian.PutUint32(tcp[4:8], p.Seq)
	if p.ackPresent() {
		binary.BigEndian.PutUint32(tcp[8:12], *p.Ack)
	} else {
		binary.BigEndian.PutUint32(tcp[8:12], 0)
	}
	tcp[12] = 0x50
	tcp[13] = emitFlags(p.ackPresent(), p.RST, syn, fin, psh)
	binary.BigEndian.PutUint16(tcp[14:16], p.Window)
	binary.BigEndian.PutUint16(tcp[16:18], 0)
	binary.BigEndian.PutUint16(tcp[18:20], 0)

	if len(data) > 0 {
		copy(buf[40:], data)
	}

	pseudo := make([]byte, 12)
	binary.BigEndian.PutUint32(pseudo[0:4], p.Src.IP)
	binary.BigEndian.PutUint32(pseudo[4:8], p.Dst.IP)
	pseudo[8] = 0
	pseudo[9] = protoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(tcpHeaderLen+len(data)))

	tcpChecksum := checksum.Combine(
		checksum.PartialSum(pseudo),
		checksum.PartialSum(tcp),
		checksum.PartialSum(data),
	)
	binary.BigEndian.PutUint16(tcp[16:18], tcpChecksum)

	return buf, nil
}

// emitFlags computes the TCP flag byte per spec.md §4.2.1: RST, when
// set, wins outright and no other content bit is considered.
func emitFlags(ackPresent, rst, syn, fin, psh bool) byte {
	var f byte
	if ackPresent {
		f |= flagACK
	}
	if rst {
		f |= flagRST
		return f
	}
	if syn {
		f |= flagSYN
	}
	if fin {
		f |= flagFIN
	}
	if psh {
		f |= flagPSH
	}
	return f
}

// Deserialize parses buf, read verbatim from the tap device, into a
// Packet. Every malformed-input path returns ErrNotAPacket (or a
// wrapped form of it); Deserialize never panics on attacker-controlled
// or corrupted input.
func Deserialize(buf []byte) (*Packet, error) {
	if len(buf) < ipHeaderLen {
		return nil, fmt.Errorf("%w: truncated IP header (%d bytes)", ErrNotAPacket, len(buf))
	}
	if checksum.Sum16(buf[0:20]) != 0 {
		return nil, fmt.Errorf("%w: bad IP checksum", ErrNotAPacket)
	}

	totalLen := binary.BigEndian.Uint16(buf[2:4])
	if int(totalLen) != len(buf) {
		return nil, fmt.Errorf("%w: total length %d does not match frame length %d", ErrNotAPacket, totalLen, len(buf))
	}
	if buf[9] != protoTCP {
		return nil, fmt.Errorf("%w: protocol byte 0x%02x is not TCP", ErrNotAPacket, buf[9])
	}

	ihl := int(buf[0] & 0x0f)
	tcpOffset := ihl * 4
	if len(buf)-tcpOffset < tcpHeaderLen {
		return nil, fmt.Errorf("%w: IHL %d leaves no room for a TCP header", ErrNotAPacket, ihl)
	}
	tcpSeg := buf[tcpOffset:]

	pseudo := make([]byte, 12)
	copy(pseudo[0:4], buf[12:16])
	copy(pseudo[4:8], buf[16:20])
	pseudo[8] = 0
	pseudo[9] = protoTCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(tcpSeg)))
	verify := append(append([]byte{}, pseudo...), tcpSeg...)
	if checksum.Sum16(verify) != 0 {
		return nil, fmt.Errorf("%w: bad TCP checksum", ErrNotAPacket)
	}

	doff := int(tcpSeg[12]>>4) * 4
	if doff > len(tcpSeg) {
		return nil, fmt.Errorf("%w: declared data offset %d exceeds segment size %d", ErrNotAPacket, doff, len(tcpSeg))
	}

	flags := tcpSeg[13]
	p := &Packet{
		Src:    Address{IP: binary.BigEndian.Uint32(buf[12:16]), Port: binary.BigEndian.Uint16(tcpSeg[0:2])},
		Dst:    Address{IP: binary.BigEndian.Uint32(buf[16:20]), Port: binary.BigEndian.Uint16(tcpSeg[2:4])},
		TTL:    buf[8],
		Window: binary.BigEndian.Uint16(tcpSeg[14:16]),
		Seq:    binary.BigEndian.Uint32(tcpSeg[4:8]),
		SYN:    flags&flagSYN != 0,
		FIN:    flags&flagFIN != 0,
		RST:    flags&flagRST != 0,
		PSH:    flags&flagPSH != 0,
		Data:   append([]byte{}, tcpSeg[doff:]...),
	}
	if flags&flagACK != 0 {
		ack := binary.BigEndian.Uint32(tcpSeg[8:12])
		p.Ack = &ack
	}
	return p, nil
}

// Equal implements the §4.2.3 equality law: TTL is deliberately
// excluded so a sender can match a response against a template
// regardless of transit decrement.
func (p *Packet) Equal(other *Packet) bool {
	if other == nil {
		return false
	}
	if p.Src != other.Src || p.Dst != other.Dst {
		return false
	}
	if p.Window != other.Window || p.Seq != other.Seq {
		return false
	}
	if (p.Ack == nil) != (other.Ack == nil) {
		return false
	}
	if p.Ack != nil && *p.Ack != *other.Ack {
		return false
	}
	if p.SYN != other.SYN || p.FIN != other.FIN || p.RST != other.RST || p.PSH != other.PSH {
		return false
	}
	return bytes.Equal(p.Data, other.Data)
}

// WithDst returns a copy of p with its destination address replaced.
// Attacks use this to build an expected-response template from a
// spoofed outbound packet (spec.md §4.5 step 3).
func (p Packet) WithDst(dst Address) Packet {
	p.Dst = dst
	return p
}
