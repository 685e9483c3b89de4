package packet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowpoint-sec/natattack/internal/packet"
)

func addr(ip uint32, port uint16) packet.Address {
	return packet.Address{IP: ip, Port: port}
}

// dottedQuad is a small test-only helper; it is not the codec's IP
// parser (that lives in internal/topology and is exercised there).
func dottedQuad(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestSerializeGoldenFrame(t *testing.T) {
	p := packet.New()
	p.Src = addr(dottedQuad(10, 244, 1, 128), 12345)
	p.Dst = addr(dottedQuad(10, 244, 1, 5), 54321)
	p.Seq = 0xDEADBEEF
	p.SYN = true
	p.Data = []byte("Hello, world!")

	frame, err := p.Serialize()
	require.NoError(t, err)
	require.Len(t, frame, 53)

	assert.Equal(t, byte(0x45), frame[0])
	assert.Equal(t, []byte{0x00, 0x35}, frame[2:4])
	assert.Equal(t, byte(0x40), frame[8])
	assert.Equal(t, byte(0x06), frame[9])
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, frame[24:28])
	assert.Equal(t, byte(0x02), frame[33])
	assert.Equal(t, []byte("Hello, world!"), frame[40:])

	assert.Equal(t, uint16(0), checksumOver(frame[0:20]))
	pseudoAndTCP := buildPseudoAndTCP(t, frame)
	assert.Equal(t, uint16(0), checksumOver(pseudoAndTCP))
}

func checksumOver(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func buildPseudoAndTCP(t *testing.T, frame []byte) []byte {
	t.Helper()
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], frame[12:16])
	copy(pseudo[4:8], frame[16:20])
	pseudo[9] = 0x06
	tcpAndData := frame[20:]
	pseudo[10] = byte(len(tcpAndData) >> 8)
	pseudo[11] = byte(len(tcpAndData))
	return append(pseudo, tcpAndData...)
}

func TestRoundTrip(t *testing.T) {
	ack := uint32(999)
	orig := packet.New()
	orig.Src = addr(dottedQuad(192, 168, 1, 1), 4000)
	orig.Dst = addr(dottedQuad(192, 168, 1, 2), 80)
	orig.Seq = 123456
	orig.Ack = &ack
	orig.PSH = true
	orig.Data = []byte("round trip payload")

	frame, err := orig.Serialize()
	require.NoError(t, err)

	got, err := packet.Deserialize(frame)
	require.NoError(t, err)
	assert.True(t, orig.Equal(got))
}

func TestRoundTripIgnoresTTL(t *testing.T) {
	p := packet.New()
	p.TTL = 3
	p.Src = addr(1, 1)
	p.Dst = addr(2, 2)

	frame, err := p.Serialize()
	require.NoError(t, err)

	// Simulate transit decrement: a real router would lower byte 8 and
	// rewrite the IP header checksum to match.
	frame[8] = 1
	frame[10], frame[11] = 0, 0
	sum := checksumOver(frame[0:20])
	frame[10], frame[11] = byte(sum>>8), byte(sum)

	got, err := packet.Deserialize(frame)
	require.NoError(t, err)
	assert.True(t, p.Equal(got))
	assert.Equal(t, uint8(1), got.TTL)
}

func TestRSTMasksContent(t *testing.T) {
	p := packet.New()
	p.Src = addr(1, 1)
	p.Dst = addr(2, 2)
	p.RST = true
	ack := uint32(42)
	p.Ack = &ack
	p.SYN = true
	p.FIN = true
	p.PSH = true
	p.Data = []byte("should be dropped")

	frame, err := p.Serialize()
	require.NoError(t, err)
	require.Len(t, frame, 40)
	assert.Equal(t, byte(0x04), frame[33])
}

func TestRSTMaskingIgnoresPayloadLengthLimit(t *testing.T) {
	p := packet.New()
	p.Src = addr(1, 1)
	p.Dst = addr(2, 2)
	p.RST = true
	p.Data = make([]byte, 5000)

	frame, err := p.Serialize()
	require.NoError(t, err)
	assert.Len(t, frame, 40)
}

func TestAckFlagIffAckPresent(t *testing.T) {
	withoutAck := packet.New()
	withoutAck.Src, withoutAck.Dst = addr(1, 1), addr(2, 2)
	frame, err := withoutAck.Serialize()
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame[33]&0x10)

	ack := uint32(7)
	withAck := packet.New()
	withAck.Src, withAck.Dst = addr(1, 1), addr(2, 2)
	withAck.Ack = &ack
	frame2, err := withAck.Serialize()
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), frame2[33]&0x10)
	assert.Equal(t, []byte{0, 0, 0, 7}, frame2[28:32])
}

func TestPayloadTooLarge(t *testing.T) {
	p := packet.New()
	p.Src, p.Dst = addr(1, 1), addr(2, 2)
	p.Data = make([]byte, 257)
	_, err := p.Serialize()
	assert.ErrorIs(t, err, packet.ErrPayloadTooLarge)
}

func TestDeserializeRejections(t *testing.T) {
	base := packet.New()
	base.Src, base.Dst = addr(dottedQuad(1, 2, 3, 4), 1), addr(dottedQuad(5, 6, 7, 8), 2)
	base.Seq = 10
	base.Data = []byte("x")
	good, err := base.Serialize()
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		_, err := packet.Deserialize(good[:19])
		assert.ErrorIs(t, err, packet.ErrNotAPacket)
	})

	t.Run("bad IP checksum", func(t *testing.T) {
		corrupt := append([]byte{}, good...)
		corrupt[0] ^= 0x01
		_, err := packet.Deserialize(corrupt)
		assert.ErrorIs(t, err, packet.ErrNotAPacket)
	})

	t.Run("mismatched total length", func(t *testing.T) {
		corrupt := append([]byte{}, good...)
		corrupt[3] ^= 0x01
		// Recompute IP checksum so only the total-length check fails.
		corrupt[10], corrupt[11] = 0, 0
		sum := checksumOver(corrupt[0:20])
		corrupt[10], corrupt[11] = byte(sum>>8), byte(sum)
		_, err := packet.Deserialize(corrupt)
		assert.ErrorIs(t, err, packet.ErrNotAPacket)
	})

	t.Run("wrong protocol", func(t *testing.T) {
		corrupt := append([]byte{}, good...)
		corrupt[9] = 0x11
		// Recompute IP checksum so only the protocol-byte check fails.
		corrupt[10], corrupt[11] = 0, 0
		sum := checksumOver(corrupt[0:20])
		corrupt[10], corrupt[11] = byte(sum>>8), byte(sum)
		_, err := packet.Deserialize(corrupt)
		assert.ErrorIs(t, err, packet.ErrNotAPacket)
	})

	t.Run("bad TCP checksum", func(t *testing.T) {
		corrupt := append([]byte{}, good...)
		corrupt[37] ^= 0x01
		_, err := packet.Deserialize(corrupt)
		assert.ErrorIs(t, err, packet.ErrNotAPacket)
	})

	t.Run("data offset exceeds segment", func(t *testing.T) {
		corrupt := append([]byte{}, good...)
		corrupt[32] = 0xF0 // doff = 15 words = 60 bytes, far beyond the segment
		fixupTCPChecksum(corrupt)
		_, err := packet.Deserialize(corrupt)
		assert.ErrorIs(t, err, packet.ErrNotAPacket)
	})
}

// fixupTCPChecksum recomputes and rewrites a frame's TCP checksum so
// that a header field corrupted for test purposes doesn't also trip
// the (earlier-checked) checksum rejection.
func fixupTCPChecksum(frame []byte) {
	ihl := int(frame[0] & 0x0f)
	tcpSeg := frame[ihl*4:]
	tcpSeg[16], tcpSeg[17] = 0, 0
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], frame[12:16])
	copy(pseudo[4:8], frame[16:20])
	pseudo[9] = 0x06
	pseudo[10] = byte(len(tcpSeg) >> 8)
	pseudo[11] = byte(len(tcpSeg))
	sum := checksumOver(append(pseudo, tcpSeg...))
	tcpSeg[16], tcpSeg[17] = byte(sum>>8), byte(sum)
}

func TestAddressEncoding(t *testing.T) {
	p := packet.New()
	p.Src = addr(0x0AF48105, 2440)
	p.Dst = addr(1, 1)
	frame, err := p.Serialize()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0xF4, 0x81, 0x05}, frame[12:16])
	assert.Equal(t, []byte{0x09, 0x88}, frame[20:22])
}
