// Package randgen draws the unpredictable sequence numbers and ports
// the attacks need. A predictable ISN would let a victim's stack
// distinguish forged segments from genuine ones, so every draw comes
// from a cryptographically unpredictable source rather than
// math/rand.
package randgen

import (
	"crypto/rand"
	"encoding/binary"
)

// Uint32 returns a uniformly random 32-bit value.
func Uint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("randgen: entropy source failed: " + err.Error())
	}
	return binary.BigEndian.Uint32(b[:])
}

// LowHalfUint32 returns a uniformly random value in [0, 2^31), i.e.
// drawn from the low half of the 32-bit sequence number space.
func LowHalfUint32() uint32 {
	return Uint32() & 0x7fffffff
}

// EphemeralPort returns a uniformly random port in the dynamic/private
// range [1024, 65535].
func EphemeralPort() uint16 {
	const lo, span = 1024, 65536 - 1024
	return uint16(lo + int(Uint32()%span))
}
