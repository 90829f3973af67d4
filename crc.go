package tinyip

import (
	"encoding/binary"
)

// CRC791 is the running internet checksum as defined by RFC 791 and RFC 1071:
// the 16-bit ones' complement sum of all 16-bit big-endian words written to it.
// An odd trailing octet is summed as if padded with a zero byte, so only the
// last call to [CRC791.Write] may be given an odd length buffer.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum uint32
}

func fold(sum uint32) uint16 {
	sum = (sum & 0xffff) + sum>>16
	// the max value of sum at this point is 0x1fffe, so an additional round is enough
	return uint16(sum + sum>>16)
}

func checksumWriteEven(sum uint32, buff []byte) uint32 {
	for i := 0; i+1 < len(buff); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buff[i:]))
	}
	return sum
}

// Write adds the bytes in buff to the running checksum.
func (c *CRC791) Write(buff []byte) {
	c.sum = checksumWriteEven(c.sum, buff)
	if len(buff)&1 != 0 {
		c.sum += uint32(buff[len(buff)-1]) << 8
	}
	// Keep the accumulator away from overflow on large buffers.
	c.sum = uint32(fold(c.sum))
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint16(value uint16) {
	c.sum += uint32(value)
}

// Sum16 returns the folded ones' complement sum of the data written so far.
// It is not complemented: a header with a correct checksum field sums to 0xffff.
func (c *CRC791) Sum16() uint16 { return fold(c.sum) }

// Checksum16 returns the value to be stored in a checksum field, the ones'
// complement of [CRC791.Sum16]. The field must have been zero when summed.
func (c *CRC791) Checksum16() uint16 { return ^c.Sum16() }

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

// Checksum returns the raw (non complemented) internet checksum of b.
func Checksum(b []byte) uint16 {
	var crc CRC791
	crc.Write(b)
	return crc.Sum16()
}

// PseudoChecksum returns the raw internet checksum of b with the IPv4
// pseudo-header fields folded in. length is the transport segment length
// (header plus payload) as carried in the pseudo-header.
func PseudoChecksum(b []byte, src, dst *[4]byte, proto IPProto, length uint16) uint16 {
	var crc CRC791
	crc.Write(src[:])
	crc.Write(dst[:])
	crc.AddUint16(uint16(proto))
	crc.AddUint16(length)
	crc.Write(b)
	return crc.Sum16()
}

// ChecksumValid reports whether a raw sum computed over a region that includes
// its own checksum field denotes an intact region.
func ChecksumValid(sum uint16) bool { return sum == 0xffff }
