package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/tinyip"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 20.
// Users should still call [Frame.Validate] before working
// with the payload of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: nil}, tinyip.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4 packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

// HeaderLength returns the length of the IPv4 header as calculated using IHL. It includes IP options.
func (ifrm Frame) HeaderLength() int {
	return int(ifrm.buf[0]&0xf) * 4
}

// VersionAndIHL returns the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) VersionAndIHL() (version, IHL uint8) {
	v := ifrm.buf[0]
	return v >> 4, v & 0xf
}

// SetVersionAndIHL sets the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) SetVersionAndIHL(version, IHL uint8) { ifrm.buf[0] = version<<4 | IHL&0xf }

// ToS returns the Type of Service octet. See [ToS].
func (ifrm Frame) ToS() ToS { return ToS(ifrm.buf[1]) }

// SetToS sets ToS field. See [Frame.ToS].
func (ifrm Frame) SetToS(tos ToS) { ifrm.buf[1] = byte(tos) }

// TotalLength defines the entire packet size in bytes, including IP header and data.
func (ifrm Frame) TotalLength() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[2:4])
}

// SetTotalLength sets TotalLength field. See [Frame.TotalLength].
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID is an identification field and is primarily used for uniquely
// identifying the group of fragments of a single IP datagram.
func (ifrm Frame) ID() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[4:6])
}

// SetID sets ID field. See [Frame.ID].
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// Flags returns the [Flags] of the IP packet.
func (ifrm Frame) Flags() Flags {
	return Flags(binary.BigEndian.Uint16(ifrm.buf[6:8]))
}

// SetFlags sets the IPv4 flags field. See [Flags].
func (ifrm Frame) SetFlags(flags Flags) {
	binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(flags))
}

// TTL is the time to live field, in practice a hop count.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the IP frame's TTL field. See [Frame.TTL].
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol field defines the protocol used in the data portion of the IP datagram. TCP is 6.
func (ifrm Frame) Protocol() tinyip.IPProto { return tinyip.IPProto(ifrm.buf[9]) }

// SetProtocol sets protocol field. See [Frame.Protocol].
func (ifrm Frame) SetProtocol(proto tinyip.IPProto) { ifrm.buf[9] = uint8(proto) }

// CRC returns the checksum field of the IPv4 header.
func (ifrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[10:12])
}

// SetCRC sets the CRC field of the IP packet. See [Frame.CRC].
func (ifrm Frame) SetCRC(cs uint16) {
	binary.BigEndian.PutUint16(ifrm.buf[10:12], cs)
}

// HeaderSum returns the raw internet checksum of the fixed header including its
// checksum field. An intact header sums to 0xffff.
func (ifrm Frame) HeaderSum() uint16 {
	return tinyip.Checksum(ifrm.buf[:sizeHeader])
}

// CalculateHeaderCRC calculates the value of the checksum field for the
// fixed header, skipping over the current checksum field contents.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc tinyip.CRC791
	crc.Write(ifrm.buf[0:10])
	crc.Write(ifrm.buf[12:20])
	return crc.Checksum16()
}

// PseudoSum returns the raw checksum of the payload with the IPv4 pseudo-header
// folded in. Used to validate and calculate TCP checksums. Call [Frame.Validate] first.
func (ifrm Frame) PseudoSum() uint16 {
	payload := ifrm.Payload()
	return tinyip.PseudoChecksum(payload, ifrm.SourceAddr(), ifrm.DestinationAddr(), ifrm.Protocol(), uint16(len(payload)))
}

// SourceAddr returns pointer to the source IPv4 address in the IP header.
func (ifrm Frame) SourceAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[12:16])
}

// DestinationAddr returns pointer to the destination IPv4 address in the IP header.
func (ifrm Frame) DestinationAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[16:20])
}

// SwapAddrs exchanges source and destination addresses in place.
// The header checksum is unaffected by the swap.
func (ifrm Frame) SwapAddrs() {
	src, dst := ifrm.SourceAddr(), ifrm.DestinationAddr()
	*src, *dst = *dst, *src
}

// Payload returns the contents of the IPv4 packet, which may be zero sized.
// Be sure to call [Frame.Validate] beforehand to avoid panic.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	l := ifrm.TotalLength()
	return ifrm.buf[off:l]
}

//
// Validation API.
//

// Validate checks the header fields the stack depends on, in order:
// version and header length (only option-less IPv4 accepted), total length
// against the frame length and fragmentation. It does not check the checksum,
// see [Frame.HeaderSum].
func (ifrm Frame) Validate() error {
	if version, ihl := ifrm.VersionAndIHL(); version != 4 || ihl != sizeHeader/4 {
		return tinyip.ErrUnsupported
	}
	if int(ifrm.TotalLength()) != len(ifrm.buf) {
		return tinyip.ErrInvalidLengthField
	}
	if ifrm.Flags().IsFragment() {
		return tinyip.ErrFragmented
	}
	return nil
}

func (ifrm Frame) String() string {
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	src := netip.AddrFrom4(*ifrm.SourceAddr())
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d TTL=%d ID=%d", ifrm.Protocol().String(), src.String(), dst.String(), ifrm.TotalLength(), ifrm.TTL(), ifrm.ID())
}
