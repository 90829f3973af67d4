package icmpv4

import (
	"encoding/binary"

	"github.com/soypat/tinyip"
)

// Type is the ICMP message type octet.
type Type uint8

const (
	TypeEchoReply Type = 0 // echo reply
	TypeEcho      Type = 8 // echo

	TypeDestinationUnreachable Type = 3 // destination unreachable
	TypeSourceQuench           Type = 4 // source quench
	TypeRedirect               Type = 5 // redirect

	TypeTimeExceeded     Type = 11 // time exceeded
	TypeParameterProblem Type = 12 // parameter problem

	TypeTimestamp      Type = 13 // timestamp
	TypeTimestampReply Type = 14 // timestamp reply

	TypeInfoRequest      Type = 15 // information request
	TypeInfoRequestReply Type = 16 // information request reply
)

const sizeHeader = tinyip.SizeHeaderICMPEcho

// NewFrame returns a Frame over buf. buf must hold at least the 8 octet echo header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, tinyip.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

type Frame struct {
	buf []byte
}

func (frm Frame) Type() Type { return Type(frm.buf[0]) }

func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(frm.buf[2:4])
}

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) {
	binary.BigEndian.PutUint16(frm.buf[2:4], crc)
}

type FrameEcho struct {
	Frame
}

func (frm FrameEcho) Identifier() uint16 {
	return binary.BigEndian.Uint16(frm.buf[4:6])
}

func (frm FrameEcho) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(frm.buf[6:8])
}

// SetEchoReply turns an echo request into an echo reply in place. Identifier,
// sequence number and data are kept and the checksum is adjusted incrementally
// (RFC 1624) for the type change, so the data is never re-summed.
func (frm FrameEcho) SetEchoReply() {
	frm.SetType(TypeEchoReply)
	// Type is the high octet of the first word: 8->0 lowers the sum by 0x0800.
	frm.SetCRC(incrementalAdd(frm.CRC(), uint16(TypeEcho)<<8))
}

func incrementalAdd(cks, add uint16) uint16 {
	sum := uint32(cks) + uint32(add)
	return uint16(sum + sum>>16)
}
