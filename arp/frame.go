package arp

import (
	"encoding/binary"

	"github.com/soypat/tinyip"
	"github.com/soypat/tinyip/ethernet"
)

// NewFrame returns an ARP Frame with data set to buf.
// An error is returned if the buffer size is smaller than 28 (Ethernet+IPv4 size).
// Users should still call [Frame.ValidateIPv4] before trusting
// the address fields.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{buf: nil}, tinyip.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ARP packet
// and provides methods for manipulating, validating and
// retrieving fields. Only Ethernet hardware with IPv4 protocol
// addresses are represented. See [RFC826].
//
// [RFC826]: https://tools.ietf.org/html/rfc826
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the network link protocol type and address length. Example: Ethernet is 1.
func (afrm Frame) Hardware() (Type uint16, length uint8) {
	Type = binary.BigEndian.Uint16(afrm.buf[0:2])
	return Type, afrm.buf[4]
}

// SetHardware sets the network link protocol type. See [Frame.Hardware].
func (afrm Frame) SetHardware(Type uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], Type)
	afrm.buf[4] = length
}

// Protocol returns the internet protocol type and length. See [ethernet.Type].
func (afrm Frame) Protocol() (Type ethernet.Type, length uint8) {
	Type = ethernet.Type(binary.BigEndian.Uint16(afrm.buf[2:4]))
	return Type, afrm.buf[5]
}

// SetProtocol sets the protocol type and length fields of the ARP frame. See [Frame.Protocol] and [ethernet.Type].
func (afrm Frame) SetProtocol(Type ethernet.Type, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(Type))
	afrm.buf[5] = length
}

// Operation returns the ARP header operation field. See [Operation].
func (afrm Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(afrm.buf[6:8])) }

// SetOperation sets the ARP header operation field. See [Operation].
func (afrm Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op)) }

// Sender4 returns the hardware (MAC) and IPv4 addresses of sender of ARP packet.
// In an ARP request MAC address is used to indicate
// the address of the host sending the request. In an ARP reply MAC address is
// used to indicate the address of the host that the request was looking for.
func (afrm Frame) Sender4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target4 returns the IPv4 target addresses. See [Frame.Sender4].
// In an ARP request MAC target is ignored. In ARP reply MAC is used to indicate the address of host that originated request.
func (afrm Frame) Target4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// SwapTargetSender exchanges the target and sender address fields in place.
func (afrm Frame) SwapTargetSender() {
	hwTarget, protoTarget := afrm.Target4()
	hwSender, protoSender := afrm.Sender4()
	*hwTarget, *hwSender = *hwSender, *hwTarget
	*protoTarget, *protoSender = *protoSender, *protoTarget
}

// Validation API

// ValidateIPv4 checks the frame describes an Ethernet to IPv4 mapping
// with the standard address lengths.
func (afrm Frame) ValidateIPv4() error {
	htype, hlen := afrm.Hardware()
	ptype, plen := afrm.Protocol()
	if htype != hardwareEthernet || hlen != 6 || ptype != ethernet.TypeIPv4 || plen != 4 {
		return tinyip.ErrUnsupported
	}
	return nil
}
