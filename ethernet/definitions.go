package ethernet

import (
	"strconv"
)

const (
	sizeHeaderNoVLAN = 14
	// MinFrameSize is the minimum size of an Ethernet frame excluding the FCS.
	// Shorter payloads are padded by the sender.
	MinFrameSize = 60
)

// BroadcastAddr returns the all 0xff's broadcast hardware/MAC/EUI/OUI address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// Type is the EtherType field of an Ethernet II frame.
type Type uint16

// Ethernet type flags
const (
	TypeIPv4 Type = 0x0800 // IPv4
	TypeARP  Type = 0x0806 // ARP
	TypeIPv6 Type = 0x86DD // IPv6
	TypeVLAN Type = 0x8100 // VLAN
)

func (et Type) String() string {
	switch et {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	case TypeIPv6:
		return "IPv6"
	case TypeVLAN:
		return "VLAN"
	}
	return "0x" + strconv.FormatUint(uint64(et), 16)
}
