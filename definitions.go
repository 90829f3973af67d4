package tinyip

// IPProto represents the IP protocol number.
type IPProto uint8

// IP protocol numbers.
const (
	IPProtoICMP IPProto = 1  // ICMP
	IPProtoTCP  IPProto = 6  // TCP
	IPProtoUDP  IPProto = 17 // UDP
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	}
	return "IPProto(unknown)"
}

// Header sizes of the fixed formats the stack emits.
const (
	SizeHeaderEthernet = 14
	SizeHeaderIPv4     = 20
	SizeHeaderTCP      = 20
	SizeHeaderARPv4    = 28
	SizeHeaderICMPEcho = 8
	// SizeOptionMSS is the size of the TCP maximum segment size option.
	SizeOptionMSS = 4
)
