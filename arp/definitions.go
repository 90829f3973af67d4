package arp

import "github.com/soypat/tinyip"

const (
	sizeHeader   = 8
	sizeHeaderv4 = tinyip.SizeHeaderARPv4
	// hardwareEthernet is the ARP hardware type for Ethernet (10Mb).
	hardwareEthernet = 1
)

// Operation represents the type of ARP packet, either request or reply/response.
type Operation uint16

const (
	OpRequest Operation = 1 // request
	OpReply   Operation = 2 // reply
)

func (op Operation) String() string {
	switch op {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	}
	return "Operation(unknown)"
}
