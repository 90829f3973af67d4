package ltesto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/netstack/tcpip/header"
)

// VerifyChecksums checks the IPv4 header checksum and the TCP or ICMP checksum
// of a frame using netstack's checksum routine.
func VerifyChecksums(frame []byte, ethernet bool) error {
	if ethernet {
		if len(frame) < header.EthernetMinimumSize {
			return errors.New("short ethernet frame")
		}
		if binary.BigEndian.Uint16(frame[12:14]) != uint16(header.IPv4ProtocolNumber) {
			return nil
		}
		frame = frame[header.EthernetMinimumSize:]
	}
	ip := header.IPv4(frame)
	if len(frame) < header.IPv4MinimumSize || !ip.IsValid(len(frame)) {
		return errors.New("invalid IPv4 header")
	}
	hlen := int(ip.HeaderLength())
	if sum := header.Checksum(frame[:hlen], 0); sum != 0xffff {
		return fmt.Errorf("bad IPv4 header checksum: sum=%#04x", sum)
	}
	payload := frame[hlen:ip.TotalLength()]
	switch ip.Protocol() {
	case uint8(header.TCPProtocolNumber):
		var pseudo [12]byte
		copy(pseudo[0:4], frame[12:16])
		copy(pseudo[4:8], frame[16:20])
		pseudo[9] = ip.Protocol()
		binary.BigEndian.PutUint16(pseudo[10:], uint16(len(payload)))
		sum := header.Checksum(pseudo[:], 0)
		if sum = header.Checksum(payload, sum); sum != 0xffff {
			return fmt.Errorf("bad TCP checksum: sum=%#04x", sum)
		}
	case uint8(header.ICMPv4ProtocolNumber):
		if sum := header.Checksum(payload, 0); sum != 0xffff {
			return fmt.Errorf("bad ICMP checksum: sum=%#04x", sum)
		}
	}
	return nil
}
