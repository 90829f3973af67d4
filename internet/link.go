package internet

import (
	"encoding/binary"
	"log/slog"

	"github.com/soypat/tinyip/arp"
	"github.com/soypat/tinyip/ethernet"
	"github.com/soypat/tinyip/internal"
)

// etherIn processes the n byte Ethernet frame in the packet buffer and returns
// the length of the frame to send in reply.
func (e *Engine) etherIn(n int) int {
	efrm, err := ethernet.NewFrame(e.buf[:n])
	if err != nil {
		e.stats.ARP.Drop++
		return 0
	}
	if !efrm.IsBroadcast() && *efrm.DestinationHardwareAddr() != e.hw {
		return 0
	}
	switch efrm.EtherTypeOrSize() {
	case ethernet.TypeARP:
		e.stats.ARP.Recv++
		if n < arp.SizeFrame {
			e.stats.ARP.Drop++
			return 0
		}
		out := e.arp.In(e.buf[:n])
		if out > 0 {
			e.stats.ARP.Sent++
			e.trace("arp:reply", internal.SlogAddr6("dst", efrm.DestinationHardwareAddr()))
		}
		return out
	case ethernet.TypeIPv4:
		ipn := n - e.llh
		if n <= ethernet.MinFrameSize && ipn >= 4 {
			// Short packets are padded to the minimum frame size on the wire.
			if tl := int(binary.BigEndian.Uint16(e.buf[e.llh+2:])); tl < ipn {
				ipn = tl
			}
		}
		return e.linkOut(e.ipIn(ipn))
	}
	e.stats.ARP.Drop++
	e.debug("drop", slog.String("reason", "ether:type"), slog.Uint64("type", uint64(efrm.EtherTypeOrSize())))
	return 0
}

// learnHW records the Ethernet source of a validated inbound IP packet.
// Must be called before the reply overwrites the link header.
func (e *Engine) learnHW(srcIP *[4]byte) {
	if e.link != LinkEthernet {
		return
	}
	efrm, _ := ethernet.NewFrame(e.buf)
	e.arp.IPIn(efrm.SourceHardwareAddr(), srcIP)
}

// linkOut frames the ipLen byte IP packet in the packet buffer for the link and
// returns the frame length. On Ethernet links a cache miss replaces the packet
// with an ARP request for the next hop; the lost packet is recovered by the
// TCP retransmission timer.
func (e *Engine) linkOut(ipLen int) int {
	if ipLen == 0 {
		return 0
	}
	if e.link != LinkEthernet {
		return ipLen
	}
	dst := [4]byte(e.buf[e.llh+16 : e.llh+20])
	n, resolved := e.arp.Out(e.buf, &dst, ipLen)
	if !resolved {
		e.stats.ARP.Sent++
		e.stats.ARP.Requests++
		e.debug("arp:request", internal.SlogAddr4("dst", &dst))
	}
	return n
}
