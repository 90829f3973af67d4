package internet

import (
	"log/slog"

	"github.com/soypat/tinyip"
	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/ipv4"
	"github.com/soypat/tinyip/ipv4/icmpv4"
)

// ipIn processes the n byte IPv4 packet at e.buf[e.llh:] and returns the
// length of the IP packet to send in reply, which is written in place.
func (e *Engine) ipIn(n int) int {
	e.stats.IP.Recv++
	ifrm, err := ipv4.NewFrame(e.buf[e.llh : e.llh+n])
	if err != nil {
		return e.ipDrop(&e.stats.IP.LenErr, "ip:short", err)
	}
	switch err = ifrm.Validate(); err {
	case nil:
	case tinyip.ErrUnsupported:
		return e.ipDrop(&e.stats.IP.VHLErr, "ip:vhl", err)
	case tinyip.ErrFragmented:
		return e.ipDrop(&e.stats.IP.FragErr, "ip:fragment", err)
	default:
		return e.ipDrop(&e.stats.IP.LenErr, "ip:length", err)
	}
	if *ifrm.DestinationAddr() != e.addr {
		return e.ipDrop(&e.stats.IP.AddrErr, "ip:not-for-us", tinyip.ErrNotForUs)
	}
	if !tinyip.ChecksumValid(ifrm.HeaderSum()) {
		return e.ipDrop(&e.stats.IP.ChkErr, "ip:checksum", tinyip.ErrBadCRC)
	}
	e.learnHW(ifrm.SourceAddr())
	switch ifrm.Protocol() {
	case tinyip.IPProtoTCP:
		return e.tcpIn(ifrm)
	case tinyip.IPProtoICMP:
		return e.icmpIn(ifrm)
	}
	return e.ipDrop(&e.stats.IP.ProtoErr, "ip:proto", tinyip.ErrUnsupported)
}

func (e *Engine) ipDrop(counter *uint32, reason string, err error) int {
	e.stats.IP.Drop++
	*counter++
	e.debug("drop", slog.String("reason", reason), slog.String("err", err.Error()))
	return 0
}

// icmpIn answers echo requests by turning the packet into an echo reply in place.
func (e *Engine) icmpIn(ifrm ipv4.Frame) int {
	e.stats.ICMP.Recv++
	frm, err := icmpv4.NewFrame(ifrm.Payload())
	if err != nil {
		e.stats.ICMP.Drop++
		return 0
	}
	if frm.Type() != icmpv4.TypeEcho {
		e.stats.ICMP.Drop++
		e.stats.ICMP.TypeErr++
		e.debug("drop", slog.String("reason", "icmp:type"), slog.Uint64("type", uint64(frm.Type())))
		return 0
	}
	echo := icmpv4.FrameEcho{Frame: frm}
	echo.SetEchoReply()
	// Swapping addresses leaves the IP header checksum unchanged.
	ifrm.SwapAddrs()
	e.stats.ICMP.Sent++
	e.stats.IP.Sent++
	if internal.LogEnabled(e.log, internal.LevelTrace) {
		e.trace("icmp:echo-reply", internal.SlogAddr4("dst", ifrm.DestinationAddr()),
			slog.Uint64("id", uint64(echo.Identifier())), slog.Uint64("seq", uint64(echo.SequenceNumber())))
	}
	return int(ifrm.TotalLength())
}

// ipHeaderOut writes the IPv4 header for a packet of totalLen bytes from
// our address to dst at the start of the packet area and returns its frame.
func (e *Engine) ipHeaderOut(dst [4]byte, proto tinyip.IPProto, totalLen int) ipv4.Frame {
	ifrm, _ := ipv4.NewFrame(e.buf[e.llh : e.llh+totalLen])
	e.ipID++
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	ifrm.SetTotalLength(uint16(totalLen))
	ifrm.SetID(e.ipID)
	ifrm.SetFlags(0)
	ifrm.SetTTL(e.ttl)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = e.addr
	*ifrm.DestinationAddr() = dst
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	e.stats.IP.Sent++
	return ifrm
}
