package internet

import (
	"log/slog"

	"github.com/soypat/seqs"
	"github.com/soypat/tinyip"
	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/ipv4"
	"github.com/soypat/tinyip/tcp"
)

// tcpSend is the tail shared by every outbound segment. It fills the IP and
// TCP headers in the packet buffer from the connection state and returns the IP
// packet length. n payload bytes must already be at the payload offset,
// right after the option-less headers. Segments carrying the MSS option
// carry no payload.
func (e *Engine) tcpSend(c *Conn, flags tcp.Flags, n int, withMSS bool) int {
	hl := tinyip.SizeHeaderTCP
	if withMSS {
		hl += tinyip.SizeOptionMSS
	}
	total := tinyip.SizeHeaderIPv4 + hl + n
	ifrm := e.ipHeaderOut(c.raddr, tinyip.IPProtoTCP, total)
	tfrm, _ := tcp.NewFrame(ifrm.Payload())
	tfrm.SetSourcePort(c.lport)
	tfrm.SetDestinationPort(c.rport)
	tfrm.SetSeq(c.sndNxt)
	tfrm.SetAck(c.rcvNxt)
	tfrm.SetOffsetAndFlags(uint8(hl/4), flags)
	wnd := e.mss
	if c.Stopped() {
		wnd = 0
	}
	tfrm.SetWindowSize(wnd)
	tfrm.SetCRC(0)
	tfrm.SetUrgentPtr(0)
	if withMSS {
		tcp.PutMSS(tfrm.RawData()[tinyip.SizeHeaderTCP:], e.mss)
	}
	tfrm.SetCRC(^ifrm.PseudoSum())
	e.stats.TCP.Sent++
	if internal.LogEnabled(e.log, internal.LevelTrace) {
		e.trace("tcp:send", slog.Uint64("lport", uint64(c.lport)), slog.Uint64("rport", uint64(c.rport)), slog.String("flags", flags.String()),
			slog.Uint64("seq", uint64(c.sndNxt)), slog.Uint64("ack", uint64(c.rcvNxt)), slog.Int("len", n))
	}
	return total
}

func (e *Engine) sendAck(c *Conn) int { return e.tcpSend(c, tcp.FlagACK, 0, false) }

func (e *Engine) sendData(c *Conn, n int) int { return e.tcpSend(c, tcp.PshAck, n, false) }

func (e *Engine) sendFinAck(c *Conn) int { return e.tcpSend(c, tcp.FinAck, 0, false) }

func (e *Engine) sendSynAck(c *Conn) int { return e.tcpSend(c, tcp.SynAck, 0, true) }

func (e *Engine) sendSyn(c *Conn) int { return e.tcpSend(c, tcp.FlagSYN, 0, true) }

func (e *Engine) sendRstAck(c *Conn) int { return e.tcpSend(c, tcp.RstAck, 0, false) }

// sendReset answers a segment that matches no connection with RST+ACK.
// The sequence number is the segment's acknowledgment and the acknowledgment
// covers the whole segment, SYN and FIN included.
func (e *Engine) sendReset(ifrm ipv4.Frame, tfrm tcp.Frame) int {
	nc := Conn{
		raddr:  *ifrm.SourceAddr(),
		lport:  tfrm.DestinationPort(),
		rport:  tfrm.SourcePort(),
		sndNxt: tfrm.Ack(),
		rcvNxt: seqs.Add(tfrm.Seq(), tfrm.SegmentLength()),
		flags:  connStopped,
	}
	return e.tcpSend(&nc, tcp.RstAck, 0, false)
}
