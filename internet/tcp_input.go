package internet

import (
	"log/slog"

	"github.com/soypat/seqs"
	"github.com/soypat/tinyip"
	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/ipv4"
	"github.com/soypat/tinyip/tcp"
)

// segment holds the fields of an inbound segment that are needed after the
// packet buffer starts being overwritten by the reply.
type segment struct {
	seq   seqs.Value
	ack   seqs.Value
	flags tcp.Flags
	// mss is the value of the MSS option of a SYN segment, zero if absent.
	mss uint16
	// data aliases the payload in the packet buffer.
	data []byte
}

const ctlFlags = tcp.FlagSYN | tcp.FlagACK | tcp.FlagRST | tcp.FlagFIN

// length returns the sequence space occupied by the segment.
func (seg *segment) length() seqs.Size {
	n := seqs.Size(len(seg.data))
	if seg.flags.HasAny(tcp.FlagSYN) {
		n++
	}
	if seg.flags.HasAny(tcp.FlagFIN) {
		n++
	}
	return n
}

func (e *Engine) tcpIn(ifrm ipv4.Frame) int {
	e.stats.TCP.Recv++
	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err == nil {
		err = tfrm.ValidateExceptCRC()
	}
	if err != nil {
		return e.tcpDrop(&e.stats.TCP.Drop, "tcp:header", err)
	}
	if !tinyip.ChecksumValid(ifrm.PseudoSum()) {
		return e.tcpDrop(&e.stats.TCP.ChkErr, "tcp:checksum", tinyip.ErrBadCRC)
	}
	raddr := ifrm.SourceAddr()
	lport, rport := tfrm.DestinationPort(), tfrm.SourcePort()
	seg := segment{
		seq:   tfrm.Seq(),
		ack:   tfrm.Ack(),
		flags: tfrm.Flags(),
		data:  tfrm.Payload(),
	}
	if seg.flags.HasAny(tcp.FlagSYN) {
		seg.mss, _ = tcp.ParseMSS(tfrm.Options())
	}
	for i := range e.conns {
		if e.conns[i].matches(raddr, lport, rport) {
			return e.tcpFound(i, seg)
		}
	}
	if seg.flags&ctlFlags == tcp.FlagSYN && e.listening(lport) {
		return e.passiveOpen(raddr, lport, rport, seg)
	}
	if seg.flags.HasAny(tcp.FlagRST) {
		e.stats.TCP.Drop++
		return 0
	}
	if seg.flags.HasAny(tcp.FlagSYN) {
		e.stats.TCP.SynRst++
	}
	e.debug("tcp:reset-unmatched", internal.SlogAddr4("raddr", raddr), slog.Uint64("lport", uint64(lport)), slog.Uint64("rport", uint64(rport)))
	return e.sendReset(ifrm, tfrm)
}

func (e *Engine) tcpDrop(counter *uint32, reason string, err error) int {
	if counter != &e.stats.TCP.Drop {
		*counter++
	}
	e.stats.TCP.Drop++
	e.debug("drop", slog.String("reason", reason), slog.String("err", err.Error()))
	return 0
}

// passiveOpen claims a connection slot for an inbound SYN to a listening port
// and answers with SYN+ACK.
func (e *Engine) passiveOpen(raddr *[4]byte, lport, rport uint16, seg segment) int {
	slot := e.freeSlot()
	if slot < 0 {
		e.stats.TCP.SynDrop++
		e.stats.TCP.Drop++
		e.debug("tcp:syn-drop", slog.Uint64("lport", uint64(lport)))
		return 0
	}
	mss := e.mss
	if seg.mss > 0 {
		mss = min(mss, seg.mss)
	}
	iss := e.initialSeq(*raddr, lport, rport)
	c := &e.conns[slot]
	*c = Conn{
		raddr:  *raddr,
		lport:  lport,
		rport:  rport,
		rcvNxt: seqs.Add(seg.seq, 1),
		sndNxt: iss,
		ackNxt: seqs.Add(iss, 1),
		mss:    mss,
		state:  tcp.StateSynRcvd,
	}
	c.arm(e.rto)
	e.trace("tcp:passive-open", internal.SlogConn(slot, lport, rport), internal.SlogAddr4("raddr", raddr), slog.Int("mss", int(mss)))
	return e.sendSynAck(c)
}

// tcpFound runs the state machine of connection i for an inbound segment.
func (e *Engine) tcpFound(i int, seg segment) int {
	c := &e.conns[i]
	if seg.flags.HasAny(tcp.FlagRST) {
		e.stats.TCP.Rst++
		e.debug("tcp:reset", internal.SlogConn(i, c.lport, c.rport), slog.String("state", c.state.String()))
		c.state = tcp.StateClosed
		if !e.silentReset {
			e.appNotify(i, AppAborted)
		}
		return 0
	}
	if !seg.flags.HasAny(tcp.FlagACK) {
		return e.tcpDrop(&e.stats.TCP.AckErr, "tcp:no-ack", tinyip.ErrPacketDrop)
	}
	synAck := c.state == tcp.StateSynSent && seg.flags&ctlFlags == tcp.SynAck
	if !synAck && (len(seg.data) > 0 || seg.flags.HasAny(tcp.FlagSYN|tcp.FlagFIN)) && seg.seq != c.rcvNxt {
		e.stats.TCP.SeqErr++
		return e.sendAck(c)
	}
	var flags AppFlags
	if c.Outstanding() && seg.ack == c.ackNxt {
		c.sndNxt = c.ackNxt
		c.disarm()
		flags = AppAcked
	}
	datalen := seqs.Size(len(seg.data))
	prev := c.state
	defer e.traceTransition(i, prev)

	switch c.state {
	case tcp.StateSynRcvd:
		if flags&AppAcked == 0 {
			return 0
		}
		c.state = tcp.StateEstablished
		flags = AppConnected
		if datalen > 0 {
			flags |= AppNewData
			c.rcvNxt.UpdateForward(datalen)
		}
		return e.appSend(i, flags, seg.data)

	case tcp.StateSynSent:
		if !synAck || flags&AppAcked == 0 {
			// Not the answer to our SYN: reset it like an unmatched segment.
			c.state = tcp.StateClosed
			e.appNotify(i, AppAborted)
			c.sndNxt = seg.ack
			c.rcvNxt = seqs.Add(seg.seq, seg.length())
			return e.sendRstAck(c)
		}
		return e.tcpFoundSynSent(i, seg)

	case tcp.StateEstablished:
		// A stopped connection refuses data and with it any FIN that follows.
		if seg.flags.HasAny(tcp.FlagFIN) && (datalen == 0 || !c.Stopped()) {
			if c.Outstanding() {
				// Peer retransmits the FIN once our data is acknowledged.
				e.stats.TCP.Drop++
				return 0
			}
			c.rcvNxt.UpdateForward(datalen + 1)
			flags |= AppClosed
			if datalen > 0 {
				flags |= AppNewData
			}
			if e.callApp(i, flags, seg.data).req&reqAbort != 0 {
				c.state = tcp.StateClosed
				return e.sendRstAck(c)
			}
			c.ackNxt = seqs.Add(c.sndNxt, 1)
			c.state = tcp.StateLastAck
			c.arm(e.rto)
			return e.sendFinAck(c)
		}
		if datalen > 0 && !c.Stopped() {
			flags |= AppNewData
			c.rcvNxt.UpdateForward(datalen)
		}
		if flags == 0 {
			return 0
		}
		return e.appSend(i, flags, seg.data)

	case tcp.StateLastAck:
		if flags&AppAcked != 0 {
			c.state = tcp.StateClosed
		}
		return 0

	case tcp.StateFinWait1:
		c.rcvNxt.UpdateForward(datalen)
		if seg.flags.HasAny(tcp.FlagFIN) {
			if flags&AppAcked != 0 {
				c.state = tcp.StateTimeWait
				c.timer = 0
			} else {
				c.state = tcp.StateClosing
			}
			c.rcvNxt.UpdateForward(1)
			return e.sendAck(c)
		}
		if flags&AppAcked != 0 {
			c.state = tcp.StateFinWait2
			c.timer = 0
		}
		if datalen > 0 {
			return e.sendAck(c)
		}
		return 0

	case tcp.StateFinWait2:
		c.rcvNxt.UpdateForward(datalen)
		if seg.flags.HasAny(tcp.FlagFIN) {
			c.state = tcp.StateTimeWait
			c.timer = 0
			c.rcvNxt.UpdateForward(1)
			return e.sendAck(c)
		}
		if datalen > 0 {
			return e.sendAck(c)
		}
		return 0

	case tcp.StateClosing:
		if flags&AppAcked != 0 {
			c.state = tcp.StateTimeWait
			c.timer = 0
		}
		return 0

	case tcp.StateTimeWait:
		return e.sendAck(c)
	}
	return 0
}

// tcpFoundSynSent completes an active open on the SYN+ACK that acknowledges our SYN.
func (e *Engine) tcpFoundSynSent(i int, seg segment) int {
	c := &e.conns[i]
	if seg.mss > 0 {
		c.mss = min(e.mss, seg.mss)
	}
	c.rcvNxt = seqs.Add(seg.seq, 1)
	c.state = tcp.StateEstablished
	return e.appSend(i, AppConnected|AppNewData, nil)
}

func (e *Engine) traceTransition(i int, prev tcp.State) {
	c := &e.conns[i]
	if c.state != prev {
		e.trace("tcp:state", internal.SlogConn(i, c.lport, c.rport),
			slog.String("old", prev.String()), slog.String("new", c.state.String()))
	}
}
