package internet

import (
	"log/slog"

	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/tcp"
)

// tick runs the timers of connection i and returns the length of the IP packet to send.
func (e *Engine) tick(i int) int {
	c := &e.conns[i]
	switch {
	case c.state == tcp.StateClosed:
		return 0

	case c.state.IsWaiting():
		c.timer++
		if c.timer >= e.timeWait {
			e.trace("tcp:state", internal.SlogConn(i, c.lport, c.rport),
				slog.String("old", c.state.String()), slog.String("new", tcp.StateClosed.String()))
			c.state = tcp.StateClosed
		}
		return 0

	case c.Outstanding():
		if c.timer > 0 {
			c.timer--
		}
		if c.timer > 0 {
			return 0
		}
		if c.flags&connSynPending != 0 {
			c.flags &^= connSynPending
			c.timer = uint16(e.rto)
			return e.sendSyn(c)
		}
		c.nrtx++
		if c.nrtx >= e.maxRtx {
			e.stats.TCP.TimedOut++
			e.warn("tcp:timeout", internal.SlogConn(i, c.lport, c.rport), slog.String("state", c.state.String()),
				slog.Int("nrtx", int(c.nrtx)))
			c.state = tcp.StateClosed
			e.appNotify(i, AppTimedOut)
			return e.sendRstAck(c)
		}
		c.timer = uint16(e.rto) << min(c.nrtx, e.backoff)
		e.stats.TCP.Rexmit++
		e.debug("tcp:rexmit", internal.SlogConn(i, c.lport, c.rport), slog.String("state", c.state.String()),
			slog.Int("nrtx", int(c.nrtx)), slog.Int("timer", int(c.timer)))
		switch {
		case c.state == tcp.StateSynRcvd:
			return e.sendSynAck(c)
		case c.state == tcp.StateSynSent:
			return e.sendSyn(c)
		case c.state == tcp.StateEstablished:
			return e.appRexmit(i)
		case c.state.IsClosing():
			// Our FIN is outstanding: FIN-WAIT-1, CLOSING or LAST-ACK.
			return e.sendFinAck(c)
		}
		return 0

	case c.state == tcp.StateEstablished:
		return e.appSend(i, AppPoll, nil)
	}
	return 0
}
