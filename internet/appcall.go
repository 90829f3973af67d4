package internet

import (
	"strings"

	"github.com/soypat/seqs"
	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/tcp"
)

// AppFlags describe the reason an [AppCall] is invoked. More than one bit may be set.
type AppFlags uint16

const (
	// AppAcked is set when the peer acknowledged the outstanding send.
	AppAcked AppFlags = 1 << iota
	// AppNewData is set when the peer sent new in-order data, see [Call.Data].
	AppNewData
	// AppRexmit requests the application to produce again the data of the
	// outstanding send, which is then retransmitted.
	AppRexmit
	// AppPoll is set on idle ticks of an established connection with nothing outstanding.
	AppPoll
	// AppClosed is set when the peer closed the connection.
	AppClosed
	// AppAborted is set when the peer reset the connection. Nothing can be sent.
	AppAborted
	// AppConnected is set when a passive or active open completes.
	AppConnected
	// AppTimedOut is set when the connection was dropped after too many retransmissions.
	AppTimedOut
)

// HasAny returns true if any of the argument flags are set.
func (f AppFlags) HasAny(flags AppFlags) bool { return f&flags != 0 }

func (f AppFlags) String() string {
	if f == 0 {
		return "[]"
	}
	names := [...]string{"ACKED", "NEWDATA", "REXMIT", "POLL", "CLOSED", "ABORTED", "CONNECTED", "TIMEDOUT"}
	var b strings.Builder
	b.WriteByte('[')
	for i, name := range names {
		if f&(1<<i) == 0 {
			continue
		}
		if b.Len() > 1 {
			b.WriteByte(',')
		}
		b.WriteString(name)
	}
	b.WriteByte(']')
	return b.String()
}

type appRequest uint8

const (
	reqClose appRequest = 1 << iota
	reqAbort
	reqRestart
)

// Call is the view an [AppCall] has of the engine. It shares the engine's
// packet buffer: the inbound payload returned by [Call.Data] and the outbound
// payload area returned by [Call.SendBuffer] overlap, so inbound data must be
// consumed before outbound data is written.
type Call struct {
	e       *Engine
	conn    *Conn
	idx     int
	flags   AppFlags
	req     appRequest
	data    []byte
	sendLen int
}

// Flags returns the reason of the call.
func (c *Call) Flags() AppFlags { return c.flags }

// Conn returns the connection the call refers to.
func (c *Call) Conn() *Conn { return c.conn }

// ConnIndex returns the index of the connection in the engine's table.
func (c *Call) ConnIndex() int { return c.idx }

// Data returns the inbound payload. It is non-empty only when [AppNewData] is set.
func (c *Call) Data() []byte { return c.data }

// MSS returns the largest payload that can be sent in this call.
func (c *Call) MSS() int { return int(c.conn.mss) }

// SendBuffer returns the outbound payload area of the packet buffer,
// limited to the connection MSS. Commit written bytes with [Call.SetSend].
func (c *Call) SendBuffer() []byte {
	off := c.e.llh + sizeHeaderIPTCP
	return c.e.buf[off : off+c.MSS()]
}

// SetSend sets the length of the payload written to [Call.SendBuffer].
// Zero means nothing to send.
func (c *Call) SetSend(n int) {
	c.sendLen = min(max(n, 0), c.MSS())
}

// Send copies p into the outbound payload area and returns the amount of bytes
// queued, which is at most [Call.MSS]. Data is only sent when nothing is
// outstanding or when retransmitting.
func (c *Call) Send(p []byte) int {
	n := copy(c.SendBuffer(), p)
	c.sendLen = n
	return n
}

// Close requests a graceful close of the connection.
func (c *Call) Close() { c.req |= reqClose }

// Abort requests the connection be reset.
func (c *Call) Abort() { c.req |= reqAbort }

// Stop closes the receive window. New data, including a FIN carried with
// data, is refused until [Call.Restart]. A FIN without data is still accepted.
func (c *Call) Stop() { c.conn.flags |= connStopped }

// Restart reopens the receive window closed by [Call.Stop] and sends a window update.
func (c *Call) Restart() {
	c.conn.flags &^= connStopped
	c.req |= reqRestart
}

// Stopped reports whether the receive window is closed.
func (c *Call) Stopped() bool { return c.conn.Stopped() }

// AppState returns the connection's application state blob.
func (c *Call) AppState() *[AppStateSize]byte { return &c.conn.app }

// RemoteAddr returns the IPv4 address of the peer.
func (c *Call) RemoteAddr() [4]byte { return c.conn.raddr }

// LocalAddr returns the IPv4 address of the engine.
func (c *Call) LocalAddr() [4]byte { return c.e.addr }

// callApp invokes the application for connection i. The returned Call holds
// the application's response until the next invocation.
func (e *Engine) callApp(i int, flags AppFlags, data []byte) *Call {
	if flags&AppNewData == 0 {
		data = nil
	}
	e.call = Call{e: e, conn: &e.conns[i], idx: i, flags: flags, data: data}
	e.appcall(&e.call)
	return &e.call
}

// appNotify invokes the application for an event that allows no data to be sent.
func (e *Engine) appNotify(i int, flags AppFlags) appRequest {
	return e.callApp(i, flags, nil).req
}

// appSend invokes the application on an established connection and sends its
// response: a reset, a FIN, new data or an acknowledgment of new inbound data.
func (e *Engine) appSend(i int, flags AppFlags, data []byte) int {
	call := e.callApp(i, flags, data)
	c := call.conn
	switch {
	case call.req&reqAbort != 0:
		c.state = tcp.StateClosed
		e.debug("tcp:app-abort", internal.SlogConn(i, c.lport, c.rport))
		return e.sendRstAck(c)
	case call.req&reqClose != 0:
		// An unacknowledged send is abandoned; the FIN follows it in sequence space.
		c.sndNxt = c.ackNxt
		c.ackNxt = seqs.Add(c.sndNxt, 1)
		c.state = tcp.StateFinWait1
		c.arm(e.rto)
		return e.sendFinAck(c)
	}
	if n := call.sendLen; n > 0 && !c.Outstanding() {
		c.ackNxt = seqs.Add(c.sndNxt, seqs.Size(n))
		c.arm(e.rto)
		return e.sendData(c, n)
	}
	if flags&AppNewData != 0 || call.req&reqRestart != 0 {
		return e.sendAck(c)
	}
	return 0
}

// appRexmit asks the application for the data of the outstanding send and
// sends it again from the last acknowledged sequence number.
func (e *Engine) appRexmit(i int) int {
	call := e.callApp(i, AppRexmit, nil)
	c := call.conn
	if call.req&reqAbort != 0 {
		c.state = tcp.StateClosed
		return e.sendRstAck(c)
	}
	n := min(call.sendLen, int(c.outstanding()))
	if n == 0 {
		return 0
	}
	return e.sendData(c, n)
}
