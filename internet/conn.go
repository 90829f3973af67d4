package internet

import (
	"net/netip"

	"github.com/soypat/seqs"
	"github.com/soypat/tinyip/tcp"
)

type connFlags uint8

const (
	// connOutstanding is set while sent sequence space awaits acknowledgment.
	connOutstanding connFlags = 1 << iota
	// connStopped is set while the application refuses new data.
	connStopped
	// connSynPending marks an active open whose SYN has not left yet.
	connSynPending
)

// Conn is a slot of the fixed size connection table of an [Engine].
// A slot in [tcp.StateClosed] is free. Conn fields are owned by the engine;
// the application only writes to the blob returned by [Conn.AppState].
type Conn struct {
	raddr  [4]byte
	lport  uint16
	rport  uint16
	rcvNxt seqs.Value
	sndNxt seqs.Value
	ackNxt seqs.Value
	mss    uint16
	// timer counts down to the next retransmission while outstanding
	// and counts up in FIN-WAIT-2 and TIME-WAIT.
	timer uint16
	nrtx  uint8
	state tcp.State
	flags connFlags
	app   [AppStateSize]byte
}

// State returns the TCP state of the connection.
func (c *Conn) State() tcp.State { return c.state }

// LocalPort returns the local port of the connection.
func (c *Conn) LocalPort() uint16 { return c.lport }

// RemotePort returns the port of the remote peer.
func (c *Conn) RemotePort() uint16 { return c.rport }

// RemoteAddr returns the IPv4 address of the remote peer.
func (c *Conn) RemoteAddr() [4]byte { return c.raddr }

// RemoteAddrPort returns the remote peer address and port.
func (c *Conn) RemoteAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(c.raddr), c.rport)
}

// RcvNxt is the next sequence number expected from the peer.
func (c *Conn) RcvNxt() seqs.Value { return c.rcvNxt }

// SndNxt is the sequence number of the last acknowledged send point.
func (c *Conn) SndNxt() seqs.Value { return c.sndNxt }

// AckNxt is the acknowledgment number the peer is expected to send next.
func (c *Conn) AckNxt() seqs.Value { return c.ackNxt }

// MSS returns the negotiated maximum segment size.
func (c *Conn) MSS() uint16 { return c.mss }

// Outstanding returns true while sent data or control flags await acknowledgment.
func (c *Conn) Outstanding() bool { return c.flags&connOutstanding != 0 }

// Stopped returns true while the application refuses new data, see [Call.Stop].
func (c *Conn) Stopped() bool { return c.flags&connStopped != 0 }

// Retransmits returns the amount of retransmission timeouts of the outstanding send.
func (c *Conn) Retransmits() uint8 { return c.nrtx }

// Timer returns the current value of the connection timer in ticks.
func (c *Conn) Timer() uint16 { return c.timer }

// AppState returns the opaque application state blob of the connection.
// It is zeroed when the slot is claimed and never interpreted by the engine.
func (c *Conn) AppState() *[AppStateSize]byte { return &c.app }

// outstanding returns the amount of sequence space that awaits acknowledgment.
func (c *Conn) outstanding() seqs.Size { return seqs.Sizeof(c.sndNxt, c.ackNxt) }

// arm marks the connection outstanding and restarts the retransmission timer.
func (c *Conn) arm(rto uint8) {
	c.flags |= connOutstanding
	c.timer = uint16(rto)
	c.nrtx = 0
}

func (c *Conn) disarm() {
	c.flags &^= connOutstanding
	c.nrtx = 0
}

func (c *Conn) matches(raddr *[4]byte, lport, rport uint16) bool {
	return c.state != tcp.StateClosed && c.lport == lport && c.rport == rport && c.raddr == *raddr
}
