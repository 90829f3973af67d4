package internet

import (
	"encoding/binary"
	"log/slog"
	"net/netip"

	"github.com/soypat/seqs"
	"github.com/soypat/tinyip"
	"github.com/soypat/tinyip/arp"
	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/tcp"
)

const (
	sizeHeaderIPTCP = tinyip.SizeHeaderIPv4 + tinyip.SizeHeaderTCP

	ephemeralPortFirst = 4096
	ephemeralPortLast  = 32000
)

// Engine is a single buffer IPv4 host. It answers ICMP echo requests, resolves
// addresses with ARP on Ethernet links and runs a fixed size table of TCP
// connections that report to a single [AppCall].
//
// The engine is driven by the caller: inbound frames are handed over with
// [Engine.Deliver] or [Engine.Process] and time advances with [Engine.Periodic].
// Each call runs to completion and leaves at most one frame to transmit in the
// packet buffer. Engine does not allocate after [Engine.Reset] and is not safe
// for concurrent use.
type Engine struct {
	buf []byte
	// llh is the link header length: the offset of the IP packet in buf.
	llh     int
	link    Link
	addr    [4]byte
	netmask [4]byte
	hw      [6]byte
	conns   []Conn
	listen  []uint16
	arp     arp.Cache
	appcall AppCall
	call    Call
	// isn is the initial sequence number counter, advanced every tick.
	isn      seqs.Value
	ipID     uint16
	lastPort uint16
	mss      uint16
	timeWait uint16
	rto      uint8
	maxRtx   uint8
	backoff  uint8
	ttl      uint8

	isnSecret    [16]byte
	noActiveOpen bool
	silentReset  bool
	stats        Stats
	logger
}

// Reset configures the engine, dropping all connections, listeners and ARP entries.
// Storage is allocated here and reused by subsequent Resets when large enough.
func (e *Engine) Reset(cfg Config) error {
	c := cfg.withDefaults()
	if err := c.validate(); err != nil {
		return err
	}
	llh := 0
	if c.Link == LinkEthernet {
		llh = tinyip.SizeHeaderEthernet
		err := e.arp.Reset(arp.CacheConfig{
			HardwareAddr: c.HardwareAddr,
			ProtocolAddr: c.Addr,
			Netmask:      c.Netmask,
			Gateway:      c.Gateway,
			Size:         c.ARPTableSize,
			MaxAge:       c.ARPMaxAge,
			Logger:       c.Logger,
		})
		if err != nil {
			return err
		}
	}
	buf := grow(e.buf, llh+c.BufferSize)
	conns := grow(e.conns, c.MaxConns)
	listen := grow(e.listen, c.MaxListeners)
	seed := binary.BigEndian.Uint32(c.Addr[:]) ^ binary.BigEndian.Uint32(c.HardwareAddr[2:])
	*e = Engine{
		buf:          buf,
		llh:          llh,
		link:         c.Link,
		addr:         c.Addr,
		netmask:      c.Netmask,
		hw:           c.HardwareAddr,
		conns:        conns,
		listen:       listen,
		arp:          e.arp,
		appcall:      c.AppCall,
		isn:          seqs.Value(internal.Prand32(seed | 1)),
		lastPort:     internal.PortInRange(internal.Prand16(uint16(seed)|1), ephemeralPortFirst, ephemeralPortLast),
		mss:          c.MSS,
		timeWait:     c.TimeWaitTicks,
		rto:          c.RTO,
		maxRtx:       c.MaxRetransmit,
		backoff:      c.BackoffCap,
		ttl:          c.TTL,
		isnSecret:    c.ISNSecret,
		noActiveOpen: c.DisableActiveOpen,
		silentReset:  c.SilentReset,
		logger:       logger{log: c.Logger},
	}
	e.info("engine:reset", internal.SlogAddr4("addr", &e.addr), slog.String("link", e.link.String()),
		slog.Int("conns", len(e.conns)), slog.Int("mss", int(e.mss)), slog.Int("arp", e.arp.Cap()))
	return nil
}

// grow returns a zeroed slice of length n reusing s when possible.
func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	s = s[:n]
	clear(s)
	return s
}

// Addr returns the IPv4 address of the engine.
func (e *Engine) Addr() [4]byte { return e.addr }

// HardwareAddr returns the Ethernet address of the engine.
func (e *Engine) HardwareAddr() [6]byte { return e.hw }

// Link returns the framing used by the engine.
func (e *Engine) Link() Link { return e.link }

// Buffer returns the whole packet buffer. Drivers may read a frame directly into it
// and pass its length to [Engine.Process].
func (e *Engine) Buffer() []byte { return e.buf }

// NumConns returns the capacity of the connection table, which is the
// range of valid indices for [Engine.Periodic] and [Engine.Conn].
func (e *Engine) NumConns() int { return len(e.conns) }

// Conn returns the connection at index i of the table.
func (e *Engine) Conn(i int) *Conn { return &e.conns[i] }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats { return e.stats }

// ARPLookup returns the cached hardware address of ip on Ethernet links.
func (e *Engine) ARPLookup(ip [4]byte) ([6]byte, bool) {
	if e.link != LinkEthernet {
		return [6]byte{}, false
	}
	return e.arp.Lookup(ip)
}

// Deliver copies an inbound frame into the packet buffer and processes it. See [Engine.Process].
func (e *Engine) Deliver(frame []byte) []byte {
	if len(frame) > len(e.buf) {
		e.stats.IP.Drop++
		e.debug("engine:drop-oversize", slog.Int("len", len(frame)))
		return e.buf[:0]
	}
	n := copy(e.buf, frame)
	return e.Process(n)
}

// Process processes the n byte frame held at the start of the packet buffer.
// The returned frame must be transmitted by the driver when non-empty. It aliases
// the packet buffer and is valid until the next call to the engine.
func (e *Engine) Process(n int) []byte {
	if n <= e.llh || n > len(e.buf) {
		return e.buf[:0]
	}
	var out int
	if e.link == LinkEthernet {
		out = e.etherIn(n)
	} else {
		out = e.ipIn(n - e.llh)
	}
	return e.buf[:out]
}

// Periodic advances time by one tick for connection i: it runs the TIME-WAIT
// and retransmission timers and polls idle connections. The driver must call it
// for every connection index once per tick period and transmit the result when
// non-empty.
func (e *Engine) Periodic(i int) []byte {
	if i < 0 || i >= len(e.conns) {
		return e.buf[:0]
	}
	e.isn++
	ipLen := e.tick(i)
	return e.buf[:e.linkOut(ipLen)]
}

// PeriodicARP ages the ARP cache by one tick. Drivers on Ethernet links call it
// every few seconds, independently of [Engine.Periodic].
func (e *Engine) PeriodicARP() {
	if e.link == LinkEthernet {
		e.arp.Tick()
	}
}

// Listen opens port for passive opens.
func (e *Engine) Listen(port uint16) error {
	if port == 0 {
		return errZeroPort
	}
	free := -1
	for i, p := range e.listen {
		if p == port {
			return nil
		} else if p == 0 && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return errListenTableFull
	}
	e.listen[free] = port
	e.debug("engine:listen", slog.Uint64("port", uint64(port)))
	return nil
}

// Unlisten closes port for passive opens. Existing connections are not affected.
func (e *Engine) Unlisten(port uint16) error {
	for i, p := range e.listen {
		if p == port && p != 0 {
			e.listen[i] = 0
			return nil
		}
	}
	return errNotListening
}

func (e *Engine) listening(port uint16) bool {
	if port == 0 {
		return false
	}
	for _, p := range e.listen {
		if p == port {
			return true
		}
	}
	return false
}

// Connect starts an active open to raddr and returns the index of the claimed
// connection. The SYN is sent on the next [Engine.Periodic] call for that index.
// The application is called with [AppConnected] once the peer answers.
func (e *Engine) Connect(raddr netip.AddrPort) (int, error) {
	if e.noActiveOpen {
		return -1, errActiveOpenOff
	}
	addr := raddr.Addr()
	if !addr.Is4() || addr.IsUnspecified() || raddr.Port() == 0 {
		return -1, errBadRemote
	}
	lport, ok := e.ephemeralPort()
	if !ok {
		return -1, errNoEphemeralPorts
	}
	slot := e.freeSlot()
	if slot < 0 {
		return -1, errNoFreeConn
	}
	c := &e.conns[slot]
	iss := e.initialSeq(addr.As4(), lport, raddr.Port())
	*c = Conn{
		raddr:  addr.As4(),
		lport:  lport,
		rport:  raddr.Port(),
		sndNxt: iss,
		ackNxt: seqs.Add(iss, 1),
		mss:    e.mss,
		state:  tcp.StateSynSent,
		flags:  connSynPending,
	}
	c.arm(e.rto)
	c.timer = 1
	e.trace("tcp:connect", internal.SlogConn(slot, c.lport, c.rport), internal.SlogAddr4("raddr", &c.raddr))
	return slot, nil
}

// freeSlot returns the index of a CLOSED connection or else of the
// TIME-WAIT connection that has waited longest. -1 if none.
func (e *Engine) freeSlot() int {
	slot := -1
	for i := range e.conns {
		c := &e.conns[i]
		switch {
		case !c.state.IsClosed():
		case c.state == tcp.StateClosed:
			return i
		case slot < 0 || c.timer > e.conns[slot].timer:
			slot = i
		}
	}
	return slot
}

func (e *Engine) ephemeralPort() (uint16, bool) {
	const span = ephemeralPortLast - ephemeralPortFirst + 1
	for i := 0; i < span; i++ {
		e.lastPort++
		if e.lastPort > ephemeralPortLast || e.lastPort < ephemeralPortFirst {
			e.lastPort = ephemeralPortFirst
		}
		if !e.portInUse(e.lastPort) {
			return e.lastPort, true
		}
	}
	return 0, false
}

func (e *Engine) portInUse(port uint16) bool {
	for i := range e.conns {
		if e.conns[i].state != tcp.StateClosed && e.conns[i].lport == port {
			return true
		}
	}
	return e.listening(port)
}
