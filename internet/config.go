package internet

import (
	"errors"
	"log/slog"
	"math"

	"github.com/soypat/tinyip"
)

// Link selects the framing of the frames exchanged with the driver.
type Link uint8

const (
	// LinkIP exchanges bare IPv4 packets, as on SLIP and TUN devices.
	LinkIP Link = iota
	// LinkEthernet exchanges Ethernet II frames and resolves addresses with ARP.
	LinkEthernet
)

func (l Link) String() string {
	switch l {
	case LinkIP:
		return "ip"
	case LinkEthernet:
		return "ethernet"
	}
	return "Link(unknown)"
}

// Defaults used for zero fields of [Config].
const (
	DefaultBufferSize    = 400
	DefaultMaxConns      = 10
	DefaultMaxListeners  = 10
	DefaultARPTableSize  = 8
	DefaultARPMaxAge     = 120
	DefaultRTO           = 3
	DefaultMaxRetransmit = 8
	DefaultBackoffCap    = 4
	DefaultTimeWaitTicks = 120
	DefaultTTL           = 255
)

// AppStateSize is the size of the per connection application state blob.
const AppStateSize = 32

var (
	errNoAddr           = errors.New("internet: missing IPv4 address")
	errNoAppCall        = errors.New("internet: missing AppCall")
	errBadLink          = errors.New("internet: invalid link type")
	errNoHardwareAddr   = errors.New("internet: ethernet link requires hardware address")
	errSmallBuffer      = errors.New("internet: buffer too small for TCP segment")
	errLargeBuffer      = errors.New("internet: buffer larger than IPv4 packet")
	errBackoffOverflow  = errors.New("internet: RTO shifted by BackoffCap overflows timer")
	errActiveOpenOff    = errors.New("internet: active open disabled")
	errNoFreeConn       = errors.New("internet: no free connection slot")
	errBadRemote        = errors.New("internet: remote must be a non-zero IPv4 address and port")
	errZeroPort         = errors.New("internet: zero port")
	errListenTableFull  = errors.New("internet: listen table full")
	errNotListening     = errors.New("internet: port not listening")
	errNoEphemeralPorts = errors.New("internet: no ephemeral port available")
)

// AppCall is invoked synchronously by the [Engine] on connection events.
// The [Call] is only valid for the duration of the invocation.
type AppCall func(c *Call)

// Config configures an [Engine]. It is validated by [Engine.Reset].
// Zero valued numeric fields take their Default value.
type Config struct {
	// Addr is the IPv4 address of the host. Required.
	Addr    [4]byte
	Netmask [4]byte
	// Gateway is the default router used for off-link destinations.
	Gateway      [4]byte
	HardwareAddr [6]byte
	Link         Link
	// BufferSize is the capacity of the packet buffer in bytes excluding the link
	// header. It bounds the largest IP packet the engine can receive or send.
	BufferSize   int
	MaxConns     int
	MaxListeners int
	ARPTableSize int
	// ARPMaxAge is the amount of [Engine.PeriodicARP] calls an ARP entry survives untouched.
	ARPMaxAge uint16
	// RTO is the base retransmission timeout in ticks.
	RTO uint8
	// MaxRetransmit is the amount of retransmission timeouts after which a connection is dropped.
	MaxRetransmit uint8
	// BackoffCap caps the left shift applied to RTO on consecutive retransmissions.
	BackoffCap uint8
	// TimeWaitTicks is the amount of ticks spent in TIME-WAIT and FIN-WAIT-2.
	TimeWaitTicks uint16
	TTL           uint8
	// MSS is the largest segment payload the engine receives and sends.
	// Zero uses the largest that fits in the buffer.
	MSS uint16
	// ISNSecret, when non-zero, keys a hash of the connection tuple that is added
	// to the initial sequence number counter.
	ISNSecret [16]byte
	// DisableActiveOpen makes [Engine.Connect] fail.
	DisableActiveOpen bool
	// SilentReset closes connections on an inbound RST without calling AppCall.
	SilentReset bool
	AppCall     AppCall
	Logger      *slog.Logger
}

func (cfg *Config) withDefaults() Config {
	c := *cfg
	setDefault(&c.BufferSize, DefaultBufferSize)
	setDefault(&c.MaxConns, DefaultMaxConns)
	setDefault(&c.MaxListeners, DefaultMaxListeners)
	setDefault(&c.ARPTableSize, DefaultARPTableSize)
	setDefault(&c.ARPMaxAge, DefaultARPMaxAge)
	setDefault(&c.RTO, DefaultRTO)
	setDefault(&c.MaxRetransmit, DefaultMaxRetransmit)
	setDefault(&c.BackoffCap, DefaultBackoffCap)
	setDefault(&c.TimeWaitTicks, DefaultTimeWaitTicks)
	setDefault(&c.TTL, DefaultTTL)
	maxMSS := c.BufferSize - sizeHeaderIPTCP
	if c.MSS == 0 || int(c.MSS) > maxMSS {
		c.MSS = uint16(max(maxMSS, 0))
	}
	return c
}

func setDefault[T int | uint8 | uint16](v *T, def T) {
	if *v == 0 {
		*v = def
	}
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Addr == [4]byte{}:
		return errNoAddr
	case cfg.AppCall == nil:
		return errNoAppCall
	case cfg.Link > LinkEthernet:
		return errBadLink
	case cfg.Link == LinkEthernet && cfg.HardwareAddr == [6]byte{}:
		return errNoHardwareAddr
	case cfg.BufferSize < sizeHeaderIPTCP+tinyip.SizeOptionMSS:
		return errSmallBuffer
	case cfg.BufferSize > math.MaxUint16:
		return errLargeBuffer
	case cfg.BackoffCap > 15 || uint32(cfg.RTO)<<cfg.BackoffCap > math.MaxUint16:
		return errBackoffOverflow
	}
	return nil
}
