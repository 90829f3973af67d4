package arp

import (
	"errors"
	"log/slog"

	"github.com/soypat/tinyip/ethernet"
	"github.com/soypat/tinyip/internal"
)

// Sizes of the frames built by [Cache].
const (
	sizeEthernet = 14
	// SizeFrame is the size of an Ethernet encapsulated IPv4 ARP frame without padding.
	SizeFrame = sizeEthernet + sizeHeaderv4
)

var errBadCacheConfig = errors.New("arp: invalid cache config")

// Cache is a fixed capacity IPv4 to Ethernet address table with age based eviction.
// It answers ARP requests for its own address, learns from replies and inbound IP traffic
// and prepends Ethernet headers to outbound IP packets. Cache does no allocation after
// [Cache.Reset] and is not safe for concurrent use.
type Cache struct {
	entries []entry
	hw      [6]byte
	addr    [4]byte
	netmask [4]byte
	gateway [4]byte
	maxAge  uint16
	// now is the cache clock, incremented by [Cache.Tick].
	now    uint16
	logger *slog.Logger
}

type entry struct {
	ip   [4]byte // Zero value marks a free slot.
	hw   [6]byte
	time uint16
}

func (e *entry) free() bool { return e.ip == [4]byte{} }

// CacheConfig configures a [Cache]. All addresses are those of the host owning the cache.
type CacheConfig struct {
	HardwareAddr [6]byte
	ProtocolAddr [4]byte
	Netmask      [4]byte
	// Gateway is the next hop for destinations outside of the local subnet.
	Gateway [4]byte
	// Size is the capacity of the table in entries.
	Size int
	// MaxAge is the amount of [Cache.Tick] calls an entry may go untouched before being freed.
	MaxAge uint16
	Logger *slog.Logger
}

// Reset clears the table and reconfigures the cache. The entry storage is reused
// when its capacity suffices.
func (c *Cache) Reset(cfg CacheConfig) error {
	if cfg.Size <= 0 || cfg.MaxAge == 0 || cfg.ProtocolAddr == [4]byte{} {
		return errBadCacheConfig
	}
	entries := c.entries
	if cap(entries) < cfg.Size {
		entries = make([]entry, cfg.Size)
	}
	entries = entries[:cfg.Size]
	clear(entries)
	*c = Cache{
		entries: entries,
		hw:      cfg.HardwareAddr,
		addr:    cfg.ProtocolAddr,
		netmask: cfg.Netmask,
		gateway: cfg.Gateway,
		maxAge:  cfg.MaxAge,
		logger:  cfg.Logger,
	}
	return nil
}

// Cap returns the fixed capacity of the table.
func (c *Cache) Cap() int { return len(c.entries) }

// Len returns the number of occupied entries.
func (c *Cache) Len() (n int) {
	for i := range c.entries {
		if !c.entries[i].free() {
			n++
		}
	}
	return n
}

// Tick advances the cache clock by one and frees entries untouched for MaxAge ticks or more.
func (c *Cache) Tick() {
	c.now++
	for i := range c.entries {
		e := &c.entries[i]
		if !e.free() && c.now-e.time >= c.maxAge {
			c.trace("arp:expire", internal.SlogAddr4("ip", &e.ip))
			e.ip = [4]byte{}
		}
	}
}

// Lookup returns the hardware address stored for ip.
func (c *Cache) Lookup(ip [4]byte) (hw [6]byte, ok bool) {
	if ip == [4]byte{} {
		return hw, false
	}
	for i := range c.entries {
		if c.entries[i].ip == ip {
			return c.entries[i].hw, true
		}
	}
	return hw, false
}

// Update refreshes the entry for ip or claims a slot for it. A free slot is preferred,
// otherwise the oldest entry is evicted.
func (c *Cache) Update(ip [4]byte, hw [6]byte) {
	if ip == [4]byte{} {
		return
	}
	for i := range c.entries {
		e := &c.entries[i]
		if e.ip == ip {
			e.hw = hw
			e.time = c.now
			return
		}
	}
	slot := -1
	var oldest uint16
	for i := range c.entries {
		e := &c.entries[i]
		if e.free() {
			slot = i
			break
		}
		if age := c.now - e.time; slot < 0 || age > oldest {
			slot = i
			oldest = age
		}
	}
	e := &c.entries[slot]
	if !e.free() {
		c.trace("arp:evict", internal.SlogAddr4("ip", &e.ip), slog.Uint64("age", uint64(oldest)))
	}
	*e = entry{ip: ip, hw: hw, time: c.now}
}

// IPIn learns the hardware address of the sender of an inbound IPv4 packet
// when the sender is on the local subnet.
func (c *Cache) IPIn(srcHW *[6]byte, srcIP *[4]byte) {
	if !c.onLink(srcIP) {
		return
	}
	c.Update(*srcIP, *srcHW)
}

// In processes the inbound Ethernet frame carrying an ARP packet in place.
// Requests for our address are answered by rewriting frame into a reply and
// the reply length is returned. Replies addressed to us update the table.
// A zero return means there is nothing to transmit.
func (c *Cache) In(frame []byte) int {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return 0
	}
	afrm, err := NewFrame(efrm.Payload())
	if err != nil || afrm.ValidateIPv4() != nil {
		return 0
	}
	senderHW, senderIP := afrm.Sender4()
	targetHW, targetIP := afrm.Target4()
	if *targetIP != c.addr {
		return 0
	}
	switch afrm.Operation() {
	case OpRequest:
		// The requester will most likely talk to us next.
		c.Update(*senderIP, *senderHW)
		afrm.SetOperation(OpReply)
		// Sender protocol address becomes ours, target becomes the requester.
		afrm.SwapTargetSender()
		*senderHW = c.hw
		efrm.SetHeader(targetHW, &c.hw, ethernet.TypeARP)
		return SizeFrame
	case OpReply:
		c.Update(*senderIP, *senderHW)
	}
	return 0
}

// Out prepares an outbound IPv4 packet for transmission. frame must hold room
// for the Ethernet header followed by the IP packet of ipLen bytes.
//
// When the next hop hardware address is known the Ethernet header is written
// and the frame length is returned. Otherwise the IP packet is overwritten with a
// broadcast ARP request for the next hop and the request length is returned with
// resolved set to false. The IP packet is lost and must be retried by the sender.
func (c *Cache) Out(frame []byte, dst *[4]byte, ipLen int) (n int, resolved bool) {
	efrm, _ := ethernet.NewFrame(frame)
	if *dst == [4]byte{255, 255, 255, 255} {
		bcast := ethernet.BroadcastAddr()
		efrm.SetHeader(&bcast, &c.hw, ethernet.TypeIPv4)
		return sizeEthernet + ipLen, true
	}
	nextHop := *dst
	if !c.onLink(dst) {
		nextHop = c.gateway
	}
	hw, ok := c.Lookup(nextHop)
	if ok {
		efrm.SetHeader(&hw, &c.hw, ethernet.TypeIPv4)
		return sizeEthernet + ipLen, true
	}
	c.trace("arp:miss", internal.SlogAddr4("nexthop", &nextHop))
	c.putRequest(frame, nextHop)
	return SizeFrame, false
}

func (c *Cache) putRequest(frame []byte, target [4]byte) {
	efrm, _ := ethernet.NewFrame(frame)
	bcast := ethernet.BroadcastAddr()
	efrm.SetHeader(&bcast, &c.hw, ethernet.TypeARP)
	afrm, _ := NewFrame(efrm.Payload())
	afrm.SetHardware(hardwareEthernet, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(OpRequest)
	senderHW, senderIP := afrm.Sender4()
	*senderHW = c.hw
	*senderIP = c.addr
	targetHW, targetIP := afrm.Target4()
	*targetHW = [6]byte{}
	*targetIP = target
}

func (c *Cache) onLink(ip *[4]byte) bool {
	for i := range ip {
		if ip[i]&c.netmask[i] != c.addr[i]&c.netmask[i] {
			return false
		}
	}
	return true
}

func (c *Cache) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(c.logger, internal.LevelTrace, msg, attrs...)
}
