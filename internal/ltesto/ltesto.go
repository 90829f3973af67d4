// Package ltesto generates and decodes packets for stack tests using gopacket,
// an implementation independent of the one under test.
package ltesto

import (
	"errors"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PacketGen builds frames sent from a peer (Src) to the stack under test (Dst).
type PacketGen struct {
	SrcMAC, DstMAC   [6]byte // hardware address
	SrcIPv4, DstIPv4 [4]byte // address
	SrcTCP, DstTCP   uint16  // ports
	// Ethernet prepends an Ethernet II header to generated IP packets.
	Ethernet bool
	// TTL of generated packets. Zero uses 64.
	TTL uint8
	id  uint16
}

// Segment describes a TCP segment to generate.
type Segment struct {
	Seq, Ack uint32
	Flags    uint16 // FIN=1, SYN=2, RST=4, PSH=8, ACK=16
	Window   uint16
	MSS      uint16 // If non-zero an MSS option is added.
	Payload  []byte
}

// TCP returns a checksummed IPv4 TCP packet, Ethernet framed if gen.Ethernet is set.
func (gen *PacketGen) TCP(seg Segment) []byte {
	ip := gen.ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(gen.SrcTCP),
		DstPort: layers.TCPPort(gen.DstTCP),
		Seq:     seg.Seq,
		Ack:     seg.Ack,
		FIN:     seg.Flags&1 != 0,
		SYN:     seg.Flags&2 != 0,
		RST:     seg.Flags&4 != 0,
		PSH:     seg.Flags&8 != 0,
		ACK:     seg.Flags&16 != 0,
		Window:  seg.Window,
	}
	if seg.MSS != 0 {
		tcp.Options = []layers.TCPOption{{
			OptionType:   layers.TCPOptionKindMSS,
			OptionLength: 4,
			OptionData:   []byte{byte(seg.MSS >> 8), byte(seg.MSS)},
		}}
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return gen.serialize(ip, tcp, gopacket.Payload(seg.Payload))
}

// ICMPEcho returns an ICMP echo request.
func (gen *PacketGen) ICMPEcho(id, seq uint16, data []byte) []byte {
	ip := gen.ipv4(layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}
	return gen.serialize(ip, icmp, gopacket.Payload(data))
}

// UDP returns a UDP datagram, used to exercise protocols the stack drops.
func (gen *PacketGen) UDP(payload []byte) []byte {
	ip := gen.ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(gen.SrcTCP), DstPort: layers.UDPPort(gen.DstTCP)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return gen.serialize(ip, udp, gopacket.Payload(payload))
}

// ARP returns an Ethernet framed ARP packet from Src to Dst. Requests are broadcast.
func (gen *PacketGen) ARP(op uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(gen.SrcMAC[:]),
		DstMAC:       net.HardwareAddr(gen.DstMAC[:]),
		EthernetType: layers.EthernetTypeARP,
	}
	dstHW := gen.DstMAC[:]
	if op == layers.ARPRequest {
		eth.DstMAC = layers.EthernetBroadcast
		dstHW = make([]byte, 6)
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   gen.SrcMAC[:],
		SourceProtAddress: gen.SrcIPv4[:],
		DstHwAddress:      dstHW,
		DstProtAddress:    gen.DstIPv4[:],
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (gen *PacketGen) ipv4(proto layers.IPProtocol) *layers.IPv4 {
	gen.id++
	ttl := gen.TTL
	if ttl == 0 {
		ttl = 64
	}
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       gen.id,
		TTL:      ttl,
		Protocol: proto,
		SrcIP:    net.IP(gen.SrcIPv4[:]),
		DstIP:    net.IP(gen.DstIPv4[:]),
	}
}

func (gen *PacketGen) serialize(ls ...gopacket.SerializableLayer) []byte {
	if gen.Ethernet {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr(gen.SrcMAC[:]),
			DstMAC:       net.HardwareAddr(gen.DstMAC[:]),
			EthernetType: layers.EthernetTypeIPv4,
		}
		ls = append([]gopacket.SerializableLayer{eth}, ls...)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Decoded holds the layers of a frame emitted by the stack.
type Decoded struct {
	Ethernet *layers.Ethernet
	ARP      *layers.ARP
	IPv4     *layers.IPv4
	TCP      *layers.TCP
	ICMPv4   *layers.ICMPv4
	Payload  []byte
}

// MSS returns the value of the MSS option of the decoded TCP segment.
func (d *Decoded) MSS() (mss uint16, ok bool) {
	if d.TCP == nil {
		return 0, false
	}
	for _, opt := range d.TCP.Options {
		if opt.OptionType == layers.TCPOptionKindMSS && len(opt.OptionData) == 2 {
			return uint16(opt.OptionData[0])<<8 | uint16(opt.OptionData[1]), true
		}
	}
	return 0, false
}

// Decode parses a frame emitted by the stack. ethernet selects the first layer.
// Checksums are verified by the caller, see [VerifyChecksums].
func Decode(frame []byte, ethernet bool) (*Decoded, error) {
	first := gopacket.LayerType(layers.LayerTypeIPv4)
	if ethernet {
		first = layers.LayerTypeEthernet
	}
	pkt := gopacket.NewPacket(frame, first, gopacket.DecodeOptions{NoCopy: false})
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		return nil, errLayer.Error()
	}
	var d Decoded
	d.Ethernet, _ = pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	d.ARP, _ = pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	d.IPv4, _ = pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	d.TCP, _ = pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	d.ICMPv4, _ = pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if app := pkt.ApplicationLayer(); app != nil {
		d.Payload = app.Payload()
	}
	if d.IPv4 == nil && d.ARP == nil {
		return nil, errors.New("ltesto: frame carries neither IPv4 nor ARP")
	}
	return &d, nil
}
