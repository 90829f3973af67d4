package internet

// Stats holds the engine counters. Counters wrap on overflow.
type Stats struct {
	IP   IPStats
	ICMP ICMPStats
	TCP  TCPStats
	ARP  ARPStats
}

// IPStats counts IPv4 layer events.
type IPStats struct {
	Recv     uint32 // packets received
	Sent     uint32 // packets sent
	Drop     uint32 // packets dropped
	VHLErr   uint32 // dropped: version or header length not 0x45
	LenErr   uint32 // dropped: total length disagrees with frame length
	FragErr  uint32 // dropped: fragment
	AddrErr  uint32 // dropped: destination is not our address
	ChkErr   uint32 // dropped: bad header checksum
	ProtoErr uint32 // dropped: neither ICMP nor TCP
}

// ICMPStats counts ICMP events.
type ICMPStats struct {
	Recv    uint32 // messages received
	Sent    uint32 // echo replies sent
	Drop    uint32 // messages dropped
	TypeErr uint32 // dropped: not an echo request
}

// TCPStats counts TCP events.
type TCPStats struct {
	Recv     uint32 // segments received
	Sent     uint32 // segments sent
	Drop     uint32 // segments dropped
	ChkErr   uint32 // dropped: bad checksum
	AckErr   uint32 // dropped: no ACK flag on a synchronized connection
	SeqErr   uint32 // answered with an ACK: not the next expected sequence number
	Rst      uint32 // RST segments received
	Rexmit   uint32 // retransmissions
	SynDrop  uint32 // SYNs dropped for lack of a free connection slot
	SynRst   uint32 // SYNs to closed ports answered with RST
	TimedOut uint32 // connections dropped after too many retransmissions
}

// ARPStats counts ARP events.
type ARPStats struct {
	Recv     uint32 // ARP packets received
	Sent     uint32 // ARP requests and replies sent
	Drop     uint32 // frames of unknown EtherType or short ARP packets
	Requests uint32 // IP packets replaced by an ARP request on a cache miss
}
