package internet

import (
	"bytes"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/soypat/tinyip/internal/ltesto"
	"github.com/soypat/tinyip/ipv4"
	"github.com/soypat/tinyip/tcp"
)

var (
	hostIP  = [4]byte{192, 168, 10, 1}
	peerIP  = [4]byte{192, 168, 10, 2}
	gateway = [4]byte{192, 168, 10, 254}
	hostHW  = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	peerHW  = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

const (
	testPort = 80
	peerPort = 43210
	peerISS  = 1000
	testMSS  = DefaultBufferSize - sizeHeaderIPTCP

	flagFIN = uint16(tcp.FlagFIN)
	flagSYN = uint16(tcp.FlagSYN)
	flagRST = uint16(tcp.FlagRST)
	flagPSH = uint16(tcp.FlagPSH)
	flagACK = uint16(tcp.FlagACK)
)

// recorder is an AppCall that records the calls it receives.
type recorder struct {
	flags  []AppFlags
	idx    []int
	data   []byte
	handle func(c *Call)
}

func (r *recorder) appcall(c *Call) {
	r.flags = append(r.flags, c.Flags())
	r.idx = append(r.idx, c.ConnIndex())
	r.data = append(r.data, c.Data()...)
	if r.handle != nil {
		r.handle(c)
	}
}

// count returns the amount of calls that had any of flags set.
func (r *recorder) count(flags AppFlags) (n int) {
	for _, f := range r.flags {
		if f.HasAny(flags) {
			n++
		}
	}
	return n
}

func (r *recorder) last() AppFlags {
	if len(r.flags) == 0 {
		return 0
	}
	return r.flags[len(r.flags)-1]
}

func newTestEngine(t *testing.T, link Link, r *recorder, mods ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Addr:         hostIP,
		Netmask:      [4]byte{255, 255, 255, 0},
		Gateway:      gateway,
		HardwareAddr: hostHW,
		Link:         link,
		MaxConns:     4,
		AppCall:      r.appcall,
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	var e Engine
	if err := e.Reset(cfg); err != nil {
		t.Fatal(err)
	}
	if err := e.Listen(testPort); err != nil {
		t.Fatal(err)
	}
	return &e
}

// testPeer is the remote end of a connection to the engine under test.
type testPeer struct {
	t   *testing.T
	e   *Engine
	gen ltesto.PacketGen
}

func newPeer(t *testing.T, e *Engine) *testPeer {
	return &testPeer{t: t, e: e, gen: ltesto.PacketGen{
		SrcMAC:   peerHW,
		DstMAC:   hostHW,
		SrcIPv4:  peerIP,
		DstIPv4:  hostIP,
		SrcTCP:   peerPort,
		DstTCP:   testPort,
		Ethernet: e.Link() == LinkEthernet,
	}}
}

// exchange delivers frame to the engine and decodes the reply, nil if there is none.
func (p *testPeer) exchange(frame []byte) *ltesto.Decoded {
	p.t.Helper()
	return p.decode(p.e.Deliver(frame))
}

func (p *testPeer) tcp(seg ltesto.Segment) *ltesto.Decoded {
	p.t.Helper()
	if seg.Window == 0 {
		seg.Window = 1024
	}
	return p.exchange(p.gen.TCP(seg))
}

// tick calls Periodic on connection i and decodes the output.
func (p *testPeer) tick(i int) *ltesto.Decoded {
	p.t.Helper()
	return p.decode(p.e.Periodic(i))
}

func (p *testPeer) decode(out []byte) *ltesto.Decoded {
	p.t.Helper()
	if len(out) == 0 {
		return nil
	}
	if err := ltesto.VerifyChecksums(out, p.gen.Ethernet); err != nil {
		p.t.Fatal(err)
	}
	d, err := ltesto.Decode(out, p.gen.Ethernet)
	if err != nil {
		p.t.Fatal(err)
	}
	return d
}

func tcpFlags(l *layers.TCP) (f uint16) {
	for _, b := range [...]struct {
		set  bool
		flag uint16
	}{{l.FIN, flagFIN}, {l.SYN, flagSYN}, {l.RST, flagRST}, {l.PSH, flagPSH}, {l.ACK, flagACK}} {
		if b.set {
			f |= b.flag
		}
	}
	return f
}

func expectSeg(t *testing.T, d *ltesto.Decoded, flags uint16, seq, ack uint32, payload string) {
	t.Helper()
	if d == nil || d.TCP == nil {
		t.Fatalf("want %s segment, got none", tcp.Flags(flags))
	}
	if got := tcpFlags(d.TCP); got != flags {
		t.Errorf("flags: want %s, got %s", tcp.Flags(flags), tcp.Flags(got))
	}
	if d.TCP.Seq != seq {
		t.Errorf("seq: want %d, got %d", seq, d.TCP.Seq)
	}
	if flags&flagACK != 0 && d.TCP.Ack != ack {
		t.Errorf("ack: want %d, got %d", ack, d.TCP.Ack)
	}
	if string(d.Payload) != payload {
		t.Errorf("payload: want %q, got %q", payload, d.Payload)
	}
}

func expectNone(t *testing.T, d *ltesto.Decoded) {
	t.Helper()
	if d != nil {
		if d.TCP != nil {
			t.Fatalf("want no output, got %s seq=%d ack=%d", tcp.Flags(tcpFlags(d.TCP)), d.TCP.Seq, d.TCP.Ack)
		}
		t.Fatal("want no output")
	}
}

func expectState(t *testing.T, e *Engine, i int, want tcp.State) {
	t.Helper()
	if got := e.Conn(i).State(); got != want {
		t.Fatalf("conn %d: want state %s, got %s", i, want, got)
	}
}

// connIndex returns the index of the connection with remote port rport.
func connIndex(t *testing.T, e *Engine, rport uint16) int {
	t.Helper()
	for i := 0; i < e.NumConns(); i++ {
		c := e.Conn(i)
		if c.State() != tcp.StateClosed && c.RemotePort() == rport {
			return i
		}
	}
	t.Fatalf("no connection from port %d", rport)
	return -1
}

// establish completes a passive open from p and returns the connection index and our ISS.
func establish(t *testing.T, p *testPeer) (idx int, iss uint32) {
	t.Helper()
	d := p.tcp(ltesto.Segment{Seq: peerISS, Flags: flagSYN, MSS: 1460})
	if d == nil || d.TCP == nil || tcpFlags(d.TCP) != flagSYN|flagACK {
		t.Fatal("want SYN+ACK")
	}
	iss = d.TCP.Seq
	idx = connIndex(t, p.e, p.gen.SrcTCP)
	expectNone(t, p.tcp(ltesto.Segment{Seq: peerISS + 1, Ack: iss + 1, Flags: flagACK}))
	expectState(t, p.e, idx, tcp.StateEstablished)
	return idx, iss
}

func TestConfigValidation(t *testing.T) {
	var r recorder
	valid := Config{Addr: hostIP, AppCall: r.appcall}
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"no address", func(c *Config) { c.Addr = [4]byte{} }},
		{"no appcall", func(c *Config) { c.AppCall = nil }},
		{"bad link", func(c *Config) { c.Link = 7 }},
		{"ethernet without hardware address", func(c *Config) { c.Link = LinkEthernet }},
		{"buffer too small", func(c *Config) { c.BufferSize = sizeHeaderIPTCP }},
		{"buffer too large", func(c *Config) { c.BufferSize = 1 << 16 }},
		{"backoff overflow", func(c *Config) { c.RTO = 255; c.BackoffCap = 9 }},
		{"backoff cap", func(c *Config) { c.BackoffCap = 16 }},
	}
	for _, tc := range tests {
		cfg := valid
		tc.mod(&cfg)
		var e Engine
		if err := e.Reset(cfg); err == nil {
			t.Errorf("%s: want error", tc.name)
		}
	}
	var e Engine
	if err := e.Reset(valid); err != nil {
		t.Fatal(err)
	}
	if e.NumConns() != DefaultMaxConns {
		t.Errorf("want %d conns, got %d", DefaultMaxConns, e.NumConns())
	}
	if len(e.Buffer()) != DefaultBufferSize {
		t.Errorf("want buffer %d, got %d", DefaultBufferSize, len(e.Buffer()))
	}
	if e.mss != testMSS {
		t.Errorf("want mss %d, got %d", testMSS, e.mss)
	}
}

func TestResetReusesStorage(t *testing.T) {
	var r recorder
	e := newTestEngine(t, LinkIP, &r)
	buf := e.Buffer()
	p := newPeer(t, e)
	establish(t, p)
	err := e.Reset(Config{Addr: hostIP, MaxConns: 2, AppCall: r.appcall})
	if err != nil {
		t.Fatal(err)
	}
	if &buf[0] != &e.Buffer()[0] {
		t.Error("packet buffer reallocated")
	}
	for i := 0; i < e.NumConns(); i++ {
		expectState(t, e, i, tcp.StateClosed)
	}
	// Listeners are dropped too.
	d := p.tcp(ltesto.Segment{Seq: peerISS, Flags: flagSYN})
	expectSeg(t, d, flagRST|flagACK, 0, peerISS+1, "")
}

func TestListen(t *testing.T) {
	var r recorder
	e := newTestEngine(t, LinkIP, &r, func(c *Config) { c.MaxListeners = 2 })
	if err := e.Listen(0); err == nil {
		t.Error("want error listening on port 0")
	}
	if err := e.Listen(testPort); err != nil {
		t.Errorf("listening twice: %s", err)
	}
	if err := e.Listen(8080); err != nil {
		t.Fatal(err)
	}
	if err := e.Listen(8081); err == nil {
		t.Error("want listen table full")
	}
	if err := e.Unlisten(8081); err == nil {
		t.Error("want error unlistening closed port")
	}
	if err := e.Unlisten(testPort); err != nil {
		t.Fatal(err)
	}
	p := newPeer(t, e)
	d := p.tcp(ltesto.Segment{Seq: peerISS, Flags: flagSYN})
	expectSeg(t, d, flagRST|flagACK, 0, peerISS+1, "")
	if err := e.Listen(8081); err != nil {
		t.Errorf("slot not freed by Unlisten: %s", err)
	}
}

func TestICMPEcho(t *testing.T) {
	for _, link := range []Link{LinkIP, LinkEthernet} {
		t.Run(link.String(), func(t *testing.T) {
			var r recorder
			e := newTestEngine(t, link, &r)
			p := newPeer(t, e)
			data := []byte("abcdefghijklmnopqrstuvwxyz")
			d := p.exchange(p.gen.ICMPEcho(0x1234, 7, data))
			if d == nil || d.ICMPv4 == nil {
				t.Fatal("want echo reply")
			}
			if d.ICMPv4.TypeCode.Type() != layers.ICMPv4TypeEchoReply {
				t.Errorf("want echo reply, got %s", d.ICMPv4.TypeCode)
			}
			if d.ICMPv4.Id != 0x1234 || d.ICMPv4.Seq != 7 {
				t.Errorf("want id=0x1234 seq=7, got id=%#x seq=%d", d.ICMPv4.Id, d.ICMPv4.Seq)
			}
			if !bytes.Equal(d.Payload, data) {
				t.Errorf("payload mismatch: %q", d.Payload)
			}
			if [4]byte(d.IPv4.SrcIP.To4()) != hostIP || [4]byte(d.IPv4.DstIP.To4()) != peerIP {
				t.Errorf("addresses not swapped: %s -> %s", d.IPv4.SrcIP, d.IPv4.DstIP)
			}
			if link == LinkEthernet {
				if [6]byte(d.Ethernet.DstMAC) != peerHW || [6]byte(d.Ethernet.SrcMAC) != hostHW {
					t.Errorf("bad ethernet header: %s -> %s", d.Ethernet.SrcMAC, d.Ethernet.DstMAC)
				}
			}
			st := e.Stats()
			if st.ICMP.Recv != 1 || st.ICMP.Sent != 1 {
				t.Errorf("icmp stats: %+v", st.ICMP)
			}
		})
	}
}

func TestICMPNotEcho(t *testing.T) {
	var r recorder
	e := newTestEngine(t, LinkIP, &r)
	p := newPeer(t, e)
	pkt := p.gen.ICMPEcho(1, 1, nil)
	ifrm, _ := ipv4.NewFrame(pkt)
	payload := ifrm.Payload()
	// Turn into an echo reply, which must not be answered.
	payload[0] = 0
	payload[2], payload[3] = 0, 0
	sum := ^checksum(payload)
	payload[2], payload[3] = byte(sum>>8), byte(sum)
	expectNone(t, p.exchange(pkt))
	if st := e.Stats(); st.ICMP.TypeErr != 1 {
		t.Errorf("want TypeErr=1, got %+v", st.ICMP)
	}
}

func TestIPDrops(t *testing.T) {
	fixCRC := func(pkt []byte) {
		ifrm, _ := ipv4.NewFrame(pkt)
		ifrm.SetCRC(0)
		ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	}
	tests := []struct {
		name    string
		mod     func(gen *ltesto.PacketGen) []byte
		counter func(s *Stats) uint32
	}{
		{
			name: "options",
			mod: func(gen *ltesto.PacketGen) []byte {
				pkt := gen.ICMPEcho(1, 1, nil)
				pkt[0] = 0x46
				return pkt
			},
			counter: func(s *Stats) uint32 { return s.IP.VHLErr },
		},
		{
			name: "version",
			mod: func(gen *ltesto.PacketGen) []byte {
				pkt := gen.ICMPEcho(1, 1, nil)
				pkt[0] = 0x65
				return pkt
			},
			counter: func(s *Stats) uint32 { return s.IP.VHLErr },
		},
		{
			name: "trailing bytes",
			mod: func(gen *ltesto.PacketGen) []byte {
				return append(gen.ICMPEcho(1, 1, nil), 0)
			},
			counter: func(s *Stats) uint32 { return s.IP.LenErr },
		},
		{
			name: "truncated",
			mod: func(gen *ltesto.PacketGen) []byte {
				pkt := gen.ICMPEcho(1, 1, []byte("data"))
				return pkt[:len(pkt)-1]
			},
			counter: func(s *Stats) uint32 { return s.IP.LenErr },
		},
		{
			name: "more fragments",
			mod: func(gen *ltesto.PacketGen) []byte {
				pkt := gen.ICMPEcho(1, 1, nil)
				pkt[6] |= 0x20
				fixCRC(pkt)
				return pkt
			},
			counter: func(s *Stats) uint32 { return s.IP.FragErr },
		},
		{
			name: "fragment offset",
			mod: func(gen *ltesto.PacketGen) []byte {
				pkt := gen.ICMPEcho(1, 1, nil)
				pkt[7] = 1
				fixCRC(pkt)
				return pkt
			},
			counter: func(s *Stats) uint32 { return s.IP.FragErr },
		},
		{
			name: "not for us",
			mod: func(gen *ltesto.PacketGen) []byte {
				gen.DstIPv4 = [4]byte{192, 168, 10, 3}
				return gen.ICMPEcho(1, 1, nil)
			},
			counter: func(s *Stats) uint32 { return s.IP.AddrErr },
		},
		{
			name: "bad checksum",
			mod: func(gen *ltesto.PacketGen) []byte {
				pkt := gen.ICMPEcho(1, 1, nil)
				pkt[10] ^= 0xff
				return pkt
			},
			counter: func(s *Stats) uint32 { return s.IP.ChkErr },
		},
		{
			name: "udp",
			mod: func(gen *ltesto.PacketGen) []byte {
				return gen.UDP([]byte("hello"))
			},
			counter: func(s *Stats) uint32 { return s.IP.ProtoErr },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var r recorder
			e := newTestEngine(t, LinkIP, &r)
			p := newPeer(t, e)
			if out := e.Deliver(tc.mod(&p.gen)); len(out) != 0 {
				t.Fatalf("want drop, got %d byte reply", len(out))
			}
			st := e.Stats()
			if got := tc.counter(&st); got != 1 {
				t.Errorf("want counter=1, got %d (%+v)", got, st.IP)
			}
			if st.IP.Drop != 1 {
				t.Errorf("want IP.Drop=1, got %d", st.IP.Drop)
			}
		})
	}
}

func TestDontFragmentAccepted(t *testing.T) {
	var r recorder
	e := newTestEngine(t, LinkIP, &r)
	p := newPeer(t, e)
	pkt := p.gen.ICMPEcho(1, 1, nil)
	ifrm, _ := ipv4.NewFrame(pkt)
	ifrm.SetFlags(ipv4.FlagDontFragment)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	if d := p.exchange(pkt); d == nil || d.ICMPv4 == nil {
		t.Fatal("want echo reply for DF packet")
	}
}

func TestDeliverOversize(t *testing.T) {
	var r recorder
	e := newTestEngine(t, LinkIP, &r)
	if out := e.Deliver(make([]byte, len(e.Buffer())+1)); len(out) != 0 {
		t.Fatal("want drop")
	}
	if out := e.Process(0); len(out) != 0 {
		t.Fatal("want no output for empty frame")
	}
}

func TestProcessInPlace(t *testing.T) {
	var r recorder
	e := newTestEngine(t, LinkIP, &r)
	p := newPeer(t, e)
	n := copy(e.Buffer(), p.gen.ICMPEcho(9, 9, []byte("ping")))
	if d := p.decode(e.Process(n)); d == nil || d.ICMPv4 == nil {
		t.Fatal("want echo reply")
	}
}

func TestAppFlagsString(t *testing.T) {
	tests := []struct {
		flags AppFlags
		want  string
	}{
		{0, "[]"},
		{AppNewData, "[NEWDATA]"},
		{AppConnected | AppNewData, "[NEWDATA,CONNECTED]"},
		{AppAcked | AppTimedOut, "[ACKED,TIMEDOUT]"},
	}
	for _, tc := range tests {
		if got := tc.flags.String(); got != tc.want {
			t.Errorf("%#x: want %q, got %q", uint16(tc.flags), tc.want, got)
		}
	}
}

func checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xffff {
		sum = sum&0xffff + sum>>16
	}
	return uint16(sum)
}
