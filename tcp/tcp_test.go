package tcp

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/header"
	"github.com/soypat/seqs"
	"github.com/soypat/tinyip"
)

func TestFrameMatchesGopacket(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		payload := make([]byte, rng.Intn(32))
		rng.Read(payload)
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(1 + rng.Intn(math.MaxUint16-1)),
			DstPort: layers.TCPPort(1 + rng.Intn(math.MaxUint16-1)),
			Seq:     rng.Uint32(),
			Ack:     rng.Uint32(),
			SYN:     rng.Intn(2) == 0,
			ACK:     rng.Intn(2) == 0,
			FIN:     rng.Intn(2) == 0,
			PSH:     rng.Intn(2) == 0,
			Window:  uint16(rng.Uint32()),
		}
		wantMSS := uint16(rng.Uint32())
		withMSS := tcp.SYN
		if withMSS {
			tcp.Options = []layers.TCPOption{{
				OptionType:   layers.TCPOptionKindMSS,
				OptionLength: 4,
				OptionData:   []byte{byte(wantMSS >> 8), byte(wantMSS)},
			}}
		}
		sbuf := gopacket.NewSerializeBuffer()
		err := gopacket.SerializeLayers(sbuf, gopacket.SerializeOptions{FixLengths: true}, tcp, gopacket.Payload(payload))
		if err != nil {
			t.Fatal(err)
		}
		tfrm, err := NewFrame(sbuf.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if err := tfrm.ValidateExceptCRC(); err != nil {
			t.Fatal(err)
		}
		if tfrm.SourcePort() != uint16(tcp.SrcPort) || tfrm.DestinationPort() != uint16(tcp.DstPort) {
			t.Errorf("ports mismatch: got %d->%d", tfrm.SourcePort(), tfrm.DestinationPort())
		}
		if tfrm.Seq() != seqs.Value(tcp.Seq) || tfrm.Ack() != seqs.Value(tcp.Ack) {
			t.Errorf("seq/ack mismatch: got %d/%d want %d/%d", tfrm.Seq(), tfrm.Ack(), tcp.Seq, tcp.Ack)
		}
		if tfrm.WindowSize() != tcp.Window {
			t.Errorf("window mismatch: got %d want %d", tfrm.WindowSize(), tcp.Window)
		}
		flags := tfrm.Flags()
		if flags.HasAny(FlagSYN) != tcp.SYN || flags.HasAny(FlagACK) != tcp.ACK || flags.HasAny(FlagFIN) != tcp.FIN || flags.HasAny(FlagPSH) != tcp.PSH {
			t.Errorf("flags mismatch: got %s", flags)
		}
		if string(tfrm.Payload()) != string(payload) {
			t.Errorf("payload mismatch")
		}
		wantLen := seqs.Size(len(payload))
		if tcp.SYN {
			wantLen++
		}
		if tcp.FIN {
			wantLen++
		}
		if got := tfrm.SegmentLength(); got != wantLen {
			t.Errorf("segment length: got %d want %d", got, wantLen)
		}
		mss, ok := ParseMSS(tfrm.Options())
		if ok != withMSS || (ok && mss != wantMSS) {
			t.Errorf("mss: got %d,%v want %d,%v", mss, ok, wantMSS, withMSS)
		}
	}
}

func TestSetFieldsMatchNetstack(t *testing.T) {
	var buf [sizeHeaderTCP + SizeOptionMSS]byte
	tfrm, _ := NewFrame(buf[:])
	tfrm.SetSourcePort(80)
	tfrm.SetDestinationPort(43210)
	tfrm.SetSeq(4294967290)
	tfrm.SetAck(1001)
	tfrm.SetOffsetAndFlags(6, SynAck)
	tfrm.SetWindowSize(1460)
	n, err := PutMSS(buf[sizeHeaderTCP:], 1460)
	if err != nil || n != SizeOptionMSS {
		t.Fatalf("PutMSS: n=%d err=%v", n, err)
	}
	hdr := header.TCP(buf[:])
	if hdr.SourcePort() != 80 || hdr.DestinationPort() != 43210 {
		t.Errorf("ports: got %d->%d", hdr.SourcePort(), hdr.DestinationPort())
	}
	if hdr.SequenceNumber() != 4294967290 || hdr.AckNumber() != 1001 {
		t.Errorf("seq/ack: got %d/%d", hdr.SequenceNumber(), hdr.AckNumber())
	}
	if hdr.DataOffset() != sizeHeaderTCP+SizeOptionMSS {
		t.Errorf("data offset: got %d", hdr.DataOffset())
	}
	if hdr.Flags() != header.TCPFlagSyn|header.TCPFlagAck {
		t.Errorf("flags: got %#x", hdr.Flags())
	}
	if hdr.WindowSize() != 1460 {
		t.Errorf("window: got %d", hdr.WindowSize())
	}
	if len(tfrm.Payload()) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(tfrm.Payload()))
	}
}

func TestParseMSS(t *testing.T) {
	tests := []struct {
		name   string
		opts   []byte
		want   uint16
		wantOK bool
	}{
		{name: "empty"},
		{name: "mss", opts: []byte{2, 4, 0x05, 0xb4}, want: 1460, wantOK: true},
		{name: "nop-mss", opts: []byte{1, 1, 2, 4, 0x02, 0x18}, want: 536, wantOK: true},
		{name: "wscale-then-mss", opts: []byte{3, 3, 7, 2, 4, 0x01, 0x00, 0}, want: 256, wantOK: true},
		{name: "end-before-mss", opts: []byte{0, 0, 2, 4, 0x05, 0xb4}},
		{name: "bad-mss-length", opts: []byte{2, 3, 0x05, 0, 0, 0}},
		{name: "zero-length", opts: []byte{8, 0, 2, 4, 0x05, 0xb4}},
		{name: "truncated", opts: []byte{2, 4, 0x05}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMSS(tt.opts)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("got %d,%v want %d,%v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestForEachOption(t *testing.T) {
	opts := []byte{1, 2, 4, 0x05, 0xb4, 3, 3, 7, 0}
	var kinds []OptionKind
	err := ForEachOption(opts, func(kind OptionKind, data []byte) error {
		kinds = append(kinds, kind)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 2 || kinds[0] != OptMaxSegmentSize || kinds[1] != OptWindowScale {
		t.Errorf("unexpected option kinds %v", kinds)
	}
	err = ForEachOption([]byte{2, 5, 0, 0, 0}, func(OptionKind, []byte) error { return nil })
	if err != tinyip.ErrInvalidLengthField {
		t.Errorf("want invalid length for bad MSS size, got %v", err)
	}
}

func TestSequenceWraparound(t *testing.T) {
	for _, n := range []seqs.Size{1, 2, 10, 1460, 1 << 20, math.MaxUint32} {
		v := seqs.Value(math.MaxUint32 - uint32(n) + 1)
		if got := seqs.Add(v, n); got != 0 {
			t.Errorf("Add(2^32-%d, %d) = %d, want 0", n, n, got)
		}
		if seqs.Sizeof(v, 0) != n {
			t.Errorf("Sizeof(2^32-%d, 0) = %d", n, seqs.Sizeof(v, 0))
		}
	}
	if !seqs.LessThan(math.MaxUint32-5, 5) {
		t.Error("sequence comparison across wrap failed")
	}
}

func TestValidateSize(t *testing.T) {
	var buf [sizeHeaderTCP]byte
	tfrm, _ := NewFrame(buf[:])
	tfrm.SetOffsetAndFlags(4, 0)
	if err := tfrm.ValidateSize(); err != tinyip.ErrInvalidLengthField {
		t.Errorf("offset below header: got %v", err)
	}
	tfrm.SetOffsetAndFlags(6, 0)
	if err := tfrm.ValidateSize(); err != tinyip.ErrInvalidLengthField {
		t.Errorf("offset beyond buffer: got %v", err)
	}
	tfrm.SetOffsetAndFlags(5, 0)
	if err := tfrm.ValidateExceptCRC(); err != tinyip.ErrZeroDestination {
		t.Errorf("zero ports: got %v", err)
	}
	if _, err := NewFrame(buf[:sizeHeaderTCP-1]); err != tinyip.ErrShortBuffer {
		t.Errorf("short buffer: got %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s := StateClosed; s <= StateLastAck; s++ {
		if s.String() == "State(unknown)" {
			t.Errorf("state %d has no name", s)
		}
	}
	if !StateTimeWait.IsClosed() || StateEstablished.IsClosed() {
		t.Error("IsClosed")
	}
	for _, s := range []State{StateFinWait1, StateFinWait2, StateClosing, StateTimeWait, StateLastAck} {
		if !s.IsClosing() {
			t.Errorf("%s: want closing", s)
		}
	}
	if StateEstablished.IsClosing() || StateSynRcvd.IsClosing() || StateClosed.IsClosing() {
		t.Error("IsClosing")
	}
	if !StateFinWait2.IsWaiting() || StateLastAck.IsWaiting() {
		t.Error("IsWaiting")
	}
}
