package httpd

import (
	"bytes"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/soypat/tinyip/internal/ltesto"
	"github.com/soypat/tinyip/internet"
	"github.com/soypat/tinyip/tcp"
)

const (
	flagFIN = uint16(tcp.FlagFIN)
	flagSYN = uint16(tcp.FlagSYN)
	flagRST = uint16(tcp.FlagRST)
	flagPSH = uint16(tcp.FlagPSH)
	flagACK = uint16(tcp.FlagACK)
)

var (
	serverIP = [4]byte{10, 0, 0, 1}
	clientIP = [4]byte{10, 0, 0, 2}
)

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"index.html":   {Data: bytes.Repeat([]byte("<p>tinyip</p>\n"), 80)},
		"style.css":    {Data: []byte("body{margin:0}\n")},
		"img/logo.txt": {Data: []byte("logo")},
	}
}

func newServer(t *testing.T) (*Server, *internet.Engine) {
	t.Helper()
	var srv Server
	if err := srv.Reset(Config{Files: testFiles()}); err != nil {
		t.Fatal(err)
	}
	var e internet.Engine
	err := e.Reset(internet.Config{Addr: serverIP, MaxConns: 2, AppCall: srv.AppCall})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Listen(80); err != nil {
		t.Fatal(err)
	}
	return &srv, &e
}

// client is the remote end of a connection to the server.
type client struct {
	t   *testing.T
	e   *internet.Engine
	gen ltesto.PacketGen
	seq uint32
	ack uint32
	idx int
}

func dial(t *testing.T, e *internet.Engine, port uint16) *client {
	t.Helper()
	cl := &client{t: t, e: e, seq: 100, gen: ltesto.PacketGen{
		SrcIPv4: clientIP, DstIPv4: serverIP, SrcTCP: port, DstTCP: 80,
	}}
	d := cl.deliver(ltesto.Segment{Seq: cl.seq, Flags: flagSYN, Window: 4096})
	if d == nil || d.TCP == nil || !d.TCP.SYN {
		t.Fatal("want SYN+ACK")
	}
	cl.seq++
	cl.ack = d.TCP.Seq + 1
	cl.idx = -1
	for i := 0; i < e.NumConns(); i++ {
		if e.Conn(i).State() != tcp.StateClosed && e.Conn(i).RemotePort() == port {
			cl.idx = i
		}
	}
	if d := cl.send(flagACK, ""); d != nil {
		t.Fatal("unexpected reply to handshake ACK")
	}
	return cl
}

// send sends a segment acknowledging everything received so far.
func (cl *client) send(flags uint16, payload string) *ltesto.Decoded {
	cl.t.Helper()
	d := cl.deliver(ltesto.Segment{Seq: cl.seq, Ack: cl.ack, Flags: flags, Window: 4096, Payload: []byte(payload)})
	cl.seq += uint32(len(payload))
	if flags&flagFIN != 0 {
		cl.seq++
	}
	return d
}

func (cl *client) deliver(seg ltesto.Segment) *ltesto.Decoded {
	cl.t.Helper()
	return cl.decode(cl.e.Deliver(cl.gen.TCP(seg)))
}

func (cl *client) tick() *ltesto.Decoded {
	cl.t.Helper()
	return cl.decode(cl.e.Periodic(cl.idx))
}

func (cl *client) decode(out []byte) *ltesto.Decoded {
	cl.t.Helper()
	if len(out) == 0 {
		return nil
	}
	if err := ltesto.VerifyChecksums(out, false); err != nil {
		cl.t.Fatal(err)
	}
	d, err := ltesto.Decode(out, false)
	if err != nil {
		cl.t.Fatal(err)
	}
	return d
}

// get sends a request and acknowledges the response until the server closes.
func (cl *client) get(request string) []byte {
	cl.t.Helper()
	var resp []byte
	d := cl.send(flagACK|flagPSH, request)
	for i := 0; i < 100; i++ {
		if d == nil || d.TCP == nil {
			cl.t.Fatal("server stalled")
		}
		if d.TCP.Seq != cl.ack {
			cl.t.Fatalf("want seq %d, got %d", cl.ack, d.TCP.Seq)
		}
		if d.TCP.RST {
			cl.t.Fatal("connection reset")
		}
		resp = append(resp, d.Payload...)
		cl.ack += uint32(len(d.Payload))
		if d.TCP.FIN {
			cl.ack++
			cl.send(flagFIN|flagACK, "")
			return resp
		}
		d = cl.send(flagACK, "")
	}
	cl.t.Fatal("response too long")
	return nil
}

func TestGetIndex(t *testing.T) {
	srv, e := newServer(t)
	cl := dial(t, e, 40000)
	got := cl.get("GET / HTTP/1.0\r\nHost: tinyip\r\n\r\n")
	want := srv.Response("/")
	if !bytes.Equal(got, want) {
		t.Fatalf("response mismatch: got %d bytes, want %d", len(got), len(want))
	}
	if len(want) <= 2*internet.DefaultBufferSize {
		t.Fatal("index should span several segments")
	}
	if !bytes.HasPrefix(got, []byte("HTTP/1.0 200 OK\r\n")) {
		t.Errorf("bad status line: %q", got[:20])
	}
	if st := e.Conn(cl.idx).State(); st != tcp.StateTimeWait {
		t.Errorf("want TIME-WAIT after close, got %s", st)
	}
}

func TestGetPaths(t *testing.T) {
	srv, e := newServer(t)
	tests := []struct {
		request string
		status  string
		want    string
	}{
		{"GET /style.css HTTP/1.1\r\n\r\n", "200 OK", "body{margin:0}\n"},
		{"GET /img/logo.txt?v=2 HTTP/1.0\r\n\r\n", "200 OK", "logo"},
		{"GET /index.html HTTP/1.0\r\n\r\n", "200 OK", "<p>tinyip</p>"},
		{"GET /missing HTTP/1.0\r\n\r\n", "404 Not Found", "404 Not Found"},
	}
	for i, tc := range tests {
		cl := dial(t, e, uint16(41000+i))
		got := string(cl.get(tc.request))
		if !strings.HasPrefix(got, "HTTP/1.0 "+tc.status+"\r\n") {
			t.Errorf("%q: want status %q, got %q", tc.request, tc.status, got)
		}
		if !strings.Contains(got, tc.want) {
			t.Errorf("%q: body missing %q", tc.request, tc.want)
		}
	}
	if ct := string(srv.Response("/style.css")); !strings.Contains(ct, "Content-Type: text/css") {
		t.Errorf("bad content type in %q", ct)
	}
}

func TestBadRequestAborts(t *testing.T) {
	_, e := newServer(t)
	for i, req := range []string{"POST / HTTP/1.0\r\n\r\n", "GET\r\n", "GET index.html HTTP/1.0\r\n"} {
		cl := dial(t, e, uint16(42000+i))
		d := cl.send(flagACK|flagPSH, req)
		if d == nil || d.TCP == nil || !d.TCP.RST {
			t.Errorf("%q: want reset", req)
		}
	}
}

func TestIdleAbort(t *testing.T) {
	_, e := newServer(t)
	cl := dial(t, e, 43000)
	for i := 1; i < DefaultMaxIdlePolls; i++ {
		if d := cl.tick(); d != nil {
			t.Fatalf("poll %d: unexpected output", i)
		}
	}
	d := cl.tick()
	if d == nil || d.TCP == nil || !d.TCP.RST {
		t.Fatal("want reset after idle polls")
	}
}

func TestRetransmitSameSegment(t *testing.T) {
	srv, e := newServer(t)
	cl := dial(t, e, 44000)
	first := cl.send(flagACK|flagPSH, "GET / HTTP/1.0\r\n\r\n")
	if first == nil || len(first.Payload) == 0 {
		t.Fatal("want first segment")
	}
	var again []byte
	for i := 0; i < internet.DefaultRTO; i++ {
		if d := cl.tick(); d != nil {
			again = d.Payload
		}
	}
	if !bytes.Equal(first.Payload, again) {
		t.Fatalf("retransmission differs: %d vs %d bytes", len(first.Payload), len(again))
	}
	// Transfer resumes after the acknowledgment.
	cl.ack += uint32(len(first.Payload))
	d := cl.send(flagACK, "")
	want := srv.Response("/")[len(first.Payload):]
	if d == nil || !bytes.HasPrefix(want, d.Payload) || len(d.Payload) == 0 {
		t.Fatal("want next segment of response")
	}
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{"GET / HTTP/1.0\r\n", "/", nil},
		{"\r\nGET /a/b.html HTTP/1.1\r\nHost: x\r\n\r\n", "/a/b.html", nil},
		{"GET /q?x=1#frag HTTP/1.1\n", "/q", nil},
		{"GET /nover\r\n", "/nover", nil},
		{"GET / HTTP/1.0", "", errNeedMore},
		{"GET\r\n", "", errNoURI},
		{"HEAD / HTTP/1.0\r\n", "", errNotGet},
		{"GET  HTTP/1.0\r\n", "", errInvalidURI},
		{"GET relative HTTP/1.0\r\n", "", errInvalidURI},
	}
	for _, tc := range tests {
		got, err := parseRequestLine([]byte(tc.in))
		if err != tc.err {
			t.Errorf("%q: want err %v, got %v", tc.in, tc.err, err)
		} else if string(got) != tc.want {
			t.Errorf("%q: want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestConnStateRoundTrip(t *testing.T) {
	var blob [internet.AppStateSize]byte
	want := connState{state: stateFile, polls: 3, doc: 513, off: 1 << 20, sent: 360}
	want.store(&blob)
	var got connState
	got.load(&blob)
	if got != want {
		t.Errorf("want %+v, got %+v", want, got)
	}
}

func TestResetErrors(t *testing.T) {
	var srv Server
	if err := srv.Reset(Config{}); err == nil {
		t.Error("want error for nil Files")
	}
	if err := srv.Reset(Config{Files: testFiles(), Index: "home.html"}); err == nil {
		t.Error("want error for missing index")
	}
	if err := srv.Reset(Config{Files: testFiles(), Index: "style.css"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(srv.Response("/")), "margin") {
		t.Error("index not served at /")
	}
}
