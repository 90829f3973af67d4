package httpd

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/soypat/tinyip/internet"
)

type state uint8

const (
	stateNoGet state = iota
	stateFile
)

// connState is the per connection progress, kept in the application state blob.
//
//	blob[0]    state
//	blob[1]    idle polls
//	blob[2:4]  document index
//	blob[4:8]  offset of the first unacknowledged byte of the response
//	blob[8:10] length of the segment in flight
type connState struct {
	state state
	polls uint8
	doc   uint16
	off   uint32
	sent  uint16
}

func (cs *connState) load(b *[internet.AppStateSize]byte) {
	cs.state = state(b[0])
	cs.polls = b[1]
	cs.doc = binary.BigEndian.Uint16(b[2:4])
	cs.off = binary.BigEndian.Uint32(b[4:8])
	cs.sent = binary.BigEndian.Uint16(b[8:10])
}

func (cs *connState) store(b *[internet.AppStateSize]byte) {
	b[0] = byte(cs.state)
	b[1] = cs.polls
	binary.BigEndian.PutUint16(b[2:4], cs.doc)
	binary.BigEndian.PutUint32(b[4:8], cs.off)
	binary.BigEndian.PutUint16(b[8:10], cs.sent)
}

var (
	errNeedMore   = errors.New("httpd: incomplete request line")
	errNoURI      = errors.New("httpd: missing request URI")
	errNotGet     = errors.New("httpd: method not allowed")
	errInvalidURI = errors.New("httpd: invalid request URI")
)

// parseRequestLine returns the path requested by the GET request line at the
// start of b. The query and fragment are stripped. The whole line must be
// present in b.
func parseRequestLine(b []byte) (urlPath []byte, err error) {
	b = bytes.TrimLeft(b, "\r\n")
	line, _, ok := bytes.Cut(b, []byte{'\n'})
	if !ok {
		return nil, errNeedMore
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return nil, errNoURI
	}
	if string(method) != "GET" {
		return nil, errNotGet
	}
	uri, _, _ := bytes.Cut(rest, []byte{' '})
	if len(uri) == 0 || uri[0] != '/' {
		return nil, errInvalidURI
	}
	if i := bytes.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return uri, nil
}
