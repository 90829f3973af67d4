// Package httpd implements a static file HTTP/1.0 server on top of the
// [internet.Engine] application callback. Responses are prebuilt on [Server.Reset]
// and streamed one segment per acknowledgment; per connection progress lives
// in the connection's application state blob so the server holds no
// per connection memory.
package httpd

import (
	"io/fs"
	"log/slog"
	"math"
	"mime"
	"path"
	"strconv"

	"github.com/pkg/errors"
	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/internet"
)

// DefaultMaxIdlePolls is the amount of idle polls after which a connection is aborted.
const DefaultMaxIdlePolls = 10

// Config configures a [Server].
type Config struct {
	// Files holds the documents served. Required.
	Files fs.FS
	// Index is the file served for "/". Defaults to "index.html".
	Index        string
	MaxIdlePolls uint8
	Logger       *slog.Logger
}

// Server serves the files of an [fs.FS]. It is not safe for concurrent use,
// which matches the engine calling it.
type Server struct {
	docs     []document
	byPath   map[string]uint16
	notFound uint16
	maxIdle  uint8
	log      *slog.Logger
}

type document struct {
	path string
	// resp is the complete response: status line, headers and body.
	resp []byte
}

const notFoundBody = "<html><body><h1>404 Not Found</h1></body></html>\n"

// Reset loads all files of cfg.Files and builds their responses.
func (s *Server) Reset(cfg Config) error {
	if cfg.Files == nil {
		return errors.New("httpd: nil Files")
	}
	if cfg.Index == "" {
		cfg.Index = "index.html"
	}
	if cfg.MaxIdlePolls == 0 {
		cfg.MaxIdlePolls = DefaultMaxIdlePolls
	}
	*s = Server{
		docs:    s.docs[:0],
		byPath:  make(map[string]uint16),
		maxIdle: cfg.MaxIdlePolls,
		log:     cfg.Logger,
	}
	err := fs.WalkDir(cfg.Files, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		body, err := fs.ReadFile(cfg.Files, name)
		if err != nil {
			return errors.Wrapf(err, "reading %s", name)
		}
		idx, err := s.add("/"+name, "200 OK", contentType(name), body)
		if err != nil {
			return err
		}
		if name == cfg.Index {
			s.byPath["/"] = idx
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "httpd: loading files")
	}
	if _, ok := s.byPath["/"]; !ok {
		return errors.Errorf("httpd: index %q not found", cfg.Index)
	}
	s.notFound, err = s.add("", "404 Not Found", "text/html; charset=utf-8", []byte(notFoundBody))
	return err
}

func (s *Server) add(urlPath, status, ctype string, body []byte) (uint16, error) {
	if len(s.docs) >= math.MaxUint16 {
		return 0, errors.New("httpd: too many files")
	}
	if len(body) > math.MaxUint32/2 {
		return 0, errors.Errorf("httpd: %s too large", urlPath)
	}
	resp := make([]byte, 0, len(body)+128)
	resp = append(resp, "HTTP/1.0 "...)
	resp = append(resp, status...)
	resp = append(resp, "\r\nContent-Type: "...)
	resp = append(resp, ctype...)
	resp = append(resp, "\r\nContent-Length: "...)
	resp = strconv.AppendInt(resp, int64(len(body)), 10)
	resp = append(resp, "\r\nConnection: close\r\n\r\n"...)
	resp = append(resp, body...)
	idx := uint16(len(s.docs))
	s.docs = append(s.docs, document{path: urlPath, resp: resp})
	if urlPath != "" {
		s.byPath[urlPath] = idx
	}
	return idx, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Response returns the prebuilt response for a request of urlPath.
func (s *Server) Response(urlPath string) []byte {
	return s.docs[s.lookup([]byte(urlPath))].resp
}

func (s *Server) lookup(urlPath []byte) uint16 {
	if idx, ok := s.byPath[string(urlPath)]; ok {
		return idx
	}
	return s.notFound
}

// AppCall handles the events of a connection to the server's port.
func (s *Server) AppCall(c *internet.Call) {
	flags := c.Flags()
	blob := c.AppState()
	if flags.HasAny(internet.AppConnected) {
		*blob = [internet.AppStateSize]byte{}
	}
	var cs connState
	cs.load(blob)
	defer cs.store(blob)

	switch {
	case flags.HasAny(internet.AppAborted | internet.AppTimedOut):
		s.debug("httpd:conn-lost", slog.Int("conn", c.ConnIndex()), slog.String("flags", flags.String()))
		return
	case flags.HasAny(internet.AppClosed):
		return
	case flags.HasAny(internet.AppPoll):
		cs.polls++
		if cs.polls >= s.maxIdle {
			s.debug("httpd:idle-abort", slog.Int("conn", c.ConnIndex()))
			c.Abort()
		}
		return
	}

	if flags.HasAny(internet.AppNewData) && cs.state == stateNoGet {
		uri, err := parseRequestLine(c.Data())
		if err != nil {
			s.debug("httpd:bad-request", slog.Int("conn", c.ConnIndex()), slog.String("err", err.Error()))
			c.Abort()
			return
		}
		cs = connState{state: stateFile, doc: s.lookup(uri)}
		s.debug("httpd:get", slog.Int("conn", c.ConnIndex()), slog.String("path", string(uri)),
			slog.Bool("found", cs.doc != s.notFound))
	}
	if cs.state != stateFile {
		return
	}
	resp := s.docs[cs.doc].resp
	switch {
	case flags.HasAny(internet.AppRexmit):
		c.Send(resp[cs.off : cs.off+uint32(cs.sent)])
		return
	case flags.HasAny(internet.AppAcked):
		cs.off += uint32(cs.sent)
		cs.sent = 0
		if int(cs.off) >= len(resp) {
			c.Close()
			return
		}
	}
	if cs.sent == 0 {
		cs.sent = uint16(c.Send(resp[cs.off:]))
	}
}

func (s *Server) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(s.log, slog.LevelDebug, msg, attrs...)
}
