// Package echo implements a TCP echo service on top of the [internet.Engine]
// application callback. Received bytes are queued in a per connection ring
// buffer and sent back one segment at a time. When the ring cannot hold
// another full segment the receive window is closed with [internet.Call.Stop]
// until the ring drains.
package echo

import (
	"log/slog"

	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
	"github.com/soypat/tinyip/internal"
	"github.com/soypat/tinyip/internet"
)

// DefaultRingSize is the default per connection queue capacity in bytes.
const DefaultRingSize = 1024

type Config struct {
	// Conns is the amount of connection slots of the engine, see [internet.Engine.NumConns].
	Conns int
	// MSS is the largest segment the engine sends, see [internet.Config.MSS].
	MSS int
	// RingSize is the per connection queue capacity. Must be at least MSS.
	RingSize int
	Logger   *slog.Logger
}

// Server echoes data back on every connection it is called for.
type Server struct {
	conns []echoConn
	log   *slog.Logger
}

type echoConn struct {
	ring *ringbuffer.RingBuffer
	// inflight holds the segment awaiting acknowledgment, sent again on retransmission.
	inflight []byte
	echoed   uint64
}

// Reset allocates the per connection queues.
func (s *Server) Reset(cfg Config) error {
	if cfg.RingSize == 0 {
		cfg.RingSize = DefaultRingSize
	}
	switch {
	case cfg.Conns <= 0:
		return errors.New("echo: need at least one connection slot")
	case cfg.MSS <= 0:
		return errors.New("echo: invalid MSS")
	case cfg.RingSize < cfg.MSS:
		return errors.Errorf("echo: ring size %d smaller than MSS %d", cfg.RingSize, cfg.MSS)
	}
	s.conns = make([]echoConn, cfg.Conns)
	for i := range s.conns {
		s.conns[i] = echoConn{
			ring:     ringbuffer.New(cfg.RingSize),
			inflight: make([]byte, 0, cfg.MSS),
		}
	}
	s.log = cfg.Logger
	return nil
}

// Echoed returns the amount of bytes acknowledged by the peer of connection i
// since it was opened.
func (s *Server) Echoed(i int) uint64 { return s.conns[i].echoed }

// Queued returns the amount of bytes received on connection i that were not yet sent back.
func (s *Server) Queued(i int) int { return s.conns[i].ring.Length() }

// AppCall handles the events of a connection to the echo port.
func (s *Server) AppCall(c *internet.Call) {
	idx := c.ConnIndex()
	if idx >= len(s.conns) {
		c.Abort()
		return
	}
	ec := &s.conns[idx]
	flags := c.Flags()
	if flags.HasAny(internet.AppConnected) {
		ec.ring.Reset()
		ec.inflight = ec.inflight[:0]
		ec.echoed = 0
	}
	if flags.HasAny(internet.AppAborted | internet.AppTimedOut | internet.AppClosed) {
		internal.LogAttrs(s.log, slog.LevelDebug, "echo:closed", slog.Int("conn", idx),
			slog.String("flags", flags.String()), slog.Uint64("echoed", ec.echoed))
		return
	}
	if flags.HasAny(internet.AppAcked) {
		ec.echoed += uint64(len(ec.inflight))
		ec.inflight = ec.inflight[:0]
	}
	if flags.HasAny(internet.AppNewData) {
		// Data must be queued before the send buffer, which aliases it, is written.
		n, err := ec.ring.Write(c.Data())
		if err != nil {
			internal.LogAttrs(s.log, slog.LevelError, "echo:overflow", slog.Int("conn", idx),
				slog.Int("lost", len(c.Data())-n))
		}
		if ec.ring.Free() < c.MSS() {
			c.Stop()
		}
	}
	if flags.HasAny(internet.AppRexmit) {
		c.Send(ec.inflight)
		return
	}
	if len(ec.inflight) == 0 && !ec.ring.IsEmpty() {
		n, _ := ec.ring.Read(ec.inflight[:min(c.MSS(), cap(ec.inflight))])
		ec.inflight = ec.inflight[:n]
		c.Send(ec.inflight)
	}
	if c.Stopped() && ec.ring.Free() >= c.MSS() {
		c.Restart()
	}
}
