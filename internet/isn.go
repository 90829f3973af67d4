package internet

import (
	"encoding/binary"

	"github.com/soypat/seqs"
	"golang.org/x/crypto/blake2s"
)

// initialSeq returns the initial send sequence number for a new connection.
// Without a secret it is the tick driven counter. With a secret a keyed hash
// of the connection tuple is added so that sequence numbers of connections
// to different peers are unrelated (RFC 6528).
func (e *Engine) initialSeq(raddr [4]byte, lport, rport uint16) seqs.Value {
	if e.isnSecret == [16]byte{} {
		return e.isn
	}
	var msg [16 + 4 + 4 + 2 + 2]byte
	copy(msg[0:16], e.isnSecret[:])
	copy(msg[16:20], e.addr[:])
	copy(msg[20:24], raddr[:])
	binary.BigEndian.PutUint16(msg[24:26], lport)
	binary.BigEndian.PutUint16(msg[26:28], rport)
	sum := blake2s.Sum256(msg[:])
	return seqs.Add(e.isn, seqs.Size(binary.BigEndian.Uint32(sum[:4])))
}
