package tcp

import (
	"encoding/binary"

	"github.com/soypat/tinyip"
)

type OptionKind uint8

const (
	OptEnd            OptionKind = iota // end of option list
	OptNop                              // no-operation
	OptMaxSegmentSize                   // maximum segment size
	OptWindowScale                      // window scale
	OptSACKPermitted                    // SACK permitted
	OptSACK                             // SACK
	OptTimestamps     OptionKind = 8    // timestamps
)

// SizeOptionMSS is the length of the maximum segment size option.
const SizeOptionMSS = tinyip.SizeOptionMSS

// ForEachOption calls fn for every option in opts up to the end of list option.
// Options of a kind with a fixed length are checked against it.
func ForEachOption(opts []byte, fn func(OptionKind, []byte) error) error {
	off := 0
	for off < len(opts) && opts[off] != byte(OptEnd) {
		kind := OptionKind(opts[off])
		off++
		if kind == OptNop {
			continue
		}
		if off >= len(opts) {
			return tinyip.ErrShortBuffer
		}
		size := int(opts[off]) // Includes kind and length octets.
		off++
		dataLen := size - 2
		if dataLen < 0 || len(opts[off:]) < dataLen {
			return tinyip.ErrShortBuffer
		}
		if want := fixedOptionSize(kind); want > 0 && size != want {
			return tinyip.ErrInvalidLengthField
		}
		if err := fn(kind, opts[off:off+dataLen]); err != nil {
			return err
		}
		off += dataLen
	}
	return nil
}

func fixedOptionSize(kind OptionKind) int {
	switch kind {
	case OptMaxSegmentSize:
		return SizeOptionMSS
	case OptWindowScale:
		return 3
	case OptSACKPermitted:
		return 2
	case OptTimestamps:
		return 10
	}
	return 0
}

// ParseMSS scans opts for a maximum segment size option and returns its value.
// Unknown options are skipped. Malformed option lists stop the scan, keeping
// whatever was found up to that point. ok is false when no MSS option was found.
func ParseMSS(opts []byte) (mss uint16, ok bool) {
	ForEachOption(opts, func(kind OptionKind, data []byte) error {
		if kind == OptMaxSegmentSize {
			mss = binary.BigEndian.Uint16(data)
			ok = true
		}
		return nil
	})
	return mss, ok
}

// PutMSS writes a maximum segment size option to dst and returns the number of bytes written.
func PutMSS(dst []byte, mss uint16) (int, error) {
	if len(dst) < SizeOptionMSS {
		return -1, tinyip.ErrShortBuffer
	}
	dst[0] = byte(OptMaxSegmentSize)
	dst[1] = SizeOptionMSS
	binary.BigEndian.PutUint16(dst[2:4], mss)
	return SizeOptionMSS, nil
}
