package tinyip

type errGeneric uint8

// Generic errors common to internet functioning.
const (
	_                     errGeneric = iota // non-initialized err
	ErrPacketDrop                           // packet dropped
	ErrBadCRC                               // incorrect checksum
	ErrShortBuffer                          // short buffer
	ErrInvalidLengthField                   // invalid length field
	ErrUnsupported                          // unsupported protocol or version
	ErrFragmented                           // fragmented packet
	ErrZeroSource                           // zero source (port/addr)
	ErrZeroDestination                      // zero destination (port/addr)
	ErrNotForUs                             // destination address mismatch
)

func (err errGeneric) Error() string {
	return err.String()
}

func (err errGeneric) String() string {
	switch err {
	case ErrPacketDrop:
		return "packet dropped"
	case ErrBadCRC:
		return "incorrect checksum"
	case ErrShortBuffer:
		return "short buffer"
	case ErrInvalidLengthField:
		return "invalid length field"
	case ErrUnsupported:
		return "unsupported protocol or version"
	case ErrFragmented:
		return "fragmented packet"
	case ErrZeroSource:
		return "zero source (port/addr)"
	case ErrZeroDestination:
		return "zero destination (port/addr)"
	case ErrNotForUs:
		return "destination address mismatch"
	}
	return "non-initialized err"
}
