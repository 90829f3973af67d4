package ipv4

const sizeHeader = 20

// ToS represents the Traffic Class (a.k.a Type of Service). It is 8 bits long. 6 MSB are Differentiated Services; 2 LSB are Explicit Congenstion Notification.
type ToS uint8

// Flags holds fragmentation field data of an IPv4 header. It is 16 bits long.
type Flags uint16

const (
	flagDontFragPos         = 14
	flagMoreFragPos         = 13
	FlagOffsetMask          = (1 << flagMoreFragPos) - 1
	FlagDontFragment  Flags = 1 << flagDontFragPos
	FlagMoreFragments Flags = 1 << flagMoreFragPos
)

// MoreFragments is cleared for unfragmented packets.
// For fragmented packets, all fragments except the last have the MF flag set.
func (f Flags) MoreFragments() bool { return f&FlagMoreFragments != 0 }

// FragmentOffset specifies the offset of a particular fragment relative to the beginning of the original unfragmented IP datagram
// in units of 8 octets.
func (f Flags) FragmentOffset() uint16 { return uint16(f) & FlagOffsetMask }

// IsFragment returns true if the datagram is a fragment of a larger one,
// either because more fragments follow or because it does not start at offset zero.
// The don't-fragment bit does not make a datagram a fragment.
func (f Flags) IsFragment() bool { return f.MoreFragments() || f.FragmentOffset() != 0 }
