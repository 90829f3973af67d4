//go:build linux && !tinygo

package internal

import (
	"errors"
	"fmt"
	"math/bits"
	"net"
	"net/netip"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Tap is a Linux TAP device carrying raw Ethernet frames without packet information.
type Tap struct {
	fd   int // points to /dev/net/tun device.
	name string
}

// NewTap creates the TAP interface name. If ip is valid the interface is brought
// up and assigned the prefix using the ip(8) command.
func NewTap(name string, ip netip.Prefix) (*Tap, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("name too large")
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open tun device: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	err = unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("creating tap interface: %w", err)
	}
	if ip.IsValid() {
		err = exec.Command("ip", "link", "set", "dev", name, "up").Run()
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set ip link: %w", err)
		}
		err = exec.Command("ip", "addr", "add", ip.String(), "dev", name).Run()
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to assign IP address: %w", err)
		}
	}
	return &Tap{fd: fd, name: name}, nil
}

// SetNonblock makes Read return [unix.EAGAIN] instead of blocking when no frame is pending.
func (tap *Tap) SetNonblock(nonblocking bool) error {
	return unix.SetNonblock(tap.fd, nonblocking)
}

func (tap *Tap) Read(b []byte) (int, error) {
	return unix.Read(tap.fd, b)
}

func (tap *Tap) Write(b []byte) (int, error) {
	return unix.Write(tap.fd, b)
}

func (tap *Tap) Close() error {
	return unix.Close(tap.fd)
}

// IPMask returns the host side address and prefix of the interface.
func (tap *Tap) IPMask() (netip.Prefix, error) {
	sock, err := tap.getSock()
	if err != nil {
		return netip.Prefix{}, err
	}
	defer unix.Close(sock)
	addr, err := ioctlInet4(sock, tap.name, unix.SIOCGIFADDR)
	if err != nil {
		return netip.Prefix{}, err
	}
	mask, err := ioctlInet4(sock, tap.name, unix.SIOCGIFNETMASK)
	if err != nil {
		return netip.Prefix{}, err
	}
	ones := bits.OnesCount32(uint32(mask[0])<<24 | uint32(mask[1])<<16 | uint32(mask[2])<<8 | uint32(mask[3]))
	return netip.PrefixFrom(netip.AddrFrom4(addr), ones), nil
}

func (tap *Tap) MTU() (int, error) {
	sock, err := tap.getSock()
	if err != nil {
		return 0, err
	}
	defer unix.Close(sock)
	ifr, err := unix.NewIfreq(tap.name)
	if err != nil {
		return 0, err
	}
	err = unix.IoctlIfreq(sock, unix.SIOCGIFMTU, ifr)
	if err != nil {
		return 0, err
	}
	return int(ifr.Uint32()), nil
}

// HardwareAddress6 returns the host side hardware address of the interface.
// The stack must use a different address on the same link.
func (tap *Tap) HardwareAddress6() (hw [6]byte, err error) {
	iface, err := net.InterfaceByName(tap.name)
	if err != nil {
		return hw, err
	} else if len(iface.HardwareAddr) != 6 {
		return hw, fmt.Errorf("expecting 6 byte hardware address, got %d", len(iface.HardwareAddr))
	}
	copy(hw[:], iface.HardwareAddr)
	return hw, nil
}

func (tap *Tap) getSock() (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_IP)
	if err != nil {
		return 0, fmt.Errorf("tap socket open: %w", err)
	}
	return sock, nil
}

func ioctlInet4(sock int, name string, req uint) (addr [4]byte, err error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return addr, err
	}
	err = unix.IoctlIfreq(sock, req, ifr)
	if err != nil {
		return addr, err
	}
	ip, err := ifr.Inet4Addr()
	if err != nil {
		return addr, err
	}
	copy(addr[:], ip)
	return addr, nil
}
