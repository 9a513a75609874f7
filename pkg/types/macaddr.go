// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package types

import (
	"fmt"
	"net"
)

// MACAddr is the binary representation of a 48-bit hardware address. Unlike
// net.HardwareAddr it is comparable and can be used as a map key.
type MACAddr [6]byte

// ParseMACAddr parses a colon, dash or dot separated EUI-48 address.
func ParseMACAddr(s string) (MACAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MACAddr{}, err
	}
	return MACAddrFromSlice(hw)
}

// MustParseMACAddr is like ParseMACAddr but panics on error. Intended for
// tests and static initialisers.
func MustParseMACAddr(s string) MACAddr {
	addr, err := ParseMACAddr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// MACAddrFromSlice converts a 6 byte slice into a MACAddr.
func MACAddrFromSlice(b []byte) (MACAddr, error) {
	var addr MACAddr
	if len(b) != len(addr) {
		return addr, fmt.Errorf("invalid hardware address length %d", len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

func (addr MACAddr) hardwareAddr() net.HardwareAddr {
	return addr[:]
}

// HardwareAddr returns a copy of the address as net.HardwareAddr.
func (addr MACAddr) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, len(addr))
	copy(hw, addr[:])
	return hw
}

func (addr MACAddr) String() string {
	return addr.hardwareAddr().String()
}

// IsZero reports whether addr is 00:00:00:00:00:00.
func (addr MACAddr) IsZero() bool {
	return addr == MACAddr{}
}

// IsBroadcast reports whether addr is ff:ff:ff:ff:ff:ff.
func (addr MACAddr) IsBroadcast() bool {
	return addr == MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// IsMulticast reports whether the group bit of addr is set.
func (addr MACAddr) IsMulticast() bool {
	return addr[0]&0x01 != 0
}

// IsUnicast reports whether addr can identify a single learned host.
func (addr MACAddr) IsUnicast() bool {
	return !addr.IsZero() && !addr.IsMulticast()
}

func (addr MACAddr) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *MACAddr) UnmarshalText(text []byte) error {
	parsed, err := ParseMACAddr(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// DeepCopyInto is a deepcopy function, copying the receiver, writing into out. in must be non-nil.
func (addr *MACAddr) DeepCopyInto(out *MACAddr) {
	copy(out[:], addr[:])
}
