// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cilium/vbridge/pkg/types"
)

// MaxIPProbe is the number of IP probes sent for an entry before it is
// considered to have no discoverable IP address.
const MaxIPProbe = 10

var (
	// ErrFixedIPAddress is returned when an IP address is added to an entry
	// whose IP address was fixed when it was learned.
	ErrFixedIPAddress = errors.New("IP address of a newly learned entry is fixed")

	// ErrInvalidVLAN is returned for VLAN IDs outside of 0..4095.
	ErrInvalidVLAN = errors.New("invalid VLAN ID")

	// ErrInvalidMAC is returned for source addresses that cannot be learned.
	ErrInvalidMAC = errors.New("MAC address is not a unicast address")

	// ErrMissingMapPath is returned when a learn request has no owner.
	ErrMissingMapPath = errors.New("map path must be set")

	// ErrInvalidIPAddress is returned when the zero address is added to an
	// entry.
	ErrInvalidIPAddress = errors.New("invalid IP address")
)

// NodeID identifies a physical switch.
type NodeID string

// SwitchPort is a port on a physical switch. The name is informational and
// does not take part in comparisons.
type SwitchPort struct {
	Node     NodeID
	PortID   string
	PortName string
}

// Equal reports whether both refer to the same switch port.
func (p SwitchPort) Equal(o SwitchPort) bool {
	return p.Node == o.Node && p.PortID == o.PortID
}

func (p SwitchPort) String() string {
	if p.PortName != "" {
		return fmt.Sprintf("%s/%s(%s)", p.Node, p.PortID, p.PortName)
	}
	return fmt.Sprintf("%s/%s", p.Node, p.PortID)
}

// VlanID is an 802.1Q VLAN identifier. Zero means untagged.
type VlanID uint16

const (
	VlanUntagged VlanID = 0
	MaxVlanID    VlanID = 4095
)

func (v VlanID) Validate() error {
	if v > MaxVlanID {
		return fmt.Errorf("%w: %d", ErrInvalidVLAN, v)
	}
	return nil
}

func (v VlanID) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// ParseVlanID parses a decimal VLAN ID.
func ParseVlanID(s string) (VlanID, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVLAN, s)
	}
	vlan := VlanID(v)
	return vlan, vlan.Validate()
}

// Key is the identity of a table entry.
type Key struct {
	MAC  types.MACAddr
	VLAN VlanID
}

func (k Key) String() string {
	return k.MAC.String() + "/" + k.VLAN.String()
}

// MapPath names the virtual mapping (interface or VLAN map of a vBridge)
// which caused an entry to be learned.
type MapPath string

func (m MapPath) String() string {
	return string(m)
}

// InterfaceMapPath returns the map path of a port mapped vBridge interface.
func InterfaceMapPath(bridge, iface string) MapPath {
	return MapPath(bridge + "/interface/" + iface)
}

// VlanMapPath returns the map path of a VLAN map of a vBridge.
func VlanMapPath(bridge, mapID string) MapPath {
	return MapPath(bridge + "/vlanmap/" + mapID)
}
