// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package topology

import (
	"strconv"

	"github.com/cilium/statedb"
	"github.com/cilium/statedb/index"

	"github.com/cilium/vbridge/pkg/mactable"
)

// PortKey identifies a switch port in tables and kvstore keys.
func PortKey(node mactable.NodeID, portID string) string {
	return string(node) + "/" + portID
}

// Port is a switch port managed by the controller.
type Port struct {
	Node   mactable.NodeID `json:"node"`
	PortID string          `json:"port"`
	Name   string          `json:"name,omitempty"`
	Up     bool            `json:"up"`
}

func (p Port) Key() string {
	return PortKey(p.Node, p.PortID)
}

func (p Port) SwitchPort() mactable.SwitchPort {
	return mactable.SwitchPort{Node: p.Node, PortID: p.PortID, PortName: p.Name}
}

func (p Port) TableHeader() []string {
	return []string{"Node", "Port", "Name", "State"}
}

func (p Port) TableRow() []string {
	state := "down"
	if p.Up {
		state = "up"
	}
	return []string{string(p.Node), p.PortID, p.Name, state}
}

// Link is a link between ports of two switches. Ports at either end of a
// link are inter-switch ports, all other ports are edge ports.
type Link struct {
	SrcNode mactable.NodeID `json:"srcNode"`
	SrcPort string          `json:"srcPort"`
	DstNode mactable.NodeID `json:"dstNode"`
	DstPort string          `json:"dstPort"`
}

func (l Link) Key() string {
	return PortKey(l.SrcNode, l.SrcPort)
}

func (l Link) TableHeader() []string {
	return []string{"Source", "Destination"}
}

func (l Link) TableRow() []string {
	return []string{PortKey(l.SrcNode, l.SrcPort), PortKey(l.DstNode, l.DstPort)}
}

// Mapping maps frames onto a virtual interface or VLAN map of a bridge.
// A mapping with a port is an interface map of that port and VLAN. A mapping
// without a port is a VLAN map, restricted to a switch unless Node is empty.
type Mapping struct {
	Path   mactable.MapPath `json:"path"`
	Node   mactable.NodeID  `json:"node,omitempty"`
	PortID string           `json:"port,omitempty"`
	VLAN   mactable.VlanID  `json:"vlan"`
}

func (m Mapping) IsInterfaceMap() bool {
	return m.PortID != ""
}

func (m Mapping) TableHeader() []string {
	return []string{"Path", "Node", "Port", "VLAN"}
}

func (m Mapping) TableRow() []string {
	node := string(m.Node)
	if node == "" {
		node = "*"
	}
	return []string{m.Path.String(), node, m.PortID, m.VLAN.String()}
}

var (
	_ statedb.TableWritable = Port{}
	_ statedb.TableWritable = Link{}
	_ statedb.TableWritable = Mapping{}
)

const (
	PortTableName    = "switch-ports"
	LinkTableName    = "inter-switch-links"
	MappingTableName = "vbridge-mappings"
)

var (
	portKeyIndex = statedb.Index[Port, string]{
		Name: "key",
		FromObject: func(p Port) index.KeySet {
			return index.NewKeySet(index.String(p.Key()))
		},
		FromKey: index.String,
		Unique:  true,
	}

	portNodeIndex = statedb.Index[Port, mactable.NodeID]{
		Name: "node",
		FromObject: func(p Port) index.KeySet {
			return index.NewKeySet(index.String(string(p.Node)))
		},
		FromKey: func(node mactable.NodeID) index.Key {
			return index.String(string(node))
		},
		Unique: false,
	}

	// PortByKey queries a port by its PortKey.
	PortByKey = portKeyIndex.Query

	// PortsByNode queries the ports of a switch.
	PortsByNode = portNodeIndex.Query

	linkKeyIndex = statedb.Index[Link, string]{
		Name: "key",
		FromObject: func(l Link) index.KeySet {
			return index.NewKeySet(index.String(l.Key()))
		},
		FromKey: index.String,
		Unique:  true,
	}

	linkPortIndex = statedb.Index[Link, string]{
		Name: "port",
		FromObject: func(l Link) index.KeySet {
			return index.NewKeySet(
				index.String(PortKey(l.SrcNode, l.SrcPort)),
				index.String(PortKey(l.DstNode, l.DstPort)),
			)
		},
		FromKey: index.String,
		Unique:  false,
	}

	// LinksByPort queries the links ending at a port given by its PortKey.
	LinksByPort = linkPortIndex.Query

	mappingPathIndex = statedb.Index[Mapping, mactable.MapPath]{
		Name: "path",
		FromObject: func(m Mapping) index.KeySet {
			return index.NewKeySet(index.String(string(m.Path)))
		},
		FromKey: index.Stringer[mactable.MapPath],
		Unique:  true,
	}

	mappingVlanIndex = statedb.Index[Mapping, mactable.VlanID]{
		Name: "vlan",
		FromObject: func(m Mapping) index.KeySet {
			return index.NewKeySet(vlanKey(m.VLAN))
		},
		FromKey: vlanKey,
		Unique:  false,
	}

	// MappingByPath queries a mapping by its path.
	MappingByPath = mappingPathIndex.Query

	// MappingsByVLAN queries the mappings of a VLAN.
	MappingsByVLAN = mappingVlanIndex.Query
)

func vlanKey(vlan mactable.VlanID) index.Key {
	return index.String(strconv.FormatUint(uint64(vlan), 10))
}

// NewPortTable creates and registers the switch port table.
func NewPortTable(db *statedb.DB) (statedb.RWTable[Port], error) {
	tbl, err := statedb.NewTable(PortTableName, portKeyIndex, portNodeIndex)
	if err != nil {
		return nil, err
	}
	return tbl, db.RegisterTable(tbl)
}

// NewLinkTable creates and registers the inter-switch link table.
func NewLinkTable(db *statedb.DB) (statedb.RWTable[Link], error) {
	tbl, err := statedb.NewTable(LinkTableName, linkKeyIndex, linkPortIndex)
	if err != nil {
		return nil, err
	}
	return tbl, db.RegisterTable(tbl)
}

// NewMappingTable creates and registers the mapping table.
func NewMappingTable(db *statedb.DB) (statedb.RWTable[Mapping], error) {
	tbl, err := statedb.NewTable(MappingTableName, mappingPathIndex, mappingVlanIndex)
	if err != nil {
		return nil, err
	}
	return tbl, db.RegisterTable(tbl)
}
