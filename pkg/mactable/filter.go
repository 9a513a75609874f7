// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"fmt"
)

// Located is anything with a physical location: entries and records.
type Located interface {
	Port() SwitchPort
	VlanID() VlanID
}

// Filter selects entries by location. An error means the location could not
// be resolved; the entry is then treated as not accepted.
type Filter interface {
	Accept(l Located) (bool, error)
}

// AllFilter accepts every entry.
type AllFilter struct{}

func (AllFilter) Accept(Located) (bool, error) { return true, nil }

func (AllFilter) String() string { return "all" }

// NodeFilter accepts entries learned on a switch.
type NodeFilter struct {
	Node NodeID
}

func NewNodeFilter(node NodeID) NodeFilter {
	return NodeFilter{Node: node}
}

func (f NodeFilter) Accept(l Located) (bool, error) {
	return l.Port().Node == f.Node, nil
}

func (f NodeFilter) String() string {
	return fmt.Sprintf("node=%s", f.Node)
}

// PortFilter accepts entries learned on a port of a switch.
type PortFilter struct {
	NodeFilter
	PortID string
}

func NewPortFilter(node NodeID, portID string) PortFilter {
	return PortFilter{NodeFilter: NewNodeFilter(node), PortID: portID}
}

func (f PortFilter) Accept(l Located) (bool, error) {
	if l.Port().PortID != f.PortID {
		return false, nil
	}
	return f.NodeFilter.Accept(l)
}

func (f PortFilter) String() string {
	return fmt.Sprintf("%s,port=%s", f.NodeFilter, f.PortID)
}

// PortVlanFilter accepts entries learned on a port of a switch with a VLAN.
type PortVlanFilter struct {
	PortFilter
	VLAN VlanID
}

func NewPortVlanFilter(node NodeID, portID string, vlan VlanID) PortVlanFilter {
	return PortVlanFilter{PortFilter: NewPortFilter(node, portID), VLAN: vlan}
}

func (f PortVlanFilter) Accept(l Located) (bool, error) {
	if l.VlanID() != f.VLAN {
		return false, nil
	}
	return f.PortFilter.Accept(l)
}

func (f PortVlanFilter) String() string {
	return fmt.Sprintf("%s,vlan=%d", f.PortFilter, f.VLAN)
}

// PortSelector decides whether a switch port is selected. Implementations
// may consult live topology state and fail.
type PortSelector interface {
	SelectPort(port SwitchPort) (bool, error)
}

// PortSelectorFunc adapts a function to PortSelector.
type PortSelectorFunc func(port SwitchPort) (bool, error)

func (fn PortSelectorFunc) SelectPort(port SwitchPort) (bool, error) {
	return fn(port)
}

// ExtendedPortVlanFilter accepts entries whose port is selected by Selector,
// restricted to VLAN unless MatchAllVLANs is set.
type ExtendedPortVlanFilter struct {
	Selector      PortSelector
	VLAN          VlanID
	MatchAllVLANs bool
}

// NewExtendedPortFilter returns a filter selecting ports on any VLAN.
func NewExtendedPortFilter(sel PortSelector) ExtendedPortVlanFilter {
	return ExtendedPortVlanFilter{Selector: sel, MatchAllVLANs: true}
}

// NewExtendedPortVlanFilter returns a filter selecting ports on one VLAN.
func NewExtendedPortVlanFilter(sel PortSelector, vlan VlanID) ExtendedPortVlanFilter {
	return ExtendedPortVlanFilter{Selector: sel, VLAN: vlan}
}

func (f ExtendedPortVlanFilter) Accept(l Located) (bool, error) {
	if !f.MatchAllVLANs && l.VlanID() != f.VLAN {
		return false, nil
	}
	ok, err := f.Selector.SelectPort(l.Port())
	if err != nil {
		return false, fmt.Errorf("selecting port %s: %w", l.Port(), err)
	}
	return ok, nil
}

// MapPathFilter accepts entries owned by a virtual mapping. Values without
// a map path are never accepted.
type MapPathFilter struct {
	Path MapPath
}

func (f MapPathFilter) Accept(l Located) (bool, error) {
	owned, ok := l.(interface{ MapPath() MapPath })
	if !ok {
		return false, nil
	}
	return owned.MapPath() == f.Path, nil
}

func (f MapPathFilter) String() string {
	return fmt.Sprintf("mapPath=%s", f.Path)
}
