// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"

	"github.com/cilium/vbridge/pkg/types"
)

// Record is the persisted form of a table entry.
type Record struct {
	MAC         types.MACAddr `json:"mac"`
	Node        NodeID        `json:"node"`
	PortID      string        `json:"port"`
	PortName    string        `json:"portName,omitempty"`
	VLAN        VlanID        `json:"vlan"`
	IPAddresses []netip.Addr  `json:"ipAddresses,omitempty"`
	IPProbe     int           `json:"ipProbe"`
	Path        MapPath       `json:"mapPath"`
	Used        bool          `json:"used"`
}

func (r *Record) Key() Key {
	return Key{MAC: r.MAC, VLAN: r.VLAN}
}

func (r *Record) Port() SwitchPort {
	return SwitchPort{Node: r.Node, PortID: r.PortID, PortName: r.PortName}
}

func (r *Record) VlanID() VlanID {
	return r.VLAN
}

func (r *Record) MapPath() MapPath {
	return r.Path
}

// DeepCopy returns a copy of the record which does not share the IP slice.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.IPAddresses = slices.Clone(r.IPAddresses)
	return &out
}

// Validate checks the record read from the store.
func (r *Record) Validate() error {
	if err := r.VLAN.Validate(); err != nil {
		return err
	}
	if !r.MAC.IsUnicast() {
		return fmt.Errorf("%w: %s", ErrInvalidMAC, r.MAC)
	}
	if r.Path == "" {
		return ErrMissingMapPath
	}
	if r.IPProbe < 0 || r.IPProbe > MaxIPProbe {
		return fmt.Errorf("IP probe counter %d out of range", r.IPProbe)
	}
	return nil
}

func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
