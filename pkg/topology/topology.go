// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package topology

import (
	"context"
	"errors"
	"fmt"

	"github.com/cilium/statedb"

	"github.com/cilium/vbridge/pkg/mactable"
)

var (
	// ErrNotSynced is returned while the tables are not yet populated from
	// the kvstore.
	ErrNotSynced = errors.New("topology not synchronized")

	// ErrNotMapped is returned for frames no mapping of the bridge applies to.
	ErrNotMapped = errors.New("no mapping for port and VLAN")

	ErrUnknownPort = errors.New("unknown switch port")
	ErrPortDown    = errors.New("switch port is down")
	ErrNotEdgePort = errors.New("port is an inter-switch port")
)

// Topology answers questions about the switch topology and the mappings of
// the bridge from the StateDB tables.
type Topology struct {
	db       *statedb.DB
	ports    statedb.Table[Port]
	links    statedb.Table[Link]
	mappings statedb.Table[Mapping]
}

func New(db *statedb.DB, ports statedb.RWTable[Port], links statedb.RWTable[Link], mappings statedb.RWTable[Mapping]) *Topology {
	return &Topology{
		db:       db,
		ports:    ports,
		links:    links,
		mappings: mappings,
	}
}

func (t *Topology) synced(txn statedb.ReadTxn) error {
	for _, init := range []bool{
		initialized(txn, t.ports),
		initialized(txn, t.links),
		initialized(txn, t.mappings),
	} {
		if !init {
			return ErrNotSynced
		}
	}
	return nil
}

func initialized[Obj any](txn statedb.ReadTxn, tbl statedb.Table[Obj]) bool {
	init, _ := tbl.Initialized(txn)
	return init
}

// waitSynced blocks until the topology tables are initialized or ctx is
// done.
func (t *Topology) waitSynced(ctx context.Context) error {
	for _, init := range []func(statedb.ReadTxn) (bool, <-chan struct{}){
		t.ports.Initialized,
		t.links.Initialized,
		t.mappings.Initialized,
	} {
		if ok, watch := init(t.db.ReadTxn()); !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-watch:
			}
		}
	}
	return nil
}

func (t *Topology) isInterSwitch(txn statedb.ReadTxn, port mactable.SwitchPort) bool {
	_, _, found := t.links.Get(txn, LinksByPort(PortKey(port.Node, port.PortID)))
	return found
}

// SelectPort selects inter-switch ports. It implements
// mactable.PortSelector.
func (t *Topology) SelectPort(port mactable.SwitchPort) (bool, error) {
	txn := t.db.ReadTxn()
	if err := t.synced(txn); err != nil {
		return false, err
	}
	return t.isInterSwitch(txn, port), nil
}

// CheckEdgePort returns nil if port is a known edge port which is up.
func (t *Topology) CheckEdgePort(port mactable.SwitchPort) error {
	txn := t.db.ReadTxn()
	if err := t.synced(txn); err != nil {
		return err
	}
	p, _, found := t.ports.Get(txn, PortByKey(PortKey(port.Node, port.PortID)))
	switch {
	case !found:
		return fmt.Errorf("%s: %w", port, ErrUnknownPort)
	case !p.Up:
		return fmt.Errorf("%s: %w", port, ErrPortDown)
	case t.isInterSwitch(txn, port):
		return fmt.Errorf("%s: %w", port, ErrNotEdgePort)
	}
	return nil
}

// ResolveMap returns the path of the mapping frames on port and vlan belong
// to. An interface map of the port takes precedence over a VLAN map of the
// switch, which takes precedence over a VLAN map of any switch.
func (t *Topology) ResolveMap(port mactable.SwitchPort, vlan mactable.VlanID) (mactable.MapPath, error) {
	txn := t.db.ReadTxn()
	if err := t.synced(txn); err != nil {
		return "", err
	}

	var nodeMap, anyMap mactable.MapPath
	for m := range t.mappings.List(txn, MappingsByVLAN(vlan)) {
		switch {
		case m.IsInterfaceMap():
			if m.Node == port.Node && m.PortID == port.PortID {
				return m.Path, nil
			}
		case m.Node == port.Node:
			nodeMap = m.Path
		case m.Node == "":
			anyMap = m.Path
		}
	}
	switch {
	case nodeMap != "":
		return nodeMap, nil
	case anyMap != "":
		return anyMap, nil
	}
	return "", fmt.Errorf("%s vlan %s: %w", port, vlan, ErrNotMapped)
}

var _ mactable.PortSelector = &Topology{}
