// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/cilium/vbridge/pkg/set"
	"github.com/cilium/vbridge/pkg/types"
)

// Entry is a MAC address learned on a switch port.
//
// There are two representations. A NewEntry is created when a MAC address is
// observed for the first time and always needs to be written. A CurrentEntry
// wraps a record that has already been persisted and only needs a write once
// it has been mutated.
//
// Entries are not safe for concurrent use. They are owned by the Table which
// serializes access per key.
type Entry interface {
	Located

	// EtherAddress returns the learned MAC address.
	EtherAddress() types.MACAddr

	// MapPath returns the virtual mapping which owns the entry.
	MapPath() MapPath

	// IPProbeCount returns the number of IP probes consumed so far.
	IPProbeCount() int

	// HasMoved returns false only if the port, the VLAN and the string form
	// of the map path all match the entry.
	HasMoved(port SwitchPort, vlan VlanID, mapPath fmt.Stringer) bool

	// NeedIPProbe consumes one probe credit. It returns true if a probe must
	// be sent, which is the case while the entry has no IP address and the
	// budget of MaxIPProbe probes is not exhausted.
	NeedIPProbe() bool

	// AddIPAddress associates an IP address with the entry. Adding a known
	// address is a no-op.
	AddIPAddress(ip netip.Addr) error

	// IPAddresses returns a snapshot of the associated IP addresses in the
	// order they were added.
	IPAddresses() []netip.Addr

	// MarkDirty forces a write of the entry on the next flush.
	MarkDirty()

	// ToRecord returns the record to persist, or false if the entry does not
	// need to be written.
	ToRecord() (*Record, bool)

	base() *entryBase
	hasIP(ip netip.Addr) bool
}

type entryBase struct {
	mac     types.MACAddr
	port    SwitchPort
	vlan    VlanID
	mapPath MapPath
	ipProbe int

	// used is set whenever the entry is observed and cleared by the aging
	// sweep. It is carried along with writes but never causes one.
	used bool

	// gen is bumped on every mutation that requires a write.
	gen uint64
}

func (e *entryBase) base() *entryBase { return e }

func (e *entryBase) EtherAddress() types.MACAddr { return e.mac }
func (e *entryBase) Port() SwitchPort            { return e.port }
func (e *entryBase) VlanID() VlanID              { return e.vlan }
func (e *entryBase) MapPath() MapPath            { return e.mapPath }
func (e *entryBase) IPProbeCount() int           { return e.ipProbe }

func (e *entryBase) key() Key {
	return Key{MAC: e.mac, VLAN: e.vlan}
}

func (e *entryBase) HasMoved(port SwitchPort, vlan VlanID, mapPath fmt.Stringer) bool {
	if mapPath == nil {
		return true
	}
	return !e.port.Equal(port) || e.vlan != vlan || e.mapPath.String() != mapPath.String()
}

func (e *entryBase) consumeProbe() bool {
	if e.ipProbe >= MaxIPProbe {
		return false
	}
	e.ipProbe++
	e.gen++
	return true
}

func (e *entryBase) record(ips []netip.Addr) *Record {
	return &Record{
		MAC:         e.mac,
		Node:        e.port.Node,
		PortID:      e.port.PortID,
		PortName:    e.port.PortName,
		VLAN:        e.vlan,
		IPAddresses: ips,
		IPProbe:     e.ipProbe,
		Path:        e.mapPath,
		Used:        e.used,
	}
}

// NewEntry is a freshly learned entry. Its IP address, if any, was captured
// from the frame it was learned from and cannot change.
type NewEntry struct {
	entryBase
	ip netip.Addr
}

// NewLearnedEntry returns an entry for a MAC address observed for the first
// time. ip may be the zero netip.Addr if the frame carried no address.
func NewLearnedEntry(mac types.MACAddr, port SwitchPort, vlan VlanID, mapPath MapPath, ip netip.Addr) *NewEntry {
	return &NewEntry{
		entryBase: entryBase{
			mac:     mac,
			port:    port,
			vlan:    vlan,
			mapPath: mapPath,
			used:    true,
		},
		ip: ip,
	}
}

func (e *NewEntry) NeedIPProbe() bool {
	if e.ip.IsValid() {
		return false
	}
	return e.consumeProbe()
}

// AddIPAddress always fails with ErrFixedIPAddress. The table converts a
// NewEntry into a CurrentEntry before adding addresses.
func (e *NewEntry) AddIPAddress(ip netip.Addr) error {
	return fmt.Errorf("%w: cannot add %s to %s", ErrFixedIPAddress, ip, e.key())
}

func (e *NewEntry) IPAddresses() []netip.Addr {
	if !e.ip.IsValid() {
		return nil
	}
	return []netip.Addr{e.ip}
}

func (e *NewEntry) hasIP(ip netip.Addr) bool {
	return e.ip.IsValid() && e.ip == ip
}

func (e *NewEntry) MarkDirty() {
	e.gen++
}

// ToRecord always returns the full record of the entry.
func (e *NewEntry) ToRecord() (*Record, bool) {
	return e.record(e.IPAddresses()), true
}

// CurrentEntry is an entry restored from, or already written to, the store.
type CurrentEntry struct {
	entryBase

	// persisted holds the addresses of the record until ips is materialized.
	persisted []netip.Addr
	ips       *set.Ordered[netip.Addr]
	dirty     bool
}

// NewCurrentEntry wraps a persisted record. The entry starts clean.
func NewCurrentEntry(rec *Record) *CurrentEntry {
	return &CurrentEntry{
		entryBase: entryBase{
			mac:     rec.MAC,
			port:    rec.Port(),
			vlan:    rec.VLAN,
			mapPath: rec.Path,
			ipProbe: min(max(rec.IPProbe, 0), MaxIPProbe),
			used:    rec.Used,
		},
		persisted: slices.Clone(rec.IPAddresses),
	}
}

func (e *CurrentEntry) ipSet() *set.Ordered[netip.Addr] {
	if e.ips == nil {
		e.ips = set.NewOrdered(e.persisted...)
		e.persisted = nil
	}
	return e.ips
}

func (e *CurrentEntry) NeedIPProbe() bool {
	if e.ipSet().Len() > 0 {
		return false
	}
	if !e.consumeProbe() {
		return false
	}
	e.dirty = true
	return true
}

func (e *CurrentEntry) AddIPAddress(ip netip.Addr) error {
	if !ip.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidIPAddress, e.key())
	}
	if e.ipSet().Insert(ip) {
		e.dirty = true
		e.gen++
	}
	return nil
}

func (e *CurrentEntry) IPAddresses() []netip.Addr {
	return e.ipSet().Members()
}

func (e *CurrentEntry) hasIP(ip netip.Addr) bool {
	return e.ipSet().Has(ip)
}

func (e *CurrentEntry) MarkDirty() {
	e.dirty = true
	e.gen++
}

// IsDirty reports whether the entry has changes not yet written.
func (e *CurrentEntry) IsDirty() bool {
	return e.dirty
}

// ToRecord returns the record only if the entry was mutated since it was
// last written.
func (e *CurrentEntry) ToRecord() (*Record, bool) {
	if !e.dirty {
		return nil, false
	}
	return e.record(e.IPAddresses()), true
}

// markClean clears the dirty flag if the entry was not mutated after the
// generation gen was written.
func (e *CurrentEntry) markClean(gen uint64) bool {
	if e.gen != gen {
		return false
	}
	e.dirty = false
	return true
}

// promote converts a not yet written NewEntry into a dirty CurrentEntry so
// that IP addresses can be added to it.
func promote(e *NewEntry) *CurrentEntry {
	rec, _ := e.ToRecord()
	cur := NewCurrentEntry(rec)
	cur.gen = e.gen + 1
	cur.dirty = true
	return cur
}

var (
	_ Entry = &NewEntry{}
	_ Entry = &CurrentEntry{}
)
