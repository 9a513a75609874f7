// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package logfields defines common logging fields which are used across packages
package logfields

const (
	// LogSubsys is the field denoting the subsystem when logging
	LogSubsys = "subsys"

	// Error is the field for an error
	Error = "error"

	// Reason is a human readable string describing why something happened
	Reason = "reason"

	// Signal is the field to print os signals on exit etc.
	Signal = "signal"

	// MACAddr is a hardware address
	MACAddr = "macAddr"

	// VLAN is an 802.1Q VLAN ID, 0 for untagged traffic
	VLAN = "vlan"

	// Node is a physical switch managed by the bridge
	Node = "node"

	// Port is the identifier of a switch port
	Port = "port"

	// PortName is the name of a switch port
	PortName = "portName"

	// OldPort is the previous location of a moved host
	OldPort = "oldPort"

	// MapPath identifies the virtual mapping that owns an entry
	MapPath = "mapPath"

	// IPAddr is an IPv4 or IPv6 address
	IPAddr = "ipAddr"

	// Bridge is the name of a virtual bridge
	Bridge = "bridge"

	// Interface is a network interface name
	Interface = "interface"

	// Count is a generic counter
	Count = "count"

	// Entries is the number of table entries affected by an operation
	Entries = "entries"

	// Duration is the duration of an operation
	Duration = "duration"

	// Key is the identifier of a kvstore object
	Key = "key"

	// Prefix is a kvstore key prefix
	Prefix = "prefix"

	// Backend is the name of a kvstore backend
	Backend = "backend"

	// Address is an endpoint address such as a listen address
	Address = "address"

	// EventUUID is an event unique identifier
	EventUUID = "eventID"

	// Outcome is the result of a learn attempt
	Outcome = "outcome"
)
