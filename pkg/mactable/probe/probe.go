// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/types"
)

var (
	// ErrRemotePort is returned for entries learned on a switch other than
	// the one probes are sent on.
	ErrRemotePort = errors.New("port is not on the local switch")

	ErrLinkDown = errors.New("link is down")
)

// Interface is a local link probes are sent on.
type Interface struct {
	Name         string
	Index        int
	HardwareAddr types.MACAddr
}

// Links resolves local links by name.
type Links interface {
	InterfaceByName(name string) (Interface, error)
}

// FrameSender writes raw Ethernet frames on a local link.
type FrameSender interface {
	SendFrame(iface Interface, frame []byte) error
}

type netlinkLinks struct{}

func (netlinkLinks) InterfaceByName(name string) (Interface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return Interface{}, fmt.Errorf("failed to look up link %s: %w", name, err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		return Interface{}, fmt.Errorf("%s: %w", name, ErrLinkDown)
	}
	mac, err := types.MACAddrFromSlice(attrs.HardwareAddr)
	if err != nil {
		return Interface{}, fmt.Errorf("link %s has no Ethernet address: %w", name, err)
	}
	return Interface{
		Name:         attrs.Name,
		Index:        attrs.Index,
		HardwareAddr: mac,
	}, nil
}

// ARPProber probes hosts with unicast InARP requests, or ARP requests for a
// fixed target, sent out of the port the host was learned on.
type ARPProber struct {
	logger *slog.Logger
	node   mactable.NodeID
	srcIP  netip.Addr
	target netip.Addr
	links  Links
	sender FrameSender
}

// NewARPProber returns a prober for the ports of node. Requests carry srcIP
// as sender address. They ask for target if it is valid and are InARP
// requests otherwise.
func NewARPProber(logger *slog.Logger, node mactable.NodeID, srcIP, target netip.Addr, links Links, sender FrameSender) *ARPProber {
	return &ARPProber{
		logger: logger,
		node:   node,
		srcIP:  srcIP,
		target: target,
		links:  links,
		sender: sender,
	}
}

// SendProbe implements mactable.Prober.
func (p *ARPProber) SendProbe(ctx context.Context, mac types.MACAddr, vlan mactable.VlanID, port mactable.SwitchPort) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if port.Node != p.node {
		return fmt.Errorf("probing %s: %w", port, ErrRemotePort)
	}

	// Ports of the local switch are named after their link.
	name := port.PortName
	if name == "" {
		name = port.PortID
	}
	iface, err := p.links.InterfaceByName(name)
	if err != nil {
		return err
	}

	frame, err := BuildARPProbe(iface.HardwareAddr, p.srcIP, mac, vlan, p.target)
	if err != nil {
		return err
	}
	if err := p.sender.SendFrame(iface, frame); err != nil {
		return fmt.Errorf("failed to send ARP probe on %s: %w", iface.Name, err)
	}

	p.logger.Debug("Sent ARP probe",
		logfields.MACAddr, mac,
		logfields.VLAN, vlan,
		logfields.Interface, iface.Name,
	)
	return nil
}

var _ mactable.Prober = &ARPProber{}
