// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package probe

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/cilium/hive/cell"
	"github.com/spf13/pflag"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/mactable"
)

// Cell provides the mactable.Prober which sends ARP probes on the links of
// the local switch. Probing is disabled unless a probe node is configured.
var Cell = cell.Module(
	"mactable-probe",
	"ARP prober for MAC table entries",

	cell.Config(defaultConfig),
	cell.Provide(newProber),
)

type Config struct {
	// MACTableProbeNode is the switch whose ports are links of this host.
	MACTableProbeNode string

	// MACTableProbeSourceIP is the sender address of ARP probes.
	MACTableProbeSourceIP string

	// MACTableProbeTargetIP is the address asked for by ARP probes. Probes
	// are InARP requests for the address of the probed host when empty.
	MACTableProbeTargetIP string
}

var defaultConfig = Config{
	MACTableProbeSourceIP: "0.0.0.0",
}

func (def Config) Flags(flags *pflag.FlagSet) {
	flags.String("mactable-probe-node", def.MACTableProbeNode, "Switch node whose ports are local links used to send IP probes, empty disables probing")
	flags.String("mactable-probe-source-ip", def.MACTableProbeSourceIP, "Sender IPv4 address of ARP probes")
	flags.String("mactable-probe-target-ip", def.MACTableProbeTargetIP, "Target IPv4 address of ARP probes, empty sends InARP requests for the address of the probed host")
}

func (cfg Config) enabled() bool {
	return cfg.MACTableProbeNode != ""
}

func (cfg Config) addresses() (src, target netip.Addr, err error) {
	var errs []error
	src, err = netip.ParseAddr(cfg.MACTableProbeSourceIP)
	if err != nil || !src.Is4() {
		errs = append(errs, fmt.Errorf("invalid probe source address %q", cfg.MACTableProbeSourceIP))
	}
	if cfg.MACTableProbeTargetIP != "" {
		target, err = netip.ParseAddr(cfg.MACTableProbeTargetIP)
		if err != nil || !target.Is4() || target.IsUnspecified() {
			errs = append(errs, fmt.Errorf("invalid probe target address %q", cfg.MACTableProbeTargetIP))
		}
	}
	return src, target, errors.Join(errs...)
}

type proberParams struct {
	cell.In

	Logger    *slog.Logger
	Lifecycle cell.Lifecycle
	Config    Config
}

func newProber(p proberParams) (mactable.Prober, error) {
	if !p.Config.enabled() {
		p.Logger.Info("No probe node configured, IP probing disabled")
		return nil, nil
	}
	src, target, err := p.Config.addresses()
	if err != nil {
		return nil, err
	}

	sender := newPacketSender()
	p.Lifecycle.Append(cell.Hook{
		OnStop: func(cell.HookContext) error { return sender.Close() },
	})

	if target.IsValid() {
		p.Logger.Info("Sending ARP probes",
			logfields.Node, p.Config.MACTableProbeNode,
			logfields.IPAddr, target,
		)
	} else {
		p.Logger.Info("Sending InARP probes", logfields.Node, p.Config.MACTableProbeNode)
	}
	return NewARPProber(p.Logger, mactable.NodeID(p.Config.MACTableProbeNode), src, target, netlinkLinks{}, sender), nil
}
