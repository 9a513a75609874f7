// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package learner

import (
	"errors"
	"log/slog"

	"github.com/cilium/hive/cell"
	"github.com/cilium/hive/job"
	"github.com/spf13/pflag"

	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/metrics"
)

// Cell learns the senders of frames received on the links of the local
// switch into the MAC table.
var Cell = cell.Module(
	"mactable-learner",
	"Learns MAC table entries from received frames",

	cell.Config(defaultConfig),
	metrics.Metric(NewMetrics),
	cell.ProvidePrivate(func(t *mactable.Table) Table { return t }),
	cell.Provide(newLearner),
	cell.Invoke(func(*Learner) {}),
)

type Config struct {
	// MACTableLearnNode is the switch whose ports are links of this host.
	MACTableLearnNode string

	// MACTableLearnInterfaces are the links frames are captured on. Each
	// link is the port of the same name of the switch.
	MACTableLearnInterfaces []string
}

var defaultConfig = Config{}

func (def Config) Flags(flags *pflag.FlagSet) {
	flags.String("mactable-learn-node", def.MACTableLearnNode, "Switch node whose ports are local links frames are learned from")
	flags.StringSlice("mactable-learn-interfaces", def.MACTableLearnInterfaces, "Local links to learn MAC addresses from")
}

func (cfg Config) Validate() error {
	if len(cfg.MACTableLearnInterfaces) > 0 && cfg.MACTableLearnNode == "" {
		return errors.New("mactable-learn-node is required to learn from interfaces")
	}
	return nil
}

type learnerParams struct {
	cell.In

	Logger   *slog.Logger
	JobGroup job.Group
	Config   Config
	Table    Table
	Topology Topology
	Metrics  *Metrics
}

func newLearner(p learnerParams) (*Learner, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	l := New(p.Logger, p.Table, p.Topology, p.Metrics)

	for _, iface := range p.Config.MACTableLearnInterfaces {
		c := &capture{
			logger:  p.Logger,
			learner: l,
			port: mactable.SwitchPort{
				Node:     mactable.NodeID(p.Config.MACTableLearnNode),
				PortID:   iface,
				PortName: iface,
			},
			open: openPacketSource,
		}
		p.JobGroup.Add(job.OneShot("capture-"+iface, c.run))
	}
	return l, nil
}
