// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package learner

import (
	"log/slog"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/metrics"
	"github.com/cilium/vbridge/pkg/metrics/metric"
)

// Table is the part of the MAC table the learner feeds.
type Table interface {
	Learn(req mactable.LearnRequest) (mactable.LearnResult, error)
}

// Topology decides where frames may be learned and which mapping they
// belong to.
type Topology interface {
	CheckEdgePort(port mactable.SwitchPort) error
	ResolveMap(port mactable.SwitchPort, vlan mactable.VlanID) (mactable.MapPath, error)
}

const (
	resultLearned   = "learned"
	resultMalformed = "malformed"
	resultRejected  = "rejected"
	resultIgnored   = "ignored"
)

type Metrics struct {
	// Frames counts received frames by result.
	Frames metric.Vec[metric.Counter]
}

func NewMetrics() *Metrics {
	return &Metrics{
		Frames: metric.NewCounterVec(metric.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.SubsystemLearner,
			Name:      "frames_total",
			Help:      "Number of received frames by learning result",
		}, []string{"result"}),
	}
}

// Learner learns the senders of frames received on edge ports.
type Learner struct {
	logger  *slog.Logger
	table   Table
	topo    Topology
	metrics *Metrics
}

func New(logger *slog.Logger, table Table, topo Topology, m *Metrics) *Learner {
	if m == nil {
		m = NewMetrics()
	}
	return &Learner{
		logger:  logger,
		table:   table,
		topo:    topo,
		metrics: m,
	}
}

// Learn applies obs, made on a frame received on port, to the table.
// Frames from inter-switch ports, down ports and unmapped VLANs are not
// learned.
func (l *Learner) Learn(port mactable.SwitchPort, obs Observation) (mactable.LearnResult, error) {
	if err := l.topo.CheckEdgePort(port); err != nil {
		l.metrics.Frames.WithLabelValues(resultIgnored).Inc()
		return mactable.LearnResult{}, err
	}
	path, err := l.topo.ResolveMap(port, obs.VLAN)
	if err != nil {
		l.metrics.Frames.WithLabelValues(resultIgnored).Inc()
		return mactable.LearnResult{}, err
	}

	res, err := l.table.Learn(mactable.LearnRequest{
		MAC:     obs.Source,
		VLAN:    obs.VLAN,
		Port:    port,
		MapPath: path,
		IP:      obs.IP,
	})
	if err != nil {
		l.metrics.Frames.WithLabelValues(resultRejected).Inc()
		return res, err
	}
	l.metrics.Frames.WithLabelValues(resultLearned).Inc()

	if res.Outcome == mactable.OutcomeMoved {
		l.logger.Info("Host moved",
			logfields.MACAddr, obs.Source,
			logfields.VLAN, obs.VLAN,
			logfields.OldPort, res.Previous.Port(),
			logfields.Port, port,
		)
	}
	return res, nil
}

// HandleFrame dissects frame, received on port, and learns its sender.
// stripped is the VLAN tag removed from the frame on reception, if any. It
// applies to frames which carry no tag.
func (l *Learner) HandleFrame(d *Dissector, port mactable.SwitchPort, frame []byte, stripped mactable.VlanID) (mactable.LearnResult, error) {
	obs, err := d.Dissect(frame)
	if err != nil {
		l.metrics.Frames.WithLabelValues(resultMalformed).Inc()
		return mactable.LearnResult{}, err
	}
	if obs.VLAN == mactable.VlanUntagged {
		obs.VLAN = stripped
	}
	return l.Learn(port, obs)
}
