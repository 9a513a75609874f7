// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package agent

import (
	"github.com/cilium/hive/cell"

	"github.com/cilium/vbridge/pkg/gops"
	"github.com/cilium/vbridge/pkg/kvstore"
	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/mactable/learner"
	"github.com/cilium/vbridge/pkg/mactable/probe"
	"github.com/cilium/vbridge/pkg/metrics"
	"github.com/cilium/vbridge/pkg/topology"
)

var (
	// Cell is the vBridge agent: the MAC table of one bridge together with
	// its persistence, the topology it is invalidated from and the frame
	// learner and prober of the local switch.
	Cell = cell.Module(
		"vbridge-agent",
		"vBridge Agent",

		Infrastructure,
		ControlPlane,
	)

	// Infrastructure provides the kvstore client, the metrics registry and
	// the gops diagnostics server.
	Infrastructure = cell.Module(
		"infra",
		"Infrastructure",

		gops.Cell,
		kvstore.Cell,
		metrics.Cell,
	)

	// ControlPlane learns, stores and invalidates MAC table entries.
	ControlPlane = cell.Module(
		"controlplane",
		"Control Plane",

		mactable.Cell,
		probe.Cell,
		topology.Cell,
		learner.Cell,

		cell.Provide(func(t *topology.Topology) learner.Topology { return t }),
	)
)
