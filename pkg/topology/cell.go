// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package topology

import (
	"log/slog"

	"github.com/cilium/hive/cell"
	"github.com/cilium/hive/job"
	"github.com/cilium/statedb"

	"github.com/cilium/vbridge/pkg/defaults"
	"github.com/cilium/vbridge/pkg/kvstore"
	"github.com/cilium/vbridge/pkg/mactable"
)

// Cell reflects the switch topology and the mappings of the bridge from the
// kvstore into StateDB and invalidates MAC table entries when they change.
var Cell = cell.Module(
	"topology",
	"Switch topology and bridge mappings",

	cell.Provide(
		NewPortTable,
		NewLinkTable,
		NewMappingTable,
		New,
		statedb.RWTable[Port].ToTable,
		statedb.RWTable[Link].ToTable,
		statedb.RWTable[Mapping].ToTable,
	),
	cell.Invoke(
		registerReflector,
		registerWatcher,
	),
)

type tablesParams struct {
	cell.In

	Logger   *slog.Logger
	DB       *statedb.DB
	JobGroup job.Group
	Ports    statedb.RWTable[Port]
	Links    statedb.RWTable[Link]
	Mappings statedb.RWTable[Mapping]
}

func registerReflector(p tablesParams, client kvstore.BackendOperations) {
	r := &reflector{
		logger:   p.Logger,
		db:       p.DB,
		client:   client,
		prefix:   KeyPrefix(defaults.KVStorePrefix),
		ports:    p.Ports,
		links:    p.Links,
		mappings: p.Mappings,
	}
	r.registerInitializers()
	p.JobGroup.Add(job.OneShot("topology-reflector", r.run))
}

func registerWatcher(p tablesParams, topo *Topology, handler mactable.TopologyHandler) {
	w := newWatcher(p.Logger, p.DB, p.Ports, p.Links, p.Mappings, topo, handler)
	p.JobGroup.Add(job.OneShot("topology-watcher", w.run))
}
