// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cilium/hive/cell"
	"github.com/cilium/statedb"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/mactable"
)

// watcher translates changes of the topology tables into invalidations of
// the MAC table.
type watcher struct {
	logger   *slog.Logger
	db       *statedb.DB
	ports    statedb.RWTable[Port]
	links    statedb.RWTable[Link]
	mappings statedb.RWTable[Mapping]
	topo     *Topology
	handler  mactable.TopologyHandler

	portChanges    statedb.ChangeIterator[Port]
	linkChanges    statedb.ChangeIterator[Link]
	mappingChanges statedb.ChangeIterator[Mapping]

	// Last seen state, needed to tell what an update changed.
	knownPorts    map[string]Port
	knownMappings map[mactable.MapPath]Mapping
}

func newWatcher(logger *slog.Logger, db *statedb.DB, ports statedb.RWTable[Port], links statedb.RWTable[Link], mappings statedb.RWTable[Mapping], topo *Topology, handler mactable.TopologyHandler) *watcher {
	return &watcher{
		logger:        logger,
		db:            db,
		ports:         ports,
		links:         links,
		mappings:      mappings,
		topo:          topo,
		handler:       handler,
		knownPorts:    map[string]Port{},
		knownMappings: map[mactable.MapPath]Mapping{},
	}
}

func (w *watcher) init() error {
	wtxn := w.db.WriteTxn(w.ports, w.links, w.mappings)
	defer wtxn.Abort()

	var err error
	if w.portChanges, err = w.ports.Changes(wtxn); err != nil {
		return err
	}
	if w.linkChanges, err = w.links.Changes(wtxn); err != nil {
		return err
	}
	if w.mappingChanges, err = w.mappings.Changes(wtxn); err != nil {
		return err
	}
	wtxn.Commit()
	return nil
}

// process handles the changes since the previous call and returns the
// channels which close on further changes.
func (w *watcher) process() ([]<-chan struct{}, error) {
	txn := w.db.ReadTxn()
	ports, portsWatch := w.portChanges.Next(txn)
	links, linksWatch := w.linkChanges.Next(txn)
	mappings, mappingsWatch := w.mappingChanges.Next(txn)

	var (
		errs         []error
		removedNodes = map[mactable.NodeID]struct{}{}
		linksAdded   bool
	)
	for change := range ports {
		errs = append(errs, w.portChanged(txn, change, removedNodes))
	}
	for change := range links {
		linksAdded = linksAdded || !change.Deleted
	}
	if linksAdded {
		errs = append(errs, w.linksAdded())
	}
	for change := range mappings {
		errs = append(errs, w.mappingChanged(change))
	}
	return []<-chan struct{}{portsWatch, linksWatch, mappingsWatch}, errors.Join(errs...)
}

func (w *watcher) run(ctx context.Context, health cell.Health) error {
	if err := w.init(); err != nil {
		return err
	}
	// Changes seen before the topology is synchronized are processed once
	// it is, against the complete tables.
	if err := w.topo.waitSynced(ctx); err != nil {
		return nil
	}
	for {
		watches, err := w.process()
		if err != nil {
			w.logger.Warn("Failed to invalidate MAC table entries", logfields.Error, err)
			health.Degraded("Failed to invalidate MAC table entries", err)
		} else {
			health.OK(fmt.Sprintf("%d ports, %d mappings", len(w.knownPorts), len(w.knownMappings)))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-watches[0]:
		case <-watches[1]:
		case <-watches[2]:
		}
	}
}

func (w *watcher) portChanged(txn statedb.ReadTxn, change statedb.Change[Port], removedNodes map[mactable.NodeID]struct{}) error {
	p := change.Object
	key := p.Key()
	prev, known := w.knownPorts[key]

	if change.Deleted {
		delete(w.knownPorts, key)
		if !known {
			return nil
		}
		_, err := w.handler.OnPortDown(p.Node, p.PortID)
		if _, _, found := w.ports.Get(txn, PortsByNode(p.Node)); !found {
			if _, done := removedNodes[p.Node]; !done {
				removedNodes[p.Node] = struct{}{}
				w.logger.Info("Switch removed", logfields.Node, p.Node)
				_, nodeErr := w.handler.OnNodeRemoved(p.Node)
				err = errors.Join(err, nodeErr)
			}
		}
		return err
	}

	w.knownPorts[key] = p
	if !p.Up && (!known || prev.Up) {
		w.logger.Debug("Switch port down", logfields.Port, key)
		_, err := w.handler.OnPortDown(p.Node, p.PortID)
		return err
	}
	return nil
}

// linksAdded removes the entries learned on ports which turned out to be
// inter-switch ports.
func (w *watcher) linksAdded() error {
	_, err := w.handler.OnLinkChanged(w.topo)
	return err
}

func (w *watcher) mappingChanged(change statedb.Change[Mapping]) error {
	m := change.Object
	prev, known := w.knownMappings[m.Path]
	if change.Deleted {
		delete(w.knownMappings, m.Path)
	} else {
		w.knownMappings[m.Path] = m
	}
	if !known || (!change.Deleted && prev == m) {
		return nil
	}

	w.logger.Debug("Mapping removed or changed", logfields.MapPath, m.Path)
	var err error
	if prev.IsInterfaceMap() {
		_, err = w.handler.OnPortVlanUnmapped(prev.Node, prev.PortID, prev.VLAN)
	} else {
		_, err = w.handler.OnVlanMapRemoved(prev.Path)
	}
	return err
}
