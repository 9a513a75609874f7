// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/cilium/hive/cell"
	"github.com/cilium/statedb"

	"github.com/cilium/vbridge/pkg/kvstore"
	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/mactable"
)

const (
	kindPorts    = "ports"
	kindLinks    = "links"
	kindMappings = "mappings"
)

var errInvalidObject = errors.New("invalid topology object")

// KeyPrefix returns the kvstore prefix of the topology below base.
func KeyPrefix(base string) string {
	return path.Join(base, "topology") + "/"
}

// reflector mirrors the topology stored in the kvstore into the tables.
type reflector struct {
	logger   *slog.Logger
	db       *statedb.DB
	client   kvstore.BackendOperations
	prefix   string
	ports    statedb.RWTable[Port]
	links    statedb.RWTable[Link]
	mappings statedb.RWTable[Mapping]

	initDone []func(statedb.WriteTxn)
}

func (r *reflector) registerInitializers() {
	wtxn := r.db.WriteTxn(r.ports, r.links, r.mappings)
	r.initDone = []func(statedb.WriteTxn){
		r.ports.RegisterInitializer(wtxn, "kvstore"),
		r.links.RegisterInitializer(wtxn, "kvstore"),
		r.mappings.RegisterInitializer(wtxn, "kvstore"),
	}
	wtxn.Commit()
}

func (r *reflector) run(ctx context.Context, health cell.Health) error {
	for ev := range r.client.ListAndWatch(ctx, r.prefix) {
		wtxn := r.db.WriteTxn(r.ports, r.links, r.mappings)
		if ev.Typ == kvstore.EventTypeListDone {
			for _, done := range r.initDone {
				done(wtxn)
			}
			wtxn.Commit()
			r.logger.Info("Topology synchronized from kvstore", logfields.Prefix, r.prefix)
			continue
		}

		err := r.apply(wtxn, ev)
		if err != nil {
			wtxn.Abort()
			r.logger.Warn("Ignoring topology object",
				logfields.Key, ev.Key,
				logfields.Error, err,
			)
			health.Degraded("Invalid topology objects in kvstore", err)
			continue
		}
		wtxn.Commit()

		txn := r.db.ReadTxn()
		health.OK(fmt.Sprintf("%d ports, %d links, %d mappings",
			r.ports.NumObjects(txn), r.links.NumObjects(txn), r.mappings.NumObjects(txn)))
	}
	return nil
}

func (r *reflector) apply(wtxn statedb.WriteTxn, ev kvstore.KeyValueEvent) error {
	kind, id, ok := strings.Cut(strings.TrimPrefix(ev.Key, r.prefix), "/")
	if !ok || id == "" {
		return fmt.Errorf("%w: unexpected key", errInvalidObject)
	}
	deleted := ev.Typ == kvstore.EventTypeDelete

	switch kind {
	case kindPorts:
		var p Port
		if deleted {
			node, portID, _ := strings.Cut(id, "/")
			p = Port{Node: mactable.NodeID(node), PortID: portID}
			_, _, err := r.ports.Delete(wtxn, p)
			return err
		}
		if err := decode(ev.Value, &p, id, Port.Key); err != nil {
			return err
		}
		_, _, err := r.ports.Insert(wtxn, p)
		return err

	case kindLinks:
		var l Link
		if deleted {
			node, portID, _ := strings.Cut(id, "/")
			l = Link{SrcNode: mactable.NodeID(node), SrcPort: portID}
			_, _, err := r.links.Delete(wtxn, l)
			return err
		}
		if err := decode(ev.Value, &l, id, Link.Key); err != nil {
			return err
		}
		if l.DstNode == "" || l.DstPort == "" {
			return fmt.Errorf("%w: link without destination", errInvalidObject)
		}
		_, _, err := r.links.Insert(wtxn, l)
		return err

	case kindMappings:
		var m Mapping
		if deleted {
			m = Mapping{Path: mactable.MapPath(id)}
			_, _, err := r.mappings.Delete(wtxn, m)
			return err
		}
		if err := decode(ev.Value, &m, id, func(m Mapping) string { return string(m.Path) }); err != nil {
			return err
		}
		if err := m.VLAN.Validate(); err != nil {
			return err
		}
		if m.IsInterfaceMap() && m.Node == "" {
			return fmt.Errorf("%w: interface map without node", errInvalidObject)
		}
		_, _, err := r.mappings.Insert(wtxn, m)
		return err
	}
	return fmt.Errorf("%w: unknown kind %q", errInvalidObject, kind)
}

// decode unmarshals data into obj and checks that the object is stored
// under its own key.
func decode[Obj any](data []byte, obj *Obj, id string, key func(Obj) string) error {
	if err := json.Unmarshal(data, obj); err != nil {
		return fmt.Errorf("%w: %w", errInvalidObject, err)
	}
	if k := key(*obj); k != id {
		return fmt.Errorf("%w: stored under %q instead of %q", errInvalidObject, id, k)
	}
	return nil
}

// Publisher writes topology objects to the kvstore, from where every agent
// reflects them into its tables.
type Publisher struct {
	client kvstore.BackendOperations
	prefix string
}

func NewPublisher(client kvstore.BackendOperations, base string) *Publisher {
	return &Publisher{client: client, prefix: KeyPrefix(base)}
}

func (p *Publisher) key(kind, id string) string {
	return p.prefix + kind + "/" + id
}

func (p *Publisher) put(ctx context.Context, key string, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = p.client.UpdateIfDifferent(ctx, key, data)
	return err
}

func (p *Publisher) PutPort(ctx context.Context, port Port) error {
	return p.put(ctx, p.key(kindPorts, port.Key()), port)
}

func (p *Publisher) DeletePort(ctx context.Context, node mactable.NodeID, portID string) error {
	return p.client.Delete(ctx, p.key(kindPorts, PortKey(node, portID)))
}

func (p *Publisher) PutLink(ctx context.Context, link Link) error {
	return p.put(ctx, p.key(kindLinks, link.Key()), link)
}

func (p *Publisher) DeleteLink(ctx context.Context, srcNode mactable.NodeID, srcPort string) error {
	return p.client.Delete(ctx, p.key(kindLinks, PortKey(srcNode, srcPort)))
}

func (p *Publisher) PutMapping(ctx context.Context, m Mapping) error {
	if err := m.VLAN.Validate(); err != nil {
		return err
	}
	return p.put(ctx, p.key(kindMappings, string(m.Path)), m)
}

func (p *Publisher) DeleteMapping(ctx context.Context, mapPath mactable.MapPath) error {
	return p.client.Delete(ctx, p.key(kindMappings, string(mapPath)))
}
