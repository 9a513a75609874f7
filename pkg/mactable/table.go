// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/netip"

	"github.com/cilium/stream"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cilium/vbridge/pkg/lock"
	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/types"
)

// Outcome describes what a learn request did to the table.
type Outcome string

const (
	// OutcomeLearned means a new entry was created.
	OutcomeLearned Outcome = "learned"
	// OutcomeRefreshed means the entry was known at the same location.
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeMoved means the entry was replaced by one at a new location.
	OutcomeMoved Outcome = "moved"
	// OutcomeIPAdded means a new IP address was added to a known entry.
	OutcomeIPAdded Outcome = "ip-added"
)

// LearnRequest is a source MAC address observed on a switch port.
type LearnRequest struct {
	MAC     types.MACAddr
	VLAN    VlanID
	Port    SwitchPort
	MapPath MapPath

	// IP is the sender address carried by the frame, if any.
	IP netip.Addr
}

func (r LearnRequest) validate() error {
	if err := r.VLAN.Validate(); err != nil {
		return err
	}
	if !r.MAC.IsUnicast() {
		return fmt.Errorf("%w: %s", ErrInvalidMAC, r.MAC)
	}
	if r.MapPath == "" {
		return ErrMissingMapPath
	}
	return nil
}

// LearnResult reports the state of the entry after a learn request.
type LearnResult struct {
	Outcome Outcome
	Entry   *Record

	// Previous is the replaced entry if the host moved.
	Previous *Record
}

// EventKind is the type of a table event.
type EventKind int

const (
	EventLearned EventKind = iota
	EventMoved
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventLearned:
		return "learned"
	case EventMoved:
		return "moved"
	case EventRemoved:
		return "removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is emitted when a host appears, moves or disappears. Entry is the
// state at the time of the change.
type Event struct {
	ID       uuid.UUID
	Kind     EventKind
	Entry    *Record
	Previous *Record
	Reason   string
}

// TopologyHandler receives topology and configuration changes which
// invalidate entries. Each method returns the removed entries.
type TopologyHandler interface {
	OnNodeRemoved(node NodeID) ([]*Record, error)
	OnPortDown(node NodeID, portID string) ([]*Record, error)
	OnPortVlanUnmapped(node NodeID, portID string, vlan VlanID) ([]*Record, error)
	OnLinkChanged(sel PortSelector) ([]*Record, error)
	OnVlanMapRemoved(path MapPath) ([]*Record, error)
}

type shard struct {
	mu         *lock.SortableMutex
	entries    map[Key]Entry
	tombstones map[Key]struct{}
}

// Table is the MAC address table of a bridge. It is safe for concurrent use.
// Requests for different keys proceed in parallel. Requests for one key are
// applied in the order in which they acquire the key's shard.
type Table struct {
	logger  *slog.Logger
	scope   string
	store   Store
	prober  Prober
	metrics *Metrics

	probeLimiter *rate.Limiter
	probeWorkers int

	shards []*shard

	// flushMu serializes flushes.
	flushMu lock.Mutex

	events   stream.Observable[Event]
	emit     func(Event)
	complete func(error)
}

// NewTable returns an empty table. prober may be nil, in which case probe
// sweeps are no-ops.
func NewTable(logger *slog.Logger, cfg Config, store Store, prober Prober, m *Metrics) *Table {
	if store == nil {
		store = nopStore{}
	}
	if m == nil {
		m = NewMetrics()
	}
	nshards := max(cfg.MACTableShards, 1)

	limit, burst := rate.Inf, 1
	if cfg.MACTableProbeRate > 0 {
		limit, burst = rate.Limit(cfg.MACTableProbeRate), cfg.MACTableProbeRate
	}

	t := &Table{
		logger:       logger.With(logfields.Bridge, cfg.MACTableBridge),
		scope:        cfg.MACTableBridge,
		store:        store,
		prober:       prober,
		metrics:      m,
		probeLimiter: rate.NewLimiter(limit, burst),
		probeWorkers: max(cfg.MACTableProbeWorkers, 1),
		shards:       make([]*shard, nshards),
	}
	for i := range t.shards {
		t.shards[i] = &shard{
			mu:         lock.NewSortableMutex(),
			entries:    map[Key]Entry{},
			tombstones: map[Key]struct{}{},
		}
	}
	t.events, t.emit, t.complete = stream.Multicast[Event]()
	return t
}

func (t *Table) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write(key.MAC[:])
	h.Write([]byte{byte(key.VLAN >> 8), byte(key.VLAN)})
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

func (t *Table) allShards() lock.SortableMutexes {
	mus := make(lock.SortableMutexes, len(t.shards))
	for i, s := range t.shards {
		mus[i] = s.mu
	}
	return mus
}

func snapshot(e Entry) *Record {
	return e.base().record(e.IPAddresses())
}

// Learn applies an observation of a source MAC address. An unknown key is
// learned as a new entry. A known key observed at another port or through
// another mapping is replaced. Otherwise the entry is marked as used and the
// IP address of the request, if new, is added to it.
func (t *Table) Learn(req LearnRequest) (LearnResult, error) {
	if err := req.validate(); err != nil {
		t.metrics.LearnOutcomes.WithLabelValues("invalid").Inc()
		return LearnResult{}, err
	}

	key := Key{MAC: req.MAC, VLAN: req.VLAN}
	s := t.shardFor(key)

	s.mu.Lock()
	res, err := s.learn(key, req)
	s.mu.Unlock()

	if err != nil {
		t.logger.Error("Failed to learn MAC address",
			logfields.MACAddr, req.MAC,
			logfields.VLAN, req.VLAN,
			logfields.Error, err,
		)
		return LearnResult{}, err
	}

	t.metrics.LearnOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	switch res.Outcome {
	case OutcomeLearned:
		t.metrics.Entries.Inc()
		t.emit(Event{ID: uuid.New(), Kind: EventLearned, Entry: res.Entry})
	case OutcomeMoved:
		t.metrics.Evictions.WithLabelValues(reasonMoved).Inc()
		ev := Event{ID: uuid.New(), Kind: EventMoved, Entry: res.Entry, Previous: res.Previous}
		t.logger.Debug("Host moved",
			logfields.EventUUID, ev.ID,
			logfields.MACAddr, req.MAC,
			logfields.VLAN, req.VLAN,
			logfields.OldPort, res.Previous.Port(),
			logfields.Port, req.Port,
			logfields.MapPath, req.MapPath,
		)
		t.emit(ev)
	}
	return res, nil
}

func (s *shard) learn(key Key, req LearnRequest) (LearnResult, error) {
	existing, found := s.entries[key]
	switch {
	case !found:
		e := NewLearnedEntry(req.MAC, req.Port, req.VLAN, req.MapPath, req.IP)
		s.entries[key] = e
		delete(s.tombstones, key)
		return LearnResult{Outcome: OutcomeLearned, Entry: snapshot(e)}, nil

	case existing.HasMoved(req.Port, req.VLAN, req.MapPath):
		prev := snapshot(existing)
		e := NewLearnedEntry(req.MAC, req.Port, req.VLAN, req.MapPath, req.IP)
		s.entries[key] = e
		return LearnResult{Outcome: OutcomeMoved, Entry: snapshot(e), Previous: prev}, nil
	}

	existing.base().used = true
	if !req.IP.IsValid() || existing.hasIP(req.IP) {
		return LearnResult{Outcome: OutcomeRefreshed, Entry: snapshot(existing)}, nil
	}

	cur, ok := existing.(*CurrentEntry)
	if !ok {
		cur = promote(existing.(*NewEntry))
		s.entries[key] = cur
	}
	if err := cur.AddIPAddress(req.IP); err != nil {
		return LearnResult{}, err
	}
	return LearnResult{Outcome: OutcomeIPAdded, Entry: snapshot(cur)}, nil
}

// Lookup returns the entry of mac on vlan.
func (t *Table) Lookup(mac types.MACAddr, vlan VlanID) (*Record, bool) {
	key := Key{MAC: mac, VLAN: vlan}
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return snapshot(e), true
}

// MarkUsed marks the entry of mac on vlan as in use, which protects it from
// the next aging sweep. It returns false if there is no such entry.
func (t *Table) MarkUsed(mac types.MACAddr, vlan VlanID) bool {
	key := Key{MAC: mac, VLAN: vlan}
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if ok {
		e.base().used = true
	}
	return ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	mus := t.allShards()
	mus.Lock()
	defer mus.Unlock()
	n := 0
	for _, s := range t.shards {
		n += len(s.entries)
	}
	return n
}

// List returns the entries accepted by f. The entries are taken from a
// consistent snapshot of the whole table. Entries for which f fails are
// left out and the failures are returned joined, together with the
// accepted entries.
func (t *Table) List(f Filter) ([]*Record, error) {
	mus := t.allShards()
	mus.Lock()
	var all []*Record
	for _, s := range t.shards {
		for _, e := range s.entries {
			all = append(all, snapshot(e))
		}
	}
	mus.Unlock()

	var (
		out  []*Record
		errs []error
	)
	for _, rec := range all {
		ok, err := f.Accept(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, errors.Join(errs...)
}

type evictCandidate struct {
	shard *shard
	key   Key
	entry Entry
	rec   *Record
}

// Evict removes the entries accepted by f. Removed entries are deleted from
// the store on the next flush. Entries for which f fails are kept and the
// failures are returned joined.
func (t *Table) Evict(f Filter) ([]*Record, error) {
	return t.evict(f, reasonFilter)
}

func (t *Table) evict(f Filter, reason string) ([]*Record, error) {
	// The filter may consult external state, so it runs without holding
	// shard locks. An entry replaced in the meantime is not removed.
	var candidates []evictCandidate
	for _, s := range t.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			candidates = append(candidates, evictCandidate{shard: s, key: k, entry: e, rec: snapshot(e)})
		}
		s.mu.Unlock()
	}

	var (
		selected []evictCandidate
		errs     []error
	)
	for _, c := range candidates {
		ok, err := f.Accept(c.rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			selected = append(selected, c)
		}
	}

	// Remove the whole selection at once so that a concurrent List sees
	// either all or none of it.
	touched := map[*shard]struct{}{}
	var mus lock.SortableMutexes
	for _, c := range selected {
		if _, ok := touched[c.shard]; !ok {
			touched[c.shard] = struct{}{}
			mus = append(mus, c.shard.mu)
		}
	}
	var removed []*Record
	mus.Lock()
	for _, c := range selected {
		s := c.shard
		if cur, ok := s.entries[c.key]; ok && cur == c.entry {
			delete(s.entries, c.key)
			s.tombstones[c.key] = struct{}{}
			removed = append(removed, c.rec)
		}
	}
	mus.Unlock()

	t.removed(removed, reason)
	if len(errs) > 0 {
		t.logger.Warn("Failed to evaluate location filter for some entries",
			logfields.Reason, reason,
			logfields.Count, len(errs),
			logfields.Error, errors.Join(errs...),
		)
	}
	return removed, errors.Join(errs...)
}

func (t *Table) removed(recs []*Record, reason string) {
	if len(recs) == 0 {
		return
	}
	t.metrics.Entries.Sub(float64(len(recs)))
	t.metrics.Evictions.WithLabelValues(reason).Add(float64(len(recs)))
	t.logger.Debug("Removed MAC table entries",
		logfields.Reason, reason,
		logfields.Count, len(recs),
	)
	for _, rec := range recs {
		t.emit(Event{ID: uuid.New(), Kind: EventRemoved, Entry: rec, Reason: reason})
	}
}

// OnNodeRemoved removes all entries learned on a switch.
func (t *Table) OnNodeRemoved(node NodeID) ([]*Record, error) {
	return t.evict(NewNodeFilter(node), "node-removed")
}

// OnPortDown removes all entries learned on a switch port.
func (t *Table) OnPortDown(node NodeID, portID string) ([]*Record, error) {
	return t.evict(NewPortFilter(node, portID), "port-down")
}

// OnPortVlanUnmapped removes the entries of one VLAN on a switch port.
func (t *Table) OnPortVlanUnmapped(node NodeID, portID string, vlan VlanID) ([]*Record, error) {
	return t.evict(NewPortVlanFilter(node, portID, vlan), "port-vlan-unmapped")
}

// OnLinkChanged removes the entries on ports selected by sel, typically the
// ports which became part of an inter-switch link.
func (t *Table) OnLinkChanged(sel PortSelector) ([]*Record, error) {
	return t.evict(NewExtendedPortFilter(sel), "link-changed")
}

// OnVlanMapRemoved removes the entries learned through a mapping.
func (t *Table) OnVlanMapRemoved(path MapPath) ([]*Record, error) {
	return t.evict(MapPathFilter{Path: path}, "map-removed")
}

// RemoveAll removes every entry.
func (t *Table) RemoveAll() []*Record {
	removed, _ := t.evict(AllFilter{}, "flush")
	return removed
}

// Events returns the stream of table events. Events are delivered
// synchronously; a slow observer delays table operations which emit.
func (t *Table) Events() stream.Observable[Event] {
	return t.events
}

// Close completes the event stream.
func (t *Table) Close() {
	t.complete(nil)
}

var _ TopologyHandler = &Table{}
