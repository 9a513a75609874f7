// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cilium/hive/hivetest"
	"github.com/cilium/stream"
	"github.com/stretchr/testify/require"

	"github.com/cilium/vbridge/pkg/lock"
	"github.com/cilium/vbridge/pkg/types"
)

type fakeStore struct {
	mu      lock.Mutex
	records map[string]map[Key]*Record
	writes  int
	deletes int
	fail    error
	onWrite func(rec *Record)
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]map[Key]*Record{}}
}

func (s *fakeStore) WriteBack(_ context.Context, scope string, rec *Record) error {
	s.mu.Lock()
	onWrite := s.onWrite
	if s.fail != nil {
		s.mu.Unlock()
		return s.fail
	}
	if s.records[scope] == nil {
		s.records[scope] = map[Key]*Record{}
	}
	s.records[scope][rec.Key()] = rec.DeepCopy()
	s.writes++
	s.mu.Unlock()

	if onWrite != nil {
		onWrite(rec)
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, scope string, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	delete(s.records[scope], key)
	s.deletes++
	return nil
}

func (s *fakeStore) ReadAll(_ context.Context, scope string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var out []*Record
	for _, rec := range s.records[scope] {
		out = append(out, rec.DeepCopy())
	}
	return out, nil
}

func (s *fakeStore) get(scope string, key Key) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[scope][key]
	return rec, ok
}

func (s *fakeStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func newTestTable(t *testing.T, store Store, prober Prober) *Table {
	cfg := defaultConfig
	cfg.MACTableShards = 4
	cfg.MACTableProbeRate = 0
	tbl := NewTable(hivetest.Logger(t), cfg, store, prober, NewMetrics())
	t.Cleanup(tbl.Close)
	return tbl
}

func learn(t *testing.T, tbl *Table, mac types.MACAddr, port SwitchPort, vlan VlanID, path MapPath, ip string) LearnResult {
	t.Helper()
	req := LearnRequest{MAC: mac, VLAN: vlan, Port: port, MapPath: path}
	if ip != "" {
		req.IP = netip.MustParseAddr(ip)
	}
	res, err := tbl.Learn(req)
	require.NoError(t, err)
	return res
}

func keys(recs []*Record) []Key {
	out := make([]Key, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Key())
	}
	slices.SortFunc(out, func(a, b Key) int {
		if c := slices.Compare(a.MAC[:], b.MAC[:]); c != 0 {
			return c
		}
		return int(a.VLAN) - int(b.VLAN)
	})
	return out
}

func TestLearnOutcomes(t *testing.T) {
	tbl := newTestTable(t, nil, nil)

	res := learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	require.Equal(t, OutcomeLearned, res.Outcome)
	require.Zero(t, res.Entry.IPProbe)
	require.Empty(t, res.Entry.IPAddresses)

	res = learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	require.Equal(t, OutcomeRefreshed, res.Outcome)

	res = learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.1")
	require.Equal(t, OutcomeIPAdded, res.Outcome)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.1")}, res.Entry.IPAddresses)

	res = learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.1")
	require.Equal(t, OutcomeRefreshed, res.Outcome)

	res = learn(t, tbl, mac1, sw1p3, 10, vmapPath, "")
	require.Equal(t, OutcomeMoved, res.Outcome, "a different mapping is a move")
	require.Equal(t, ifPath, res.Previous.Path)
	require.Empty(t, res.Entry.IPAddresses, "a moved host starts from scratch")

	rec, ok := tbl.Lookup(mac1, 10)
	require.True(t, ok)
	require.Equal(t, vmapPath, rec.Path)

	_, ok = tbl.Lookup(mac1, 20)
	require.False(t, ok)
	require.Equal(t, 1, tbl.Len())
}

func TestLearnMovedHostResetsProbes(t *testing.T) {
	prober := &fakeProber{}
	tbl := newTestTable(t, nil, prober)

	res := learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	require.Equal(t, OutcomeLearned, res.Outcome)
	require.Zero(t, res.Entry.IPProbe)

	sent, err := tbl.ProbeSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	rec, _ := tbl.Lookup(mac1, 10)
	require.Equal(t, 1, rec.IPProbe)

	res = learn(t, tbl, mac1, sw1p7, 10, ifPath, "")
	require.Equal(t, OutcomeMoved, res.Outcome)
	require.Equal(t, sw1p3, res.Previous.Port())
	require.Equal(t, sw1p7, res.Entry.Port())
	require.Zero(t, res.Entry.IPProbe)

	rec, ok := tbl.Lookup(mac1, 10)
	require.True(t, ok)
	require.Equal(t, "7", rec.PortID)
	require.Zero(t, rec.IPProbe)
	require.Equal(t, 1, tbl.Len())
}

func TestLearnValidation(t *testing.T) {
	tbl := newTestTable(t, nil, nil)

	_, err := tbl.Learn(LearnRequest{MAC: types.MustParseMACAddr("01:00:5e:00:00:01"), Port: sw1p3, MapPath: ifPath})
	require.ErrorIs(t, err, ErrInvalidMAC)
	_, err = tbl.Learn(LearnRequest{MAC: types.MACAddr{}, Port: sw1p3, MapPath: ifPath})
	require.ErrorIs(t, err, ErrInvalidMAC)
	_, err = tbl.Learn(LearnRequest{MAC: mac1, VLAN: 4096, Port: sw1p3, MapPath: ifPath})
	require.ErrorIs(t, err, ErrInvalidVLAN)
	_, err = tbl.Learn(LearnRequest{MAC: mac1, Port: sw1p3})
	require.ErrorIs(t, err, ErrMissingMapPath)

	require.Zero(t, tbl.Len())
}

func TestLearnAddsIPToUnwrittenEntry(t *testing.T) {
	store := newFakeStore()
	tbl := newTestTable(t, store, nil)

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.1")
	res := learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.2")
	require.Equal(t, OutcomeIPAdded, res.Outcome)

	stats, err := tbl.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Written)

	rec, ok := store.get("vbr0", Key{MAC: mac1, VLAN: 10})
	require.True(t, ok)
	require.Equal(t, []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
	}, rec.IPAddresses)
}

func TestLearnUniqueness(t *testing.T) {
	tbl := newTestTable(t, nil, nil)

	var macs []types.MACAddr
	for i := range 32 {
		macs = append(macs, types.MACAddr{0x02, 0, 0, 0, 0, byte(i)})
	}
	ports := []SwitchPort{sw1p3, sw1p4, sw1p7, sw2p3}

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				mac := macs[(w*7+i)%len(macs)]
				_, err := tbl.Learn(LearnRequest{
					MAC:     mac,
					VLAN:    VlanID(10 * (1 + i%2)),
					Port:    ports[(w+i)%len(ports)],
					MapPath: ifPath,
				})
				if err != nil {
					panic(err)
				}
			}
		}()
	}
	wg.Wait()

	all, err := tbl.List(AllFilter{})
	require.NoError(t, err)
	seen := map[Key]struct{}{}
	for _, rec := range all {
		_, dup := seen[rec.Key()]
		require.False(t, dup, "duplicate entry for %s", rec.Key())
		seen[rec.Key()] = struct{}{}
	}
	require.Len(t, all, 64)
	require.Equal(t, 64, tbl.Len())
}

func populate(t *testing.T, tbl *Table) {
	learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	learn(t, tbl, mac2, sw1p3, 20, vmapPath, "")
	learn(t, tbl, mac3, sw1p4, 10, ifPath, "")
}

func TestEvictPortFilter(t *testing.T) {
	tbl := newTestTable(t, nil, nil)
	populate(t, tbl)

	removed, err := tbl.Evict(NewPortFilter("sw1", "3"))
	require.NoError(t, err)
	require.Equal(t, []Key{{MAC: mac1, VLAN: 10}, {MAC: mac2, VLAN: 20}}, keys(removed))

	left, err := tbl.List(AllFilter{})
	require.NoError(t, err)
	require.Equal(t, []Key{{MAC: mac3, VLAN: 10}}, keys(left))
}

func TestEvictSelectorFailure(t *testing.T) {
	tbl := newTestTable(t, nil, nil)
	populate(t, tbl)

	errLookup := errors.New("no such port")
	sel := PortSelectorFunc(func(p SwitchPort) (bool, error) {
		if p.PortID == "4" {
			return false, errLookup
		}
		return true, nil
	})

	removed, err := tbl.OnLinkChanged(sel)
	require.ErrorIs(t, err, errLookup)
	require.Equal(t, []Key{{MAC: mac1, VLAN: 10}, {MAC: mac2, VLAN: 20}}, keys(removed))

	_, ok := tbl.Lookup(mac3, 10)
	require.True(t, ok, "entries whose location cannot be resolved are kept")
}

func TestTopologyHandlers(t *testing.T) {
	tests := []struct {
		name    string
		handle  func(TopologyHandler) ([]*Record, error)
		removed []Key
	}{
		{
			name:    "node removed",
			handle:  func(h TopologyHandler) ([]*Record, error) { return h.OnNodeRemoved("sw1") },
			removed: []Key{{MAC: mac1, VLAN: 10}, {MAC: mac2, VLAN: 20}, {MAC: mac3, VLAN: 10}},
		},
		{
			name:    "other node removed",
			handle:  func(h TopologyHandler) ([]*Record, error) { return h.OnNodeRemoved("sw2") },
			removed: []Key{},
		},
		{
			name:    "port down",
			handle:  func(h TopologyHandler) ([]*Record, error) { return h.OnPortDown("sw1", "4") },
			removed: []Key{{MAC: mac3, VLAN: 10}},
		},
		{
			name:    "port vlan unmapped",
			handle:  func(h TopologyHandler) ([]*Record, error) { return h.OnPortVlanUnmapped("sw1", "3", 20) },
			removed: []Key{{MAC: mac2, VLAN: 20}},
		},
		{
			name:    "vlan map removed",
			handle:  func(h TopologyHandler) ([]*Record, error) { return h.OnVlanMapRemoved(vmapPath) },
			removed: []Key{{MAC: mac2, VLAN: 20}},
		},
		{
			name:    "interface removed",
			handle:  func(h TopologyHandler) ([]*Record, error) { return h.OnVlanMapRemoved(ifPath) },
			removed: []Key{{MAC: mac1, VLAN: 10}, {MAC: mac3, VLAN: 10}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := newTestTable(t, nil, nil)
			populate(t, tbl)
			removed, err := tt.handle(tbl)
			require.NoError(t, err)
			require.Equal(t, tt.removed, keys(removed))
			require.Equal(t, 3-len(tt.removed), tbl.Len())
		})
	}
}

func TestRemoveAll(t *testing.T) {
	store := newFakeStore()
	tbl := newTestTable(t, store, nil)
	populate(t, tbl)

	_, err := tbl.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, tbl.RemoveAll(), 3)
	require.Zero(t, tbl.Len())

	stats, err := tbl.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, FlushStats{Deleted: 3}, stats)
	require.Empty(t, store.records["vbr0"])
}

func TestListFilter(t *testing.T) {
	tbl := newTestTable(t, nil, nil)
	populate(t, tbl)

	recs, err := tbl.List(NewPortVlanFilter("sw1", "3", 10))
	require.NoError(t, err)
	require.Equal(t, []Key{{MAC: mac1, VLAN: 10}}, keys(recs))

	errLookup := errors.New("lookup failed")
	recs, err = tbl.List(NewExtendedPortFilter(PortSelectorFunc(func(p SwitchPort) (bool, error) {
		if p.PortID == "3" {
			return false, errLookup
		}
		return true, nil
	})))
	require.ErrorIs(t, err, errLookup)
	require.Equal(t, []Key{{MAC: mac3, VLAN: 10}}, keys(recs))
	require.Equal(t, 3, tbl.Len(), "listing never removes entries")
}

func TestEvictConcurrentWithList(t *testing.T) {
	tbl := newTestTable(t, nil, nil)

	// Every host lives on both VLANs of the same port, so any consistent
	// snapshot holds both or neither.
	for i := range 64 {
		mac := types.MACAddr{0x02, 0, 0, 0, 1, byte(i)}
		port := SwitchPort{Node: "sw1", PortID: fmt.Sprint(i)}
		learn(t, tbl, mac, port, 10, ifPath, "")
		learn(t, tbl, mac, port, 20, ifPath, "")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 64 {
			_, err := tbl.OnPortDown("sw1", fmt.Sprint(i))
			if err != nil {
				panic(err)
			}
		}
	}()

	for {
		recs, err := tbl.List(AllFilter{})
		require.NoError(t, err)
		perPort := map[string]int{}
		for _, rec := range recs {
			perPort[rec.PortID]++
		}
		for port, n := range perPort {
			require.Equal(t, 2, n, "port %s half evicted", port)
		}
		select {
		case <-done:
			require.Zero(t, tbl.Len())
			return
		default:
		}
	}
}

func TestEvents(t *testing.T) {
	tbl := newTestTable(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := stream.ToChannel(ctx, tbl.Events(), stream.WithBufferSize(16))

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.1")
	learn(t, tbl, mac1, sw1p7, 10, ifPath, "")
	_, err := tbl.OnPortDown("sw1", "7")
	require.NoError(t, err)

	next := func() Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for event")
		}
		return Event{}
	}

	learned := next()
	require.Equal(t, EventLearned, learned.Kind)
	require.Equal(t, sw1p3, learned.Entry.Port())

	moved := next()
	require.Equal(t, EventMoved, moved.Kind)
	require.Equal(t, sw1p3, moved.Previous.Port())
	require.Equal(t, sw1p7, moved.Entry.Port())

	removed := next()
	require.Equal(t, EventRemoved, removed.Kind)
	require.Equal(t, "port-down", removed.Reason)
	require.Equal(t, sw1p7, removed.Entry.Port())

	require.NotEqual(t, learned.ID, moved.ID)
	require.NotEqual(t, moved.ID, removed.ID)
}

func TestFlushWriteAvoidance(t *testing.T) {
	store := newFakeStore()
	tbl := newTestTable(t, store, nil)
	ctx := context.Background()

	populate(t, tbl)
	stats, err := tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{Written: 3}, stats)

	// Flushed entries are clean until mutated.
	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{}, stats)

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{}, stats, "a refresh does not need a write")

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.1")
	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{Written: 1}, stats)

	rec, ok := store.get("vbr0", Key{MAC: mac1, VLAN: 10})
	require.True(t, ok)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.1")}, rec.IPAddresses)

	_, err = tbl.OnPortDown("sw1", "4")
	require.NoError(t, err)
	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{Deleted: 1}, stats)
	_, ok = store.get("vbr0", Key{MAC: mac3, VLAN: 10})
	require.False(t, ok)

	require.Equal(t, 4, store.writes)
	require.Equal(t, 1, store.deletes)
}

func TestFlushFailureKeepsEntriesDirty(t *testing.T) {
	store := newFakeStore()
	tbl := newTestTable(t, store, nil)
	ctx := context.Background()

	populate(t, tbl)
	_, err := tbl.OnPortDown("sw1", "4")
	require.NoError(t, err)

	errStore := errors.New("store unavailable")
	store.setFail(errStore)
	stats, err := tbl.Flush(ctx)
	require.ErrorIs(t, err, errStore)
	require.Equal(t, FlushStats{Failed: 3}, stats)

	store.setFail(nil)
	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{Written: 2, Deleted: 1}, stats)

	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{}, stats)
}

func TestFlushConcurrentMutation(t *testing.T) {
	store := newFakeStore()
	tbl := newTestTable(t, store, nil)
	ctx := context.Background()

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.1")
	_, err := tbl.Flush(ctx)
	require.NoError(t, err)

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.2")

	// Another address shows up while the write is in flight.
	var once sync.Once
	store.onWrite = func(*Record) {
		once.Do(func() { learn(t, tbl, mac1, sw1p3, 10, ifPath, "10.0.0.3") })
	}
	stats, err := tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Written)

	rec, _ := store.get("vbr0", Key{MAC: mac1, VLAN: 10})
	require.Len(t, rec.IPAddresses, 2)

	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{Written: 1}, stats, "the entry mutated during the write stays dirty")
	rec, _ = store.get("vbr0", Key{MAC: mac1, VLAN: 10})
	require.Len(t, rec.IPAddresses, 3)

	stats, err = tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{}, stats)
}

func TestFlushMovedDuringWrite(t *testing.T) {
	store := newFakeStore()
	tbl := newTestTable(t, store, nil)
	ctx := context.Background()

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	var once sync.Once
	store.onWrite = func(*Record) {
		once.Do(func() { learn(t, tbl, mac1, sw1p7, 10, ifPath, "") })
	}
	_, err := tbl.Flush(ctx)
	require.NoError(t, err)

	stats, err := tbl.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, FlushStats{Written: 1}, stats)
	rec, _ := store.get("vbr0", Key{MAC: mac1, VLAN: 10})
	require.Equal(t, "7", rec.PortID)
}

func TestAge(t *testing.T) {
	store := newFakeStore()
	tbl := newTestTable(t, store, nil)

	learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	learn(t, tbl, mac2, sw1p3, 20, ifPath, "")

	require.Empty(t, tbl.Age(), "freshly learned entries survive one sweep")

	require.True(t, tbl.MarkUsed(mac1, 10))
	require.False(t, tbl.MarkUsed(mac3, 10))

	removed := tbl.Age()
	require.Equal(t, []Key{{MAC: mac2, VLAN: 20}}, keys(removed))

	// Observing the host again protects it.
	learn(t, tbl, mac1, sw1p3, 10, ifPath, "")
	require.Empty(t, tbl.Age())
	removed = tbl.Age()
	require.Equal(t, []Key{{MAC: mac1, VLAN: 10}}, keys(removed))
	require.Zero(t, tbl.Len())

	stats, err := tbl.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Deleted)
}

func TestRestore(t *testing.T) {
	store := newFakeStore()
	store.records["vbr0"] = map[Key]*Record{
		{MAC: mac1, VLAN: 10}: {MAC: mac1, Node: "sw1", PortID: "3", VLAN: 10, Path: ifPath, IPProbe: 3, Used: true},
		{MAC: mac2, VLAN: 20}: {MAC: mac2, Node: "sw1", PortID: "3", VLAN: 20, Path: ifPath,
			IPAddresses: []netip.Addr{netip.MustParseAddr("10.0.0.2")}},
	}
	store.records["other"] = map[Key]*Record{
		{MAC: mac3, VLAN: 10}: {MAC: mac3, Node: "sw1", PortID: "4", VLAN: 10, Path: ifPath},
	}
	tbl := newTestTable(t, store, nil)

	// Learned before the restore completed, takes precedence.
	learn(t, tbl, mac2, sw1p7, 20, ifPath, "")

	n, err := tbl.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, tbl.Len())

	rec, ok := tbl.Lookup(mac1, 10)
	require.True(t, ok)
	require.Equal(t, 3, rec.IPProbe)
	rec, _ = tbl.Lookup(mac2, 20)
	require.Equal(t, "7", rec.PortID)

	stats, err := tbl.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, FlushStats{Written: 1}, stats, "restored entries are clean")

	store.setFail(errors.New("boom"))
	_, err = tbl.Restore(context.Background())
	require.Error(t, err)
}

func TestShardDistribution(t *testing.T) {
	tbl := newTestTable(t, nil, nil)
	used := map[*shard]struct{}{}
	for i := range 64 {
		used[tbl.shardFor(Key{MAC: types.MACAddr{0x02, 0, 0, 0, 0, byte(i)}, VLAN: 10})] = struct{}{}
	}
	require.Len(t, used, len(tbl.shards))
	require.ElementsMatch(t, tbl.shards, slices.Collect(maps.Keys(used)))
}
