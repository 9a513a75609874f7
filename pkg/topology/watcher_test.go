// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package topology

import (
	"context"
	"testing"
	"time"

	"github.com/cilium/hive/cell"
	"github.com/cilium/hive/hivetest"
	"github.com/stretchr/testify/require"

	"github.com/cilium/vbridge/pkg/mactable"
	"github.com/cilium/vbridge/pkg/types"
)

func (tt *testTables) delete(t *testing.T, objs ...any) {
	t.Helper()
	wtxn := tt.db.WriteTxn(tt.ports, tt.links, tt.mappings)
	defer wtxn.Abort()
	for _, obj := range objs {
		var err error
		switch o := obj.(type) {
		case Port:
			_, _, err = tt.ports.Delete(wtxn, o)
		case Link:
			_, _, err = tt.links.Delete(wtxn, o)
		case Mapping:
			_, _, err = tt.mappings.Delete(wtxn, o)
		}
		require.NoError(t, err)
	}
	wtxn.Commit()
}

func newTestWatcher(t *testing.T, tt *testTables, handler mactable.TopologyHandler) *watcher {
	w := newWatcher(hivetest.Logger(t), tt.db, tt.ports, tt.links, tt.mappings, tt.topo, handler)
	require.NoError(t, w.init())
	return w
}

func (h *fakeHandler) take() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	calls := h.calls
	h.calls = nil
	return calls
}

func TestWatcherPorts(t *testing.T) {
	tt := newTestTables(t)
	handler := &fakeHandler{}
	w := newTestWatcher(t, tt, handler)

	tt.insert(t, port(sw1p3, true), port(sw1p4, true), port(sw2p1, false))
	_, err := w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"port-down sw2/1"}, handler.take(), "port first seen down")

	tt.insert(t, port(sw1p3, false))
	_, err = w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"port-down sw1/3"}, handler.take())

	// Still down, nothing to do.
	tt.insert(t, Port{Node: "sw1", PortID: "3", Name: "renamed", Up: false})
	_, err = w.process()
	require.NoError(t, err)
	require.Empty(t, handler.take())

	tt.insert(t, port(sw1p3, true))
	_, err = w.process()
	require.NoError(t, err)
	require.Empty(t, handler.take())

	tt.delete(t, port(sw1p4, true))
	_, err = w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"port-down sw1/4"}, handler.take())

	tt.delete(t, port(sw2p1, false))
	_, err = w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"port-down sw2/1", "node-removed sw2"}, handler.take())
}

func TestWatcherNodeRemovedOnce(t *testing.T) {
	tt := newTestTables(t)
	handler := &fakeHandler{}
	w := newTestWatcher(t, tt, handler)

	tt.insert(t, port(sw1p3, true), port(sw1p4, true))
	_, err := w.process()
	require.NoError(t, err)

	tt.delete(t, port(sw1p3, true), port(sw1p4, true))
	_, err = w.process()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"port-down sw1/3", "port-down sw1/4", "node-removed sw1"}, handler.take())
}

func TestWatcherLinks(t *testing.T) {
	tt := newTestTables(t)
	handler := &fakeHandler{}
	w := newTestWatcher(t, tt, handler)

	tt.insert(t, link(sw1p4, sw2p1))
	_, err := w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"link-changed"}, handler.take())

	sel := handler.lastSelector()
	for _, tc := range []struct {
		port     mactable.SwitchPort
		selected bool
	}{
		{sw1p3, false},
		{sw1p4, true},
		{sw2p1, true},
		{sw2p2, false},
	} {
		ok, err := sel.SelectPort(tc.port)
		require.NoError(t, err)
		require.Equal(t, tc.selected, ok, tc.port.String())
	}

	tt.delete(t, link(sw1p4, sw2p1))
	_, err = w.process()
	require.NoError(t, err)
	require.Empty(t, handler.take(), "removed links do not invalidate entries")

	// The selector follows the links table rather than the added links.
	ok, err := sel.SelectPort(sw1p4)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWatcherMappings(t *testing.T) {
	tt := newTestTables(t)
	handler := &fakeHandler{}
	w := newTestWatcher(t, tt, handler)

	ifMap := Mapping{Path: ifPath, Node: "sw1", PortID: "3", VLAN: 10}
	vlanMap := Mapping{Path: vmapAny, VLAN: 10}
	tt.insert(t, ifMap, vlanMap)
	_, err := w.process()
	require.NoError(t, err)
	require.Empty(t, handler.take())

	// Unchanged mapping written again.
	tt.insert(t, ifMap)
	_, err = w.process()
	require.NoError(t, err)
	require.Empty(t, handler.take())

	moved := ifMap
	moved.VLAN = 20
	tt.insert(t, moved)
	_, err = w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"port-vlan-unmapped sw1/3 10"}, handler.take())

	tt.delete(t, moved)
	_, err = w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"port-vlan-unmapped sw1/3 20"}, handler.take())

	tt.delete(t, vlanMap)
	_, err = w.process()
	require.NoError(t, err)
	require.Equal(t, []string{"map-removed " + vmapAny.String()}, handler.take())
}

func TestWatcherEvictsTableEntries(t *testing.T) {
	tt := newTestTables(t)
	tbl := mactable.NewTable(hivetest.Logger(t), mactable.Config{MACTableBridge: "vbr0", MACTableShards: 2}, nil, nil, nil)
	t.Cleanup(tbl.Close)
	w := newTestWatcher(t, tt, tbl)

	tt.insert(t, port(sw1p3, true), port(sw1p4, true), port(sw2p1, true), Mapping{Path: vmapAny, VLAN: 10})
	_, err := w.process()
	require.NoError(t, err)

	for i, p := range []mactable.SwitchPort{sw1p3, sw1p4, sw2p1} {
		_, err := tbl.Learn(mactable.LearnRequest{
			MAC:     types.MACAddr{0x02, 0, 0, 0, 0, byte(i + 1)},
			VLAN:    10,
			Port:    p,
			MapPath: vmapAny,
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, tbl.Len())

	tt.insert(t, link(sw1p4, sw2p1))
	_, err = w.process()
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	_, found := tbl.Lookup(types.MACAddr{0x02, 0, 0, 0, 0, 1}, 10)
	require.True(t, found)

	tt.delete(t, Mapping{Path: vmapAny})
	_, err = w.process()
	require.NoError(t, err)
	require.Zero(t, tbl.Len())
}

func TestWatcherWaitsForSync(t *testing.T) {
	tt := newTestTables(t)
	tbl := mactable.NewTable(hivetest.Logger(t), mactable.Config{MACTableBridge: "vbr0", MACTableShards: 2}, nil, nil, nil)
	t.Cleanup(tbl.Close)

	wtxn := tt.db.WriteTxn(tt.links)
	done := tt.links.RegisterInitializer(wtxn, "test")
	wtxn.Commit()

	tt.insert(t, port(sw1p3, true), port(sw1p4, true), Mapping{Path: vmapAny, VLAN: 10})
	_, err := tbl.Learn(mactable.LearnRequest{MAC: types.MACAddr{0x02, 0, 0, 0, 0, 1}, VLAN: 10, Port: sw1p4, MapPath: vmapAny})
	require.NoError(t, err)

	w := newWatcher(hivetest.Logger(t), tt.db, tt.ports, tt.links, tt.mappings, tt.topo, tbl)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error)
	go func() {
		health, _ := cell.NewSimpleHealth()
		stopped <- w.run(ctx, health)
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-stopped)
	})

	// A link listed before the topology is synchronized.
	tt.insert(t, link(sw1p4, sw2p1))
	require.Never(t, func() bool { return tbl.Len() == 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"entries are kept until the topology is synchronized")

	wtxn = tt.db.WriteTxn(tt.links)
	done(wtxn)
	wtxn.Commit()
	require.Eventually(t, func() bool { return tbl.Len() == 0 }, 5*time.Second, 10*time.Millisecond,
		"entry on the inter-switch port is evicted once synchronized")
}
