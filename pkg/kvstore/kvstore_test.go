// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/cilium/hive"
	"github.com/cilium/hive/cell"
	"github.com/cilium/hive/hivetest"
	"github.com/cilium/statedb"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) BackendOperations {
	var db *statedb.DB
	h := hive.New(
		statedb.Cell,
		cell.Invoke(func(d *statedb.DB) { db = d }),
	)
	log := hivetest.Logger(t)
	require.NoError(t, h.Start(log, context.Background()))
	t.Cleanup(func() { h.Stop(log, context.Background()) })

	client, err := NewInMemoryClient(db, "test")
	require.NoError(t, err)
	return client
}

func TestInMemoryClient(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	value, err := client.Get(ctx, "a/1")
	require.NoError(t, err)
	require.Nil(t, value)

	require.NoError(t, client.Update(ctx, "a/1", []byte("one")))
	value, err = client.Get(ctx, "a/1")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	created, err := client.CreateOnly(ctx, "a/1", []byte("uno"))
	require.NoError(t, err)
	require.False(t, created, "CreateOnly must not overwrite an existing key")

	created, err = client.CreateOnly(ctx, "a/2", []byte("two"))
	require.NoError(t, err)
	require.True(t, created)

	updated, err := client.UpdateIfDifferent(ctx, "a/2", []byte("two"))
	require.NoError(t, err)
	require.False(t, updated)
	updated, err = client.UpdateIfDifferent(ctx, "a/2", []byte("deux"))
	require.NoError(t, err)
	require.True(t, updated)

	require.NoError(t, client.Update(ctx, "b/1", []byte("other")))

	kvs, err := client.ListPrefix(ctx, "a/")
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	require.Equal(t, []byte("deux"), kvs["a/2"].Data)

	require.NoError(t, client.Delete(ctx, "a/1"))
	require.NoError(t, client.Delete(ctx, "a/1"), "deleting a missing key is not an error")

	require.NoError(t, client.DeletePrefix(ctx, "a/"))
	kvs, err = client.ListPrefix(ctx, "a/")
	require.NoError(t, err)
	require.Empty(t, kvs)

	kvs, err = client.ListPrefix(ctx, "b/")
	require.NoError(t, err)
	require.Len(t, kvs, 1)

	status, err := client.Status()
	require.NoError(t, err)
	require.Contains(t, status, "1 keys")
}

func nextEvent(t *testing.T, events EventChan) KeyValueEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events channel closed unexpectedly")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return KeyValueEvent{}
}

func TestInMemoryListAndWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t)

	require.NoError(t, client.Update(ctx, "p/existing", []byte("x")))
	require.NoError(t, client.Update(ctx, "q/ignored", []byte("y")))

	events := client.ListAndWatch(ctx, "p/")

	ev := nextEvent(t, events)
	require.Equal(t, EventTypeCreate, ev.Typ)
	require.Equal(t, "p/existing", ev.Key)
	require.Equal(t, EventTypeListDone, nextEvent(t, events).Typ)

	require.NoError(t, client.Update(ctx, "p/existing", []byte("z")))
	ev = nextEvent(t, events)
	require.Equal(t, EventTypeModify, ev.Typ)
	require.Equal(t, []byte("z"), ev.Value)

	require.NoError(t, client.Delete(ctx, "p/existing"))
	ev = nextEvent(t, events)
	require.Equal(t, EventTypeDelete, ev.Typ)
	require.Equal(t, "p/existing", ev.Key)

	// The watcher goroutine closes the channel once the context is done.
	cancel()
	for range events {
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Config{KVStore: InMemoryBackendName}.Validate())
	require.NoError(t, Config{KVStore: DisabledBackendName}.Validate())
	require.Error(t, Config{KVStore: "consul"}.Validate())
	require.Error(t, Config{KVStore: EtcdBackendName}.Validate())
	require.Error(t, Config{KVStore: EtcdBackendName, KVStoreOpt: map[string]string{
		EtcdAddrOption: "127.0.0.1:2379",
		"etcd.unknown": "x",
	}}.Validate())
	require.NoError(t, Config{KVStore: EtcdBackendName, KVStoreOpt: map[string]string{
		EtcdAddrOption:      "127.0.0.1:2379",
		EtcdRateLimitOption: "50",
	}}.Validate())
}

func TestDisabledClient(t *testing.T) {
	c := disabledClient{}
	_, err := c.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrDisabled)

	events := c.ListAndWatch(context.Background(), "")
	require.Equal(t, EventTypeListDone, (<-events).Typ)
	_, ok := <-events
	require.False(t, ok)
}

func TestEtcdListAndWatchStopsWhileRetrying(t *testing.T) {
	c, err := newEtcdClient(hivetest.Logger(t), map[string]string{
		EtcdAddrOption: "http://127.0.0.1:1",
	})
	require.NoError(t, err)
	// Requests on a closed client fail immediately, so listing is retried.
	c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events := c.ListAndWatch(ctx, "vbridge/")
	time.Sleep(100 * time.Millisecond)
	cancel()

	closed := make(chan struct{})
	go func() {
		for range events {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("watcher kept waiting to relist after its context was cancelled")
	}
}
