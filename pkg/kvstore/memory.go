// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cilium/statedb"
	"github.com/cilium/statedb/index"
	"k8s.io/apimachinery/pkg/util/sets"
)

// NewInMemoryClient returns a client which keeps the key space in a StateDB
// table named after the given name. Revisions of the table are reported as
// mod revisions.
func NewInMemoryClient(db *statedb.DB, name string) (BackendOperations, error) {
	table, err := statedb.NewTable("kvstore-"+name, inMemoryKeyIndex)
	if err != nil {
		return nil, err
	}
	if err := db.RegisterTable(table); err != nil {
		return nil, err
	}
	return &inMemoryClient{
		db:    db,
		table: table,
	}, nil
}

type inMemoryObject struct {
	key   string
	value []byte
}

// TableHeader implements statedb.TableWritable.
func (i inMemoryObject) TableHeader() []string {
	return []string{
		"Key",
		"Value",
	}
}

// TableRow implements statedb.TableWritable.
func (i inMemoryObject) TableRow() []string {
	value := string(i.value)
	for _, b := range i.value {
		if b > unicode.MaxASCII {
			value = fmt.Sprintf("0x%x", i.value)
			break
		}
	}
	return []string{
		i.key,
		value,
	}
}

var _ statedb.TableWritable = inMemoryObject{}

var (
	inMemoryKeyIndex = statedb.Index[inMemoryObject, string]{
		Name: "key",
		FromObject: func(obj inMemoryObject) index.KeySet {
			return index.NewKeySet(index.String(obj.key))
		},
		FromKey: index.String,
		Unique:  true,
	}
)

type inMemoryClient struct {
	db    *statedb.DB
	table statedb.RWTable[inMemoryObject]
}

// Close implements BackendOperations.
func (c *inMemoryClient) Close() {
}

// Status implements BackendOperations.
func (c *inMemoryClient) Status() (string, error) {
	return fmt.Sprintf("in-memory: %d keys", c.table.NumObjects(c.db.ReadTxn())), nil
}

// CreateOnly implements BackendOperations.
func (c *inMemoryClient) CreateOnly(ctx context.Context, key string, value []byte) (bool, error) {
	wtxn := c.db.WriteTxn(c.table)
	defer wtxn.Abort()
	if _, _, found := c.table.Get(wtxn, inMemoryKeyIndex.Query(key)); found {
		return false, nil
	}
	if _, _, err := c.table.Insert(wtxn, inMemoryObject{key: key, value: value}); err != nil {
		return false, err
	}
	wtxn.Commit()
	return true, nil
}

// Delete implements BackendOperations.
func (c *inMemoryClient) Delete(ctx context.Context, key string) error {
	wtxn := c.db.WriteTxn(c.table)
	defer wtxn.Abort()
	_, existed, err := c.table.Delete(wtxn, inMemoryObject{key: key})
	if err != nil || !existed {
		return err
	}
	wtxn.Commit()
	return nil
}

// DeletePrefix implements BackendOperations.
func (c *inMemoryClient) DeletePrefix(ctx context.Context, path string) error {
	wtxn := c.db.WriteTxn(c.table)
	defer wtxn.Abort()
	for obj := range c.table.Prefix(wtxn, inMemoryKeyIndex.Query(path)) {
		if _, _, err := c.table.Delete(wtxn, obj); err != nil {
			return err
		}
	}
	wtxn.Commit()
	return nil
}

// Get implements BackendOperations.
func (c *inMemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	obj, _, found := c.table.Get(c.db.ReadTxn(), inMemoryKeyIndex.Query(key))
	if !found {
		return nil, nil
	}
	return obj.value, nil
}

// ListAndWatch implements BackendOperations.
func (c *inMemoryClient) ListAndWatch(ctx context.Context, prefix string) EventChan {
	wtxn := c.db.WriteTxn(c.table)
	changeIter, err := c.table.Changes(wtxn)
	wtxn.Commit()
	if err != nil {
		panic(fmt.Sprintf("BUG: Changes() returned error: %s", err))
	}
	events := make(chan KeyValueEvent)

	go func() {
		defer close(events)
		initDone := false
		exists := sets.New[string]()
		emit := func(ev KeyValueEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			changes, watch := changeIter.Next(c.db.ReadTxn())
			for change := range changes {
				obj := change.Object
				if !strings.HasPrefix(obj.key, prefix) {
					continue
				}
				var typ EventType
				switch {
				case change.Deleted:
					if !exists.Has(obj.key) {
						continue
					}
					typ = EventTypeDelete
					exists.Delete(obj.key)
				case exists.Has(obj.key):
					typ = EventTypeModify
				default:
					typ = EventTypeCreate
					exists.Insert(obj.key)
				}
				if !emit(KeyValueEvent{Typ: typ, Key: obj.key, Value: obj.value}) {
					return
				}
			}

			if !initDone {
				if !emit(KeyValueEvent{Typ: EventTypeListDone}) {
					return
				}
				initDone = true
			}

			select {
			case <-watch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}

// ListPrefix implements BackendOperations.
func (c *inMemoryClient) ListPrefix(ctx context.Context, prefix string) (KeyValuePairs, error) {
	kvs := KeyValuePairs{}
	for obj, rev := range c.table.Prefix(c.db.ReadTxn(), inMemoryKeyIndex.Query(prefix)) {
		kvs[obj.key] = Value{
			Data:        obj.value,
			ModRevision: rev,
		}
	}
	return kvs, nil
}

// Update implements BackendOperations.
func (c *inMemoryClient) Update(ctx context.Context, key string, value []byte) error {
	wtxn := c.db.WriteTxn(c.table)
	defer wtxn.Abort()
	if _, _, err := c.table.Insert(wtxn, inMemoryObject{key, value}); err != nil {
		return err
	}
	wtxn.Commit()
	return nil
}

// UpdateIfDifferent implements BackendOperations.
func (c *inMemoryClient) UpdateIfDifferent(ctx context.Context, key string, value []byte) (bool, error) {
	wtxn := c.db.WriteTxn(c.table)
	defer wtxn.Abort()
	obj, _, found := c.table.Get(wtxn, inMemoryKeyIndex.Query(key))
	if found && bytes.Equal(obj.value, value) {
		return false, nil
	}
	if _, _, err := c.table.Insert(wtxn, inMemoryObject{key, value}); err != nil {
		return false, err
	}
	wtxn.Commit()
	return true, nil
}

var _ BackendOperations = &inMemoryClient{}
