// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package kvstore

import (
	"context"
	"errors"
)

// Supported key-value store types.
const (
	// DisabledBackendName disables the kvstore client.
	DisabledBackendName = ""

	// InMemoryBackendName is the backend name of the StateDB backed client
	InMemoryBackendName = "memory"

	// EtcdBackendName is the backend name for etcd
	EtcdBackendName = "etcd"
)

// ErrDisabled is returned by every operation of a disabled client.
var ErrDisabled = errors.New("kvstore is disabled")

// Value is an abstraction of the data stored in the kvstore as well as the
// mod revision of that data.
type Value struct {
	Data        []byte
	ModRevision uint64
}

// KeyValuePairs is a map of key=value pairs
type KeyValuePairs map[string]Value

// EventType defines the type of watch event that occurred
type EventType int

const (
	// EventTypeCreate represents a newly created key
	EventTypeCreate EventType = iota
	// EventTypeModify represents a modified key
	EventTypeModify
	// EventTypeDelete represents a deleted key
	EventTypeDelete
	// EventTypeListDone signals that the initial list operation has completed
	EventTypeListDone
)

// String() returns the human readable format of an event type
func (t EventType) String() string {
	switch t {
	case EventTypeCreate:
		return "create"
	case EventTypeModify:
		return "modify"
	case EventTypeDelete:
		return "delete"
	case EventTypeListDone:
		return "listDone"
	default:
		return "unknown"
	}
}

// KeyValueEvent is a change event for a Key/Value pair
type KeyValueEvent struct {
	// Typ is the type of event { EventTypeCreate | EventTypeModify | EventTypeDelete | EventTypeListDone }
	Typ EventType

	// Key is the kvstore key that changed
	Key string

	// Value is the kvstore value associated with the key
	Value []byte
}

// EventChan is a channel to receive events on
type EventChan <-chan KeyValueEvent

// BackendOperations are the individual kvstore operations that each backend
// must implement.
type BackendOperations interface {
	// Get returns value of key. A missing key is reported as nil value
	// without error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Update creates or updates a key.
	Update(ctx context.Context, key string, value []byte) error

	// UpdateIfDifferent updates a key if the value is different and
	// reports whether a write happened.
	UpdateIfDifferent(ctx context.Context, key string, value []byte) (bool, error)

	// CreateOnly atomically creates a key or fails if it already exists.
	CreateOnly(ctx context.Context, key string, value []byte) (bool, error)

	// Delete deletes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix deletes all keys with the given prefix.
	DeletePrefix(ctx context.Context, path string) error

	// ListPrefix returns a list of keys matching the prefix.
	ListPrefix(ctx context.Context, prefix string) (KeyValuePairs, error)

	// ListAndWatch lists the keys under the prefix as create events, sends
	// a EventTypeListDone event and then streams changes until ctx is
	// cancelled, when the channel is closed.
	ListAndWatch(ctx context.Context, prefix string) EventChan

	// Status returns a human readable status of the backend.
	Status() (string, error)

	// Close closes the kvstore client.
	Close()
}
