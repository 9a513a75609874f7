// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package defaults

import (
	"time"
)

const (
	// LogLevel is the default minimum log level of the agent
	LogLevel = "info"

	// MACTableAgeInterval is the interval of the two-phase aging sweep. An
	// unused entry is removed after at most two intervals.
	MACTableAgeInterval = 600 * time.Second

	// MACTableFlushInterval is the interval at which dirty entries are
	// written back to the kvstore
	MACTableFlushInterval = 5 * time.Second

	// MACTableProbeInterval is the interval of the IP probe sweep
	MACTableProbeInterval = 10 * time.Second

	// MACTableProbeRate is the maximum number of probe frames sent per second
	MACTableProbeRate = 100

	// MACTableProbeWorkers is the number of concurrent probe senders
	MACTableProbeWorkers = 4

	// MACTableShards is the default number of lock shards of the table
	MACTableShards = 16

	// GopsPortAgent is the default gops port of the agent
	GopsPortAgent = 9890

	// KVStorePrefix is the root of all keys written by the agent
	KVStorePrefix = "vbridge/state"

	// KVStoreBackend is the default kvstore backend
	KVStoreBackend = "memory"

	// KVStoreOperationTimeout bounds a single kvstore request
	KVStoreOperationTimeout = 10 * time.Second
)
