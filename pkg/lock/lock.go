// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

//go:build !lockdebug

// Package lock provides the mutex types used throughout the tree. Building
// with the lockdebug tag swaps them for deadlock detecting variants.
package lock

import "sync"

// Mutex is equivalent to sync.Mutex but applies deadlock detection if the
// built tag "lockdebug" is set
type Mutex struct {
	sync.Mutex
}

// RWMutex is equivalent to sync.RWMutex but applies deadlock detection if the
// built tag "lockdebug" is set
type RWMutex struct {
	sync.RWMutex
}
