// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package lock

import (
	"slices"
	"sync/atomic"
)

var nextSeq atomic.Uint64

// SortableMutex is a Mutex with a global creation order. A set of sortable
// mutexes can be acquired in that order without risking a lock order
// inversion against another goroutine doing the same.
type SortableMutex struct {
	Mutex
	seq uint64
}

// NewSortableMutex returns a mutex ordered after every mutex created before it.
func NewSortableMutex() *SortableMutex {
	return &SortableMutex{seq: nextSeq.Add(1)}
}

// Seq returns the position of the mutex in the global order.
func (s *SortableMutex) Seq() uint64 {
	return s.seq
}

// SortableMutexes is a set of mutexes locked and unlocked as a group.
type SortableMutexes []*SortableMutex

// Lock sorts the mutexes by sequence and acquires them in that order.
func (s SortableMutexes) Lock() {
	slices.SortFunc(s, func(a, b *SortableMutex) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	for _, mu := range s {
		mu.Lock()
	}
}

// Unlock releases the mutexes in the reverse order of Lock.
func (s SortableMutexes) Unlock() {
	for i := len(s) - 1; i >= 0; i-- {
		s[i].Unlock()
	}
}
