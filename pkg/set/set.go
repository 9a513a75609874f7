// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package set

import "slices"

// Ordered is a set that remembers the order in which members were first
// inserted. The zero value is an empty set ready to use. It is not safe for
// concurrent use.
type Ordered[T comparable] struct {
	members map[T]struct{}
	order   []T
}

// NewOrdered returns a set holding the given members in order, with
// duplicates dropped.
func NewOrdered[T comparable](members ...T) *Ordered[T] {
	s := &Ordered[T]{}
	for _, m := range members {
		s.Insert(m)
	}
	return s
}

// Insert adds m to the set. It returns false if m was already a member.
func (s *Ordered[T]) Insert(m T) bool {
	if s.members == nil {
		s.members = make(map[T]struct{})
	}
	if _, ok := s.members[m]; ok {
		return false
	}
	s.members[m] = struct{}{}
	s.order = append(s.order, m)
	return true
}

// Has reports whether m is a member.
func (s *Ordered[T]) Has(m T) bool {
	_, ok := s.members[m]
	return ok
}

// Len returns the number of members.
func (s *Ordered[T]) Len() int {
	return len(s.order)
}

// Members returns a copy of the members in insertion order. The result does
// not alias the set.
func (s *Ordered[T]) Members() []T {
	if len(s.order) == 0 {
		return nil
	}
	return slices.Clone(s.order)
}
