// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/cilium/vbridge/pkg/kvstore"
	"github.com/cilium/vbridge/pkg/logging/logfields"
)

// Store persists records of a table. The scope separates the tables of
// different bridges sharing a store.
type Store interface {
	// WriteBack writes rec, replacing any record with the same key.
	WriteBack(ctx context.Context, scope string, rec *Record) error

	// Delete removes the record of key. Deleting a missing record is not
	// an error.
	Delete(ctx context.Context, scope string, key Key) error

	// ReadAll returns all records of the scope ordered by key.
	ReadAll(ctx context.Context, scope string) ([]*Record, error)
}

type kvStore struct {
	logger *slog.Logger
	client kvstore.BackendOperations
	prefix string
}

// NewKVStore returns a Store keeping one JSON value per entry below
// <prefix>/mactable/<scope>/.
func NewKVStore(logger *slog.Logger, client kvstore.BackendOperations, prefix string) Store {
	return &kvStore{
		logger: logger,
		client: client,
		prefix: path.Join(prefix, "mactable"),
	}
}

func (s *kvStore) scopePrefix(scope string) string {
	return path.Join(s.prefix, scope) + "/"
}

func (s *kvStore) keyPath(scope string, key Key) string {
	return s.scopePrefix(scope) + key.MAC.String() + "/" + key.VLAN.String()
}

func (s *kvStore) WriteBack(ctx context.Context, scope string, rec *Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", rec.Key(), err)
	}
	if _, err := s.client.UpdateIfDifferent(ctx, s.keyPath(scope, rec.Key()), data); err != nil {
		return fmt.Errorf("writing %s: %w", rec.Key(), err)
	}
	return nil
}

func (s *kvStore) Delete(ctx context.Context, scope string, key Key) error {
	if err := s.client.Delete(ctx, s.keyPath(scope, key)); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *kvStore) ReadAll(ctx context.Context, scope string) ([]*Record, error) {
	pairs, err := s.client.ListPrefix(ctx, s.scopePrefix(scope))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.scopePrefix(scope), err)
	}
	records := make([]*Record, 0, len(pairs))
	for k, v := range pairs {
		rec, err := UnmarshalRecord(v.Data)
		if err != nil {
			s.logger.Warn("Ignoring invalid MAC table record",
				logfields.Key, k,
				logfields.Error, err,
			)
			continue
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b *Record) int {
		return strings.Compare(s.keyPath(scope, a.Key()), s.keyPath(scope, b.Key()))
	})
	return records, nil
}

// nopStore is used when persistence is disabled.
type nopStore struct{}

func (nopStore) WriteBack(context.Context, string, *Record) error { return nil }
func (nopStore) Delete(context.Context, string, Key) error        { return nil }
func (nopStore) ReadAll(context.Context, string) ([]*Record, error) {
	return nil, nil
}
