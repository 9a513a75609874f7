// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package kvstore

import (
	"context"
	"log/slog"

	"github.com/cilium/hive/cell"
	"github.com/cilium/statedb"

	"github.com/cilium/vbridge/pkg/logging/logfields"
)

// Cell provides the kvstore client selected by the configuration.
var Cell = cell.Module(
	"kvstore-client",
	"KVStore Client",

	cell.Config(defaultConfig),
	cell.Provide(newClient),
	cell.Invoke(Config.Validate),
)

type clientParams struct {
	cell.In

	Logger    *slog.Logger
	Lifecycle cell.Lifecycle
	Config    Config
	DB        *statedb.DB
}

func newClient(p clientParams) (BackendOperations, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}

	logger := p.Logger.With(logfields.Backend, p.Config.KVStore)

	var (
		client BackendOperations
		err    error
	)
	switch p.Config.KVStore {
	case DisabledBackendName:
		return disabledClient{}, nil
	case InMemoryBackendName:
		client, err = NewInMemoryClient(p.DB, "default")
	case EtcdBackendName:
		client, err = newEtcdClient(logger, p.Config.KVStoreOpt)
	}
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(cell.Hook{
		OnStart: func(cell.HookContext) error {
			status, err := client.Status()
			if err != nil {
				// The etcd client reconnects on its own, requests block until then.
				logger.Warn("KVStore not reachable yet", logfields.Error, err)
				return nil
			}
			logger.Info("KVStore client ready", "status", status)
			return nil
		},
		OnStop: func(cell.HookContext) error {
			client.Close()
			return nil
		},
	})
	return client, nil
}

// disabledClient fails every operation with ErrDisabled.
type disabledClient struct{}

func (disabledClient) Get(context.Context, string) ([]byte, error) { return nil, ErrDisabled }
func (disabledClient) Update(context.Context, string, []byte) error { return ErrDisabled }
func (disabledClient) Delete(context.Context, string) error { return ErrDisabled }
func (disabledClient) DeletePrefix(context.Context, string) error { return ErrDisabled }
func (disabledClient) Status() (string, error) { return "disabled", nil }
func (disabledClient) Close() {}
func (disabledClient) ListPrefix(context.Context, string) (KeyValuePairs, error) {
	return nil, ErrDisabled
}
func (disabledClient) UpdateIfDifferent(context.Context, string, []byte) (bool, error) {
	return false, ErrDisabled
}
func (disabledClient) CreateOnly(context.Context, string, []byte) (bool, error) {
	return false, ErrDisabled
}
func (disabledClient) ListAndWatch(ctx context.Context, _ string) EventChan {
	ch := make(chan KeyValueEvent, 1)
	ch <- KeyValueEvent{Typ: EventTypeListDone}
	close(ch)
	return ch
}
