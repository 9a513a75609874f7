// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cilium/hive/cell"
	"github.com/cilium/hive/job"
	"github.com/spf13/pflag"

	"github.com/cilium/vbridge/pkg/defaults"
	"github.com/cilium/vbridge/pkg/kvstore"
	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/metrics"
	"github.com/cilium/vbridge/pkg/time"
)

// Cell provides the MAC address table of the bridge and runs its periodic
// flush, probe and aging sweeps.
var Cell = cell.Module(
	"mactable",
	"vBridge MAC address table",

	cell.Config(defaultConfig),
	metrics.Metric(NewMetrics),
	cell.Provide(
		newStore,
		newTable,
		func(t *Table) TopologyHandler { return t },
	),
)

type Config struct {
	// MACTableBridge is the name of the bridge. It scopes the records of
	// the table in the store.
	MACTableBridge string

	// MACTableAgeInterval is the interval of the aging sweep. Zero
	// disables aging.
	MACTableAgeInterval time.Duration

	// MACTableFlushInterval is the interval at which dirty entries are
	// written to the store.
	MACTableFlushInterval time.Duration

	// MACTableProbeInterval is the interval of the IP probe sweep. Zero
	// disables probing.
	MACTableProbeInterval time.Duration

	// MACTableProbeRate limits the probes sent per second. Zero means no
	// limit.
	MACTableProbeRate int

	// MACTableProbeWorkers is the number of probes sent concurrently.
	MACTableProbeWorkers int

	// MACTableShards is the number of lock shards of the table.
	MACTableShards int
}

var defaultConfig = Config{
	MACTableBridge:        "vbr0",
	MACTableAgeInterval:   defaults.MACTableAgeInterval,
	MACTableFlushInterval: defaults.MACTableFlushInterval,
	MACTableProbeInterval: defaults.MACTableProbeInterval,
	MACTableProbeRate:     defaults.MACTableProbeRate,
	MACTableProbeWorkers:  defaults.MACTableProbeWorkers,
	MACTableShards:        defaults.MACTableShards,
}

func (def Config) Flags(flags *pflag.FlagSet) {
	flags.String("mactable-bridge", def.MACTableBridge, "Name of the vBridge owning the MAC table")
	flags.Duration("mactable-age-interval", def.MACTableAgeInterval, "Interval of the MAC table aging sweep, 0 disables aging")
	flags.Duration("mactable-flush-interval", def.MACTableFlushInterval, "Interval at which modified MAC table entries are written to the kvstore")
	flags.Duration("mactable-probe-interval", def.MACTableProbeInterval, "Interval of the IP probe sweep, 0 disables probing")
	flags.Int("mactable-probe-rate", def.MACTableProbeRate, "Maximum number of IP probes sent per second, 0 is unlimited")
	flags.Int("mactable-probe-workers", def.MACTableProbeWorkers, "Number of IP probes sent concurrently")
	flags.Int("mactable-shards", def.MACTableShards, "Number of lock shards of the MAC table")
}

func (cfg Config) Validate() error {
	var errs []error
	if cfg.MACTableBridge == "" || strings.Contains(cfg.MACTableBridge, "/") {
		errs = append(errs, fmt.Errorf("invalid bridge name %q", cfg.MACTableBridge))
	}
	if cfg.MACTableFlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush interval must be positive, got %s", cfg.MACTableFlushInterval))
	}
	if cfg.MACTableAgeInterval < 0 || cfg.MACTableProbeInterval < 0 {
		errs = append(errs, errors.New("sweep intervals must not be negative"))
	}
	if cfg.MACTableProbeRate < 0 {
		errs = append(errs, fmt.Errorf("probe rate must not be negative, got %d", cfg.MACTableProbeRate))
	}
	if cfg.MACTableProbeWorkers < 1 {
		errs = append(errs, fmt.Errorf("at least one probe worker is required, got %d", cfg.MACTableProbeWorkers))
	}
	if cfg.MACTableShards < 1 {
		errs = append(errs, fmt.Errorf("at least one shard is required, got %d", cfg.MACTableShards))
	}
	return errors.Join(errs...)
}

type storeParams struct {
	cell.In

	Logger   *slog.Logger
	Client   kvstore.BackendOperations
	KVConfig kvstore.Config
}

func newStore(p storeParams) Store {
	if p.KVConfig.KVStore == kvstore.DisabledBackendName {
		p.Logger.Info("KVStore disabled, MAC table entries are not persisted")
		return nopStore{}
	}
	return NewKVStore(p.Logger, p.Client, defaults.KVStorePrefix)
}

type tableParams struct {
	cell.In

	Logger    *slog.Logger
	Lifecycle cell.Lifecycle
	JobGroup  job.Group
	Config    Config
	Store     Store
	Metrics   *Metrics
	Prober    Prober `optional:"true"`
}

func newTable(p tableParams) (*Table, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}

	t := NewTable(p.Logger, p.Config, p.Store, p.Prober, p.Metrics)

	// Restore before the sweeps start and flush once more after they stopped.
	p.Lifecycle.Append(cell.Hook{
		OnStart: func(ctx cell.HookContext) error {
			if _, err := t.Restore(ctx); err != nil {
				// Start empty, entries are relearned from traffic.
				t.logger.Warn("Failed to restore MAC table", logfields.Error, err)
			}
			return nil
		},
		OnStop: func(ctx cell.HookContext) error {
			defer t.Close()
			if _, err := t.Flush(ctx); err != nil {
				t.logger.Warn("Final flush of MAC table failed", logfields.Error, err)
			}
			return nil
		},
	})

	p.JobGroup.Add(job.Timer("mactable-flush", func(ctx context.Context) error {
		_, err := t.Flush(ctx)
		return err
	}, p.Config.MACTableFlushInterval))

	if p.Prober != nil && p.Config.MACTableProbeInterval > 0 {
		p.JobGroup.Add(job.Timer("mactable-probe", func(ctx context.Context) error {
			n, err := t.ProbeSweep(ctx)
			if n > 0 {
				t.logger.Debug("Sent IP probes", logfields.Count, n)
			}
			return err
		}, p.Config.MACTableProbeInterval))
	}

	if p.Config.MACTableAgeInterval > 0 {
		p.JobGroup.Add(job.Timer("mactable-age", func(ctx context.Context) error {
			t.Age()
			return nil
		}, p.Config.MACTableAgeInterval))
	}

	return t, nil
}
