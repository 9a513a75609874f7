// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package hive

import (
	"log/slog"
	"runtime/pprof"

	"github.com/cilium/hive"
	"github.com/cilium/hive/cell"
	"github.com/cilium/hive/job"
	"github.com/cilium/statedb"
)

type (
	Hive       = hive.Hive
	Options    = hive.Options
	Shutdowner = hive.Shutdowner
)

var (
	ShutdownWithError = hive.ShutdownWithError
)

// New returns a new hive that can be run, or started and stopped.
// The hive includes the following default objects:
//
//   - the job registry and a job.Group scoped to each module
//   - the StateDB database
//   - a cell.Health reporter
//
// Additionally the hive provides the *slog.Logger, cell.Lifecycle and
// hive.Shutdowner objects by default.
func New(cells ...cell.Cell) *Hive {
	cells = append(
		[]cell.Cell{
			job.Cell,
			statedb.Cell,
			cell.Provide(newHealth),
		},
		cells...,
	)
	return hive.NewWithOptions(
		hive.Options{
			EnvPrefix: "VBRIDGE_",
			ModulePrivateProviders: []cell.ModulePrivateProvider{
				jobGroupProvider,
			},
		},
		cells...,
	)
}

func newHealth() cell.Health {
	h, _ := cell.NewSimpleHealth()
	return h
}

// jobGroupProvider gives every module its own job group, labelled with the
// module ID so that goroutine profiles can be attributed. The group's jobs
// start and stop with the lifecycle.
func jobGroupProvider(reg job.Registry, health cell.Health, lc cell.Lifecycle, log *slog.Logger, mid cell.ModuleID) job.Group {
	g := reg.NewGroup(
		health,
		job.WithLogger(log),
		job.WithPprofLabels(pprof.Labels("cell", string(mid))),
	)
	lc.Append(g)
	return g
}

// AddConfigOverride appends a config override function to modify
// a configuration after it has been parsed.
func AddConfigOverride[Cfg cell.Flagger](h *Hive, override func(*Cfg)) {
	hive.AddConfigOverride(h, override)
}
