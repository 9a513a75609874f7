// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package gops

import (
	"fmt"
	"log/slog"

	"github.com/cilium/hive/cell"
	gopsAgent "github.com/google/gops/agent"
	"github.com/spf13/pflag"

	"github.com/cilium/vbridge/pkg/defaults"
	"github.com/cilium/vbridge/pkg/logging/logfields"
)

// Cell runs the gops agent, a tool to list and diagnose Go processes.
// See https://github.com/google/gops.
var Cell = cell.Module(
	"gops",
	"Gops Agent",

	cell.Config(defaultConfig),
	cell.Invoke(registerGopsHooks),
)

type GopsConfig struct {
	// GopsPort is the local port of the gops server, 0 disables it.
	GopsPort uint16
}

var defaultConfig = GopsConfig{
	GopsPort: defaults.GopsPortAgent,
}

func (def GopsConfig) Flags(flags *pflag.FlagSet) {
	flags.Uint16("gops-port", def.GopsPort, "Port for gops server to listen on, 0 disables it")
}

func registerGopsHooks(lc cell.Lifecycle, log *slog.Logger, cfg GopsConfig) {
	if cfg.GopsPort == 0 {
		return
	}
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.GopsPort)
	log = log.With(logfields.Address, addr)
	lc.Append(cell.Hook{
		OnStart: func(cell.HookContext) error {
			log.Info("Started gops server")
			return gopsAgent.Listen(gopsAgent.Options{
				Addr:                   addr,
				ReuseSocketAddrAndPort: true,
			})
		},
		OnStop: func(cell.HookContext) error {
			gopsAgent.Close()
			log.Info("Stopped gops server")
			return nil
		},
	})
}
