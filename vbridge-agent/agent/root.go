// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package agent

import (
	"log/slog"

	"github.com/cilium/hive/cell"
	"github.com/spf13/cobra"

	"github.com/cilium/vbridge/pkg/hive"
	"github.com/cilium/vbridge/pkg/logging"
	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/metrics"
	"github.com/cilium/vbridge/pkg/option"
)

func NewCmd(cells ...cell.Cell) *cobra.Command {
	var hook *metrics.LoggingHook

	h := hive.New(append(cells,
		cell.Invoke(func(m *metrics.LoggingHookMetrics) {
			if hook != nil {
				hook.Attach(m)
			}
		}),
	)...)

	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the vBridge agent",
		Run: func(cmd *cobra.Command, args []string) {
			if err := h.Run(logging.DefaultSlogLogger); err != nil {
				logging.Fatal(logging.DefaultSlogLogger, err.Error())
			}
		},
		PreRun: func(cmd *cobra.Command, args []string) {
			vp := h.Viper()
			if err := vp.BindPFlags(cmd.Flags()); err != nil {
				logging.Fatal(logging.DefaultSlogLogger, "Unable to bind flags", logfields.Error, err)
			}
			option.Config.Populate(vp)
			logging.SetupLogging(option.Config.LogOptions(), "vbridge-agent", option.Config.Debug)

			// Count warnings and errors of all subsystems once the registry is up.
			hook = metrics.NewLoggingHook(logging.DefaultSlogLogger.Handler())
			logging.DefaultSlogLogger = slog.New(hook)
			slog.SetDefault(logging.DefaultSlogLogger)

			logger := logging.DefaultSlogLogger.With(logfields.LogSubsys, "vbridge-agent")
			option.LogRegisteredOptions(vp, logger)
		},
	}

	option.AddFlags(rootCmd.Flags())
	h.RegisterFlags(rootCmd.Flags())
	rootCmd.AddCommand(h.Command())
	return rootCmd
}
