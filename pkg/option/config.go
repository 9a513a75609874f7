// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package option

import (
	"log/slog"
	"sort"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cilium/vbridge/pkg/defaults"
	"github.com/cilium/vbridge/pkg/logging"
)

// CLI flags shared by the agent binaries. Module specific flags are
// registered by the cell.Config of each module.
const (
	// DebugArg is the argument enables debugging mode
	DebugArg = "debug"

	// LogOpt sets driver options of the logger
	LogOpt = "log-opt"

	// LogFormat sets the format of the log records
	LogFormat = "log-format"

	// LogLevel sets the minimum level of the log records
	LogLevel = "log-level"

	// LogFile is the path of a rotated log file written in addition to stderr
	LogFile = "log-file"
)

// DaemonConfig holds the process wide options which are needed before the
// hive is started.
type DaemonConfig struct {
	Debug     bool
	LogOpt    map[string]string
	LogFormat string
	LogLevel  string
	LogFile   string
}

// Config is the global agent configuration, populated from viper.
var Config = &DaemonConfig{
	LogOpt: map[string]string{},
}

// AddFlags registers the process wide flags on the given flag set.
func AddFlags(flags *pflag.FlagSet) {
	flags.BoolP(DebugArg, "D", false, "Enable debugging mode")
	flags.StringToString(LogOpt, nil, `Log driver options, e.g. "writer=stdout"`)
	flags.String(LogFormat, string(logging.DefaultLogFormat), "Log format: text, text-ts, json, json-ts")
	flags.String(LogLevel, defaults.LogLevel, "Minimum log level")
	flags.String(LogFile, "", "Write logs additionally to the given file, rotated by size")
}

// Populate sets all options with the values from viper.
func (c *DaemonConfig) Populate(vp *viper.Viper) {
	c.Debug = vp.GetBool(DebugArg)
	c.LogFormat = vp.GetString(LogFormat)
	c.LogLevel = vp.GetString(LogLevel)
	c.LogFile = vp.GetString(LogFile)
	c.LogOpt = vp.GetStringMapString(LogOpt)
	if c.LogOpt == nil {
		c.LogOpt = map[string]string{}
	}
}

// LogOptions derives the logging options from the populated configuration.
func (c *DaemonConfig) LogOptions() logging.LogOptions {
	opts := logging.LogOptions{}
	for k, v := range c.LogOpt {
		opts[k] = v
	}
	if c.LogFormat != "" {
		opts[logging.FormatOpt] = c.LogFormat
	}
	if c.LogLevel != "" {
		opts[logging.LevelOpt] = c.LogLevel
	}
	if c.LogFile != "" {
		opts[logging.FileOpt] = c.LogFile
	}
	return opts
}

// LogRegisteredOptions logs all options that where bound to viper.
func LogRegisteredOptions(vp *viper.Viper, logger *slog.Logger) {
	keys := vp.AllKeys()
	sort.Strings(keys)
	for _, k := range keys {
		logger.Info("  --"+k, "value", vp.Get(k))
	}
}
