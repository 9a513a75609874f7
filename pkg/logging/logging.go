// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cilium/vbridge/pkg/logging/hooks"
)

type LogFormat string

const (
	LevelOpt  = "level"
	FormatOpt = "format"
	WriterOpt = "writer"
	FileOpt   = "file"

	StdOutOpt = "stdout"
	StdErrOpt = "stderr"

	LogFormatText          LogFormat = "text"
	LogFormatTextTimestamp LogFormat = "text-ts"
	LogFormatJSON          LogFormat = "json"
	LogFormatJSONTimestamp LogFormat = "json-ts"

	// DefaultLogFormat is the string representation of the default log
	// format.
	DefaultLogFormat LogFormat = LogFormatTextTimestamp

	// DefaultLogLevel is the default log level we want to use for our logs.
	DefaultLogLevel = logrus.InfoLevel
)

// LogOptions maps configuration key-value pairs related to logging.
type LogOptions map[string]string

// GetLogLevel returns the log level specified by the 'level' key, falling
// back to DefaultLogLevel when the value is missing or unparsable.
func (o LogOptions) GetLogLevel() logrus.Level {
	levelOpt, ok := o[LevelOpt]
	if !ok {
		return DefaultLogLevel
	}

	level, err := logrus.ParseLevel(strings.ToLower(levelOpt))
	if err != nil {
		return DefaultLogLevel
	}
	return level
}

// GetLogFormat returns the log format specified by the 'format' key.
func (o LogOptions) GetLogFormat() LogFormat {
	formatOpt, ok := o[FormatOpt]
	if !ok {
		return DefaultLogFormat
	}

	formatOpt = strings.ToLower(formatOpt)
	for _, lf := range []LogFormat{LogFormatText, LogFormatTextTimestamp, LogFormatJSON, LogFormatJSONTimestamp} {
		if formatOpt == string(lf) {
			return lf
		}
	}
	return DefaultLogFormat
}

func (o LogOptions) writer() io.Writer {
	if o[WriterOpt] == StdOutOpt {
		return os.Stdout
	}
	return os.Stderr
}

// SetupLogging configures DefaultSlogLogger from the given options. The
// debug flag overrides the configured level. When a log file is configured
// the records are additionally written to a rotated file.
func SetupLogging(logOpts LogOptions, tag string, debug bool) {
	if debug {
		logOpts[LevelOpt] = logrus.DebugLevel.String()
	}

	level := slogLevel(logOpts.GetLogLevel())
	var handler slog.Handler = newHandler(logOpts.GetLogFormat(), level, logOpts.writer())
	if fileName := logOpts[FileOpt]; fileName != "" {
		handler = teeHandler{
			handler,
			hooks.NewFileRotationLogHook(level, fileName, hooks.WithMaxBackups(3)),
		}
	}
	DefaultSlogLogger = slog.New(handler)

	if tag != "" {
		DefaultSlogLogger = DefaultSlogLogger.With("tag", tag)
	}
	slog.SetDefault(DefaultSlogLogger)
}
