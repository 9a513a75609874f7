// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSlogLogger is the process logger. SetupLogging replaces it once the
// configuration is known, until then records go to stderr without
// timestamps.
var DefaultSlogLogger = slog.New(newHandler(LogFormatText, slog.LevelInfo, os.Stderr))

func slogLevel(l logrus.Level) slog.Level {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return slog.LevelDebug
	case logrus.WarnLevel:
		return slog.LevelWarn
	case logrus.ErrorLevel, logrus.PanicLevel, logrus.FatalLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (f LogFormat) timestamps() bool {
	return f == LogFormatTextTimestamp || f == LogFormatJSONTimestamp
}

func (f LogFormat) json() bool {
	return f == LogFormatJSON || f == LogFormatJSONTimestamp
}

// newHandler returns a handler writing records of at least level to w.
// Source locations are added at debug level.
func newHandler(format LogFormat, level slog.Level, w io.Writer) slog.Handler {
	withTime := format.timestamps()
	opts := &slog.HandlerOptions{
		AddSource: level <= slog.LevelDebug,
		Level:     level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			return replaceAttr(a, withTime)
		},
	}
	if format.json() {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// replaceAttr formats the time as RFC3339, or drops it, and lower-cases the
// level.
func replaceAttr(a slog.Attr, withTime bool) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		if !withTime {
			return slog.Attr{}
		}
		return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
	case slog.LevelKey:
		return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
	}
	return a
}

// teeHandler passes each record to all of its handlers enabled for the
// record's level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(t, func(h slog.Handler) bool {
		return h.Enabled(ctx, level)
	})
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}

// Fatal logs msg at error level and exits.
func Fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
