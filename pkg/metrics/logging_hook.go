// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/metrics/metric"
)

type LoggingHookMetrics struct {
	ErrorsWarnings metric.Vec[metric.Counter]
}

func NewLoggingHookMetrics() *LoggingHookMetrics {
	return &LoggingHookMetrics{
		ErrorsWarnings: metric.NewCounterVec(metric.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_warnings_total",
			Help:      "Number of total errors and warnings logged by the agent",
		}, []string{"level", "subsystem"}),
	}
}

// LoggingHook is a slog.Handler which counts error and warning records as a
// prometheus metric before passing them on. Records are only counted once
// Attach has been called.
type LoggingHook struct {
	inner     slog.Handler
	subsystem string
	metric    *atomic.Pointer[LoggingHookMetrics]
}

func NewLoggingHook(inner slog.Handler) *LoggingHook {
	return &LoggingHook{
		inner:  inner,
		metric: &atomic.Pointer[LoggingHookMetrics]{},
	}
}

// Attach starts counting into the given metrics.
func (h *LoggingHook) Attach(m *LoggingHookMetrics) {
	h.metric.Store(m)
}

func (h *LoggingHook) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *LoggingHook) Handle(ctx context.Context, record slog.Record) error {
	if m := h.metric.Load(); m != nil && record.Level >= slog.LevelWarn {
		level := "warning"
		if record.Level >= slog.LevelError {
			level = "error"
		}
		m.ErrorsWarnings.WithLabelValues(level, h.subsystem).Inc()
	}
	return h.inner.Handle(ctx, record)
}

func (h *LoggingHook) WithAttrs(attrs []slog.Attr) slog.Handler {
	subsystem := h.subsystem
	for _, a := range attrs {
		if a.Key == logfields.LogSubsys || a.Key == "module" {
			subsystem = a.Value.String()
		}
	}
	return &LoggingHook{
		inner:     h.inner.WithAttrs(attrs),
		subsystem: subsystem,
		metric:    h.metric,
	}
}

func (h *LoggingHook) WithGroup(name string) slog.Handler {
	return &LoggingHook{
		inner:     h.inner.WithGroup(name),
		subsystem: h.subsystem,
		metric:    h.metric,
	}
}
