// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"github.com/cilium/vbridge/pkg/metrics"
	"github.com/cilium/vbridge/pkg/metrics/metric"
)

const (
	labelOp = "op"

	opWrite  = "write"
	opDelete = "delete"

	reasonFilter = "filter"
	reasonAged   = "aged"
	reasonMoved  = "moved"
)

type Metrics struct {
	// Entries is the number of entries in the table.
	Entries metric.Gauge

	// LearnOutcomes counts learn requests by outcome.
	LearnOutcomes metric.Vec[metric.Counter]

	// ProbesSent counts IP probes by outcome.
	ProbesSent metric.Vec[metric.Counter]

	// ProbeBudgetExhausted counts entries that used up their probe budget
	// without an IP address being discovered.
	ProbeBudgetExhausted metric.Counter

	// FlushOps counts store operations issued by flushes.
	FlushOps metric.Vec[metric.Counter]

	// Evictions counts removed entries by reason.
	Evictions metric.Vec[metric.Counter]
}

func NewMetrics() *Metrics {
	return &Metrics{
		Entries: metric.NewGauge(metric.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.SubsystemMACTable,
			Name:      "entries",
			Help:      "Number of entries in the MAC table",
		}),
		LearnOutcomes: metric.NewCounterVec(metric.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.SubsystemMACTable,
			Name:      "learn_total",
			Help:      "Number of learn requests by outcome",
		}, []string{metrics.LabelOutcome}),
		ProbesSent: metric.NewCounterVec(metric.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.SubsystemMACTable,
			Name:      "ip_probes_total",
			Help:      "Number of IP probes sent",
		}, []string{metrics.LabelOutcome}),
		ProbeBudgetExhausted: metric.NewCounter(metric.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.SubsystemMACTable,
			Name:      "ip_probe_budget_exhausted_total",
			Help:      "Number of entries which exhausted their IP probe budget",
		}),
		FlushOps: metric.NewCounterVec(metric.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.SubsystemMACTable,
			Name:      "flush_ops_total",
			Help:      "Number of store operations issued by flushes",
		}, []string{labelOp, metrics.LabelOutcome}),
		Evictions: metric.NewCounterVec(metric.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.SubsystemMACTable,
			Name:      "evictions_total",
			Help:      "Number of entries removed from the table",
		}, []string{metrics.LabelReason}),
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return metrics.LabelValueOutcomeFail
	}
	return metrics.LabelValueOutcomeSuccess
}
