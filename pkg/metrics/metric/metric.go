// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package metric

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// WithMetadata is the interface implemented by any metric defined in this
// package. Metrics have the concept of being enabled or disabled which is used
// in place of conditional registration, so every metric can always be
// registered.
type WithMetadata interface {
	prometheus.Collector

	IsEnabled() bool
	SetEnabled(bool)
	Opts() Opts
}

// metric is a "base" structure which can be embedded to provide common functionality.
type metric struct {
	opts    Opts
	enabled bool
}

func (b *metric) IsEnabled() bool {
	return b.enabled
}

func (b *metric) SetEnabled(e bool) {
	b.enabled = e
}

func (b *metric) Opts() Opts {
	return b.opts
}

// Opts are a trimmed down version of the prometheus.Opts extended with
// a switch to disable the metric.
type Opts struct {
	// Namespace, Subsystem, and Name are components of the fully-qualified
	// name of the Metric (created by joining these components with
	// "_"). Only Name is mandatory.
	Namespace string
	Subsystem string
	Name      string

	// Help provides information about this metric.
	Help string

	// If true, the metric is registered but never collected.
	Disabled bool

	ConstLabels prometheus.Labels
}

func (o Opts) FullyQualifiedName() string {
	var parts []string
	if o.Namespace != "" {
		parts = append(parts, o.Namespace)
	}
	if o.Subsystem != "" {
		parts = append(parts, o.Subsystem)
	}
	parts = append(parts, o.Name)

	return strings.Join(parts, "_")
}

// Vec is a generic type to describe the vectorized version of another metric
// type, for example Vec[Counter] would be our version of a
// prometheus.CounterVec.
type Vec[T any] interface {
	WithMetadata

	WithLabelValues(lvs ...string) T
	DeleteLabelValues(lvs ...string) bool
	Reset()
}
