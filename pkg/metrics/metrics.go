// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package metrics holds the prometheus registry of the agent and the cell
// used by other modules to contribute their metrics to it.
package metrics

import (
	"github.com/spf13/pflag"
)

const (
	// Namespace is used to scope metrics of the agent. It is prepended to
	// metric names and separated with a '_'
	Namespace = "vbridge"

	// SubsystemMACTable is the subsystem of the MAC learning table metrics.
	SubsystemMACTable = "mactable"

	// SubsystemLearner is the subsystem of the frame learner metrics.
	SubsystemLearner = "learner"

	// LabelOutcome marks the outcome of an operation
	LabelOutcome = "outcome"

	// LabelReason marks why an operation was performed
	LabelReason = "reason"

	// LabelValueOutcomeSuccess is used as a successful outcome of an operation
	LabelValueOutcomeSuccess = "success"

	// LabelValueOutcomeFail is used as an unsuccessful outcome of an operation
	LabelValueOutcomeFail = "fail"
)

// Config configures the metrics endpoint.
type Config struct {
	// PrometheusServeAddr is the listen address of the /metrics endpoint.
	// Serving is disabled when empty.
	PrometheusServeAddr string
}

var defaultConfig = Config{
	PrometheusServeAddr: "",
}

func (def Config) Flags(flags *pflag.FlagSet) {
	flags.String("prometheus-serve-addr", def.PrometheusServeAddr, "IP:Port on which to serve prometheus metrics (pass \":Port\" to bind on all interfaces, \"\" is off)")
}
