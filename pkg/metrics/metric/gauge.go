// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type GaugeOpts Opts

func (o GaugeOpts) toPrometheus() prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Name:        o.Name,
		Namespace:   o.Namespace,
		Subsystem:   o.Subsystem,
		Help:        o.Help,
		ConstLabels: o.ConstLabels,
	}
}

type Gauge interface {
	prometheus.Gauge
	WithMetadata

	Get() float64
}

func NewGauge(opts GaugeOpts) Gauge {
	return &gauge{
		Gauge: prometheus.NewGauge(opts.toPrometheus()),
		metric: metric{
			enabled: !opts.Disabled,
			opts:    Opts(opts),
		},
	}
}

type gauge struct {
	prometheus.Gauge
	metric
}

func (g *gauge) Collect(metricChan chan<- prometheus.Metric) {
	if g.enabled {
		g.Gauge.Collect(metricChan)
	}
}

func (g *gauge) Get() float64 {
	var pm dto.Metric
	if err := g.Gauge.Write(&pm); err == nil {
		return pm.GetGauge().GetValue()
	}
	return 0
}

func (g *gauge) Set(val float64) {
	if g.enabled {
		g.Gauge.Set(val)
	}
}

func (g *gauge) Inc() {
	if g.enabled {
		g.Gauge.Inc()
	}
}

func (g *gauge) Dec() {
	if g.enabled {
		g.Gauge.Dec()
	}
}

func (g *gauge) Add(val float64) {
	if g.enabled {
		g.Gauge.Add(val)
	}
}

func (g *gauge) Sub(val float64) {
	if g.enabled {
		g.Gauge.Sub(val)
	}
}
